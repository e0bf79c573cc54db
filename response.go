package main

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"tabs-api-go/gateway"
	"tabs-api-go/logcolors"
	"tabs-api-go/services/spotify"
	"tabs-api-go/services/tabs"
	"tabs-api-go/services/youtube"

	log "github.com/sirupsen/logrus"
)

// APIResponse handles consistent header setting and JSON responses.
// It sets X-Cache-Status, X-Provider and X-RateLimit-Type from the
// result and request context.
type APIResponse struct {
	w           http.ResponseWriter
	r           *http.Request
	cacheStatus string
	provider    string
}

// Respond creates a response helper from request context
func Respond(w http.ResponseWriter, r *http.Request) *APIResponse {
	return &APIResponse{w: w, r: r}
}

// SetCacheStatus sets the X-Cache-Status header value
func (a *APIResponse) SetCacheStatus(status string) *APIResponse {
	a.cacheStatus = status
	return a
}

// SetProvider sets the X-Provider header value
func (a *APIResponse) SetProvider(provider string) *APIResponse {
	a.provider = provider
	return a
}

func (a *APIResponse) writeHeaders() {
	a.w.Header().Set("Content-Type", "application/json")

	if a.cacheStatus != "" {
		a.w.Header().Set("X-Cache-Status", a.cacheStatus)
	}
	if a.provider != "" {
		a.w.Header().Set("X-Provider", a.provider)
	}
	if rateLimitType, ok := a.r.Context().Value(rateLimitTypeKey).(string); ok && rateLimitType != "" {
		a.w.Header().Set("X-RateLimit-Type", rateLimitType)
	}
}

// JSON writes headers and encodes data as JSON (200 OK)
func (a *APIResponse) JSON(data interface{}) error {
	a.writeHeaders()
	return json.NewEncoder(a.w).Encode(data)
}

// Result writes a gateway result verbatim. Cache hits carry "source":"cache".
func (a *APIResponse) Result(res *gateway.Result) error {
	a.SetCacheStatus(cacheStatus(res))
	a.writeHeaders()
	_, err := a.w.Write(res.JSON())
	return err
}

// Error writes headers, sets status code, and encodes error response
func (a *APIResponse) Error(statusCode int, data interface{}) error {
	a.writeHeaders()
	a.w.WriteHeader(statusCode)
	return json.NewEncoder(a.w).Encode(data)
}

// Fail maps a service error to its HTTP status and JSON body
func (a *APIResponse) Fail(err error) error {
	status, body, retryAfter := describeError(err)
	if retryAfter > 0 {
		a.w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	}
	if errors.Is(err, gateway.ErrCacheOnlyMiss) {
		a.SetCacheStatus(cacheOnlyMissState)
	}

	if status >= 500 {
		log.Errorf("%s %s %s failed: %v", logcolors.LogRequest, a.r.Method, a.r.URL.Path, err)
	} else {
		log.Infof("%s %s %s rejected: %v", logcolors.LogRequest, a.r.Method, a.r.URL.Path, err)
	}
	return a.Error(status, body)
}

func cacheStatus(res *gateway.Result) string {
	switch {
	case res.Shared:
		return cacheStatusShared
	case res.Source == gateway.SourceCache:
		return cacheStatusHit
	default:
		return cacheStatusMiss
	}
}

func isMissingParameter(err error) bool {
	return errors.Is(err, spotify.ErrMissingParameter) ||
		errors.Is(err, youtube.ErrMissingParameter) ||
		errors.Is(err, tabs.ErrMissingParameter)
}

// describeError picks the status code for err: 422 for missing parameters,
// 429 for cache-only misses, 408 when the request's own context ended, 503 for
// admission and cache failures, 502 for upstream and credential failures.
func describeError(err error) (int, ErrorResponse, time.Duration) {
	if isMissingParameter(err) {
		return http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Stage: string(gateway.StageRequest)}, 0
	}
	if errors.Is(err, gateway.ErrCacheOnlyMiss) {
		return http.StatusTooManyRequests,
			ErrorResponse{Error: err.Error(), Stage: string(gateway.StageCache)}, time.Second
	}

	stage, upstream := gateway.Describe(err)
	body := ErrorResponse{Error: err.Error(), Upstream: upstream, Stage: string(stage)}

	var up *gateway.UpstreamError
	if errors.As(err, &up) {
		body.Error = up.Message()
	}

	var rejected *gateway.RejectedError
	switch {
	case errors.As(err, &rejected):
		retry := rejected.RetryAfter
		if retry <= 0 {
			retry = time.Second
		}
		return http.StatusServiceUnavailable, body, retry
	case stage == gateway.StageCache:
		return http.StatusServiceUnavailable, body, 0
	case stage == gateway.StageRequest:
		body.Error = "request canceled before a result was available"
		return http.StatusRequestTimeout, body, 0
	default:
		return http.StatusBadGateway, body, 0
	}
}
