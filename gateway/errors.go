package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"tabs-api-go/circuitbreaker"
	"time"
)

// Stage names where in a gateway call a failure happened.
type Stage string

const (
	StageRequest    Stage = "request"
	StageUpstream   Stage = "upstream"
	StageCredential Stage = "credential"
	StageCache      Stage = "cache"
	StageRateLimit  Stage = "ratelimit"
	StageCircuit    Stage = "circuit"
)

var (
	// ErrCacheOnlyMiss is returned when a cache-only request misses.
	ErrCacheOnlyMiss = errors.New("not in cache and upstream calls are not allowed for this request")

	// ErrCircuitOpen is wrapped by RejectedError when an upstream's breaker is open.
	ErrCircuitOpen = circuitbreaker.ErrCircuitOpen
)

// UpstreamError is a non-success response or transport failure from an
// upstream API. Status is 0 when no HTTP response was received.
type UpstreamError struct {
	Upstream string
	Status   int
	Reason   string
	Err      error
}

func (e *UpstreamError) Error() string {
	msg := e.Upstream
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	reason := e.Reason
	if reason == "" && e.Status != 0 {
		reason = http.StatusText(e.Status)
	}
	if reason != "" {
		msg += ": " + reason
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Message is the provider's reason, falling back to the HTTP status text.
func (e *UpstreamError) Message() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Status != 0 {
		return http.StatusText(e.Status)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// CredentialError is a failure to obtain an access token. It is never cached.
type CredentialError struct {
	Provider string
	Err      error
}

func (e *CredentialError) Error() string {
	return e.Provider + ": credential issuance failed: " + e.Err.Error()
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// CacheUnavailableError is returned in fail-closed mode when the store cannot
// be read.
type CacheUnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheUnavailableError) Error() string {
	return "cache unavailable: " + e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *CacheUnavailableError) Unwrap() error {
	return e.Err
}

// RejectedError is returned when a call was refused before reaching the
// upstream, either by its breaker or its rate limiter.
type RejectedError struct {
	Upstream   string
	Stage      Stage
	RetryAfter time.Duration
	Err        error
}

func (e *RejectedError) Error() string {
	return e.Upstream + ": " + string(e.Stage) + ": " + e.Err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Describe maps an error from the gateway to the stage it failed in and the
// upstream involved, if any. A caller giving up on its own context is a
// request failure, not an upstream one.
func Describe(err error) (stage Stage, upstream string) {
	var rejected *RejectedError
	var cred *CredentialError
	var up *UpstreamError
	var unavailable *CacheUnavailableError

	switch {
	case errors.As(err, &rejected):
		return rejected.Stage, rejected.Upstream
	case errors.As(err, &cred):
		return StageCredential, cred.Provider
	case errors.Is(err, context.Canceled):
		return StageRequest, ""
	case errors.As(err, &up):
		return StageUpstream, up.Upstream
	case errors.As(err, &unavailable), errors.Is(err, ErrCacheOnlyMiss):
		return StageCache, ""
	case errors.Is(err, context.DeadlineExceeded):
		return StageRequest, ""
	default:
		return StageUpstream, ""
	}
}
