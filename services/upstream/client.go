// Package upstream is the shared HTTP plumbing for third-party API calls.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"tabs-api-go/gateway"
	"tabs-api-go/logcolors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20
	userAgent      = "tabs-api-go/1.0"
)

// reasonPaths are tried in order to find a human-readable error message in a
// provider's error body.
var reasonPaths = []string{
	"error.message",
	"error_description",
	"error.description",
	"error",
	"message",
}

// Request is a GET against an upstream API.
type Request struct {
	URL    string
	Query  url.Values
	Header http.Header
}

// Client performs GET requests for one upstream and turns non-200 responses
// into *gateway.UpstreamError.
type Client struct {
	http     *http.Client
	upstream string
}

// NewClient builds a client over a shared transport. A non-positive timeout
// uses the default of 10s.
func NewClient(upstream string, transport http.RoundTripper, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		http:     &http.Client{Transport: transport, Timeout: timeout},
		upstream: upstream,
	}
}

// HTTPClient exposes the underlying client, for libraries that take one.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Get returns the response body on HTTP 200.
func (c *Client) Get(ctx context.Context, r Request) ([]byte, error) {
	target := r.URL
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", c.upstream, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &gateway.UpstreamError{Upstream: c.upstream, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &gateway.UpstreamError{Upstream: c.upstream, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		reason := Reason(body, resp.StatusCode)
		log.Warnf("%s %s returned %d: %s", logcolors.Upstream(c.upstream), r.URL, resp.StatusCode, reason)
		return nil, &gateway.UpstreamError{
			Upstream: c.upstream,
			Status:   resp.StatusCode,
			Reason:   reason,
		}
	}

	return body, nil
}

// Reason extracts the provider's error message from body, falling back to the
// HTTP status text.
func Reason(body []byte, status int) string {
	if gjson.ValidBytes(body) {
		for _, path := range reasonPaths {
			if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	return http.StatusText(status)
}
