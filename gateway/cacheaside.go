// Package gateway puts a shared cache, per-upstream rate limiting and
// credential reuse in front of third-party API calls.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"tabs-api-go/cache"
	"tabs-api-go/logcolors"
	"tabs-api-go/metrics"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// Source tells where a result came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceFresh Source = "fresh"
)

// Result is the outcome of a cache-aside lookup.
type Result struct {
	Body   []byte
	Source Source
	// Shared is set when a single upstream fill was delivered to several
	// concurrent callers.
	Shared bool
}

// JSON returns the body as sent to clients. Cache hits on JSON objects carry
// "source":"cache"; the stored value never does.
func (r *Result) JSON() []byte {
	if r.Source != SourceCache {
		return r.Body
	}
	return annotateSource(r.Body)
}

func annotateSource(body []byte) []byte {
	if !gjson.ValidBytes(body) {
		return body
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return body
	}

	if parsed.Get("source").Exists() {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return body
		}
		fields["source"] = json.RawMessage(`"cache"`)
		out, err := json.Marshal(fields)
		if err != nil {
			return body
		}
		return out
	}

	trimmed := bytes.TrimRight(body, " \t\r\n")
	inner := bytes.TrimSpace(trimmed[1 : len(trimmed)-1])

	out := make([]byte, 0, len(trimmed)+20)
	out = append(out, trimmed[:len(trimmed)-1]...)
	if len(inner) > 0 {
		out = append(out, ',')
	}
	out = append(out, `"source":"cache"}`...)
	return out
}

// Work produces a fresh value on a cache miss.
type Work func(ctx context.Context) ([]byte, error)

// Cacher is the cache-aside contract used by the gateway and credential cache.
type Cacher interface {
	WithCache(ctx context.Context, key string, ttl time.Duration, work Work) (*Result, error)
}

// FailureMode decides what a store read failure means.
type FailureMode int

const (
	// FailOpen treats read errors as a miss.
	FailOpen FailureMode = iota
	// FailClosed fails the call before any work runs.
	FailClosed
)

func (m FailureMode) String() string {
	if m == FailClosed {
		return "closed"
	}
	return "open"
}

// ParseFailureMode accepts "open" or "closed".
func ParseFailureMode(s string) (FailureMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("unknown cache failure mode %q", s)
	}
}

type cacheOnlyKey struct{}

// WithCacheOnly marks ctx so that cache misses fail with ErrCacheOnlyMiss
// instead of doing work.
func WithCacheOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheOnlyKey{}, true)
}

// IsCacheOnly reports whether ctx was marked with WithCacheOnly.
func IsCacheOnly(ctx context.Context) bool {
	v, _ := ctx.Value(cacheOnlyKey{}).(bool)
	return v
}

// CacheOptions configures a CacheAside.
type CacheOptions struct {
	FailureMode  FailureMode
	SingleFlight bool
	Metrics      *metrics.Metrics
}

// CacheAside reads through a Store, running work only on a miss and storing
// successful results with a TTL.
type CacheAside struct {
	store        cache.Store
	mode         FailureMode
	singleFlight bool
	group        singleflight.Group
	metrics      *metrics.Metrics
}

func NewCacheAside(store cache.Store, opts CacheOptions) *CacheAside {
	return &CacheAside{
		store:        store,
		mode:         opts.FailureMode,
		singleFlight: opts.SingleFlight,
		metrics:      opts.Metrics,
	}
}

// namespace is the key prefix used as a metrics label.
func namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}

// WithCache returns the cached value for key or runs work, caching its result
// for ttl. Failed work is never cached.
func (c *CacheAside) WithCache(ctx context.Context, key string, ttl time.Duration, work Work) (*Result, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache %s: ttl must be positive, got %v", key, ttl)
	}

	body, found, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.ObserveCache(namespace(key), metrics.CacheError)
		if c.mode == FailClosed {
			return nil, &CacheUnavailableError{Op: "get", Key: key, Err: err}
		}
		log.Warnf("%s Read failed for %s, treating as miss: %v", logcolors.LogCacheAside, key, err)
	case found:
		c.metrics.ObserveCache(namespace(key), metrics.CacheHit)
		log.Debugf("%s Hit %s", logcolors.LogCacheAside, key)
		return &Result{Body: body, Source: SourceCache}, nil
	}

	if IsCacheOnly(ctx) {
		return nil, ErrCacheOnlyMiss
	}

	c.metrics.ObserveCache(namespace(key), metrics.CacheMiss)

	if !c.singleFlight {
		return c.fill(ctx, key, ttl, work)
	}
	return c.fillShared(ctx, key, ttl, work)
}

// fillShared collapses concurrent misses on key into one fill. The fill runs
// detached from the first caller's cancellation; each caller may still stop
// waiting on its own context.
func (c *CacheAside) fillShared(ctx context.Context, key string, ttl time.Duration, work Work) (*Result, error) {
	fillCtx := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		// A fill that finished just before this flight started may have stored it.
		if body, found, err := c.store.Get(fillCtx, key); err == nil && found {
			return &Result{Body: body, Source: SourceCache}, nil
		}
		return c.fill(fillCtx, key, ttl, work)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res, ok := r.Val.(*Result)
		if !ok {
			return nil, fmt.Errorf("cache %s: unexpected single-flight result %T", key, r.Val)
		}
		if r.Shared {
			c.metrics.ObserveCache(namespace(key), metrics.CacheShared)
			shared := *res
			shared.Shared = true
			return &shared, nil
		}
		return res, nil
	}
}

func (c *CacheAside) fill(ctx context.Context, key string, ttl time.Duration, work Work) (*Result, error) {
	body, err := work(ctx)
	if err != nil {
		return nil, err
	}

	// The result already cost upstream budget, so a failed write is only logged.
	if err := c.store.SetWithTTL(context.WithoutCancel(ctx), key, body, ttl); err != nil {
		c.metrics.ObserveCache(namespace(key), metrics.CacheError)
		log.Warnf("%s Write failed for %s: %v", logcolors.LogCacheAside, key, err)
	} else {
		log.Debugf("%s Stored %s (ttl %v)", logcolors.LogCacheAside, key, ttl)
	}

	return &Result{Body: body, Source: SourceFresh}, nil
}
