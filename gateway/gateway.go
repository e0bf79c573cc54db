package gateway

import (
	"context"
	"errors"
	"tabs-api-go/circuitbreaker"
	"tabs-api-go/logcolors"
	"tabs-api-go/metrics"
	"tabs-api-go/stats"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tabs-api-go/gateway"

// RateLimiter admits calls per upstream.
type RateLimiter interface {
	Acquire(ctx context.Context, upstream string) error
}

// BreakerSet hands out the breaker guarding an upstream.
type BreakerSet interface {
	For(upstream string) *circuitbreaker.CircuitBreaker
}

// Operation is one upstream call with its cache key.
type Operation struct {
	Upstream string
	Key      string
	TTL      time.Duration
	Call     func(ctx context.Context) ([]byte, error)
}

type Options struct {
	Cache    Cacher
	Limiter  RateLimiter
	Breakers BreakerSet // optional
	Metrics  *metrics.Metrics
	Stats    *stats.Stats // optional

	// AcquireTimeout bounds the wait for limiter admission. Zero waits as
	// long as the request context allows.
	AcquireTimeout time.Duration
}

// Gateway runs operations in a fixed order: cache lookup, then breaker and
// limiter admission, then the upstream call. Cache hits consume no budget.
type Gateway struct {
	cache          Cacher
	limiter        RateLimiter
	breakers       BreakerSet
	metrics        *metrics.Metrics
	stats          *stats.Stats
	acquireTimeout time.Duration
	tracer         trace.Tracer
}

func New(opts Options) *Gateway {
	return &Gateway{
		cache:          opts.Cache,
		limiter:        opts.Limiter,
		breakers:       opts.Breakers,
		metrics:        opts.Metrics,
		stats:          opts.Stats,
		acquireTimeout: opts.AcquireTimeout,
		tracer:         otel.Tracer(tracerName),
	}
}

// Do serves op from the cache or calls the upstream under its limiter.
func (g *Gateway) Do(ctx context.Context, op Operation) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.Do", trace.WithAttributes(
		attribute.String("upstream", op.Upstream),
		attribute.String("cache.key", op.Key),
	))
	defer span.End()

	res, err := g.cache.WithCache(ctx, op.Key, op.TTL, func(ctx context.Context) ([]byte, error) {
		return g.call(ctx, op)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("cache.source", string(res.Source)),
		attribute.Bool("cache.shared", res.Shared),
	)
	return res, nil
}

func (g *Gateway) call(ctx context.Context, op Operation) ([]byte, error) {
	var cb *circuitbreaker.CircuitBreaker
	if g.breakers != nil {
		cb = g.breakers.For(op.Upstream)
		if !cb.Allow() {
			return nil, &RejectedError{
				Upstream:   op.Upstream,
				Stage:      StageCircuit,
				RetryAfter: cb.TimeUntilRetry(),
				Err:        ErrCircuitOpen,
			}
		}
	}

	if err := g.acquire(ctx, op.Upstream); err != nil {
		if cb != nil {
			cb.Release()
		}
		return nil, err
	}

	start := time.Now()
	body, err := op.Call(ctx)
	status, verdict := outcome(err)
	g.metrics.ObserveUpstream(op.Upstream, status, time.Since(start))
	if g.stats != nil {
		g.stats.RecordUpstream(op.Upstream, err != nil)
	}

	if cb != nil {
		if verdict {
			cb.Record(status, err)
		} else {
			cb.Release()
		}
	}

	if err != nil {
		log.Warnf("%s %s call failed: %v", logcolors.Upstream(op.Upstream), op.Key, err)
		return nil, err
	}
	return body, nil
}

func (g *Gateway) acquire(ctx context.Context, upstream string) error {
	acquireCtx := ctx
	if g.acquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, g.acquireTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := g.limiter.Acquire(acquireCtx, upstream); err != nil {
		log.Warnf("%s %s admission failed after %v: %v", logcolors.LogRateLimit, upstream, time.Since(start), err)
		return &RejectedError{
			Upstream:   upstream,
			Stage:      StageRateLimit,
			RetryAfter: time.Second,
			Err:        err,
		}
	}
	g.metrics.ObserveLimiterWait(upstream, time.Since(start))
	return nil
}

// outcome extracts the HTTP status of a call result. verdict is false when the
// error says nothing about the upstream's health.
func outcome(err error) (status int, verdict bool) {
	if err == nil {
		return 200, true
	}
	if errors.Is(err, context.Canceled) {
		return 0, false
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return up.Status, true
	}
	return 0, true
}
