package cache

import (
	"context"
	"fmt"
	"strings"
	"tabs-api-go/logcolors"
	"time"

	"github.com/avast/retry-go/v5"
	log "github.com/sirupsen/logrus"
)

// Options selects and configures a store backend.
type Options struct {
	Backend     string // redis, memory or bolt
	RedisURL    string
	Namespaces  []string // key prefixes owned by this service, purged on request
	BoltPath    string
	Compression bool
	MaxKeys     int
	MaxTTL      time.Duration

	Attempts uint
	Delay    time.Duration
}

// Open builds the configured backend without checking connectivity.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "redis", "":
		return NewRedisStore(opts.RedisURL, opts.Namespaces...)
	case "memory":
		return NewMemoryStore(opts.MaxKeys, opts.MaxTTL)
	case "bolt":
		return NewBoltStore(opts.BoltPath, opts.Compression)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// Connect opens the configured store and pings it, retrying with backoff.
// When every ping fails the store is still returned alongside the error so the
// caller can run under its cache failure mode.
func Connect(ctx context.Context, opts Options) (Store, error) {
	store, err := Open(opts)
	if err != nil {
		return nil, err
	}

	pinger, ok := store.(Pinger)
	if !ok {
		return store, nil
	}

	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 1
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	err = retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf("%s Store ping attempt %d/%d failed: %v", logcolors.LogCacheInit, n+1, attempts, err)
		}),
	).Do(func() error {
		return pinger.Ping(ctx)
	})
	if err != nil {
		return store, fmt.Errorf("cache store unreachable: %w", err)
	}

	log.Infof("%s Connected to %s store", logcolors.LogCacheInit, opts.Backend)
	return store, nil
}
