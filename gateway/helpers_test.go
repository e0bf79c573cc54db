package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"tabs-api-go/cache"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T, opts CacheOptions) (*CacheAside, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := cache.NewRedisStore("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewCacheAside(store, opts), mr
}

// countingWork returns work producing body and a counter of its invocations.
func countingWork(body string) (Work, *atomic.Int32) {
	var calls atomic.Int32
	return func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(body), nil
	}, &calls
}

// fakeLimiter records acquisitions and optionally fails them.
type fakeLimiter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (l *fakeLimiter) Acquire(ctx context.Context, upstream string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, upstream)
	return l.err
}

func (l *fakeLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}
