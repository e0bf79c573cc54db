package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordAdmits captures admission times in admission order.
func recordAdmits(w *Window) func() []time.Time {
	var mu sync.Mutex
	var admits []time.Time
	w.onAdmit = func(t time.Time) {
		mu.Lock()
		admits = append(admits, t)
		mu.Unlock()
	}
	return func() []time.Time {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Time(nil), admits...)
	}
}

func TestNewWindow_RejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name     string
		maxCalls int
		period   time.Duration
	}{
		{"zero calls", 0, time.Second},
		{"negative calls", -1, time.Second},
		{"zero period", 1, 0},
		{"negative period", 1, -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWindow("test", tt.maxCalls, tt.period)
			assert.Error(t, err)
		})
	}
}

func TestWindow_ThirdCallWaitsForPeriod(t *testing.T) {
	w, err := NewWindow("test", 2, time.Second)
	require.NoError(t, err)
	admits := recordAdmits(w)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Acquire(context.Background()))
	}

	got := admits()
	require.Len(t, got, 3)
	assert.Less(t, got[0].Sub(start), 100*time.Millisecond)
	assert.Less(t, got[1].Sub(start), 100*time.Millisecond)
	assert.GreaterOrEqual(t, got[2].Sub(got[0]), time.Second)
	assert.Less(t, got[2].Sub(start), 1500*time.Millisecond)

	snap := w.Snapshot()
	assert.Equal(t, uint64(3), snap.Admitted)
	assert.Equal(t, uint64(1), snap.Waited)
}

func TestWindow_ConcurrentInvariant(t *testing.T) {
	const (
		maxCalls = 8
		period   = 200 * time.Millisecond
		callers  = 40
	)

	w, err := NewWindow("test", maxCalls, period)
	require.NoError(t, err)
	admits := recordAdmits(w)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Acquire(context.Background()))
		}()
	}
	wg.Wait()

	got := admits()
	require.Len(t, got, callers)
	for i := 0; i+maxCalls < len(got); i++ {
		gap := got[i+maxCalls].Sub(got[i])
		assert.GreaterOrEqualf(t, gap, period, "admissions %d and %d only %v apart", i, i+maxCalls, gap)
	}
}

func TestWindow_AcquireCanceled(t *testing.T) {
	w, err := NewWindow("test", 1, time.Hour)
	require.NoError(t, err)
	require.NoError(t, w.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = w.Acquire(ctx)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAcquireCanceled))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, elapsed, time.Second)

	// A canceled wait must not consume budget.
	assert.Equal(t, 1, w.Snapshot().InWindow)
}

func TestWindow_AlreadyCanceledContextStillAdmitsWhenFree(t *testing.T) {
	w, err := NewWindow("test", 1, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, w.Acquire(ctx))
	assert.ErrorIs(t, w.Acquire(ctx), ErrAcquireCanceled)
}

func TestWindow_EvictsAtBoundary(t *testing.T) {
	w, err := NewWindow("test", 1, time.Second)
	require.NoError(t, err)

	now := time.Now()
	w.now = func() time.Time { return now }

	require.NoError(t, w.Acquire(context.Background()))
	assert.Equal(t, 1, w.Snapshot().InWindow)

	// Exactly one period later the old admission is outside the window.
	now = now.Add(time.Second)
	assert.Equal(t, 0, w.Snapshot().InWindow)
	require.NoError(t, w.Acquire(context.Background()))
}
