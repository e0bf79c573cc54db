// Package ratelimit bounds how many calls per trailing period reach an
// upstream. Limiters are per process; nothing is coordinated across instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrAcquireCanceled is returned when the caller's context ends while
	// waiting for window capacity.
	ErrAcquireCanceled = errors.New("rate limit acquire canceled")

	// ErrUnknownLimiter is returned by the registry for an unregistered upstream.
	ErrUnknownLimiter = errors.New("unknown limiter")
)

// Window is a sliding-window limiter: at most maxCalls admissions in any
// trailing period.
type Window struct {
	name     string
	maxCalls int
	period   time.Duration

	mu    sync.Mutex
	calls []time.Time // admission times, oldest first

	admitted uint64
	waited   uint64

	now     func() time.Time
	onAdmit func(time.Time)
}

// Snapshot is a point-in-time view of a window.
type Snapshot struct {
	Name     string        `json:"name"`
	MaxCalls int           `json:"maxCalls"`
	Period   time.Duration `json:"period"`
	InWindow int           `json:"inWindow"`
	Admitted uint64        `json:"admitted"`
	Waited   uint64        `json:"waited"`
}

// NewWindow returns a limiter admitting maxCalls per period.
func NewWindow(name string, maxCalls int, period time.Duration) (*Window, error) {
	if maxCalls <= 0 {
		return nil, fmt.Errorf("limiter %s: max calls must be positive, got %d", name, maxCalls)
	}
	if period <= 0 {
		return nil, fmt.Errorf("limiter %s: period must be positive, got %v", name, period)
	}
	return &Window{
		name:     name,
		maxCalls: maxCalls,
		period:   period,
		calls:    make([]time.Time, 0, maxCalls),
		now:      time.Now,
	}, nil
}

// Acquire blocks until the window has capacity, then records the admission.
// The lock is never held while waiting. If ctx ends first, the returned error
// wraps both ErrAcquireCanceled and ctx.Err().
func (w *Window) Acquire(ctx context.Context) error {
	waitedOnce := false
	for {
		w.mu.Lock()
		now := w.now()
		w.evict(now)

		if len(w.calls) < w.maxCalls {
			w.calls = append(w.calls, now)
			w.admitted++
			if waitedOnce {
				w.waited++
			}
			if w.onAdmit != nil {
				w.onAdmit(now)
			}
			w.mu.Unlock()
			return nil
		}

		sleep := w.calls[0].Add(w.period).Sub(now)
		w.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrAcquireCanceled, w.name, err)
		}

		waitedOnce = true
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %s: %w", ErrAcquireCanceled, w.name, ctx.Err())
		}
	}
}

// evict drops admissions at or before now-period. Caller holds mu.
func (w *Window) evict(now time.Time) {
	cutoff := now.Add(-w.period)
	i := 0
	for i < len(w.calls) && !w.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.calls = append(w.calls[:0], w.calls[i:]...)
	}
}

// Name returns the upstream this window guards.
func (w *Window) Name() string {
	return w.name
}

func (w *Window) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evict(w.now())
	return Snapshot{
		Name:     w.name,
		MaxCalls: w.maxCalls,
		Period:   w.period,
		InWindow: len(w.calls),
		Admitted: w.admitted,
		Waited:   w.waited,
	}
}
