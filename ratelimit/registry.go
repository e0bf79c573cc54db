package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"tabs-api-go/logcolors"
	"time"

	log "github.com/sirupsen/logrus"
)

// Registry holds one independent Window per upstream ID. It is built once at
// startup and injected wherever admission is needed.
type Registry struct {
	mu      sync.RWMutex
	windows map[string]*Window
}

func NewRegistry() *Registry {
	return &Registry{windows: make(map[string]*Window)}
}

// Register creates the window for id, replacing any existing one.
func (r *Registry) Register(id string, maxCalls int, period time.Duration) error {
	w, err := NewWindow(id, maxCalls, period)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.windows[id] = w
	r.mu.Unlock()

	log.Infof("%s Registered %s: %d calls per %v", logcolors.LogLimiter, id, maxCalls, period)
	return nil
}

// Get returns the window for id.
func (r *Registry) Get(id string) (*Window, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[id]
	return w, ok
}

// Acquire waits for capacity on the window registered for id.
func (r *Registry) Acquire(ctx context.Context, id string) error {
	w, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLimiter, id)
	}
	return w.Acquire(ctx)
}

// Snapshots returns every window's state, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, w.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
