package circuitbreaker

import (
	"sort"
	"sync"
)

// Registry holds one breaker per upstream, created on first use from a
// shared template config.
type Registry struct {
	template Config
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry returns a registry whose breakers use template with Name set to
// the upstream ID.
func NewRegistry(template Config) *Registry {
	return &Registry{
		template: template,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// For returns the breaker for upstream, creating it if needed.
func (r *Registry) For(upstream string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[upstream]; ok {
		return cb
	}
	cfg := r.template
	cfg.Name = upstream
	cb := New(cfg)
	r.breakers[upstream] = cb
	return cb
}

// Lookup returns an existing breaker without creating one.
func (r *Registry) Lookup(upstream string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[upstream]
	return cb, ok
}

// Snapshots returns every breaker's state sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResetAll closes every breaker.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()

	for _, cb := range list {
		cb.Reset()
	}
}
