// Package circuitbreaker stops calls to an upstream that keeps failing and
// probes it again after a cooldown.
package circuitbreaker

import (
	"errors"
	"net/http"
	"sync"
	"tabs-api-go/logcolors"
	"time"

	log "github.com/sirupsen/logrus"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests allowed
	StateOpen                  // Circuit tripped, requests blocked
	StateHalfOpen              // One probe request in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// IsDistress reports whether an upstream outcome should count against the
// breaker. Status 0 stands for a transport failure with no HTTP response.
// Client errors other than 429 are the caller's fault and count for nothing.
func IsDistress(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

// CircuitBreaker guards one upstream
type CircuitBreaker struct {
	name            string
	state           State
	failures        int           // consecutive failures
	threshold       int           // failures before opening
	cooldown        time.Duration // how long to stay open
	halfOpenTimeout time.Duration // max time a probe may take
	openedAt        time.Time
	halfOpenStart   time.Time
	onStateChange   func(name string, from, to State)
	now             func() time.Time
	mu              sync.RWMutex
}

// Config holds circuit breaker configuration
type Config struct {
	Name            string
	Threshold       int           // consecutive failures before opening
	Cooldown        time.Duration // how long to stay open before probing
	HalfOpenTimeout time.Duration // how long a probe may take before reopening

	// OnStateChange is called with the lock held; it must not call back into
	// the breaker.
	OnStateChange func(name string, from, to State)
}

// New creates a new circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.HalfOpenTimeout <= 0 {
		cfg.HalfOpenTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	return &CircuitBreaker{
		name:            cfg.Name,
		state:           StateClosed,
		threshold:       cfg.Threshold,
		cooldown:        cfg.Cooldown,
		halfOpenTimeout: cfg.HalfOpenTimeout,
		onStateChange:   cfg.OnStateChange,
		now:             time.Now,
	}
}

// transition sets the new state. Caller holds mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// Allow reports whether a request may proceed. After the cooldown exactly one
// probe is let through; further calls are blocked until it resolves.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) >= cb.cooldown {
			cb.halfOpenStart = now
			cb.transition(StateHalfOpen)
			log.Infof("%s Cooldown passed, transitioning to HALF-OPEN", logcolors.CircuitBreakerPrefix(cb.name))
			return true
		}
		return false

	case StateHalfOpen:
		if now.Sub(cb.halfOpenStart) >= cb.halfOpenTimeout {
			cb.openedAt = now
			cb.transition(StateOpen)
			log.Warnf("%s Probe timed out, transitioning back to OPEN", logcolors.CircuitBreakerPrefix(cb.name))
		}
		return false

	default:
		return true
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
		log.Infof("%s Probe succeeded, transitioning to CLOSED", logcolors.CircuitBreakerPrefix(cb.name))
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++

	switch cb.state {
	case StateHalfOpen:
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
		log.Warnf("%s Probe failed, transitioning back to OPEN", logcolors.CircuitBreakerPrefix(cb.name))

	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
			log.Warnf("%s Threshold reached (%d failures), transitioning to OPEN (cooldown: %v)",
				logcolors.CircuitBreakerPrefix(cb.name), cb.failures, cb.cooldown)
		}
	}
}

// Release is called when an admitted request ended without a verdict on the
// upstream's health, such as a client error. A half-open probe is returned so
// another request can probe.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.openedAt = cb.now().Add(-cb.cooldown)
		cb.transition(StateOpen)
	}
}

// Record classifies an upstream outcome by HTTP status (0 for transport
// failures) and records it.
func (cb *CircuitBreaker) Record(status int, err error) {
	switch {
	case err == nil:
		cb.RecordSuccess()
	case IsDistress(status):
		cb.RecordFailure()
	default:
		cb.Release()
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Name returns the upstream this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.openedAt = time.Time{}
	cb.halfOpenStart = time.Time{}
	cb.transition(StateClosed)
	log.Infof("%s Manually reset to CLOSED", logcolors.CircuitBreakerPrefix(cb.name))
}

// TimeUntilRetry returns how long until the circuit will let a probe through.
// Returns 0 if the circuit is closed or a probe is already due.
func (cb *CircuitBreaker) TimeUntilRetry() time.Duration {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	now := cb.now()
	switch cb.state {
	case StateOpen:
		if remaining := cb.cooldown - now.Sub(cb.openedAt); remaining > 0 {
			return remaining
		}
	case StateHalfOpen:
		if remaining := cb.halfOpenTimeout - now.Sub(cb.halfOpenStart); remaining > 0 {
			return remaining
		}
	}
	return 0
}

// Snapshot is the breaker state exposed on the admin surface.
type Snapshot struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	Threshold    int    `json:"threshold"`
	CooldownSecs int    `json:"cooldownSecs"`
	RetryInSecs  int    `json:"retryInSecs"`
	LastOpenedAt string `json:"lastOpenedAt,omitempty"`
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	retry := cb.TimeUntilRetry()

	cb.mu.RLock()
	defer cb.mu.RUnlock()

	s := Snapshot{
		Name:         cb.name,
		State:        cb.state.String(),
		Failures:     cb.failures,
		Threshold:    cb.threshold,
		CooldownSecs: int(cb.cooldown.Seconds()),
		RetryInSecs:  int(retry.Round(time.Second).Seconds()),
	}
	if !cb.openedAt.IsZero() {
		s.LastOpenedAt = cb.openedAt.UTC().Format(time.RFC3339)
	}
	return s
}
