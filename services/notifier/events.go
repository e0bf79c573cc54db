package notifier

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Critical events
	EventCircuitOpen      EventType = "circuit_open"
	EventCredentialFailed EventType = "credential_failed"
	EventCacheUnreachable EventType = "cache_unreachable"

	// Info events
	EventCircuitRecovered EventType = "circuit_recovered"
	EventCacheRecovered   EventType = "cache_recovered"
	EventServerStarted    EventType = "server_started"
	EventCachePurged      EventType = "cache_purged"
)

// Severity represents the severity level of an event
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Event represents a system event
type Event struct {
	Type      EventType
	Severity  Severity
	Message   string
	Data      map[string]interface{}
	Timestamp time.Time
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, severity Severity, message string) *Event {
	return &Event{
		Type:      eventType,
		Severity:  severity,
		Message:   message,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithData adds data to the event (chainable)
func (e *Event) WithData(key string, value interface{}) *Event {
	e.Data[key] = value
	return e
}

func (e *Event) str(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// EventHandler is a function that handles events
type EventHandler func(event *Event)

// EventBus fans events out to subscribers. Handlers run on their own
// goroutines so publishers never block on slow notifiers.
type EventBus struct {
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventType][]EventHandler)}
}

var (
	globalBus *EventBus
	busOnce   sync.Once
)

// GetEventBus returns the process-wide bus
func GetEventBus() *EventBus {
	busOnce.Do(func() {
		globalBus = NewEventBus()
	})
	return globalBus
}

// Subscribe adds a handler for a specific event type
func (b *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll adds a handler that receives all events
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

// Publish sends an event to all subscribed handlers
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.handlers[event.Type] {
		go handler(event)
	}
	for _, handler := range b.allHandlers {
		go handler(event)
	}
}

// PublishCircuitOpen reports an upstream breaker tripping
func PublishCircuitOpen(upstream string, cooldown time.Duration) {
	GetEventBus().Publish(NewEvent(EventCircuitOpen, SeverityCritical,
		"Circuit breaker opened after consecutive failures").
		WithData("upstream", upstream).
		WithData("cooldown", cooldown.String()))
}

// PublishCircuitRecovered reports an upstream breaker closing again
func PublishCircuitRecovered(upstream string) {
	GetEventBus().Publish(NewEvent(EventCircuitRecovered, SeverityInfo,
		"Circuit breaker recovered").
		WithData("upstream", upstream))
}

// PublishCredentialFailed reports a failed access token issuance
func PublishCredentialFailed(provider string, err error) {
	GetEventBus().Publish(NewEvent(EventCredentialFailed, SeverityCritical,
		"Access token issuance failed").
		WithData("upstream", provider).
		WithData("error", err.Error()))
}

// PublishCacheUnreachable reports the shared store going away
func PublishCacheUnreachable(backend string, err error) {
	GetEventBus().Publish(NewEvent(EventCacheUnreachable, SeverityCritical,
		"Cache store unreachable").
		WithData("backend", backend).
		WithData("error", err.Error()))
}

// PublishCacheRecovered reports the shared store answering again
func PublishCacheRecovered(backend string) {
	GetEventBus().Publish(NewEvent(EventCacheRecovered, SeverityInfo,
		"Cache store reachable again").
		WithData("backend", backend))
}

// PublishCachePurged reports an operator purge
func PublishCachePurged(backend string) {
	GetEventBus().Publish(NewEvent(EventCachePurged, SeverityWarning,
		"Cache store purged").
		WithData("backend", backend))
}

// PublishServerStarted reports a successful startup
func PublishServerStarted(port, backend string) {
	GetEventBus().Publish(NewEvent(EventServerStarted, SeverityInfo,
		"Server started").
		WithData("port", port).
		WithData("backend", backend))
}
