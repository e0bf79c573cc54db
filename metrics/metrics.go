// Package metrics holds the Prometheus collectors for the gateway.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache lookup outcomes
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheShared = "shared"
	CacheError  = "error"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	LimiterWait      *prometheus.HistogramVec
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	CredentialIssued *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	InboundRejects   *prometheus.CounterVec
}

// New creates and registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabs",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tabs",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabs",
			Name:      "cache_lookups_total",
			Help:      "Cache-aside lookups by key namespace and outcome.",
		}, []string{"namespace", "result"}),

		LimiterWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tabs",
			Name:      "limiter_wait_seconds",
			Help:      "Time spent waiting for upstream rate limiter admission.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"upstream"}),

		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabs",
			Name:      "upstream_requests_total",
			Help:      "Upstream calls by HTTP status (0 for transport failures).",
		}, []string{"upstream", "status"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tabs",
			Name:      "upstream_duration_seconds",
			Help:      "Upstream call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"upstream"}),

		CredentialIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabs",
			Name:      "credential_issued_total",
			Help:      "Access tokens issued by provider, by outcome.",
		}, []string{"provider", "outcome"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tabs",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per upstream (0 closed, 1 open, 2 half-open).",
		}, []string{"upstream"}),

		InboundRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tabs",
			Name:      "inbound_rejects_total",
			Help:      "Requests rejected or degraded by the per-IP limiter.",
		}, []string{"tier"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CacheLookups,
		m.LimiterWait,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.CredentialIssued,
		m.BreakerState,
		m.InboundRejects,
	)

	return m
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCache(namespace, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(namespace, result).Inc()
}

func (m *Metrics) ObserveLimiterWait(upstream string, waited time.Duration) {
	if m == nil {
		return
	}
	m.LimiterWait.WithLabelValues(upstream).Observe(waited.Seconds())
}

func (m *Metrics) ObserveUpstream(upstream string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(upstream, strconv.Itoa(status)).Inc()
	m.UpstreamDuration.WithLabelValues(upstream).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCredential(provider string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CredentialIssued.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) SetBreakerState(upstream string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(upstream).Set(float64(state))
}

func (m *Metrics) ObserveInboundReject(tier string) {
	if m == nil {
		return
	}
	m.InboundRejects.WithLabelValues(tier).Inc()
}
