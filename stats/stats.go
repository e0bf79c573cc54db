package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds all server statistics with atomic counters
type Stats struct {
	// Server info
	StartTime time.Time

	// Request counters, grouped by route family
	TotalRequests    atomic.Int64
	SpotifyRequests  atomic.Int64
	TutorialRequests atomic.Int64
	TabsRequests     atomic.Int64
	AdminRequests    atomic.Int64
	HealthRequests   atomic.Int64
	OtherRequests    atomic.Int64

	// Cache performance
	CacheHits     atomic.Int64
	CacheMisses   atomic.Int64
	CacheShared   atomic.Int64
	CacheOnlyMiss atomic.Int64

	// Inbound rate limiting
	RateLimitNormal   atomic.Int64 // Requests served under normal rate limit
	RateLimitCached   atomic.Int64 // Requests served under cached-only tier
	RateLimitExceeded atomic.Int64 // Requests rejected (429)

	// Response status codes
	Status2xx atomic.Int64
	Status4xx atomic.Int64
	Status5xx atomic.Int64

	// Response time tracking (in microseconds for precision)
	totalResponseTime atomic.Int64
	responseCount     atomic.Int64
	minResponseTime   atomic.Int64
	maxResponseTime   atomic.Int64

	// Outbound calls per upstream, map[string]*atomic.Int64
	upstreamCalls  sync.Map
	upstreamErrors sync.Map
}

const noMinimum = int64(^uint64(0) >> 1)

// Global stats instance
var global = New()

// New returns an empty stats instance. Most callers want Get.
func New() *Stats {
	s := &Stats{StartTime: time.Now()}
	s.minResponseTime.Store(noMinimum)
	return s
}

// Get returns the global stats instance
func Get() *Stats {
	return global
}

// RecordRequest records a request to a specific endpoint
func (s *Stats) RecordRequest(endpoint string) {
	s.TotalRequests.Add(1)
	switch {
	case strings.HasPrefix(endpoint, "/spotify/"):
		s.SpotifyRequests.Add(1)
	case strings.HasPrefix(endpoint, "/youtube/"):
		s.TutorialRequests.Add(1)
	case strings.HasPrefix(endpoint, "/tabs/"):
		s.TabsRequests.Add(1)
	case endpoint == "/health":
		s.HealthRequests.Add(1)
	case isAdmin(endpoint):
		s.AdminRequests.Add(1)
	default:
		s.OtherRequests.Add(1)
	}
}

var adminPrefixes = []string{"/stats", "/metrics", "/limiters", "/circuit-breaker", "/cache/"}

func isAdmin(endpoint string) bool {
	for _, p := range adminPrefixes {
		if strings.HasPrefix(endpoint, p) {
			return true
		}
	}
	return false
}

// RecordCache records the outcome of a cache-aside lookup
func (s *Stats) RecordCache(status string) {
	switch status {
	case "HIT":
		s.CacheHits.Add(1)
	case "MISS":
		s.CacheMisses.Add(1)
	case "SHARED":
		s.CacheShared.Add(1)
	case "CACHE_ONLY_MISS":
		s.CacheOnlyMiss.Add(1)
	}
}

// RecordRateLimit records rate limit tier usage
func (s *Stats) RecordRateLimit(tier string) {
	switch tier {
	case "normal":
		s.RateLimitNormal.Add(1)
	case "cached":
		s.RateLimitCached.Add(1)
	case "exceeded":
		s.RateLimitExceeded.Add(1)
	}
}

// RecordUpstream records one outbound call and whether it failed
func (s *Stats) RecordUpstream(upstream string, failed bool) {
	counter(&s.upstreamCalls, upstream).Add(1)
	if failed {
		counter(&s.upstreamErrors, upstream).Add(1)
	}
}

func counter(m *sync.Map, key string) *atomic.Int64 {
	if v, ok := m.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.LoadOrStore(key, &atomic.Int64{})
	return v.(*atomic.Int64)
}

func snapshotCounters(m *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	m.Range(func(key, value interface{}) bool {
		out[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

// UpstreamCallsSnapshot returns outbound call counts keyed by upstream
func (s *Stats) UpstreamCallsSnapshot() map[string]int64 {
	return snapshotCounters(&s.upstreamCalls)
}

// UpstreamErrorsSnapshot returns failed outbound call counts keyed by upstream
func (s *Stats) UpstreamErrorsSnapshot() map[string]int64 {
	return snapshotCounters(&s.upstreamErrors)
}

// RecordStatusCode records a response status code
func (s *Stats) RecordStatusCode(code int) {
	switch {
	case code >= 200 && code < 300:
		s.Status2xx.Add(1)
	case code >= 400 && code < 500:
		s.Status4xx.Add(1)
	case code >= 500:
		s.Status5xx.Add(1)
	}
}

// RecordResponseTime records a response time
func (s *Stats) RecordResponseTime(duration time.Duration) {
	us := duration.Microseconds()

	s.totalResponseTime.Add(us)
	s.responseCount.Add(1)

	for {
		current := s.minResponseTime.Load()
		if us >= current || s.minResponseTime.CompareAndSwap(current, us) {
			break
		}
	}
	for {
		current := s.maxResponseTime.Load()
		if us <= current || s.maxResponseTime.CompareAndSwap(current, us) {
			break
		}
	}
}

// Uptime returns the server uptime
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// CacheHitRate returns the cache hit rate as a percentage. Shared fills
// count as hits since the caller never reached the upstream.
func (s *Stats) CacheHitRate() float64 {
	hits := s.CacheHits.Load() + s.CacheShared.Load()
	total := hits + s.CacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// AvgResponseTime returns the average response time
func (s *Stats) AvgResponseTime() time.Duration {
	count := s.responseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.totalResponseTime.Load()/count) * time.Microsecond
}

// MinResponseTime returns the minimum response time
func (s *Stats) MinResponseTime() time.Duration {
	min := s.minResponseTime.Load()
	if min == noMinimum {
		return 0
	}
	return time.Duration(min) * time.Microsecond
}

// MaxResponseTime returns the maximum response time
func (s *Stats) MaxResponseTime() time.Duration {
	return time.Duration(s.maxResponseTime.Load()) * time.Microsecond
}

// Snapshot returns a point-in-time snapshot of all stats
func (s *Stats) Snapshot() map[string]interface{} {
	uptime := s.Uptime()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"start_time":     s.StartTime.Format(time.RFC3339),
			"uptime":         uptime.String(),
			"uptime_seconds": int64(uptime.Seconds()),
		},
		"requests": map[string]interface{}{
			"total":    s.TotalRequests.Load(),
			"spotify":  s.SpotifyRequests.Load(),
			"tutorial": s.TutorialRequests.Load(),
			"tabs":     s.TabsRequests.Load(),
			"admin":    s.AdminRequests.Load(),
			"health":   s.HealthRequests.Load(),
			"other":    s.OtherRequests.Load(),
		},
		"cache": map[string]interface{}{
			"hits":            s.CacheHits.Load(),
			"misses":          s.CacheMisses.Load(),
			"shared":          s.CacheShared.Load(),
			"cache_only_miss": s.CacheOnlyMiss.Load(),
			"hit_rate":        s.CacheHitRate(),
		},
		"rate_limiting": map[string]interface{}{
			"normal_tier": s.RateLimitNormal.Load(),
			"cached_tier": s.RateLimitCached.Load(),
			"exceeded":    s.RateLimitExceeded.Load(),
		},
		"upstreams": map[string]interface{}{
			"calls":  s.UpstreamCallsSnapshot(),
			"errors": s.UpstreamErrorsSnapshot(),
		},
		"responses": map[string]interface{}{
			"2xx": s.Status2xx.Load(),
			"4xx": s.Status4xx.Load(),
			"5xx": s.Status5xx.Load(),
		},
		"response_times": map[string]interface{}{
			"avg": s.AvgResponseTime().String(),
			"min": s.MinResponseTime().String(),
			"max": s.MaxResponseTime().String(),
		},
	}
}
