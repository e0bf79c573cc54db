package main

import (
	"tabs-api-go/cache"
	"tabs-api-go/circuitbreaker"
	"tabs-api-go/metrics"
	"tabs-api-go/middleware"
	"tabs-api-go/ratelimit"
	"tabs-api-go/services/notifier"
	"tabs-api-go/services/spotify"
	"tabs-api-go/services/tabs"
	"tabs-api-go/services/youtube"
	"tabs-api-go/stats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/dnscache"
)

type contextKey string

const (
	rateLimitTypeKey contextKey = "rateLimitType"
)

// Cache status header values
const (
	cacheStatusHit     = "HIT"
	cacheStatusMiss    = "MISS"
	cacheStatusShared  = "SHARED"
	cacheOnlyMissState = "CACHE_ONLY_MISS"
)

// server holds everything the handlers need. Built once in buildServer.
type server struct {
	spotify *spotify.Service
	youtube *youtube.Service
	tabs    *tabs.Service

	store     cache.Store
	monitor   *storeMonitor
	limiters  *ratelimit.Registry
	breakers  *circuitbreaker.Registry
	ipLimiter *middleware.IPRateLimiter
	resolver  *dnscache.Resolver
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	stats     *stats.Stats
	statsDB   *stats.Store
	notifiers []notifier.Notifier
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error    string `json:"error"`
	Upstream string `json:"upstream,omitempty"`
	Stage    string `json:"stage"`
}

// CacheStatsResponse is the response format for the cache section of /stats
type CacheStatsResponse struct {
	Backend      string  `json:"backend"`
	NumberOfKeys int     `json:"number_of_keys,omitempty"`
	SizeInKB     int     `json:"size_kb,omitempty"`
	SizeInMB     float64 `json:"size_mb,omitempty"`
	Reachable    bool    `json:"reachable"`
}
