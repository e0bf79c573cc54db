package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// publicPaths skip the admin API key check
var publicPaths = []string{"/", "/health", "/spotify/*", "/youtube/*", "/tabs/*"}

// setupRoutes configures all HTTP routes for the API
func setupRoutes(router *mux.Router, s *server) {
	// Spotify lookups
	router.HandleFunc("/spotify/search_artists", s.searchArtists).Methods(http.MethodGet)
	router.HandleFunc("/spotify/search_songs", s.searchSongs).Methods(http.MethodGet)
	router.HandleFunc("/spotify/artists/{id}", s.getArtist).Methods(http.MethodGet)
	router.HandleFunc("/spotify/artists/{id}/songs", s.getArtistSongs).Methods(http.MethodGet)
	router.HandleFunc("/spotify/artists/{artist}/search_songs", s.searchArtistSongs).Methods(http.MethodGet)
	router.HandleFunc("/spotify/songs/{id}", s.getSong).Methods(http.MethodGet)
	router.HandleFunc("/spotify/albums/{id}", s.getAlbum).Methods(http.MethodGet)

	// Tutorials and tab sites
	router.HandleFunc("/youtube/get_video_tutorials/{query}", s.getVideoTutorials).Methods(http.MethodGet)
	router.HandleFunc("/tabs/search", s.searchTabSites).Methods(http.MethodGet)

	// Health, stats and metrics
	router.HandleFunc("/health", s.getHealthStatus)
	router.HandleFunc("/stats", s.getStats)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/limiters", s.getLimiters)

	// Circuit breaker endpoints
	router.HandleFunc("/circuit-breaker", s.getCircuitBreakerStatus)
	router.HandleFunc("/circuit-breaker/reset", s.resetCircuitBreaker)

	// Cache management endpoints
	router.HandleFunc("/cache/sweep", s.sweepCache)
	router.HandleFunc("/cache/purge", s.purgeCache)

	// Alerting
	router.HandleFunc("/test-notifications", s.testNotifications)

	// Help endpoint
	router.HandleFunc("/", helpHandler)
}
