package main

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"tabs-api-go/cache"
	"tabs-api-go/logcolors"
	"tabs-api-go/services/notifier"

	log "github.com/sirupsen/logrus"
)

func backendName(store cache.Store) string {
	switch store.(type) {
	case *cache.RedisStore:
		return "redis"
	case *cache.MemoryStore:
		return "memory"
	case *cache.BoltStore:
		return "bolt"
	default:
		return "unknown"
	}
}

// pingStore reports whether the store answers within a second. Stores that
// cannot be pinged are assumed reachable.
func pingStore(ctx context.Context, store cache.Store) bool {
	pinger, ok := store.(cache.Pinger)
	if !ok {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return pinger.Ping(ctx) == nil
}

// storeMonitor alerts when the store stops or starts answering pings
type storeMonitor struct {
	store cache.Store
	down  atomic.Bool
}

// check pings the store and reports whether its reachability changed
func (m *storeMonitor) check(ctx context.Context) bool {
	pinger, ok := m.store.(cache.Pinger)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	backend := backendName(m.store)
	if err := pinger.Ping(ctx); err != nil {
		if m.down.Swap(true) {
			return false
		}
		log.Errorf("%s %s store unreachable: %v", logcolors.LogCache, backend, err)
		notifier.PublishCacheUnreachable(backend, err)
		return true
	}

	if !m.down.Swap(false) {
		return false
	}
	log.Infof("%s %s store reachable again", logcolors.LogCache, backend)
	notifier.PublishCacheRecovered(backend)
	return true
}

func cacheStoreStats(ctx context.Context, store cache.Store) CacheStatsResponse {
	resp := CacheStatsResponse{
		Backend:   backendName(store),
		Reachable: pingStore(ctx, store),
	}
	if sizer, ok := store.(cache.Sizer); ok {
		resp.NumberOfKeys, resp.SizeInKB = sizer.Stats()
		resp.SizeInMB = float64(resp.SizeInKB) / 1024
	}
	return resp
}

// sweepStore removes expired entries from stores that keep them until swept
func sweepStore(store cache.Store) (int, bool, error) {
	sweeper, ok := store.(cache.Sweeper)
	if !ok {
		return 0, false, nil
	}
	removed, err := sweeper.Sweep()
	return removed, true, err
}

func (s *server) sweepCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	removed, supported, err := sweepStore(s.store)
	if err != nil {
		log.Errorf("%s Sweep failed: %v", logcolors.LogCacheSweep, err)
		Respond(w, r).Error(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !supported {
		Respond(w, r).JSON(map[string]interface{}{
			"message": "Backend expires keys on its own, nothing to sweep",
			"backend": backendName(s.store),
		})
		return
	}

	log.Infof("%s Removed %d expired keys", logcolors.LogCacheSweep, removed)
	Respond(w, r).JSON(map[string]interface{}{
		"message": "Sweep complete",
		"removed": removed,
	})
}

func (s *server) purgeCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	purger, ok := s.store.(cache.Purger)
	if !ok {
		Respond(w, r).Error(http.StatusNotImplemented, map[string]string{
			"error": "backend does not support purge",
		})
		return
	}
	if err := purger.Purge(r.Context()); err != nil {
		log.Errorf("%s Purge failed: %v", logcolors.LogCache, err)
		Respond(w, r).Error(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	log.Warnf("%s Cache purged via admin endpoint", logcolors.LogCache)
	notifier.PublishCachePurged(backendName(s.store))
	Respond(w, r).JSON(map[string]string{"message": "Cache purged"})
}
