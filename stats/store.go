package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tabs-api-go/logcolors"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	statsBucketName = "stats"
	statsKey        = "server_stats"
)

// Store persists counters so they accumulate across restarts
type Store struct {
	db     *bolt.DB
	dbPath string
	target *Stats
	mu     sync.Mutex
}

// PersistedStats represents the stats data that gets persisted to disk
type PersistedStats struct {
	TotalRequests     int64 `json:"total_requests"`
	SpotifyRequests   int64 `json:"spotify_requests"`
	TutorialRequests  int64 `json:"tutorial_requests"`
	TabsRequests      int64 `json:"tabs_requests"`
	AdminRequests     int64 `json:"admin_requests"`
	HealthRequests    int64 `json:"health_requests"`
	OtherRequests     int64 `json:"other_requests"`
	CacheHits         int64 `json:"cache_hits"`
	CacheMisses       int64 `json:"cache_misses"`
	CacheShared       int64 `json:"cache_shared"`
	CacheOnlyMiss     int64 `json:"cache_only_miss"`
	RateLimitNormal   int64 `json:"rate_limit_normal"`
	RateLimitCached   int64 `json:"rate_limit_cached"`
	RateLimitExceeded int64 `json:"rate_limit_exceeded"`
	Status2xx         int64 `json:"status_2xx"`
	Status4xx         int64 `json:"status_4xx"`
	Status5xx         int64 `json:"status_5xx"`

	TotalResponseTime int64 `json:"total_response_time"`
	ResponseCount     int64 `json:"response_count"`
	MinResponseTime   int64 `json:"min_response_time"`
	MaxResponseTime   int64 `json:"max_response_time"`

	UpstreamCalls  map[string]int64 `json:"upstream_calls"`
	UpstreamErrors map[string]int64 `json:"upstream_errors"`

	LastSaved    time.Time `json:"last_saved"`
	FirstStarted time.Time `json:"first_started"`
}

// NewStore opens a dedicated BoltDB file for target
func NewStore(dbPath string, target *Stats) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %v", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database: %v", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(statsBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create stats bucket: %v", err)
	}

	log.Infof("%s Stats store initialized at %s", logcolors.LogStats, dbPath)
	return &Store{db: db, dbPath: dbPath, target: target}, nil
}

// Load reads persisted stats from disk and applies them to the target
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var persisted PersistedStats
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(statsBucketName))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(statsKey))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &persisted)
	})
	if err != nil {
		return fmt.Errorf("failed to load stats: %v", err)
	}
	if !found {
		return nil
	}

	st := s.target
	st.TotalRequests.Store(persisted.TotalRequests)
	st.SpotifyRequests.Store(persisted.SpotifyRequests)
	st.TutorialRequests.Store(persisted.TutorialRequests)
	st.TabsRequests.Store(persisted.TabsRequests)
	st.AdminRequests.Store(persisted.AdminRequests)
	st.HealthRequests.Store(persisted.HealthRequests)
	st.OtherRequests.Store(persisted.OtherRequests)
	st.CacheHits.Store(persisted.CacheHits)
	st.CacheMisses.Store(persisted.CacheMisses)
	st.CacheShared.Store(persisted.CacheShared)
	st.CacheOnlyMiss.Store(persisted.CacheOnlyMiss)
	st.RateLimitNormal.Store(persisted.RateLimitNormal)
	st.RateLimitCached.Store(persisted.RateLimitCached)
	st.RateLimitExceeded.Store(persisted.RateLimitExceeded)
	st.Status2xx.Store(persisted.Status2xx)
	st.Status4xx.Store(persisted.Status4xx)
	st.Status5xx.Store(persisted.Status5xx)
	st.totalResponseTime.Store(persisted.TotalResponseTime)
	st.responseCount.Store(persisted.ResponseCount)

	if persisted.MinResponseTime > 0 && persisted.MinResponseTime < noMinimum {
		st.minResponseTime.Store(persisted.MinResponseTime)
	}
	if persisted.MaxResponseTime > 0 {
		st.maxResponseTime.Store(persisted.MaxResponseTime)
	}

	for name, n := range persisted.UpstreamCalls {
		counter(&st.upstreamCalls, name).Store(n)
	}
	for name, n := range persisted.UpstreamErrors {
		counter(&st.upstreamErrors, name).Store(n)
	}

	if !persisted.FirstStarted.IsZero() {
		st.StartTime = persisted.FirstStarted
	}

	log.Infof("%s Loaded persisted stats (total requests: %d, first started: %s)",
		logcolors.LogStats, persisted.TotalRequests, persisted.FirstStarted.Format(time.RFC3339))

	return nil
}

// Save persists current stats to disk
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.target
	persisted := PersistedStats{
		TotalRequests:     st.TotalRequests.Load(),
		SpotifyRequests:   st.SpotifyRequests.Load(),
		TutorialRequests:  st.TutorialRequests.Load(),
		TabsRequests:      st.TabsRequests.Load(),
		AdminRequests:     st.AdminRequests.Load(),
		HealthRequests:    st.HealthRequests.Load(),
		OtherRequests:     st.OtherRequests.Load(),
		CacheHits:         st.CacheHits.Load(),
		CacheMisses:       st.CacheMisses.Load(),
		CacheShared:       st.CacheShared.Load(),
		CacheOnlyMiss:     st.CacheOnlyMiss.Load(),
		RateLimitNormal:   st.RateLimitNormal.Load(),
		RateLimitCached:   st.RateLimitCached.Load(),
		RateLimitExceeded: st.RateLimitExceeded.Load(),
		Status2xx:         st.Status2xx.Load(),
		Status4xx:         st.Status4xx.Load(),
		Status5xx:         st.Status5xx.Load(),
		TotalResponseTime: st.totalResponseTime.Load(),
		ResponseCount:     st.responseCount.Load(),
		MinResponseTime:   st.minResponseTime.Load(),
		MaxResponseTime:   st.maxResponseTime.Load(),
		UpstreamCalls:     st.UpstreamCallsSnapshot(),
		UpstreamErrors:    st.UpstreamErrorsSnapshot(),
		LastSaved:         time.Now(),
		FirstStarted:      st.StartTime,
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %v", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(statsBucketName))
		if b == nil {
			return fmt.Errorf("stats bucket not found")
		}
		return b.Put([]byte(statsKey), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save stats: %v", err)
	}

	return nil
}

// Close saves stats one last time and closes the database
func (s *Store) Close() error {
	if err := s.Save(); err != nil {
		log.Warnf("%s Failed to save stats on close: %v", logcolors.LogStats, err)
	} else {
		log.Infof("%s Stats saved on shutdown", logcolors.LogStats)
	}
	return s.db.Close()
}
