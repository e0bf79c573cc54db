package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"tabs-api-go/circuitbreaker"
	"tabs-api-go/gateway"
	"tabs-api-go/logcolors"
	"tabs-api-go/services/notifier"
	"tabs-api-go/services/spotify"
	"tabs-api-go/services/tabs"
	"tabs-api-go/services/youtube"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type lookup func(ctx context.Context) (*gateway.Result, error)

// serve runs fn and writes its result or mapped error
func (s *server) serve(w http.ResponseWriter, r *http.Request, provider string, fn lookup) {
	resp := Respond(w, r).SetProvider(provider)

	res, err := fn(r.Context())
	if err != nil {
		if errors.Is(err, gateway.ErrCacheOnlyMiss) {
			s.stats.RecordCache(cacheOnlyMissState)
		}
		resp.Fail(err)
		return
	}

	s.stats.RecordCache(cacheStatus(res))
	resp.Result(res)
}

func query(r *http.Request, names ...string) string {
	q := r.URL.Query()
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func (s *server) searchArtists(w http.ResponseWriter, r *http.Request) {
	artist := query(r, "artist", "a", "q")
	s.serve(w, r, spotify.Upstream, func(ctx context.Context) (*gateway.Result, error) {
		return s.spotify.SearchArtists(ctx, artist)
	})
}

func (s *server) searchSongs(w http.ResponseWriter, r *http.Request) {
	song := query(r, "song", "s", "q")
	s.serve(w, r, spotify.Upstream, func(ctx context.Context) (*gateway.Result, error) {
		return s.spotify.SearchSongs(ctx, song)
	})
}

func (s *server) searchArtistSongs(w http.ResponseWriter, r *http.Request) {
	artist := mux.Vars(r)["artist"]
	song := query(r, "song", "s", "q")
	s.serve(w, r, spotify.Upstream, func(ctx context.Context) (*gateway.Result, error) {
		return s.spotify.SearchArtistSongs(ctx, artist, song)
	})
}

func (s *server) getArtist(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.serve(w, r, spotify.Upstream, func(ctx context.Context) (*gateway.Result, error) {
		return s.spotify.Artist(ctx, id)
	})
}

func (s *server) getArtistSongs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.serve(w, r, spotify.Upstream, func(ctx context.Context) (*gateway.Result, error) {
		return s.spotify.ArtistTopSongs(ctx, id)
	})
}

func (s *server) getSong(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.serve(w, r, spotify.Upstream, func(ctx context.Context) (*gateway.Result, error) {
		return s.spotify.Song(ctx, id)
	})
}

func (s *server) getAlbum(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.serve(w, r, spotify.Upstream, func(ctx context.Context) (*gateway.Result, error) {
		return s.spotify.Album(ctx, id)
	})
}

func (s *server) getVideoTutorials(w http.ResponseWriter, r *http.Request) {
	q := mux.Vars(r)["query"]
	s.serve(w, r, youtube.Upstream, func(ctx context.Context) (*gateway.Result, error) {
		return s.youtube.SearchTutorials(ctx, q)
	})
}

func (s *server) searchTabSites(w http.ResponseWriter, r *http.Request) {
	song := query(r, "song", "s")
	artist := query(r, "artist", "a")
	s.serve(w, r, tabs.Upstream, func(ctx context.Context) (*gateway.Result, error) {
		return s.tabs.SearchTabSites(ctx, song, artist)
	})
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(map[string]interface{}{
		"endpoints": map[string]string{
			"/spotify/search_artists?artist=":              "Search artists by name",
			"/spotify/search_songs?song=":                  "Search songs by title",
			"/spotify/artists/{id}":                        "Artist by Spotify ID",
			"/spotify/artists/{id}/songs":                  "Top songs of an artist",
			"/spotify/artists/{artist}/search_songs?song=": "Search songs of one artist",
			"/spotify/songs/{id}":                          "Song by Spotify ID",
			"/spotify/albums/{id}":                         "Album by Spotify ID",
			"/youtube/get_video_tutorials/{query}":         "Guitar tutorial videos",
			"/tabs/search?song=&artist=":                   "Tab and chord sites",
		},
		"headers": map[string]string{
			"X-Cache-Status": "HIT, MISS or SHARED",
			"X-Provider":     "Upstream that served the data",
		},
	})
}

func (s *server) getHealthStatus(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"cache":  backendName(s.store),
	}

	if !pingStore(r.Context(), s.store) {
		health["status"] = "degraded"
		health["cache_error"] = "cache store unreachable"
	}

	var open []string
	for _, snap := range s.breakers.Snapshots() {
		if snap.State != circuitbreaker.StateClosed.String() {
			open = append(open, snap.Name)
		}
	}
	if len(open) > 0 {
		health["status"] = "degraded"
		health["circuit_open"] = open
	}

	Respond(w, r).JSON(health)
}

func (s *server) getStats(w http.ResponseWriter, r *http.Request) {
	snapshot := s.stats.Snapshot()
	snapshot["cache_storage"] = cacheStoreStats(r.Context(), s.store)
	snapshot["limiters"] = s.limiters.Snapshots()
	snapshot["circuit_breakers"] = s.breakers.Snapshots()
	snapshot["inbound_clients"] = s.ipLimiter.Len()

	Respond(w, r).JSON(snapshot)
}

func (s *server) getLimiters(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(map[string]interface{}{
		"limiters": s.limiters.Snapshots(),
	})
}

func (s *server) getCircuitBreakerStatus(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(map[string]interface{}{
		"breakers": s.breakers.Snapshots(),
		"config": map[string]interface{}{
			"threshold":    conf.Configuration.CircuitBreakerThreshold,
			"cooldown_sec": conf.Configuration.CircuitBreakerCooldownSecs,
		},
	})
}

func (s *server) resetCircuitBreaker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("upstream")
	if name == "" {
		s.breakers.ResetAll()
		Respond(w, r).JSON(map[string]string{"message": "All circuit breakers reset to CLOSED state"})
		return
	}

	cb, ok := s.breakers.Lookup(name)
	if !ok {
		Respond(w, r).Error(http.StatusNotFound, map[string]string{"error": "unknown upstream " + name})
		return
	}
	cb.Reset()
	Respond(w, r).JSON(map[string]string{"message": "Circuit breaker for " + name + " reset to CLOSED state"})
}

func (s *server) testNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(s.notifiers) == 0 {
		Respond(w, r).Error(http.StatusBadRequest, map[string]interface{}{
			"error": "No notifiers configured",
			"help": map[string]string{
				"telegram": "Set NOTIFIER_TELEGRAM_BOT_TOKEN and NOTIFIER_TELEGRAM_CHAT_ID",
				"email":    "Set NOTIFIER_SMTP_HOST, NOTIFIER_FROM_EMAIL and NOTIFIER_TO_EMAIL",
				"ntfy":     "Set NOTIFIER_NTFY_TOPIC",
			},
		})
		return
	}

	var lines []string
	for _, snap := range s.breakers.Snapshots() {
		lines = append(lines, fmt.Sprintf("%s: %s", snap.Name, snap.State))
	}
	subject := "🧪 Test: Tabs API alerts"
	message := fmt.Sprintf(
		"Your notification setup is working.\n\n"+
			"Cache store: %s\n"+
			"Circuit breakers:\n  %s\n\n"+
			"You will get alerts like this when an upstream or the cache goes down.",
		backendName(s.store), strings.Join(lines, "\n  "))

	results := make(map[string]interface{})
	failed := 0
	for _, n := range s.notifiers {
		name := notifier.TypeName(n)
		if err := n.Send(subject, message); err != nil {
			failed++
			results[name] = map[string]string{"status": "failed", "error": err.Error()}
			log.Errorf("%s %s failed: %v", logcolors.LogTestNotifications, name, err)
			continue
		}
		results[name] = map[string]string{"status": "success"}
		log.Infof("%s %s sent successfully", logcolors.LogTestNotifications, name)
	}

	body := map[string]interface{}{
		"message":    "Test notifications sent",
		"total":      len(s.notifiers),
		"successful": len(s.notifiers) - failed,
		"failed":     failed,
		"results":    results,
	}
	if failed > 0 {
		Respond(w, r).Error(http.StatusPartialContent, body)
		return
	}
	Respond(w, r).JSON(body)
}
