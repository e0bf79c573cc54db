package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"tabs-api-go/cache"
	"tabs-api-go/circuitbreaker"
	"tabs-api-go/config"
	"tabs-api-go/gateway"
	"tabs-api-go/logcolors"
	"tabs-api-go/metrics"
	"tabs-api-go/middleware"
	"tabs-api-go/ratelimit"
	"tabs-api-go/services/notifier"
	"tabs-api-go/services/spotify"
	"tabs-api-go/services/tabs"
	"tabs-api-go/services/upstream"
	"tabs-api-go/services/youtube"
	"tabs-api-go/stats"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogging applies format, level and optional rotated file output
func setupLogging(cfg config.Config) {
	if strings.EqualFold(cfg.Configuration.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.Configuration.LogLevel)
	if err != nil {
		log.Warnf("%s Unknown log level %q, using info", logcolors.LogConfig, cfg.Configuration.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	var out io.Writer = os.Stdout
	if cfg.Configuration.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.Configuration.LogFile,
			MaxSize:    cfg.Configuration.LogMaxSizeMB,
			MaxBackups: cfg.Configuration.LogMaxBackups,
			Compress:   true,
		})
	}
	log.SetOutput(out)
}

// longestTTL bounds how long the memory backend may keep any entry
func longestTTL(cfg config.Config) time.Duration {
	longest := cfg.Spotify.TokenCacheTTLInSeconds
	for _, ttl := range []int{
		cfg.Configuration.SearchCacheTTLInSeconds,
		cfg.Configuration.EntityCacheTTLInSeconds,
		cfg.Configuration.TutorialCacheTTLInSeconds,
		cfg.Configuration.TabsCacheTTLInSeconds,
	} {
		if ttl > longest {
			longest = ttl
		}
	}
	return config.Seconds(longest)
}

func connectStore(ctx context.Context, cfg config.Config) (cache.Store, error) {
	store, err := cache.Connect(ctx, cache.Options{
		Backend:     cfg.Configuration.CacheBackend,
		RedisURL:    cfg.Configuration.RedisURL,
		Namespaces:  []string{spotify.Upstream, youtube.Upstream, tabs.Upstream},
		BoltPath:    cfg.Configuration.CacheDBPath,
		Compression: cfg.FeatureFlags.CacheCompression,
		MaxKeys:     cfg.Configuration.MemoryCacheMaxKeys,
		MaxTTL:      longestTTL(cfg),
		Attempts:    cfg.Configuration.CacheConnectRetries,
		Delay:       500 * time.Millisecond,
	})
	if store == nil {
		return nil, err
	}
	if err != nil {
		// The store may come back later; requests follow the cache failure mode meanwhile.
		log.Warnf("%s %v, continuing in %s mode", logcolors.LogCacheInit, err, cfg.Configuration.CacheFailureMode)
	}
	return store, nil
}

func setupNotifiers(cfg config.Config) []notifier.Notifier {
	var notifiers []notifier.Notifier
	n := cfg.Notifier

	if n.SMTPHost != "" {
		notifiers = append(notifiers, &notifier.EmailNotifier{
			SMTPHost:     n.SMTPHost,
			SMTPPort:     n.SMTPPort,
			SMTPUsername: n.SMTPUsername,
			SMTPPassword: n.SMTPPassword,
			FromEmail:    n.FromEmail,
			ToEmail:      n.ToEmail,
		})
		log.Infof("%s Email notifier enabled", logcolors.LogNotifier)
	}

	if n.TelegramBotToken != "" {
		notifiers = append(notifiers, &notifier.TelegramNotifier{
			BotToken: n.TelegramBotToken,
			ChatID:   n.TelegramChatID,
		})
		log.Infof("%s Telegram notifier enabled", logcolors.LogNotifier)
	}

	if n.NtfyTopic != "" {
		notifiers = append(notifiers, &notifier.NtfyNotifier{
			Topic:  n.NtfyTopic,
			Server: n.NtfyServer,
		})
		log.Infof("%s Ntfy.sh notifier enabled", logcolors.LogNotifier)
	}

	return notifiers
}

// alertOnFailure publishes an alert for every failed token issuance
func alertOnFailure(provider string, issue gateway.IssueFunc) gateway.IssueFunc {
	return func(ctx context.Context) (string, time.Time, error) {
		token, expiry, err := issue(ctx)
		if err != nil {
			notifier.PublishCredentialFailed(provider, err)
		}
		return token, expiry, err
	}
}

func newLimiterRegistry(cfg config.Config) (*ratelimit.Registry, error) {
	limiters := ratelimit.NewRegistry()
	for id, l := range cfg.UpstreamLimits() {
		if err := limiters.Register(id, l.MaxCalls, l.Period); err != nil {
			return nil, err
		}
	}
	return limiters, nil
}

func newBreakerRegistry(cfg config.Config, m *metrics.Metrics) *circuitbreaker.Registry {
	return circuitbreaker.NewRegistry(circuitbreaker.Config{
		Threshold: cfg.Configuration.CircuitBreakerThreshold,
		Cooldown:  config.Seconds(cfg.Configuration.CircuitBreakerCooldownSecs),
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			m.SetBreakerState(name, int(to))
			switch {
			case to == circuitbreaker.StateOpen && from == circuitbreaker.StateClosed:
				notifier.PublishCircuitOpen(name, config.Seconds(cfg.Configuration.CircuitBreakerCooldownSecs))
			case to == circuitbreaker.StateClosed && from != circuitbreaker.StateClosed:
				notifier.PublishCircuitRecovered(name)
			}
		},
	})
}

// buildServer wires the store, limiters, gateway and upstream services
func buildServer(ctx context.Context, cfg config.Config) (*server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	store, err := connectStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	mode, err := gateway.ParseFailureMode(cfg.Configuration.CacheFailureMode)
	if err != nil {
		store.Close()
		return nil, err
	}

	limiters, err := newLimiterRegistry(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	breakers := newBreakerRegistry(cfg, m)

	st := stats.Get()
	cacheAside := gateway.NewCacheAside(store, gateway.CacheOptions{
		FailureMode:  mode,
		SingleFlight: cfg.FeatureFlags.CacheSingleFlight,
		Metrics:      m,
	})
	gw := gateway.New(gateway.Options{
		Cache:          cacheAside,
		Limiter:        limiters,
		Breakers:       breakers,
		Metrics:        m,
		Stats:          st,
		AcquireTimeout: cfg.Configuration.AcquireTimeout,
	})

	resolver := upstream.NewResolver()
	transport := upstream.NewTransport(resolver)
	timeout := cfg.Configuration.UpstreamTimeout

	spotifyClient := upstream.NewClient(spotify.Upstream, transport, timeout)
	tokens, err := gateway.NewCredentialCache(cacheAside, spotify.Upstream, spotify.TokenKey,
		config.Seconds(cfg.Spotify.TokenCacheTTLInSeconds),
		alertOnFailure(spotify.Upstream,
			spotify.NewIssuer(cfg.Spotify.ClientKey, cfg.Spotify.SecretKey, cfg.Spotify.TokenURL, spotifyClient.HTTPClient())),
		m)
	if err != nil {
		store.Close()
		return nil, err
	}

	ipLimiter := middleware.NewIPRateLimiter(
		rate.Limit(cfg.Configuration.RateLimitPerSecond), cfg.Configuration.RateLimitBurstLimit,
		rate.Limit(cfg.Configuration.CachedRateLimitPerSecond), cfg.Configuration.CachedRateLimitBurstLimit,
	)

	s := &server{
		spotify: spotify.New(gw, spotifyClient, tokens, spotify.Options{
			BaseURL:     cfg.Spotify.BaseURL,
			Market:      cfg.Spotify.Market,
			SearchLimit: cfg.Spotify.SearchLimit,
			SearchTTL:   config.Seconds(cfg.Configuration.SearchCacheTTLInSeconds),
			EntityTTL:   config.Seconds(cfg.Configuration.EntityCacheTTLInSeconds),
		}),
		youtube: youtube.New(gw, upstream.NewClient(youtube.Upstream, transport, timeout), youtube.Options{
			BaseURL:    cfg.YouTube.BaseURL,
			APIKey:     cfg.YouTube.APIKey,
			MaxResults: cfg.YouTube.MaxResults,
			TTL:        config.Seconds(cfg.Configuration.TutorialCacheTTLInSeconds),
		}),
		tabs: tabs.New(gw, upstream.NewClient(tabs.Upstream, transport, timeout), tabs.Options{
			BaseURL:  cfg.Tabs.BaseURL,
			APIKey:   cfg.Tabs.APIKey,
			EngineID: cfg.Tabs.EngineID,
			TTL:      config.Seconds(cfg.Configuration.TabsCacheTTLInSeconds),
		}),
		store:     store,
		monitor:   &storeMonitor{store: store},
		limiters:  limiters,
		breakers:  breakers,
		ipLimiter: ipLimiter,
		resolver:  resolver,
		registry:  reg,
		metrics:   m,
		stats:     st,
		notifiers: setupNotifiers(cfg),
	}

	if cfg.Configuration.StatsDBPath != "" {
		statsDB, err := stats.NewStore(cfg.Configuration.StatsDBPath, st)
		if err != nil {
			log.Warnf("%s Stats persistence disabled: %v", logcolors.LogStats, err)
		} else {
			if err := statsDB.Load(); err != nil {
				log.Warnf("%s %v", logcolors.LogStats, err)
			}
			s.statsDB = statsDB
		}
	}

	return s, nil
}

// close releases the store and flushes stats
func (s *server) close() {
	if s.statsDB != nil {
		if err := s.statsDB.Close(); err != nil {
			log.Warnf("%s %v", logcolors.LogStats, err)
		}
	}
	if err := s.store.Close(); err != nil {
		log.Warnf("%s Failed to close store: %v", logcolors.LogCache, err)
	}
}

// startJobs schedules store sweeps and health checks, DNS refreshes, stats
// saves and idle client eviction. Stop the returned cron on shutdown.
func startJobs(s *server, cfg config.Config) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(cfg.Configuration.CacheHealthSchedule, func() {
		s.monitor.check(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("cache health schedule: %w", err)
	}

	if _, ok := s.store.(cache.Sweeper); ok {
		if _, err := c.AddFunc(cfg.Configuration.CacheSweepSchedule, func() {
			removed, _, err := sweepStore(s.store)
			if err != nil {
				log.Errorf("%s Sweep failed: %v", logcolors.LogCacheSweep, err)
				return
			}
			log.Infof("%s Removed %d expired keys", logcolors.LogCacheSweep, removed)
		}); err != nil {
			return nil, fmt.Errorf("cache sweep schedule: %w", err)
		}
	}

	if _, err := c.AddFunc(cfg.Configuration.DNSCacheSchedule, func() {
		upstream.RefreshDNS(s.resolver)
	}); err != nil {
		return nil, fmt.Errorf("dns refresh schedule: %w", err)
	}

	if s.statsDB != nil {
		if _, err := c.AddFunc(cfg.Configuration.StatsSaveSchedule, func() {
			if err := s.statsDB.Save(); err != nil {
				log.Warnf("%s Failed to auto-save stats: %v", logcolors.LogStats, err)
			}
		}); err != nil {
			return nil, fmt.Errorf("stats save schedule: %w", err)
		}
	}

	idle := cfg.Configuration.IPLimiterIdleTTL
	if _, err := c.AddFunc("@every "+idle.String(), func() {
		if removed := s.ipLimiter.Evict(idle); removed > 0 {
			log.Debugf("%s Evicted %d idle clients", logcolors.LogRateLimit, removed)
		}
	}); err != nil {
		return nil, fmt.Errorf("limiter eviction schedule: %w", err)
	}

	c.Start()
	return c, nil
}

// limitMiddleware applies the two-tier per-IP limit. The cached tier marks the
// request cache-only; past both tiers the request is rejected.
func limitMiddleware(next http.Handler, limiter *middleware.IPRateLimiter, m *metrics.Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" && conf.Configuration.APIKey != "" && apiKey == conf.Configuration.APIKey {
			w.Header().Set("X-RateLimit-Bypass", "true")
			ctx := context.WithValue(r.Context(), rateLimitTypeKey, string(middleware.TierBypass))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		ip := middleware.ClientIP(r)
		tier, pair := limiter.Decide(ip)
		stats.Get().RecordRateLimit(string(tier))

		switch tier {
		case middleware.TierNormal:
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.GetNormalLimit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(pair.GetNormalTokens()))
			ctx := context.WithValue(r.Context(), rateLimitTypeKey, string(tier))
			next.ServeHTTP(w, r.WithContext(ctx))

		case middleware.TierCached:
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.GetCachedLimit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(pair.GetCachedTokens()))
			log.Debugf("%s IP %s exceeded normal tier, using cached tier", logcolors.LogRateLimit, ip)
			ctx := gateway.WithCacheOnly(r.Context())
			ctx = context.WithValue(ctx, rateLimitTypeKey, string(tier))
			next.ServeHTTP(w, r.WithContext(ctx))

		default:
			m.ObserveInboundReject(string(tier))
			log.Warnf("%s IP %s exceeded both rate limit tiers", logcolors.LogRateLimit, ip)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.GetCachedLimit()))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Type", string(tier))
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	})
}
