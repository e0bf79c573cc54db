package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

// Upstream identifiers. Each one owns an independent limiter window and breaker.
const (
	UpstreamSpotify = "spotify"
	UpstreamYouTube = "youtube"
	UpstreamTabs    = "tabs"
)

// Cache backends
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendBolt   = "bolt"
)

// Cache failure modes
const (
	FailureModeOpen   = "open"
	FailureModeClosed = "closed"
)

// UpstreamLimit is the sliding-window admission budget for one upstream.
type UpstreamLimit struct {
	MaxCalls int
	Period   time.Duration
}

type Config struct {
	Configuration struct {
		Port        string   `envconfig:"PORT" default:"8000"`
		CORSOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`
		APIKey      string   `envconfig:"API_KEY" default:""`

		// Inbound per-IP limits (two tiers: normal, then cache-only)
		RateLimitPerSecond        int `envconfig:"RATE_LIMIT_PER_SECOND" default:"2"`
		RateLimitBurstLimit       int `envconfig:"RATE_LIMIT_BURST_LIMIT" default:"5"`
		CachedRateLimitPerSecond  int `envconfig:"CACHED_RATE_LIMIT_PER_SECOND" default:"10"`
		CachedRateLimitBurstLimit int `envconfig:"CACHED_RATE_LIMIT_BURST_LIMIT" default:"20"`

		// Cache store
		CacheBackend        string `envconfig:"CACHE_BACKEND" default:"redis"`
		CacheFailureMode    string `envconfig:"CACHE_FAILURE_MODE" default:"open"`
		RedisURL            string `envconfig:"REDIS_URL" default:"redis://localhost:6379"`
		CacheDBPath         string `envconfig:"CACHE_DB_PATH" default:"./data/cache.db"`
		MemoryCacheMaxKeys  int    `envconfig:"MEMORY_CACHE_MAX_KEYS" default:"10000"`
		CacheConnectRetries uint   `envconfig:"CACHE_CONNECT_RETRIES" default:"5"`
		CacheSweepSchedule  string `envconfig:"CACHE_SWEEP_SCHEDULE" default:"@every 1h"`
		CacheHealthSchedule string `envconfig:"CACHE_HEALTH_SCHEDULE" default:"@every 30s"`

		StatsDBPath       string        `envconfig:"STATS_DB_PATH" default:"./data/stats.db"`
		StatsSaveSchedule string        `envconfig:"STATS_SAVE_SCHEDULE" default:"@every 5m"`
		IPLimiterIdleTTL  time.Duration `envconfig:"IP_LIMITER_IDLE_TTL" default:"10m"`

		// Per-operation cache TTLs
		SearchCacheTTLInSeconds   int `envconfig:"SEARCH_CACHE_TTL_IN_SECONDS" default:"3600"`
		EntityCacheTTLInSeconds   int `envconfig:"ENTITY_CACHE_TTL_IN_SECONDS" default:"86400"`
		TutorialCacheTTLInSeconds int `envconfig:"TUTORIAL_CACHE_TTL_IN_SECONDS" default:"86400"`
		TabsCacheTTLInSeconds     int `envconfig:"TABS_CACHE_TTL_IN_SECONDS" default:"86400"`

		// Outbound limits and timeouts
		SpotifyMaxCalls  int           `envconfig:"SPOTIFY_MAX_CALLS" default:"8"`
		SpotifyPeriod    time.Duration `envconfig:"SPOTIFY_PERIOD" default:"1s"`
		YouTubeMaxCalls  int           `envconfig:"YOUTUBE_MAX_CALLS" default:"5"`
		YouTubePeriod    time.Duration `envconfig:"YOUTUBE_PERIOD" default:"1s"`
		TabsMaxCalls     int           `envconfig:"TABS_MAX_CALLS" default:"5"`
		TabsPeriod       time.Duration `envconfig:"TABS_PERIOD" default:"1s"`
		AcquireTimeout   time.Duration `envconfig:"ACQUIRE_TIMEOUT" default:"10s"`
		UpstreamTimeout  time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"10s"`
		DNSCacheSchedule string        `envconfig:"DNS_CACHE_REFRESH_SCHEDULE" default:"@every 5m"`

		CircuitBreakerThreshold    int `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`
		CircuitBreakerCooldownSecs int `envconfig:"CIRCUIT_BREAKER_COOLDOWN_SECS" default:"60"`

		LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
		LogFormat     string `envconfig:"LOG_FORMAT" default:"text"`
		LogFile       string `envconfig:"LOG_FILE" default:""`
		LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
		LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	}

	Spotify struct {
		ClientKey              string `envconfig:"SPOTIFY_CLIENT_KEY" default:""`
		SecretKey              string `envconfig:"SPOTIFY_SECRET_KEY" default:""`
		BaseURL                string `envconfig:"SPOTIFY_BASE_URL" default:"https://api.spotify.com/v1"`
		TokenURL               string `envconfig:"SPOTIFY_TOKEN_URL" default:"https://accounts.spotify.com/api/token"`
		TokenCacheTTLInSeconds int    `envconfig:"SPOTIFY_TOKEN_CACHE_TTL_IN_SECONDS" default:"3400"`
		TokenLifetimeInSeconds int    `envconfig:"SPOTIFY_TOKEN_LIFETIME_IN_SECONDS" default:"3600"`
		Market                 string `envconfig:"SPOTIFY_MARKET" default:"US"`
		SearchLimit            int    `envconfig:"SPOTIFY_SEARCH_LIMIT" default:"10"`
	}

	YouTube struct {
		APIKey     string `envconfig:"YOUTUBE_API_KEY" default:""`
		BaseURL    string `envconfig:"YOUTUBE_BASE_URL" default:"https://www.googleapis.com/youtube/v3"`
		MaxResults int    `envconfig:"YOUTUBE_MAX_RESULTS" default:"10"`
	}

	Tabs struct {
		APIKey   string `envconfig:"GOOGLE_SEARCH_API_KEY" default:""`
		EngineID string `envconfig:"GOOGLE_SEARCH_ENGINE_ID" default:""`
		BaseURL  string `envconfig:"GOOGLE_SEARCH_BASE_URL" default:"https://www.googleapis.com/customsearch/v1"`
	}

	// Outage alerts. Each channel is enabled when its first field is set.
	Notifier struct {
		SMTPHost         string        `envconfig:"NOTIFIER_SMTP_HOST" default:""`
		SMTPPort         string        `envconfig:"NOTIFIER_SMTP_PORT" default:"587"`
		SMTPUsername     string        `envconfig:"NOTIFIER_SMTP_USERNAME" default:""`
		SMTPPassword     string        `envconfig:"NOTIFIER_SMTP_PASSWORD" default:""`
		FromEmail        string        `envconfig:"NOTIFIER_FROM_EMAIL" default:""`
		ToEmail          string        `envconfig:"NOTIFIER_TO_EMAIL" default:""`
		TelegramBotToken string        `envconfig:"NOTIFIER_TELEGRAM_BOT_TOKEN" default:""`
		TelegramChatID   string        `envconfig:"NOTIFIER_TELEGRAM_CHAT_ID" default:""`
		NtfyTopic        string        `envconfig:"NOTIFIER_NTFY_TOPIC" default:""`
		NtfyServer       string        `envconfig:"NOTIFIER_NTFY_SERVER" default:"https://ntfy.sh"`
		AlertCooldown    time.Duration `envconfig:"NOTIFIER_ALERT_COOLDOWN" default:"15m"`
	}

	FeatureFlags struct {
		CacheCompression  bool `envconfig:"FF_CACHE_COMPRESSION" default:"true"`
		CacheSingleFlight bool `envconfig:"FF_CACHE_SINGLE_FLIGHT" default:"true"`
	}
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Warnf("Error loading env config: %v", err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("Unable to load configuration")
	}

	return c
}

func Get() Config {
	return conf
}

// UpstreamLimits returns the limiter parameters for every known upstream.
func (c Config) UpstreamLimits() map[string]UpstreamLimit {
	return map[string]UpstreamLimit{
		UpstreamSpotify: {MaxCalls: c.Configuration.SpotifyMaxCalls, Period: c.Configuration.SpotifyPeriod},
		UpstreamYouTube: {MaxCalls: c.Configuration.YouTubeMaxCalls, Period: c.Configuration.YouTubePeriod},
		UpstreamTabs:    {MaxCalls: c.Configuration.TabsMaxCalls, Period: c.Configuration.TabsPeriod},
	}
}

// Seconds converts a TTL option expressed in seconds to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Validate rejects configurations the gateway cannot run safely with.
func (c Config) Validate() error {
	for name, l := range c.UpstreamLimits() {
		if l.MaxCalls <= 0 {
			return fmt.Errorf("%s: max calls must be positive, got %d", name, l.MaxCalls)
		}
		if l.Period <= 0 {
			return fmt.Errorf("%s: period must be positive, got %v", name, l.Period)
		}
	}

	switch strings.ToLower(c.Configuration.CacheBackend) {
	case BackendRedis, BackendMemory, BackendBolt:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Configuration.CacheBackend)
	}

	switch strings.ToLower(c.Configuration.CacheFailureMode) {
	case FailureModeOpen, FailureModeClosed:
	default:
		return fmt.Errorf("unknown cache failure mode %q", c.Configuration.CacheFailureMode)
	}

	ttl := c.Spotify.TokenCacheTTLInSeconds
	if ttl <= 0 {
		return fmt.Errorf("spotify token cache ttl must be positive, got %d", ttl)
	}
	if ttl >= c.Spotify.TokenLifetimeInSeconds {
		return fmt.Errorf("spotify token cache ttl (%ds) must be below the token lifetime (%ds)",
			ttl, c.Spotify.TokenLifetimeInSeconds)
	}

	for name, ttl := range map[string]int{
		"search":   c.Configuration.SearchCacheTTLInSeconds,
		"entity":   c.Configuration.EntityCacheTTLInSeconds,
		"tutorial": c.Configuration.TutorialCacheTTLInSeconds,
		"tabs":     c.Configuration.TabsCacheTTLInSeconds,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s cache ttl must be positive, got %d", name, ttl)
		}
	}

	return nil
}
