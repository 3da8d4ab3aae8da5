// Package config loads the engine's configuration from environment
// variables. Every knob has a sane default; only production deployments
// are required to set anything.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config is the root of all runtime configuration.
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	HTTP          HTTPConfig
	StreakFeed    StreakFeedConfig
	Scheduler     SchedulerConfig
	Progression   ProgressionConfig
	Features      *FeatureFlags
	Observability ObservabilityConfig
}

type AppConfig struct {
	Environment     Environment
	Debug           bool
	Version         string
	ShutdownTimeout time.Duration
}

// DatabaseConfig carries the PostgreSQL URL and pool sizing. The URL can
// be given whole (DATABASE_URL) or assembled from DB_* parts.
type DatabaseConfig struct {
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Disabled lets development environments run without Redis.
	Disabled bool
}

type HTTPConfig struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	EnableCORS     bool
	AllowedOrigins []string
	EnableMetrics  bool

	// RateLimitPerMinute is per client IP; zero disables limiting.
	RateLimitPerMinute int

	// API key auth guards the review and admin endpoints.
	APIKeyHeader string
	APIKeys      []string
}

// StreakFeedConfig configures the client for the external activity feed.
type StreakFeedConfig struct {
	BaseURL string
	APIKey  string

	RequestsPerSecond float64
	BurstSize         int
	RequestTimeout    time.Duration
	MaxRetries        int
}

type SchedulerConfig struct {
	Enabled bool

	RebuildLeaderboardInterval time.Duration

	// Daily streak credit time, UTC.
	StreakCreditHour   int
	StreakCreditMinute int

	SnapshotRetentionDays int
	StreakConcurrency     int
	JobTimeout            time.Duration
}

// ProgressionConfig holds the ranking and scoring policy knobs.
type ProgressionConfig struct {
	MedalPositions      int
	ExcludeZeroScores   bool
	LeaderboardCacheTTL time.Duration
}

type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// Load reads every section from the environment and validates the result.
func Load() (*Config, error) {
	env := Environment(envString("APP_ENV", "development"))

	cfg := &Config{
		App: AppConfig{
			Environment:     env,
			Debug:           env == EnvDevelopment || envBool("APP_DEBUG", false),
			Version:         envString("APP_VERSION", "0.1.0"),
			ShutdownTimeout: envDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             databaseURL(),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: envDuration("DB_CONN_MAX_IDLE_TIME", time.Minute),
		},
		Redis: RedisConfig{
			Host:         envString("REDIS_HOST", "localhost"),
			Port:         envInt("REDIS_PORT", 6379),
			Password:     envString("REDIS_PASSWORD", ""),
			DB:           envInt("REDIS_DB", 0),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			Disabled:     envBool("REDIS_DISABLED", false),
		},
		HTTP: HTTPConfig{
			Host:               envString("HTTP_HOST", "0.0.0.0"),
			Port:               envInt("HTTP_PORT", 8080),
			ReadTimeout:        envDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:       envDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:        envDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			EnableCORS:         envBool("HTTP_ENABLE_CORS", true),
			AllowedOrigins:     envList("HTTP_ALLOWED_ORIGINS", []string{"*"}),
			EnableMetrics:      envBool("HTTP_ENABLE_METRICS", true),
			RateLimitPerMinute: envInt("HTTP_RATE_LIMIT_PER_MINUTE", 100),
			APIKeyHeader:       envString("HTTP_API_KEY_HEADER", "X-API-Key"),
			APIKeys:            envList("HTTP_API_KEYS", nil),
		},
		StreakFeed: StreakFeedConfig{
			BaseURL:           envString("STREAK_FEED_BASE_URL", ""),
			APIKey:            envString("STREAK_FEED_API_KEY", ""),
			RequestsPerSecond: envFloat("STREAK_FEED_RATE_LIMIT", 2.0),
			BurstSize:         envInt("STREAK_FEED_RATE_BURST", 5),
			RequestTimeout:    envDuration("STREAK_FEED_REQUEST_TIMEOUT", 30*time.Second),
			MaxRetries:        envInt("STREAK_FEED_MAX_RETRIES", 3),
		},
		Scheduler: SchedulerConfig{
			Enabled:                    envBool("SCHEDULER_ENABLED", true),
			RebuildLeaderboardInterval: envDuration("SCHEDULER_LEADERBOARD_INTERVAL", 10*time.Minute),
			StreakCreditHour:           envInt("SCHEDULER_STREAK_HOUR", 0),
			StreakCreditMinute:         envInt("SCHEDULER_STREAK_MINUTE", 30),
			SnapshotRetentionDays:      envInt("SCHEDULER_SNAPSHOT_RETENTION_DAYS", 7),
			StreakConcurrency:          envInt("SCHEDULER_STREAK_CONCURRENCY", 5),
			JobTimeout:                 envDuration("SCHEDULER_JOB_TIMEOUT", 5*time.Minute),
		},
		Progression: ProgressionConfig{
			MedalPositions:      envInt("PROGRESSION_MEDAL_POSITIONS", 3),
			ExcludeZeroScores:   envBool("PROGRESSION_EXCLUDE_ZERO_SCORES", true),
			LeaderboardCacheTTL: envDuration("PROGRESSION_LEADERBOARD_CACHE_TTL", time.Minute),
		},
		Features: LoadFeatureFlags(),
		Observability: ObservabilityConfig{
			LogLevel:  envString("LOG_LEVEL", "info"),
			LogFormat: envString("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// databaseURL prefers DATABASE_URL and falls back to assembling one from
// the individual DB_* variables.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}

	host := envString("DB_HOST", "")
	user := envString("DB_USER", "")
	if host == "" || user == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user,
		envString("DB_PASSWORD", ""),
		host,
		envString("DB_PORT", "5432"),
		envString("DB_NAME", "postgres"),
		envString("DB_SSLMODE", "require"),
	)
}

// Validate reports every problem at once so a misconfigured deploy fails
// with the full list instead of one error per restart.
func (c *Config) Validate() error {
	var errs []error

	if c.IsProduction() {
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required in production"))
		}
		if len(c.HTTP.APIKeys) == 0 {
			errs = append(errs, errors.New("HTTP_API_KEYS is required in production"))
		}
	}
	if h := c.Scheduler.StreakCreditHour; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("SCHEDULER_STREAK_HOUR must be 0-23, got %d", h))
	}
	if m := c.Scheduler.StreakCreditMinute; m < 0 || m > 59 {
		errs = append(errs, fmt.Errorf("SCHEDULER_STREAK_MINUTE must be 0-59, got %d", m))
	}
	if c.Progression.MedalPositions < 0 {
		errs = append(errs, errors.New("PROGRESSION_MEDAL_POSITIONS cannot be negative"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// Env parsing helpers. Unparseable values fall back to the default rather
// than failing startup; Validate catches the values that must be right.

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
