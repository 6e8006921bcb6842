// Package config defines the top-level configuration for poolwatch and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/poolwatch/internal/chain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POOLWATCH_* environment variables.
type Config struct {
	GeckoTerminal GeckoTerminalConfig `toml:"geckoterminal"`
	// Chains is the single chain list used by every aggregating call site:
	// new-pool and trending aggregation, the tracker and the price ticker.
	Chains    []string        `toml:"chains"`
	Detector  DetectorConfig  `toml:"detector"`
	Broadcast BroadcastConfig `toml:"broadcast"`
	Cache     CacheConfig     `toml:"cache"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// GeckoTerminalConfig holds the upstream market-data API parameters.
type GeckoTerminalConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
	// RateLimitPerMinute caps outbound requests through the Redis limiter.
	// Zero disables the cap.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// DetectorConfig holds new-pool discovery parameters.
type DetectorConfig struct {
	PollInterval    duration `toml:"poll_interval"`
	MinLiquidityUSD float64  `toml:"min_liquidity_usd"`
	MaxAge          duration `toml:"max_age"`
	FetchLimit      int      `toml:"fetch_limit"`
	Retention       duration `toml:"retention"`
	SweepInterval   duration `toml:"sweep_interval"`
}

// BroadcastConfig holds the periodic snapshot producer parameters.
type BroadcastConfig struct {
	TrendingInterval   duration `toml:"trending_interval"`
	PriceInterval      duration `toml:"price_interval"`
	StatsInterval      duration `toml:"stats_interval"`
	TrendingLimit      int      `toml:"trending_limit"`
	PricePoolsPerChain int      `toml:"price_pools_per_chain"`
	ChainPoolsLimit    int      `toml:"chain_pools_limit"`
}

// CacheConfig holds response cache parameters.
type CacheConfig struct {
	TTL duration `toml:"ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled       bool   `toml:"enabled"`
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	MaxRetries    int    `toml:"max_retries"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	FanoutChannel string `toml:"fanout_channel"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the discovery-history archive job.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey enables bearer / X-API-Key authentication when non-empty.
	APIKey string `toml:"api_key"`
	// RateLimitPerMinute is applied per client IP when Redis is enabled.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	MinSnipeScore     int      `toml:"min_snipe_score"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		GeckoTerminal: GeckoTerminalConfig{
			BaseURL:            "https://api.geckoterminal.com/api/v2",
			Timeout:            duration{15 * time.Second},
			RateLimitPerMinute: 30,
		},
		Chains: append([]string(nil), chain.Defaults...),
		Detector: DetectorConfig{
			PollInterval:    duration{15 * time.Second},
			MinLiquidityUSD: 1000,
			MaxAge:          duration{time.Hour},
			FetchLimit:      50,
			Retention:       duration{24 * time.Hour},
			SweepInterval:   duration{time.Hour},
		},
		Broadcast: BroadcastConfig{
			TrendingInterval:   duration{30 * time.Second},
			PriceInterval:      duration{10 * time.Second},
			StatsInterval:      duration{60 * time.Second},
			TrendingLimit:      20,
			PricePoolsPerChain: 5,
			ChainPoolsLimit:    10,
		},
		Cache: CacheConfig{
			TTL: duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:       false,
			Addr:          "localhost:6379",
			DB:            0,
			PoolSize:      20,
			MaxRetries:    3,
			FanoutChannel: "poolwatch:fanout",
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "poolwatch-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 0 3 * * *",
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events:        []string{"new_pool"},
			MinSnipeScore: 80,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":     true,
	"detector": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, detector)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.GeckoTerminal.BaseURL == "" {
		errs = append(errs, "geckoterminal: base_url must not be empty")
	}
	if c.GeckoTerminal.Timeout.Duration <= 0 {
		errs = append(errs, "geckoterminal: timeout must be > 0")
	}
	if c.GeckoTerminal.RateLimitPerMinute < 0 {
		errs = append(errs, "geckoterminal: rate_limit_per_minute must be >= 0")
	}

	if len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one chain must be configured")
	}
	seen := make(map[string]bool, len(c.Chains))
	for _, ch := range c.Chains {
		n := chain.Normalize(ch)
		if n == "" {
			errs = append(errs, "chains: empty chain name")
			continue
		}
		if seen[n] {
			errs = append(errs, fmt.Sprintf("chains: duplicate chain %q", n))
		}
		seen[n] = true
	}

	if c.Detector.PollInterval.Duration <= 0 {
		errs = append(errs, "detector: poll_interval must be > 0")
	}
	if c.Detector.MinLiquidityUSD < 0 {
		errs = append(errs, "detector: min_liquidity_usd must be >= 0")
	}
	if c.Detector.MaxAge.Duration <= 0 {
		errs = append(errs, "detector: max_age must be > 0")
	}
	if c.Detector.FetchLimit < 1 {
		errs = append(errs, "detector: fetch_limit must be >= 1")
	}
	if c.Detector.Retention.Duration <= 0 {
		errs = append(errs, "detector: retention must be > 0")
	}
	if c.Detector.SweepInterval.Duration <= 0 {
		errs = append(errs, "detector: sweep_interval must be > 0")
	}

	if c.Broadcast.TrendingInterval.Duration <= 0 ||
		c.Broadcast.PriceInterval.Duration <= 0 ||
		c.Broadcast.StatsInterval.Duration <= 0 {
		errs = append(errs, "broadcast: trending_interval, price_interval and stats_interval must be > 0")
	}
	if c.Broadcast.TrendingLimit < 1 {
		errs = append(errs, "broadcast: trending_limit must be >= 1")
	}
	if c.Broadcast.PricePoolsPerChain < 1 {
		errs = append(errs, "broadcast: price_pools_per_chain must be >= 1")
	}
	if c.Broadcast.ChainPoolsLimit < 1 {
		errs = append(errs, "broadcast: chain_pools_limit must be >= 1")
	}

	if c.Cache.TTL.Duration <= 0 {
		errs = append(errs, "cache: ttl must be > 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.FanoutChannel == "" {
			errs = append(errs, "redis: fanout_channel must not be empty")
		}
	}

	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Archive.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "archive: requires postgres.enabled")
		}
		if !c.Redis.Enabled {
			errs = append(errs, "archive: requires redis.enabled for the job lock")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMinute < 0 {
			errs = append(errs, "server: rate_limit_per_minute must be >= 0")
		}
	}

	if c.Notify.MinSnipeScore < 0 || c.Notify.MinSnipeScore > 100 {
		errs = append(errs, fmt.Sprintf("notify: min_snipe_score must be 0-100, got %d", c.Notify.MinSnipeScore))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// NormalizedChains returns the configured chains in canonical form, dropping
// empties and duplicates while keeping the configured order.
func (c *Config) NormalizedChains() []string {
	out := make([]string, 0, len(c.Chains))
	seen := make(map[string]bool, len(c.Chains))
	for _, ch := range c.Chains {
		n := chain.Normalize(ch)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
