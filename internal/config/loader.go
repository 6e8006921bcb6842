package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POOLWATCH_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POOLWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── GeckoTerminal ──
	setStr(&cfg.GeckoTerminal.BaseURL, "POOLWATCH_GECKOTERMINAL_BASE_URL")
	setDuration(&cfg.GeckoTerminal.Timeout, "POOLWATCH_GECKOTERMINAL_TIMEOUT")
	setInt(&cfg.GeckoTerminal.RateLimitPerMinute, "POOLWATCH_GECKOTERMINAL_RATE_LIMIT_PER_MINUTE")

	// ── Chains ──
	setStringSlice(&cfg.Chains, "POOLWATCH_CHAINS")

	// ── Detector ──
	setDuration(&cfg.Detector.PollInterval, "POOLWATCH_DETECTOR_POLL_INTERVAL")
	setFloat64(&cfg.Detector.MinLiquidityUSD, "POOLWATCH_DETECTOR_MIN_LIQUIDITY_USD")
	setDuration(&cfg.Detector.MaxAge, "POOLWATCH_DETECTOR_MAX_AGE")
	setInt(&cfg.Detector.FetchLimit, "POOLWATCH_DETECTOR_FETCH_LIMIT")
	setDuration(&cfg.Detector.Retention, "POOLWATCH_DETECTOR_RETENTION")
	setDuration(&cfg.Detector.SweepInterval, "POOLWATCH_DETECTOR_SWEEP_INTERVAL")

	// ── Broadcast ──
	setDuration(&cfg.Broadcast.TrendingInterval, "POOLWATCH_BROADCAST_TRENDING_INTERVAL")
	setDuration(&cfg.Broadcast.PriceInterval, "POOLWATCH_BROADCAST_PRICE_INTERVAL")
	setDuration(&cfg.Broadcast.StatsInterval, "POOLWATCH_BROADCAST_STATS_INTERVAL")
	setInt(&cfg.Broadcast.TrendingLimit, "POOLWATCH_BROADCAST_TRENDING_LIMIT")
	setInt(&cfg.Broadcast.PricePoolsPerChain, "POOLWATCH_BROADCAST_PRICE_POOLS_PER_CHAIN")
	setInt(&cfg.Broadcast.ChainPoolsLimit, "POOLWATCH_BROADCAST_CHAIN_POOLS_LIMIT")

	// ── Cache ──
	setDuration(&cfg.Cache.TTL, "POOLWATCH_CACHE_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POOLWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POOLWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POOLWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POOLWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POOLWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POOLWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POOLWATCH_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.FanoutChannel, "POOLWATCH_REDIS_FANOUT_CHANNEL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "POOLWATCH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "POOLWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POOLWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POOLWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POOLWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POOLWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POOLWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POOLWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POOLWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POOLWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POOLWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POOLWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POOLWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "POOLWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POOLWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POOLWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POOLWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POOLWATCH_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POOLWATCH_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "POOLWATCH_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "POOLWATCH_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POOLWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POOLWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POOLWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POOLWATCH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "POOLWATCH_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POOLWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POOLWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POOLWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POOLWATCH_NOTIFY_EVENTS")
	setInt(&cfg.Notify.MinSnipeScore, "POOLWATCH_NOTIFY_MIN_SNIPE_SCORE")

	// ── Top-level ──
	setStr(&cfg.Mode, "POOLWATCH_MODE")
	setStr(&cfg.LogLevel, "POOLWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
