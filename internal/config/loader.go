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
// built-in defaults, applies BOOKCOST_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BOOKCOST_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.WSURL, "BOOKCOST_FEED_WS_URL")
	setStr(&cfg.Feed.Exchange, "BOOKCOST_FEED_EXCHANGE")
	setStr(&cfg.Feed.Symbol, "BOOKCOST_FEED_SYMBOL")
	setDuration(&cfg.Feed.BaseDelay, "BOOKCOST_FEED_BASE_DELAY")
	setDuration(&cfg.Feed.MaxDelay, "BOOKCOST_FEED_MAX_DELAY")

	// ── Trade ──
	setStr(&cfg.Trade.Symbol, "BOOKCOST_TRADE_SYMBOL")
	setStr(&cfg.Trade.Quantity, "BOOKCOST_TRADE_QUANTITY")
	setStr(&cfg.Trade.FeeTier, "BOOKCOST_TRADE_FEE_TIER")

	// ── Estimator ──
	setStr(&cfg.Estimator.Strategy, "BOOKCOST_ESTIMATOR_STRATEGY")
	setStr(&cfg.Estimator.URL, "BOOKCOST_ESTIMATOR_URL")
	setStr(&cfg.Estimator.APIKey, "BOOKCOST_ESTIMATOR_API_KEY")
	setDuration(&cfg.Estimator.Timeout, "BOOKCOST_ESTIMATOR_TIMEOUT")
	setInt(&cfg.Estimator.MaxLevels, "BOOKCOST_ESTIMATOR_MAX_LEVELS")
	setFloat64(&cfg.Estimator.RatePerSecond, "BOOKCOST_ESTIMATOR_RATE_PER_SECOND")
	setInt(&cfg.Estimator.Burst, "BOOKCOST_ESTIMATOR_BURST")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BOOKCOST_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BOOKCOST_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BOOKCOST_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BOOKCOST_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BOOKCOST_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "BOOKCOST_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "BOOKCOST_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "BOOKCOST_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setBool(&cfg.Postgres.RunMigrations, "BOOKCOST_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BOOKCOST_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BOOKCOST_S3_REGION")
	setStr(&cfg.S3.Bucket, "BOOKCOST_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BOOKCOST_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BOOKCOST_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BOOKCOST_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BOOKCOST_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BOOKCOST_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Prefix, "BOOKCOST_ARCHIVE_PREFIX")
	setInt(&cfg.Archive.SampleEvery, "BOOKCOST_ARCHIVE_SAMPLE_EVERY")
	setDuration(&cfg.Archive.FlushInterval, "BOOKCOST_ARCHIVE_FLUSH_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "BOOKCOST_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.PruneCron, "BOOKCOST_ARCHIVE_PRUNE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "BOOKCOST_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BOOKCOST_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "BOOKCOST_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "BOOKCOST_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BOOKCOST_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BOOKCOST_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BOOKCOST_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BOOKCOST_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "BOOKCOST_METRICS_ENABLED")

	// ── Top-level ──
	setStr(&cfg.Mode, "BOOKCOST_MODE")
	setStr(&cfg.LogLevel, "BOOKCOST_LOG_LEVEL")
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
