// Package config defines the top-level configuration for the bookcost service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/bookcost/internal/domain"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BOOKCOST_* environment variables.
type Config struct {
	Feed      FeedConfig      `toml:"feed"`
	Trade     TradeConfig     `toml:"trade"`
	Estimator EstimatorConfig `toml:"estimator"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// FeedConfig selects the L2 stream and the reconnect policy.
type FeedConfig struct {
	WSURL     string   `toml:"ws_url"`
	Exchange  string   `toml:"exchange"`
	Symbol    string   `toml:"symbol"`
	BaseDelay duration `toml:"base_delay"`
	MaxDelay  duration `toml:"max_delay"`
}

// TradeConfig is the initial trade request. FeeTier accepts "0.1%" or a plain
// fraction such as "0.001".
type TradeConfig struct {
	Symbol   string `toml:"symbol"`
	Quantity string `toml:"quantity"`
	FeeTier  string `toml:"fee_tier"`
}

// EstimatorConfig selects the cost estimation strategy.
type EstimatorConfig struct {
	// Strategy is "walk" or "external".
	Strategy        string   `toml:"strategy"`
	URL             string   `toml:"url"`
	APIKey          string   `toml:"api_key"`
	Timeout         duration `toml:"timeout"`
	MaxLevels       int      `toml:"max_levels"`
	RatePerSecond   float64  `toml:"rate_per_second"`
	Burst           int      `toml:"burst"`
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerCooldown duration `toml:"breaker_cooldown"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// SnapshotTTL bounds how long a cached book survives a dead feed.
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// PostgresConfig holds the estimate history database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
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

// ArchiveConfig controls the snapshot archiver and estimate retention.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Prefix        string   `toml:"prefix"`
	SampleEvery   int      `toml:"sample_every"`
	FlushInterval duration `toml:"flush_interval"`
	MaxBuffered   int      `toml:"max_buffered"`
	// RetentionDays of estimate history kept in Postgres; 0 disables pruning.
	RetentionDays int    `toml:"retention_days"`
	PruneCron     string `toml:"prune_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5s", "1m").
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
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects mutating endpoints when set.
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			WSURL:     "wss://gomarket-api.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP",
			Exchange:  "okx",
			Symbol:    "BTC-USDT-SWAP",
			BaseDelay: duration{5 * time.Second},
			MaxDelay:  duration{60 * time.Second},
		},
		Trade: TradeConfig{
			Symbol:   "BTC-USDT-SWAP",
			Quantity: "0.00167",
			FeeTier:  "0.1%",
		},
		Estimator: EstimatorConfig{
			Strategy:        domain.SourceWalk,
			Timeout:         duration{10 * time.Second},
			MaxLevels:       10,
			RatePerSecond:   1,
			Burst:           1,
			BreakerFailures: 5,
			BreakerCooldown: duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Enabled:     true,
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			SnapshotTTL: duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			DSN:           "postgres://postgres@localhost:5432/bookcost?sslmode=disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bookcost-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Prefix:        "snapshots",
			SampleEvery:   10,
			FlushInterval: duration{time.Minute},
			MaxBuffered:   1000,
			RetentionDays: 30,
			PruneCron:     "0 3 * * *",
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"feed_error", "feed_disconnected", "feed_recovered"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":  true,
	"monitor": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// TradeRequest converts the [trade] section into a validated domain request.
func (c *Config) TradeRequest() (domain.TradeRequest, error) {
	qty, err := parseDecimal(c.Trade.Quantity)
	if err != nil {
		return domain.TradeRequest{}, fmt.Errorf("trade: quantity: %w", err)
	}
	fee, err := domain.ParseFeeTier(c.Trade.FeeTier)
	if err != nil {
		return domain.TradeRequest{}, fmt.Errorf("trade: fee_tier: %w", err)
	}
	symbol := c.Trade.Symbol
	if symbol == "" {
		symbol = c.Feed.Symbol
	}
	req := domain.TradeRequest{Symbol: symbol, Quantity: qty, FeeRate: fee}
	if err := req.Validate(); err != nil {
		return domain.TradeRequest{}, fmt.Errorf("trade: %w", err)
	}
	return req, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidRequest, s)
	}
	return d, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed
	if c.Feed.WSURL == "" {
		errs = append(errs, "feed: ws_url must not be empty")
	}
	if c.Feed.BaseDelay.Duration <= 0 {
		errs = append(errs, "feed: base_delay must be > 0")
	}
	if c.Feed.MaxDelay.Duration < c.Feed.BaseDelay.Duration {
		errs = append(errs, "feed: max_delay must not be below base_delay")
	}

	// Trade
	if _, err := c.TradeRequest(); err != nil {
		errs = append(errs, err.Error())
	}

	// Estimator
	switch c.Estimator.Strategy {
	case domain.SourceWalk:
	case domain.SourceExternal:
		if c.Estimator.URL == "" {
			errs = append(errs, "estimator: url is required for the external strategy")
		}
		if c.Estimator.Timeout.Duration <= 0 {
			errs = append(errs, "estimator: timeout must be > 0")
		}
		if c.Estimator.MaxLevels < 1 {
			errs = append(errs, "estimator: max_levels must be >= 1")
		}
		if c.Estimator.RatePerSecond < 0 {
			errs = append(errs, "estimator: rate_per_second must be >= 0")
		}
		if c.Estimator.BreakerFailures < 0 {
			errs = append(errs, "estimator: breaker_failures must be >= 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("estimator: unknown strategy %q (valid: walk, external)", c.Estimator.Strategy))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			errs = append(errs, "postgres: dsn is required")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Archive needs a bucket; pruning needs the history table.
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.SampleEvery < 1 {
			errs = append(errs, "archive: sample_every must be >= 1")
		}
	}
	if c.Archive.RetentionDays < 0 {
		errs = append(errs, "archive: retention_days must be >= 0")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "server: rate_limit_window must be > 0 when rate_limit is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
