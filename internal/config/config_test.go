package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	req, err := cfg.TradeRequest()
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT-SWAP", req.Symbol)
	assert.True(t, req.Quantity.Equal(decimal.RequireFromString("0.00167")))
	assert.True(t, req.FeeRate.Equal(decimal.RequireFromString("0.001")))
	assert.Equal(t, 5*time.Second, cfg.Feed.BaseDelay.Duration)
	assert.Equal(t, 60*time.Second, cfg.Feed.MaxDelay.Duration)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"

[feed]
symbol = "ETH-USDT-SWAP"
base_delay = "2s"

[trade]
quantity = "1.5"
fee_tier = "0.05%"

[estimator]
strategy = "external"
url = "http://localhost:9999/estimate"
timeout = "3s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("BOOKCOST_LOG_LEVEL", "debug")
	t.Setenv("BOOKCOST_ESTIMATOR_API_KEY", "secret")
	t.Setenv("BOOKCOST_SERVER_CORS_ORIGINS", " http://a , ,http://b")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "ETH-USDT-SWAP", cfg.Feed.Symbol)
	assert.Equal(t, 2*time.Second, cfg.Feed.BaseDelay.Duration)
	assert.Equal(t, 60*time.Second, cfg.Feed.MaxDelay.Duration, "untouched keys keep defaults")
	assert.Equal(t, 3*time.Second, cfg.Estimator.Timeout.Duration)
	assert.Equal(t, "secret", cfg.Estimator.APIKey)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.CORSOrigins)

	req, err := cfg.TradeRequest()
	require.NoError(t, err)
	assert.True(t, req.FeeRate.Equal(decimal.RequireFromString("0.0005")))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "trade" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "unknown log_level"},
		{"empty ws url", func(c *Config) { c.Feed.WSURL = "" }, "feed: ws_url"},
		{"max below base", func(c *Config) { c.Feed.MaxDelay.Duration = time.Second }, "max_delay"},
		{"bad quantity", func(c *Config) { c.Trade.Quantity = "lots" }, "trade: quantity"},
		{"fee too high", func(c *Config) { c.Trade.FeeTier = "100%" }, "trade: fee_tier"},
		{"unknown strategy", func(c *Config) { c.Estimator.Strategy = "ml" }, "unknown strategy"},
		{"external without url", func(c *Config) { c.Estimator.Strategy = "external" }, "url is required"},
		{"postgres without dsn", func(c *Config) {
			c.Postgres.Enabled = true
			c.Postgres.DSN = " "
		}, "postgres: dsn"},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		}, "s3: bucket"},
		{"server port", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nope"
	cfg.Server.Port = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "server: port")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Estimator.APIKey = "k"
	cfg.Postgres.DSN = "postgres://u:p@db/bookcost"
	cfg.Notify.DiscordWebhookURL = "https://discord/webhook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Estimator.APIKey)
	assert.Equal(t, redacted, out.Postgres.DSN)
	assert.Equal(t, redacted, out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.S3.SecretKey, "empty secrets stay empty")
	assert.Equal(t, "k", cfg.Estimator.APIKey, "original untouched")

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
