package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Scanner.Concurrency)
	assert.Equal(t, 3, cfg.Scanner.StrikeWindow)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ContractTTL)
	assert.Equal(t, 5*time.Second, cfg.Stream.ScanInterval)
	assert.Equal(t, time.Second, cfg.Stream.MinRescanInterval)
	assert.Equal(t, 100, cfg.Stream.RequestQueue)
	assert.Equal(t, 256, cfg.Stream.SendQueue)
	assert.Equal(t, 30*time.Second, cfg.Alerts.Throttle)
	assert.Equal(t, "moderate", cfg.Filters.Preset)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spreadrun.yaml")
	content := `
server:
  port: 9090
scanner:
  concurrency: 8
  strike_window: 5
stream:
  scan_interval: 2s
  symbols: [SPY, QQQ]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Scanner.Concurrency)
	assert.Equal(t, 5, cfg.Scanner.StrikeWindow)
	assert.Equal(t, 2*time.Second, cfg.Stream.ScanInterval)
	assert.Equal(t, []string{"SPY", "QQQ"}, cfg.Stream.Symbols)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SPREADRUN_SCANNER_CONCURRENCY", "12")
	t.Setenv("SPREADRUN_UPSTREAM_URL", "http://provider:9000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Scanner.Concurrency)
	assert.Equal(t, "http://provider:9000", cfg.Upstream.URL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"zero concurrency", func(c *Config) { c.Scanner.Concurrency = 0 }, "scanner.concurrency"},
		{"zero window", func(c *Config) { c.Scanner.StrikeWindow = 0 }, "scanner.strike_window"},
		{"pong before ping", func(c *Config) { c.Stream.PongTimeout = c.Stream.PingInterval }, "pong_timeout"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, "telegram.bot_token"},
		{"bad cron", func(c *Config) { c.Stream.StopCron = "every day" }, "stream.stop_cron"},
		{"start cron without symbols", func(c *Config) { c.Stream.StartCron = "30 9 * * 1-5" }, "stream.symbols"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Postgres.DSN = "postgres://scanner:hunter2@db:5432/spreads?sslmode=disable"
	cfg.Telegram.BotToken = "123456:ABC-secret"

	safe := cfg.Redacted()
	assert.NotContains(t, safe.Postgres.DSN, "hunter2")
	assert.Contains(t, safe.Postgres.DSN, "scanner")
	assert.Equal(t, "[REDACTED]", safe.Telegram.BotToken)
	assert.Equal(t, "123456:ABC-secret", cfg.Telegram.BotToken)
}

func TestRedactString(t *testing.T) {
	msg := `Post "https://api.telegram.org/bot123456:ABC-secret/sendMessage": timeout`
	assert.NotContains(t, RedactString(msg), "ABC-secret")

	dsnErr := "dial postgres://scanner:hunter2@db:5432/spreads failed"
	assert.NotContains(t, RedactString(dsnErr), "hunter2")
	assert.Contains(t, RedactString(dsnErr), "postgres://scanner:[REDACTED]@db")
}
