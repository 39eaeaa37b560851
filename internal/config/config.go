package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config is the complete spreadrun configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Filters  FiltersConfig  `mapstructure:"filters"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// UpstreamConfig holds the market data provider settings
type UpstreamConfig struct {
	URL             string        `mapstructure:"url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RatePerSec      float64       `mapstructure:"rate_per_sec"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	Fixtures        string        `mapstructure:"fixtures"` // offline chain file, replaces the HTTP provider
}

// ScannerConfig sizes the scan pipeline
type ScannerConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`
	FilterWorkers    int    `mapstructure:"filter_workers"`
	GeneratorWorkers int    `mapstructure:"generator_workers"`
	StrikeWindow     int    `mapstructure:"strike_window"`
	ResultLimit      int    `mapstructure:"result_limit"`
	Profile          string `mapstructure:"profile"`
}

// CacheConfig holds cache TTLs
type CacheConfig struct {
	ContractTTL time.Duration `mapstructure:"contract_ttl"`
	ResultTTL   time.Duration `mapstructure:"result_ttl"`
}

// StreamConfig holds streaming layer settings
type StreamConfig struct {
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	MinRescanInterval time.Duration `mapstructure:"min_rescan_interval"`
	RequestQueue      int           `mapstructure:"request_queue"`
	SendQueue         int           `mapstructure:"send_queue"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	Symbols           []string      `mapstructure:"symbols"`
	StartCron         string        `mapstructure:"start_cron"`
	StopCron          string        `mapstructure:"stop_cron"`
}

// AlertsConfig holds alert throttling and queue sizing
type AlertsConfig struct {
	Throttle time.Duration `mapstructure:"throttle"`
	Queue    int           `mapstructure:"queue"`
}

// FiltersConfig selects the starting filter preset
type FiltersConfig struct {
	Preset     string `mapstructure:"preset"`
	PresetFile string `mapstructure:"preset_file"`
}

// RedisConfig enables the shared chain snapshot cache
type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Addr    string        `mapstructure:"addr"`
	DB      int           `mapstructure:"db"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// PostgresConfig enables scan history recording
type PostgresConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DSN          string        `mapstructure:"dsn"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

// TelegramConfig holds Telegram alert sink settings
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file and SPREADRUN_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SPREADRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration with only defaults applied
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.request_timeout", "30s")

	v.SetDefault("upstream.url", "http://127.0.0.1:8000")
	v.SetDefault("upstream.timeout", "10s")
	v.SetDefault("upstream.rate_per_sec", 10.0)
	v.SetDefault("upstream.burst", 20)
	v.SetDefault("upstream.breaker_failures", 5)
	v.SetDefault("upstream.breaker_timeout", "30s")
	v.SetDefault("upstream.fixtures", "")

	v.SetDefault("scanner.concurrency", 5)
	v.SetDefault("scanner.filter_workers", 4)
	v.SetDefault("scanner.generator_workers", 4)
	v.SetDefault("scanner.strike_window", 3)
	v.SetDefault("scanner.result_limit", 50)
	v.SetDefault("scanner.profile", "default")

	v.SetDefault("cache.contract_ttl", "5m")
	v.SetDefault("cache.result_ttl", "5m")

	v.SetDefault("stream.scan_interval", "5s")
	v.SetDefault("stream.min_rescan_interval", "1s")
	v.SetDefault("stream.request_queue", 100)
	v.SetDefault("stream.send_queue", 256)
	v.SetDefault("stream.ping_interval", "30s")
	v.SetDefault("stream.pong_timeout", "60s")
	v.SetDefault("stream.write_timeout", "10s")
	v.SetDefault("stream.symbols", []string{})
	v.SetDefault("stream.start_cron", "")
	v.SetDefault("stream.stop_cron", "")

	v.SetDefault("alerts.throttle", "30s")
	v.SetDefault("alerts.queue", 100)

	v.SetDefault("filters.preset", "moderate")
	v.SetDefault("filters.preset_file", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5m")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.query_timeout", "5s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")
}

// Validate checks that all configuration values are usable
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Upstream.URL == "" && c.Upstream.Fixtures == "" {
		return fmt.Errorf("upstream.url or upstream.fixtures is required")
	}
	if c.Upstream.RatePerSec <= 0 || c.Upstream.Burst < 1 {
		return fmt.Errorf("upstream.rate_per_sec and upstream.burst must be positive")
	}

	if c.Scanner.Concurrency < 1 {
		return fmt.Errorf("scanner.concurrency must be at least 1")
	}
	if c.Scanner.FilterWorkers < 1 || c.Scanner.GeneratorWorkers < 1 {
		return fmt.Errorf("scanner worker counts must be at least 1")
	}
	if c.Scanner.StrikeWindow < 1 {
		return fmt.Errorf("scanner.strike_window must be at least 1")
	}
	if c.Scanner.ResultLimit < 1 {
		return fmt.Errorf("scanner.result_limit must be at least 1")
	}

	if c.Cache.ContractTTL <= 0 || c.Cache.ResultTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}

	if c.Stream.ScanInterval < 100*time.Millisecond {
		return fmt.Errorf("stream.scan_interval must be at least 100ms")
	}
	if c.Stream.MinRescanInterval < 0 {
		return fmt.Errorf("stream.min_rescan_interval must not be negative")
	}
	if c.Stream.RequestQueue < 1 || c.Stream.SendQueue < 1 {
		return fmt.Errorf("stream queue sizes must be at least 1")
	}
	if c.Stream.PongTimeout <= c.Stream.PingInterval {
		return fmt.Errorf("stream.pong_timeout must exceed stream.ping_interval")
	}

	for key, expr := range map[string]string{"stream.start_cron": c.Stream.StartCron, "stream.stop_cron": c.Stream.StopCron} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if c.Stream.StartCron != "" && len(c.Stream.Symbols) == 0 {
		return fmt.Errorf("stream.symbols is required when stream.start_cron is set")
	}

	if c.Alerts.Throttle < 0 {
		return fmt.Errorf("alerts.throttle must not be negative")
	}
	if c.Alerts.Queue < 1 {
		return fmt.Errorf("alerts.queue must be at least 1")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required when postgres is enabled")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"auto": true, "json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: auto, json, console")
	}
	return nil
}

// Addr is the HTTP listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
