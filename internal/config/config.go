// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	DB         DBConfig         `mapstructure:"db"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Validation ValidationConfig `mapstructure:"validation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP endpoint (health, stats, metrics).
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// BrokerConfig controls the Redis work queue connection and key naming.
type BrokerConfig struct {
	Address        string `mapstructure:"address"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	KeyPrefix      string `mapstructure:"key_prefix"`
	PoolSize       int    `mapstructure:"pool_size"`
	PollTimeoutSec int    `mapstructure:"poll_timeout_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	MaxConnLifeM int    `mapstructure:"max_conn_lifetime_minutes"`
}

// CrawlerConfig governs the worker pool and retry behavior.
type CrawlerConfig struct {
	Workers            int     `mapstructure:"workers"`
	// MaxRetries bounds queue-level re-enqueues of a failed task;
	// MaxAttempts bounds in-process extraction attempts within one scrape.
	MaxRetries         int     `mapstructure:"max_retries"`
	MaxAttempts        int     `mapstructure:"max_attempts"`
	BaseDelaySeconds   int     `mapstructure:"base_delay_seconds"`
	RequestDelaySec    int     `mapstructure:"request_delay_seconds"`
	TimeoutSeconds     int     `mapstructure:"timeout_seconds"`
	UserAgent          string  `mapstructure:"user_agent"`
	SaveThreshold      float64 `mapstructure:"save_threshold"`
	ShutdownGraceSec   int     `mapstructure:"shutdown_grace_seconds"`
	IdleSleepSeconds   int     `mapstructure:"idle_sleep_seconds"`
	MaxEmptyPollCycles int     `mapstructure:"max_empty_poll_cycles"`
}

// HeadlessConfig configures the browser-render fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// ValidationConfig controls data-quality gates.
type ValidationConfig struct {
	DuplicateWindowSec int     `mapstructure:"duplicate_window_seconds"`
	MinScore           float64 `mapstructure:"min_score"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICESENSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("broker.address", "localhost:6379")
	v.SetDefault("broker.db", 0)
	v.SetDefault("broker.key_prefix", "pricesense")
	v.SetDefault("broker.pool_size", 10)
	v.SetDefault("broker.poll_timeout_seconds", 10)
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.max_conn_lifetime_minutes", 60)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.max_retries", 3)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.base_delay_seconds", 2)
	v.SetDefault("crawler.request_delay_seconds", 2)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.user_agent", "pricesense-bot/1.0")
	v.SetDefault("crawler.save_threshold", 0.7)
	v.SetDefault("crawler.shutdown_grace_seconds", 30)
	v.SetDefault("crawler.idle_sleep_seconds", 10)
	v.SetDefault("crawler.max_empty_poll_cycles", 6)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("validation.duplicate_window_seconds", 600)
	v.SetDefault("validation.min_score", 0.3)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Broker.Address == "" {
		return fmt.Errorf("broker.address is required")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.SaveThreshold < 0 || c.Crawler.SaveThreshold > 1 {
		return fmt.Errorf("crawler.save_threshold must be in [0,1]")
	}
	if c.Validation.DuplicateWindowSec <= 0 {
		return fmt.Errorf("validation.duplicate_window_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// PollTimeout returns the broker dequeue wait as a duration.
func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.Broker.PollTimeoutSec) * time.Second
}

// RequestTimeout returns the page fetch budget as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// BaseDelay returns the backoff unit applied between scrape attempts.
func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.Crawler.BaseDelaySeconds) * time.Second
}

// DuplicateWindow returns the duplicate-suppression window.
func (c Config) DuplicateWindow() time.Duration {
	return time.Duration(c.Validation.DuplicateWindowSec) * time.Second
}

// ShutdownGrace returns how long the pool waits for in-flight work on stop.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Crawler.ShutdownGraceSec) * time.Second
}
