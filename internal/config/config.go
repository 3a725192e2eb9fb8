// Package config loads jsbox configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all jsbox configuration.
type Config struct {
	Limits   LimitsConfig
	Watchdog WatchdogConfig
	Logging  LogConfig
	Metrics  MetricsConfig
}

// LimitsConfig holds default per-context execution budgets.
// Zero means unlimited.
type LimitsConfig struct {
	TimeLimit         time.Duration `envconfig:"JSBOX_TIME_LIMIT" default:"0"`
	MemoryLimit       int64         `envconfig:"JSBOX_MEMORY_LIMIT" default:"0"`
	MaxCallStackDepth int           `envconfig:"JSBOX_MAX_CALL_STACK" default:"4096"`
	AverageObjectSize int64         `envconfig:"JSBOX_AVG_OBJECT_SIZE" default:"1024"`
}

// WatchdogConfig holds resource watchdog tuning.
type WatchdogConfig struct {
	PollInterval time.Duration `envconfig:"JSBOX_WATCHDOG_POLL" default:"10ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"JSBOX_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"JSBOX_LOG_DEV" default:"false"`
}

// MetricsConfig holds the optional Prometheus listen address.
type MetricsConfig struct {
	Addr string `envconfig:"JSBOX_METRICS_ADDR" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Limits.MemoryLimit < 0 {
		return nil, fmt.Errorf("JSBOX_MEMORY_LIMIT must not be negative")
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxCallStackDepth: 4096,
			AverageObjectSize: 1024,
		},
		Watchdog: WatchdogConfig{
			PollInterval: 10 * time.Millisecond,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}
