// Package config holds the relay configuration: environment-driven global
// defaults plus optional per-service profiles loaded from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the global relay configuration.
type Config struct {
	Breaker   BreakerConfig
	Retry     RetryConfig
	Balancer  BalancerConfig
	RateLimit RateLimitConfig
	Logging   LogConfig
}

// BreakerConfig holds circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold    int           `envconfig:"RELAY_BREAKER_FAILURE_THRESHOLD" default:"5"`
	ResetTimeout        time.Duration `envconfig:"RELAY_BREAKER_RESET_TIMEOUT" default:"30s"`
	SuccessThreshold    int           `envconfig:"RELAY_BREAKER_SUCCESS_THRESHOLD" default:"2"`
	HalfOpenMaxAttempts int           `envconfig:"RELAY_BREAKER_HALF_OPEN_MAX_ATTEMPTS" default:"3"`
}

// RetryConfig holds retry defaults.
type RetryConfig struct {
	MaxAttempts  int           `envconfig:"RELAY_RETRY_MAX_ATTEMPTS" default:"3"`
	Strategy     string        `envconfig:"RELAY_RETRY_STRATEGY" default:"exponential"`
	InitialDelay time.Duration `envconfig:"RELAY_RETRY_INITIAL_DELAY" default:"200ms"`
	Increment    time.Duration `envconfig:"RELAY_RETRY_INCREMENT" default:"100ms"`
	Multiplier   float64       `envconfig:"RELAY_RETRY_MULTIPLIER" default:"2.0"`
	MaxDelay     time.Duration `envconfig:"RELAY_RETRY_MAX_DELAY" default:"30s"`
}

// BalancerConfig holds load balancer defaults.
type BalancerConfig struct {
	Kind string `envconfig:"RELAY_BALANCER_KIND" default:"round-robin"`
}

// RateLimitConfig holds rate limiting defaults. A zero RPS disables
// limiting entirely.
type RateLimitConfig struct {
	RPS   float64 `envconfig:"RELAY_RATE_LIMIT_RPS" default:"0"`
	Burst int     `envconfig:"RELAY_RATE_LIMIT_BURST" default:"0"`
	Mode  string  `envconfig:"RELAY_RATE_LIMIT_MODE" default:"wait"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"RELAY_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"RELAY_LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
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
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			ResetTimeout:        30 * time.Second,
			SuccessThreshold:    2,
			HalfOpenMaxAttempts: 3,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			Strategy:     "exponential",
			InitialDelay: 200 * time.Millisecond,
			Increment:    100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
		},
		Balancer: BalancerConfig{
			Kind: "round-robin",
		},
		RateLimit: RateLimitConfig{
			Mode: "wait",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
