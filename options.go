package relay

import (
	"time"

	"github.com/GriffinCanCode/relay/balance"
	"github.com/GriffinCanCode/relay/circuit"
	"github.com/GriffinCanCode/relay/config"
	"github.com/GriffinCanCode/relay/logging"
	"github.com/GriffinCanCode/relay/monitoring"
	"github.com/GriffinCanCode/relay/ratelimit"
	"github.com/GriffinCanCode/relay/retry"
)

// Option customizes a client
type Option func(*Client)

// WithConfig replaces the default global configuration
func WithConfig(cfg *config.Config) Option {
	return func(c *Client) {
		if cfg != nil {
			c.cfg = cfg
		}
	}
}

// WithProfiles installs per-service configuration profiles. Profile fields
// override the global configuration for their service.
func WithProfiles(f *config.File) Option {
	return func(c *Client) {
		c.profiles = f
	}
}

// WithLogger sets the logger; the default discards everything
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics for the call path
func WithMetrics(m *monitoring.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithRateLimit installs a call rate limiter. It takes precedence over any
// rate limit in the global configuration or profiles.
func WithRateLimit(cfg ratelimit.Config) Option {
	return func(c *Client) {
		c.limiter = ratelimit.New(cfg)
	}
}

// WithBalancerKind sets the default balancing strategy; per-service
// profiles still win
func WithBalancerKind(kind balance.Kind) Option {
	return func(c *Client) {
		c.balancerKind = kind
	}
}

// WithAttemptTimeout bounds each transport attempt. An expired attempt
// fails with a TimeoutError and counts like any other retryable failure.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.attemptTimeout = d
	}
}

// WithSleeper replaces the inter-attempt pause implementation for all
// retryers the client creates. Tests use it to skip real waiting.
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Client) {
		c.sleeper = s
	}
}

// WithBreakerListener subscribes a listener to every breaker transition
func WithBreakerListener(l circuit.Listener) Option {
	return func(c *Client) {
		c.breakers.Subscribe(l)
	}
}
