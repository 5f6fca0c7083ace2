package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Duration is a YAML-friendly duration accepting "500ms" style strings or
// raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml unmarshaling for durations
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// AsDuration converts to the standard library type
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// File is a set of per-service profiles, usually loaded from YAML:
//
//	defaults:
//	  retry:
//	    max_attempts: 3
//	services:
//	  payments:
//	    breaker:
//	      failure_threshold: 2
//	    retry:
//	      strategy: jitter
//
// Profile fields are pointers so absent keys inherit rather than zero out.
type File struct {
	Defaults *ServiceProfile           `yaml:"defaults"`
	Services map[string]ServiceProfile `yaml:"services"`
}

// ServiceProfile overrides component settings for one service
type ServiceProfile struct {
	Breaker   *BreakerProfile   `yaml:"breaker"`
	Retry     *RetryProfile     `yaml:"retry"`
	Balancer  *BalancerProfile  `yaml:"balancer"`
	RateLimit *RateLimitProfile `yaml:"rate_limit"`
}

// BreakerProfile overrides circuit breaker settings
type BreakerProfile struct {
	FailureThreshold    *int      `yaml:"failure_threshold"`
	ResetTimeout        *Duration `yaml:"reset_timeout"`
	SuccessThreshold    *int      `yaml:"success_threshold"`
	HalfOpenMaxAttempts *int      `yaml:"half_open_max_attempts"`
}

// RetryProfile overrides retry settings
type RetryProfile struct {
	MaxAttempts          *int      `yaml:"max_attempts"`
	Strategy             *string   `yaml:"strategy"`
	InitialDelay         *Duration `yaml:"initial_delay"`
	Increment            *Duration `yaml:"increment"`
	Multiplier           *float64  `yaml:"multiplier"`
	MaxDelay             *Duration `yaml:"max_delay"`
	RetryableStatusCodes []int     `yaml:"retryable_status_codes"`
	RetryableErrorCodes  []string  `yaml:"retryable_error_codes"`
}

// BalancerProfile overrides balancer settings
type BalancerProfile struct {
	Kind    *string        `yaml:"kind"`
	Weights map[string]int `yaml:"weights"`
}

// RateLimitProfile overrides the per-service rate limit bucket
type RateLimitProfile struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// LoadFile reads and parses a profile file
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses profile YAML
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse profiles: %w", err)
	}
	return &f, nil
}

// Profile returns the effective profile for a service: the defaults
// overlaid field by field with the service's own entries
func (f *File) Profile(service string) ServiceProfile {
	if f == nil {
		return ServiceProfile{}
	}

	merged := ServiceProfile{}
	if f.Defaults != nil {
		merged = overlayProfile(merged, *f.Defaults)
	}
	if sp, ok := f.Services[service]; ok {
		merged = overlayProfile(merged, sp)
	}
	return merged
}

// overlayProfile applies src on top of dst, field by field
func overlayProfile(dst, src ServiceProfile) ServiceProfile {
	dst.Breaker = overlayBreaker(dst.Breaker, src.Breaker)
	dst.Retry = overlayRetry(dst.Retry, src.Retry)
	dst.Balancer = overlayBalancer(dst.Balancer, src.Balancer)
	dst.RateLimit = overlayRateLimit(dst.RateLimit, src.RateLimit)
	return dst
}

func overlayBreaker(dst, src *BreakerProfile) *BreakerProfile {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = &BreakerProfile{}
	}
	out := *dst
	if src.FailureThreshold != nil {
		out.FailureThreshold = src.FailureThreshold
	}
	if src.ResetTimeout != nil {
		out.ResetTimeout = src.ResetTimeout
	}
	if src.SuccessThreshold != nil {
		out.SuccessThreshold = src.SuccessThreshold
	}
	if src.HalfOpenMaxAttempts != nil {
		out.HalfOpenMaxAttempts = src.HalfOpenMaxAttempts
	}
	return &out
}

func overlayRetry(dst, src *RetryProfile) *RetryProfile {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = &RetryProfile{}
	}
	out := *dst
	if src.MaxAttempts != nil {
		out.MaxAttempts = src.MaxAttempts
	}
	if src.Strategy != nil {
		out.Strategy = src.Strategy
	}
	if src.InitialDelay != nil {
		out.InitialDelay = src.InitialDelay
	}
	if src.Increment != nil {
		out.Increment = src.Increment
	}
	if src.Multiplier != nil {
		out.Multiplier = src.Multiplier
	}
	if src.MaxDelay != nil {
		out.MaxDelay = src.MaxDelay
	}
	if src.RetryableStatusCodes != nil {
		out.RetryableStatusCodes = src.RetryableStatusCodes
	}
	if src.RetryableErrorCodes != nil {
		out.RetryableErrorCodes = src.RetryableErrorCodes
	}
	return &out
}

func overlayBalancer(dst, src *BalancerProfile) *BalancerProfile {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = &BalancerProfile{}
	}
	out := *dst
	if src.Kind != nil {
		out.Kind = src.Kind
	}
	if src.Weights != nil {
		out.Weights = src.Weights
	}
	return &out
}

func overlayRateLimit(dst, src *RateLimitProfile) *RateLimitProfile {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = &RateLimitProfile{}
	}
	out := *dst
	if src.RPS != nil {
		out.RPS = src.RPS
	}
	if src.Burst != nil {
		out.Burst = src.Burst
	}
	return &out
}
