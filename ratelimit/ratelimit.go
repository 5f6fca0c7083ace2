// Package ratelimit throttles outbound calls with token buckets, globally
// and per service.
package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/relay/health"
)

var ErrLimited = errors.New("rate limit exceeded")

// Mode selects what happens when no token is available
type Mode string

const (
	// ModeWait blocks until a token arrives or the context ends
	ModeWait Mode = "wait"
	// ModeReject fails immediately with ErrLimited
	ModeReject Mode = "reject"
)

// Limit is a token bucket definition. A non-positive RPS means unlimited.
type Limit struct {
	RPS   float64
	Burst int
}

// Config configures the limiter
type Config struct {
	// Global applies to all calls regardless of service
	Global Limit
	// Mode selects blocking or rejecting behavior; defaults to wait
	Mode Mode
	// PerService overrides the bucket for specific services
	PerService map[string]Limit
}

// Stats holds cumulative limiter counters
type Stats struct {
	Allowed uint64
	Limited uint64
}

// Limiter enforces global and per-service call rates
type Limiter struct {
	mu       sync.Mutex
	config   Config
	global   *rate.Limiter
	services map[string]*rate.Limiter
	stats    Stats
}

// New creates a limiter from the configuration
func New(config Config) *Limiter {
	if config.Mode == "" {
		config.Mode = ModeWait
	}

	return &Limiter{
		config:   config,
		global:   newBucket(config.Global),
		services: make(map[string]*rate.Limiter),
	}
}

// newBucket builds a token bucket; non-positive RPS means unlimited
func newBucket(limit Limit) *rate.Limiter {
	if limit.RPS <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}

	burst := limit.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit.RPS), burst)
}

// Acquire takes one token for a call to the service, honoring the
// configured mode. The error is ErrLimited in reject mode; in wait mode it
// is the wait error when the context ends first or the deadline cannot be
// met at the configured rate.
func (l *Limiter) Acquire(ctx context.Context, service string) error {
	l.mu.Lock()
	mode := l.config.Mode
	global := l.global
	bucket := l.serviceBucket(service)
	l.mu.Unlock()

	if mode == ModeReject {
		if !global.Allow() {
			l.recordLimited()
			return ErrLimited
		}
		if bucket != nil && !bucket.Allow() {
			l.recordLimited()
			return ErrLimited
		}
		l.recordAllowed()
		return nil
	}

	if err := global.Wait(ctx); err != nil {
		l.recordLimited()
		return err
	}
	if bucket != nil {
		if err := bucket.Wait(ctx); err != nil {
			l.recordLimited()
			return err
		}
	}
	l.recordAllowed()
	return nil
}

// Allow reports whether a call to the service would be admitted right now,
// consuming tokens if so
func (l *Limiter) Allow(service string) bool {
	l.mu.Lock()
	global := l.global
	bucket := l.serviceBucket(service)
	l.mu.Unlock()

	if !global.Allow() {
		l.recordLimited()
		return false
	}
	if bucket != nil && !bucket.Allow() {
		l.recordLimited()
		return false
	}
	l.recordAllowed()
	return true
}

// serviceBucket returns the per-service bucket, creating it on first use.
// Services without an override have no dedicated bucket. Caller must hold
// the lock.
func (l *Limiter) serviceBucket(service string) *rate.Limiter {
	if bucket, ok := l.services[service]; ok {
		return bucket
	}

	limit, ok := l.config.PerService[service]
	if !ok {
		return nil
	}

	bucket := newBucket(limit)
	l.services[service] = bucket
	return bucket
}

// Stats returns a copy of the cumulative counters
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.stats
}

// ResetStats zeroes the cumulative counters
func (l *Limiter) ResetStats() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats = Stats{}
}

// UpdateConfig replaces the limiter configuration. Existing buckets are
// rebuilt so new rates apply immediately.
func (l *Limiter) UpdateConfig(config Config) {
	if config.Mode == "" {
		config.Mode = ModeWait
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.config = config
	l.global = newBucket(config.Global)
	l.services = make(map[string]*rate.Limiter)
}

// HealthCheck reports the limiter counters as diagnostics
func (l *Limiter) HealthCheck() health.Status {
	l.mu.Lock()
	details := map[string]interface{}{
		"mode":            string(l.config.Mode),
		"global_rps":      l.config.Global.RPS,
		"allowed":         l.stats.Allowed,
		"limited":         l.stats.Limited,
		"service_buckets": len(l.services),
	}
	l.mu.Unlock()

	return health.Healthy("ratelimit", details)
}

func (l *Limiter) recordAllowed() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Allowed++
}

func (l *Limiter) recordLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats.Limited++
}
