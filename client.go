package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/relay/balance"
	"github.com/GriffinCanCode/relay/circuit"
	"github.com/GriffinCanCode/relay/config"
	"github.com/GriffinCanCode/relay/discovery"
	"github.com/GriffinCanCode/relay/health"
	"github.com/GriffinCanCode/relay/logging"
	"github.com/GriffinCanCode/relay/monitoring"
	"github.com/GriffinCanCode/relay/ratelimit"
	"github.com/GriffinCanCode/relay/retry"
)

// TransportFunc is one attempt of the caller's remote operation against the
// selected instance. The context carries the per-attempt deadline when one
// is configured.
type TransportFunc func(ctx context.Context, inst discovery.Instance) (interface{}, error)

// Client orchestrates resilient calls: it resolves instances, applies rate
// limits, selects an instance, and runs the transport through the service's
// circuit breaker inside a retry loop.
type Client struct {
	resolver discovery.Resolver
	cfg      *config.Config
	profiles *config.File

	breakers *circuit.Registry
	limiter  *ratelimit.Limiter

	mu        sync.RWMutex
	retryers  map[string]*retry.Retryer
	balancers map[string]balance.Balancer

	logger       *logging.Logger
	metrics      *monitoring.Metrics
	sleeper      retry.Sleeper
	balancerKind balance.Kind

	attemptTimeout time.Duration
}

// New creates a client over the given resolver
func New(resolver discovery.Resolver, opts ...Option) (*Client, error) {
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}

	c := &Client{
		resolver:  resolver,
		cfg:       config.Default(),
		breakers:  circuit.NewRegistry(),
		retryers:  make(map[string]*retry.Retryer),
		balancers: make(map[string]balance.Balancer),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.limiter == nil {
		rl := ratelimit.Config{
			Global:     ratelimit.Limit{RPS: c.cfg.RateLimit.RPS, Burst: c.cfg.RateLimit.Burst},
			Mode:       ratelimit.Mode(c.cfg.RateLimit.Mode),
			PerService: c.profileRateLimits(),
		}
		if rl.Global.RPS > 0 || len(rl.PerService) > 0 {
			c.limiter = ratelimit.New(rl)
		}
	}

	c.breakers.Subscribe(func(name string, from, to circuit.State) {
		c.logger.Warn("circuit state changed",
			zap.String("service", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if c.metrics != nil {
			c.metrics.RecordBreakerTransition(name, from.String(), to.String())
			c.metrics.SetBreakerState(name, float64(to))
		}
	})

	return c, nil
}

// Call executes fn against one instance of the service with retry, circuit
// breaking, and optional rate limiting. The returned error is a
// *CircuitOpenError when the breaker rejected the call, a
// *retry.ExhaustedError when every attempt failed, or the transport's own
// error when it was not retryable.
func (c *Client) Call(ctx context.Context, service string, fn TransportFunc) (interface{}, error) {
	callID := uuid.New().String()
	start := time.Now()

	instances, err := c.resolver.Resolve(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", service, err)
	}
	if len(instances) == 0 {
		c.reject(service, "no-instances")
		return nil, fmt.Errorf("%s: %w", service, ErrNoInstances)
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, service); err != nil {
			c.reject(service, "rate-limit")
			return nil, err
		}
	}

	bal, err := c.balancerFor(service)
	if err != nil {
		return nil, err
	}
	inst, err := bal.Select(instances, balance.Context{Service: service})
	if err != nil {
		c.reject(service, "no-eligible")
		return nil, fmt.Errorf("%s: %w", service, err)
	}

	br := c.breakers.GetOrCreate(service, c.breakerConfigFor(service))
	rt, err := c.retryerFor(service)
	if err != nil {
		return nil, err
	}

	// All attempts of one call go to the instance selected above; the
	// breaker gate runs per attempt inside the retry loop
	attempts := 0
	result, err := rt.Execute(ctx, func(actx context.Context) (interface{}, error) {
		attempts++
		return br.Execute(func() (interface{}, error) {
			return c.attempt(actx, service, inst, attempts, fn, bal)
		})
	})

	elapsed := time.Since(start)
	if err != nil {
		mapped := c.mapError(service, br, attempts, elapsed, err)
		c.logger.Warn("call failed",
			zap.String("call_id", callID),
			zap.String("service", service),
			zap.String("instance", inst.ID),
			zap.Int("attempts", attempts),
			zap.Duration("elapsed", elapsed),
			zap.Error(mapped),
		)
		if c.metrics != nil {
			c.metrics.RecordCall(service, callStatus(mapped), elapsed, attempts)
		}
		return nil, mapped
	}

	c.logger.Debug("call completed",
		zap.String("call_id", callID),
		zap.String("service", service),
		zap.String("instance", inst.ID),
		zap.Int("attempts", attempts),
		zap.Duration("elapsed", elapsed),
	)
	if c.metrics != nil {
		c.metrics.RecordCall(service, "ok", elapsed, attempts)
	}
	return result, nil
}

// attempt runs one transport invocation under the per-attempt deadline and
// books its outcome with the balancer
func (c *Client) attempt(ctx context.Context, service string, inst discovery.Instance, attempt int, fn TransportFunc, bal balance.Balancer) (interface{}, error) {
	actx := ctx
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	started := time.Now()
	result, err := fn(actx, inst)
	responseTime := time.Since(started)

	bal.UpdateStats(inst.ID, err == nil, responseTime)
	if c.metrics != nil {
		c.metrics.RecordInstanceLatency(service, inst.ID, responseTime)
	}

	if err != nil && c.attemptTimeout > 0 && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		// The attempt budget expired, not the caller's context
		return nil, &TimeoutError{Service: service, Attempt: attempt, Limit: c.attemptTimeout, Err: err}
	}
	return result, err
}

// mapError converts a pipeline failure into the caller-facing error
func (c *Client) mapError(service string, br *circuit.Breaker, attempts int, elapsed time.Duration, err error) error {
	if errors.Is(err, circuit.ErrOpen) || errors.Is(err, circuit.ErrTooManyRequests) {
		snap := br.Snapshot()
		retryAfter := time.Until(snap.NextReset)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &CircuitOpenError{
			Service:    service,
			State:      snap.State,
			RetryAfter: retryAfter,
			Attempts:   attempts,
			Elapsed:    elapsed,
			Err:        err,
		}
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Errorf("call %s failed: %w", service, err)
	}

	// Non-retryable transport errors and caller cancellation surface
	// unchanged
	return err
}

// callStatus labels a completed call for metrics
func callStatus(err error) string {
	var open *CircuitOpenError
	if errors.As(err, &open) {
		return "circuit-open"
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return "exhausted"
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}

// reject books a call refused before reaching the transport
func (c *Client) reject(service, reason string) {
	c.logger.Debug("call rejected",
		zap.String("service", service),
		zap.String("reason", reason),
	)
	if c.metrics != nil {
		c.metrics.RecordRejection(service, reason)
	}
}

// breakerConfigFor resolves the breaker configuration for a service from
// the global configuration and the service's profile
func (c *Client) breakerConfigFor(service string) circuit.Config {
	cfg := circuit.Config{
		FailureThreshold:    c.cfg.Breaker.FailureThreshold,
		ResetTimeout:        c.cfg.Breaker.ResetTimeout,
		SuccessThreshold:    c.cfg.Breaker.SuccessThreshold,
		HalfOpenMaxAttempts: c.cfg.Breaker.HalfOpenMaxAttempts,
	}

	p := c.profiles.Profile(service)
	if p.Breaker == nil {
		return cfg
	}
	if p.Breaker.FailureThreshold != nil {
		cfg.FailureThreshold = *p.Breaker.FailureThreshold
	}
	if p.Breaker.ResetTimeout != nil {
		cfg.ResetTimeout = p.Breaker.ResetTimeout.AsDuration()
	}
	if p.Breaker.SuccessThreshold != nil {
		cfg.SuccessThreshold = *p.Breaker.SuccessThreshold
	}
	if p.Breaker.HalfOpenMaxAttempts != nil {
		cfg.HalfOpenMaxAttempts = *p.Breaker.HalfOpenMaxAttempts
	}
	return cfg
}

// retryConfigFor resolves the retry configuration for a service from the
// global configuration and the service's profile
func (c *Client) retryConfigFor(service string) retry.Config {
	cfg := retry.Config{
		MaxAttempts:  c.cfg.Retry.MaxAttempts,
		Strategy:     retry.Kind(c.cfg.Retry.Strategy),
		InitialDelay: c.cfg.Retry.InitialDelay,
		Increment:    c.cfg.Retry.Increment,
		Multiplier:   c.cfg.Retry.Multiplier,
		MaxDelay:     c.cfg.Retry.MaxDelay,
	}

	p := c.profiles.Profile(service)
	if p.Retry == nil {
		return cfg
	}
	if p.Retry.MaxAttempts != nil {
		cfg.MaxAttempts = *p.Retry.MaxAttempts
	}
	if p.Retry.Strategy != nil {
		cfg.Strategy = retry.Kind(*p.Retry.Strategy)
	}
	if p.Retry.InitialDelay != nil {
		cfg.InitialDelay = p.Retry.InitialDelay.AsDuration()
	}
	if p.Retry.Increment != nil {
		cfg.Increment = p.Retry.Increment.AsDuration()
	}
	if p.Retry.Multiplier != nil {
		cfg.Multiplier = *p.Retry.Multiplier
	}
	if p.Retry.MaxDelay != nil {
		cfg.MaxDelay = p.Retry.MaxDelay.AsDuration()
	}
	if p.Retry.RetryableStatusCodes != nil {
		cfg.RetryableStatusCodes = p.Retry.RetryableStatusCodes
	}
	if p.Retry.RetryableErrorCodes != nil {
		cfg.RetryableErrorCodes = p.Retry.RetryableErrorCodes
	}
	return cfg
}

// retryerFor returns the retryer for a service, creating it on first use
func (c *Client) retryerFor(service string) (*retry.Retryer, error) {
	c.mu.RLock()
	rt, ok := c.retryers[service]
	c.mu.RUnlock()
	if ok {
		return rt, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if rt, ok := c.retryers[service]; ok {
		return rt, nil
	}

	opts := []retry.Option{
		retry.WithOnRetry(func(rctx retry.Context, d retry.Decision) {
			c.logger.Debug("retrying call",
				zap.String("service", service),
				zap.Int("attempt", rctx.Attempt),
				zap.String("reason", d.Reason),
				zap.Duration("delay", d.Delay),
			)
			if c.metrics != nil {
				c.metrics.RecordRetry(service, d.Reason)
			}
		}),
	}
	if c.sleeper != nil {
		opts = append(opts, retry.WithSleeper(c.sleeper))
	}

	rt, err := retry.New(service, c.retryConfigFor(service), opts...)
	if err != nil {
		return nil, fmt.Errorf("retryer for %s: %w", service, err)
	}
	c.retryers[service] = rt
	return rt, nil
}

// balancerFor returns the balancer for a service, creating it on first use
func (c *Client) balancerFor(service string) (balance.Balancer, error) {
	c.mu.RLock()
	bal, ok := c.balancers[service]
	c.mu.RUnlock()
	if ok {
		return bal, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if bal, ok := c.balancers[service]; ok {
		return bal, nil
	}

	kind := c.balancerKind
	if kind == "" {
		kind = balance.Kind(c.cfg.Balancer.Kind)
	}
	cfg := balance.Config{Name: service}

	p := c.profiles.Profile(service)
	if p.Balancer != nil {
		if p.Balancer.Kind != nil {
			kind = balance.Kind(*p.Balancer.Kind)
		}
		if p.Balancer.Weights != nil {
			cfg.Weights = p.Balancer.Weights
		}
	}

	if c.metrics != nil {
		m := c.metrics
		cfg.OnSelect = func(sel balance.Selection) {
			m.RecordSelection(service, sel.Instance.ID)
		}
	}

	bal, err := balance.New(kind, cfg)
	if err != nil {
		return nil, fmt.Errorf("balancer for %s: %w", service, err)
	}
	c.balancers[service] = bal
	return bal, nil
}

// profileRateLimits collects the per-service buckets declared in profiles
func (c *Client) profileRateLimits() map[string]ratelimit.Limit {
	if c.profiles == nil {
		return nil
	}

	out := make(map[string]ratelimit.Limit)
	for name := range c.profiles.Services {
		p := c.profiles.Profile(name)
		if p.RateLimit == nil || p.RateLimit.RPS == nil {
			continue
		}
		limit := ratelimit.Limit{RPS: *p.RateLimit.RPS}
		if p.RateLimit.Burst != nil {
			limit.Burst = *p.RateLimit.Burst
		}
		out[name] = limit
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Breaker returns the circuit breaker for a service once one exists
func (c *Client) Breaker(service string) (*circuit.Breaker, bool) {
	return c.breakers.Get(service)
}

// Limiter returns the rate limiter, or nil when limiting is disabled
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// ServiceStats bundles the per-service component counters
type ServiceStats struct {
	Breaker circuit.Stats
	Retry   retry.Stats
	Balance balance.Stats
}

// Stats returns the counters of every service the client has touched
func (c *Client) Stats() map[string]ServiceStats {
	services := make(map[string]struct{})
	for _, name := range c.breakers.Names() {
		services[name] = struct{}{}
	}
	c.mu.RLock()
	for name := range c.retryers {
		services[name] = struct{}{}
	}
	for name := range c.balancers {
		services[name] = struct{}{}
	}
	c.mu.RUnlock()

	out := make(map[string]ServiceStats, len(services))
	for name := range services {
		out[name] = c.serviceStats(name)
	}
	return out
}

func (c *Client) serviceStats(service string) ServiceStats {
	var s ServiceStats
	if br, ok := c.breakers.Get(service); ok {
		s.Breaker = br.Stats()
	}

	c.mu.RLock()
	rt := c.retryers[service]
	bal := c.balancers[service]
	c.mu.RUnlock()

	if rt != nil {
		s.Retry = rt.Stats()
	}
	if bal != nil {
		s.Balance = bal.Stats()
	}
	return s
}

// ResetStats zeroes the counters of every component
func (c *Client) ResetStats() {
	c.breakers.ResetAllStats()

	c.mu.RLock()
	retryers := make([]*retry.Retryer, 0, len(c.retryers))
	for _, rt := range c.retryers {
		retryers = append(retryers, rt)
	}
	balancers := make([]balance.Balancer, 0, len(c.balancers))
	for _, bal := range c.balancers {
		balancers = append(balancers, bal)
	}
	c.mu.RUnlock()

	for _, rt := range retryers {
		rt.ResetStats()
	}
	for _, bal := range balancers {
		bal.ResetStats()
	}
	if c.limiter != nil {
		c.limiter.ResetStats()
	}
}

// HealthCheck reports the health of every component the client has created
func (c *Client) HealthCheck() []health.Status {
	statuses := c.breakers.HealthCheck()

	c.mu.RLock()
	names := make([]string, 0, len(c.retryers)+len(c.balancers))
	for name := range c.retryers {
		names = append(names, name)
	}
	retryers := make(map[string]*retry.Retryer, len(c.retryers))
	for name, rt := range c.retryers {
		retryers[name] = rt
	}
	balancers := make(map[string]balance.Balancer, len(c.balancers))
	for name, bal := range c.balancers {
		balancers[name] = bal
		if _, ok := retryers[name]; !ok {
			names = append(names, name)
		}
	}
	c.mu.RUnlock()

	sort.Strings(names)
	for _, name := range names {
		if rt, ok := retryers[name]; ok {
			statuses = append(statuses, rt.HealthCheck())
		}
		if bal, ok := balancers[name]; ok {
			statuses = append(statuses, bal.HealthCheck())
		}
	}

	if c.limiter != nil {
		statuses = append(statuses, c.limiter.HealthCheck())
	}
	return statuses
}

// ServiceConfigUpdate bundles partial updates for one service's components
type ServiceConfigUpdate struct {
	Breaker  *circuit.ConfigUpdate
	Retry    *retry.ConfigUpdate
	Balancer *balance.ConfigUpdate
}

// UpdateServiceConfig applies partial configuration changes to a service's
// components, creating them first if the service has not been called yet
func (c *Client) UpdateServiceConfig(service string, update ServiceConfigUpdate) error {
	if update.Breaker != nil {
		br := c.breakers.GetOrCreate(service, c.breakerConfigFor(service))
		br.UpdateConfig(*update.Breaker)
	}
	if update.Retry != nil {
		rt, err := c.retryerFor(service)
		if err != nil {
			return err
		}
		if _, err := rt.UpdateConfig(*update.Retry); err != nil {
			return err
		}
	}
	if update.Balancer != nil {
		bal, err := c.balancerFor(service)
		if err != nil {
			return err
		}
		bal.UpdateConfig(*update.Balancer)
	}
	return nil
}
