package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/GriffinCanCode/relay/health"
)

// Config configures the retry behavior
type Config struct {
	// MaxAttempts is the total attempt budget including the first call
	MaxAttempts int
	// Strategy selects the backoff family
	Strategy Kind
	// InitialDelay is the first delay; it is the base for the
	// exponential, jitter, and fibonacci strategies
	InitialDelay time.Duration
	// Increment is the per-attempt delay growth for the linear strategy
	Increment time.Duration
	// Multiplier is the delay growth factor for the exponential and
	// jitter strategies
	Multiplier float64
	// MaxDelay caps the computed delay; zero means uncapped
	MaxDelay time.Duration
	// RetryableStatusCodes lists extra status codes to retry beyond 5xx
	RetryableStatusCodes []int
	// RetryableErrorCodes lists extra error codes to retry beyond the
	// transient defaults
	RetryableErrorCodes []string
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		Strategy:     KindExponential,
		InitialDelay: 200 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// ConfigUpdate is a partial configuration change. Nil fields keep their
// current value.
type ConfigUpdate struct {
	MaxAttempts          *int
	Strategy             *Kind
	InitialDelay         *time.Duration
	Increment            *time.Duration
	Multiplier           *float64
	MaxDelay             *time.Duration
	RetryableStatusCodes *[]int
	RetryableErrorCodes  *[]string
}

// Context carries the state of one retried call into decision functions
// and hooks
type Context struct {
	Attempt     int
	MaxAttempts int
	LastErr     error
	Start       time.Time
	Elapsed     time.Duration
	IsRetry     bool
}

// Decision is the outcome of classifying a failed attempt
type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason string
}

// DecisionFunc classifies a failed attempt. Returning Retry false
// propagates the error unchanged.
type DecisionFunc func(err error, rctx Context) Decision

// Func is a retryable operation
type Func func(ctx context.Context) (interface{}, error)

// Sleeper abstracts the inter-attempt pause so tests can skip real waiting
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExhaustedError reports that every attempt in the budget failed.
// It wraps the final attempt's error.
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%d attempts exhausted in %s: %v", e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

// Unwrap returns the final attempt's error
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Stats holds cumulative counters for the retryer
type Stats struct {
	// Executions counts calls to Execute
	Executions uint64
	// Attempts counts individual invocations of the wrapped function
	Attempts uint64
	// Successes counts executions that eventually succeeded
	Successes uint64
	// SuccessfulRetries counts executions that succeeded after at least
	// one failed attempt
	SuccessfulRetries uint64
	// Failures counts executions that returned an error
	Failures uint64
	// Exhausted counts failures that spent the full attempt budget
	Exhausted uint64
}

// Option customizes a retryer
type Option func(*Retryer)

// WithSleeper replaces the inter-attempt pause implementation
func WithSleeper(s Sleeper) Option {
	return func(r *Retryer) {
		if s != nil {
			r.sleeper = s
		}
	}
}

// WithOnRetry registers a hook invoked before each pause between attempts
func WithOnRetry(fn func(rctx Context, d Decision)) Option {
	return func(r *Retryer) {
		r.onRetry = fn
	}
}

// Retryer re-executes failed operations according to a backoff strategy
type Retryer struct {
	name string

	mu      sync.Mutex
	config  Config
	backoff Backoff
	stats   Stats

	sleeper Sleeper
	onRetry func(rctx Context, d Decision)
}

// New creates a retryer with the given configuration
func New(name string, config Config, opts ...Option) (*Retryer, error) {
	// Set default values
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.Strategy == "" {
		config.Strategy = KindExponential
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 200 * time.Millisecond
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}

	backoff, err := NewBackoff(config)
	if err != nil {
		return nil, err
	}

	r := &Retryer{
		name:    name,
		config:  config,
		backoff: backoff,
		sleeper: realSleeper{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Name returns the name of the retryer
func (r *Retryer) Name() string {
	return r.name
}

// Config returns a copy of the current configuration
func (r *Retryer) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.config
}

// Stats returns a copy of the cumulative counters
func (r *Retryer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stats
}

// ResetStats zeroes the cumulative counters
func (r *Retryer) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats = Stats{}
}

// UpdateConfig applies a partial configuration change and rebuilds the
// backoff strategy. In-flight executions keep the configuration they
// started with.
func (r *Retryer) UpdateConfig(update ConfigUpdate) (Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	config := r.config
	if update.MaxAttempts != nil && *update.MaxAttempts > 0 {
		config.MaxAttempts = *update.MaxAttempts
	}
	if update.Strategy != nil {
		config.Strategy = *update.Strategy
	}
	if update.InitialDelay != nil && *update.InitialDelay > 0 {
		config.InitialDelay = *update.InitialDelay
	}
	if update.Increment != nil {
		config.Increment = *update.Increment
	}
	if update.Multiplier != nil && *update.Multiplier > 0 {
		config.Multiplier = *update.Multiplier
	}
	if update.MaxDelay != nil {
		config.MaxDelay = *update.MaxDelay
	}
	if update.RetryableStatusCodes != nil {
		config.RetryableStatusCodes = *update.RetryableStatusCodes
	}
	if update.RetryableErrorCodes != nil {
		config.RetryableErrorCodes = *update.RetryableErrorCodes
	}

	backoff, err := NewBackoff(config)
	if err != nil {
		return r.config, err
	}

	r.config = config
	r.backoff = backoff
	return r.config, nil
}

// HealthCheck reports the retryer counters as diagnostics
func (r *Retryer) HealthCheck() health.Status {
	r.mu.Lock()
	details := map[string]interface{}{
		"strategy":           string(r.config.Strategy),
		"max_attempts":       r.config.MaxAttempts,
		"executions":         r.stats.Executions,
		"successful_retries": r.stats.SuccessfulRetries,
		"exhausted":          r.stats.Exhausted,
	}
	r.mu.Unlock()

	return health.Healthy("retry:"+r.name, details)
}

// Execute runs fn, retrying failures the default classifier deems retryable
func (r *Retryer) Execute(ctx context.Context, fn Func) (interface{}, error) {
	return r.ExecuteWithDecision(ctx, fn, r.Decide)
}

// ExecuteWithDecision runs fn, consulting decide after each failure.
// Cancellation of ctx stops the loop between attempts and during pauses;
// counters recorded before the cancellation are retained.
func (r *Retryer) ExecuteWithDecision(ctx context.Context, fn Func, decide DecisionFunc) (interface{}, error) {
	if decide == nil {
		decide = r.Decide
	}

	r.mu.Lock()
	maxAttempts := r.config.MaxAttempts
	sleeper := r.sleeper
	r.stats.Executions++
	r.mu.Unlock()

	start := time.Now()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			r.recordFailure(false)
			return nil, err
		}

		r.recordAttempt()
		result, err := fn(ctx)
		if err == nil {
			r.recordSuccess(attempt > 1)
			return result, nil
		}

		rctx := Context{
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			LastErr:     err,
			Start:       start,
			Elapsed:     time.Since(start),
			IsRetry:     attempt > 1,
		}

		if attempt >= maxAttempts {
			r.recordFailure(true)
			return nil, &ExhaustedError{
				Attempts: attempt,
				Elapsed:  time.Since(start),
				Err:      err,
			}
		}

		decision := decide(err, rctx)
		if !decision.Retry {
			// Non-retryable errors surface unchanged, without pausing
			r.recordFailure(false)
			return nil, err
		}

		if r.onRetry != nil {
			r.onRetry(rctx, decision)
		}

		if err := sleeper.Sleep(ctx, decision.Delay); err != nil {
			r.recordFailure(false)
			return nil, err
		}
	}
}

// Decide is the default classifier: it retries while budget remains and the
// error is marked retryable by code, status, or the transient heuristic
func (r *Retryer) Decide(err error, rctx Context) Decision {
	if rctx.Attempt >= rctx.MaxAttempts {
		return Decision{Reason: "attempts exhausted"}
	}

	r.mu.Lock()
	backoff := r.backoff
	statusCodes := r.config.RetryableStatusCodes
	errorCodes := r.config.RetryableErrorCodes
	r.mu.Unlock()

	delay := backoff.Delay(rctx.Attempt)

	if code, ok := errorCode(err); ok {
		for _, c := range errorCodes {
			if c == code {
				return Decision{Retry: true, Delay: delay, Reason: "retryable code " + code}
			}
		}
		if transientCodes[code] {
			return Decision{Retry: true, Delay: delay, Reason: "transient " + code}
		}
	}

	if status, ok := statusCode(err); ok {
		for _, s := range statusCodes {
			if s == status {
				return Decision{Retry: true, Delay: delay, Reason: fmt.Sprintf("retryable status %d", status)}
			}
		}
		if status >= 500 && status <= 599 {
			return Decision{Retry: true, Delay: delay, Reason: fmt.Sprintf("server error %d", status)}
		}
	}

	if isTimeout(err) {
		return Decision{Retry: true, Delay: delay, Reason: "timeout"}
	}

	return Decision{Reason: "non-retryable"}
}

func (r *Retryer) recordAttempt() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Attempts++
}

func (r *Retryer) recordSuccess(retried bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Successes++
	if retried {
		r.stats.SuccessfulRetries++
	}
}

func (r *Retryer) recordFailure(exhausted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stats.Failures++
	if exhausted {
		r.stats.Exhausted++
	}
}

// transientCodes are error codes retried without explicit configuration
var transientCodes = map[string]bool{
	"ECONNRESET":   true,
	"ECONNREFUSED": true,
	"ETIMEDOUT":    true,
	"EPIPE":        true,
	"EHOSTUNREACH": true,
	"ENETUNREACH":  true,
	"EAI_AGAIN":    true,
	"UNAVAILABLE":  true,
}

// errorCode extracts a transport error code when the error carries one
func errorCode(err error) (string, bool) {
	var coder interface{ ErrorCode() string }
	if errors.As(err, &coder) {
		return coder.ErrorCode(), true
	}
	return "", false
}

// statusCode extracts a response status when the error carries one
func statusCode(err error) (int, bool) {
	var coder interface{ StatusCode() int }
	if errors.As(err, &coder) {
		return coder.StatusCode(), true
	}
	return 0, false
}

// isTimeout reports whether the error represents a deadline or timeout.
// Canceled contexts are deliberate and never retried.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}
