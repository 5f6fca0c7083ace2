package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/relay/health"
)

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config configures the circuit breaker behavior
type Config struct {
	// FailureThreshold is the number of consecutive closed-state failures
	// that trips the breaker open
	FailureThreshold int
	// ResetTimeout is the period of the open state until a trial is allowed
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker
	SuccessThreshold int
	// HalfOpenMaxAttempts is the number of trial calls admitted per
	// half-open generation
	HalfOpenMaxAttempts int
}

// DefaultConfig returns the default breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		SuccessThreshold:    2,
		HalfOpenMaxAttempts: 3,
	}
}

// ConfigUpdate is a partial configuration change. Nil fields keep their
// current value; non-positive values are ignored.
type ConfigUpdate struct {
	FailureThreshold    *int
	ResetTimeout        *time.Duration
	SuccessThreshold    *int
	HalfOpenMaxAttempts *int
}

// Stats holds cumulative counters for the breaker. Counters only reset
// through ResetStats, never on state transitions.
type Stats struct {
	Executions uint64
	Successes  uint64
	Failures   uint64
	Rejections uint64
	Trips      uint64
}

// Snapshot is a point-in-time view of the breaker state machine
type Snapshot struct {
	Name             string
	State            State
	FailureCount     int
	SuccessCount     int
	HalfOpenAttempts int
	LastFailureAt    time.Time
	LastSuccessAt    time.Time
	StateChangedAt   time.Time
	NextReset        time.Time
}

// Option customizes a breaker
type Option func(*Breaker)

// WithOnStateChange registers a transition hook. The hook runs while the
// breaker lock is held and must not call back into the breaker.
func WithOnStateChange(fn func(name string, from State, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = fn
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name string

	mu         sync.Mutex
	config     Config
	state      State
	generation uint64

	failureCount     int
	successCount     int
	halfOpenAttempts int

	lastFailure time.Time
	lastSuccess time.Time
	enteredAt   time.Time
	expiry      time.Time

	stats Stats

	onStateChange func(name string, from State, to State)
}

// New creates a new circuit breaker with the given configuration
func New(name string, config Config, opts ...Option) *Breaker {
	// Set default values
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.HalfOpenMaxAttempts <= 0 {
		config.HalfOpenMaxAttempts = 3
	}
	// Closing requires SuccessThreshold admitted trials
	if config.HalfOpenMaxAttempts < config.SuccessThreshold {
		config.HalfOpenMaxAttempts = config.SuccessThreshold
	}

	b := &Breaker{
		name:      name,
		config:    config,
		state:     StateClosed,
		enteredAt: time.Now(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker.
// Reading the state applies a due open to half-open transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, _ := b.currentState(time.Now())
	return state
}

// IsOpen reports whether calls would currently be rejected outright
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// IsClosed reports whether the breaker is passing traffic normally
func (b *Breaker) IsClosed() bool {
	return b.State() == StateClosed
}

// IsHalfOpen reports whether the breaker is trialing recovery
func (b *Breaker) IsHalfOpen() bool {
	return b.State() == StateHalfOpen
}

// Config returns a copy of the current configuration
func (b *Breaker) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.config
}

// Stats returns a copy of the cumulative counters
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.stats
}

// ResetStats zeroes the cumulative counters without touching the state machine
func (b *Breaker) ResetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats = Stats{}
}

// Snapshot returns a point-in-time view of the state machine.
// Like State, it applies a due open to half-open transition.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, _ := b.currentState(time.Now())
	return Snapshot{
		Name:             b.name,
		State:            state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		HalfOpenAttempts: b.halfOpenAttempts,
		LastFailureAt:    b.lastFailure,
		LastSuccessAt:    b.lastSuccess,
		StateChangedAt:   b.enteredAt,
		NextReset:        b.expiry,
	}
}

// Execute runs the given request if the circuit breaker accepts it
func (b *Breaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	generation, err := b.beforeRequest()
	if err != nil {
		return nil, err
	}

	defer func() {
		e := recover()
		if e != nil {
			b.afterRequest(generation, false)
			panic(e)
		}
	}()

	result, err := req()
	b.afterRequest(generation, err == nil)
	return result, err
}

// Trip forces the breaker open and restarts the reset timer
func (b *Breaker) Trip(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if err != nil {
		b.lastFailure = now
	}
	if b.state == StateOpen {
		// Already open: restart the cooldown window
		b.generation++
		b.enteredAt = now
		b.expiry = now.Add(b.config.ResetTimeout)
		return
	}
	b.setState(StateOpen, now)
}

// Reset forces the breaker closed with cleared counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if b.state == StateClosed {
		// In-flight outcomes from before the reset no longer count
		b.generation++
		b.failureCount = 0
		b.successCount = 0
		b.halfOpenAttempts = 0
		return
	}
	b.setState(StateClosed, now)
}

// UpdateConfig applies a partial configuration change and returns the
// resulting configuration. New thresholds take effect immediately; changing
// ResetTimeout while open moves the pending reset accordingly.
func (b *Breaker) UpdateConfig(update ConfigUpdate) Config {
	b.mu.Lock()
	defer b.mu.Unlock()

	if update.FailureThreshold != nil && *update.FailureThreshold > 0 {
		b.config.FailureThreshold = *update.FailureThreshold
	}
	if update.ResetTimeout != nil && *update.ResetTimeout > 0 {
		b.config.ResetTimeout = *update.ResetTimeout
		if b.state == StateOpen {
			b.expiry = b.enteredAt.Add(b.config.ResetTimeout)
		}
	}
	if update.SuccessThreshold != nil && *update.SuccessThreshold > 0 {
		b.config.SuccessThreshold = *update.SuccessThreshold
	}
	if update.HalfOpenMaxAttempts != nil && *update.HalfOpenMaxAttempts > 0 {
		b.config.HalfOpenMaxAttempts = *update.HalfOpenMaxAttempts
	}
	if b.config.HalfOpenMaxAttempts < b.config.SuccessThreshold {
		b.config.HalfOpenMaxAttempts = b.config.SuccessThreshold
	}
	return b.config
}

// HealthCheck reports the breaker state as diagnostics. An open breaker is
// still a healthy component: it is doing its job.
func (b *Breaker) HealthCheck() health.Status {
	b.mu.Lock()
	state, _ := b.currentState(time.Now())
	details := map[string]interface{}{
		"state":         state.String(),
		"failure_count": b.failureCount,
		"success_count": b.successCount,
		"executions":    b.stats.Executions,
		"rejections":    b.stats.Rejections,
		"trips":         b.stats.Trips,
	}
	if state == StateOpen {
		details["next_reset"] = b.expiry
	}
	b.mu.Unlock()

	return health.Healthy("circuit:"+b.name, details)
}

// beforeRequest is called before a request is executed
func (b *Breaker) beforeRequest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		b.stats.Rejections++
		return generation, ErrOpen
	}

	if state == StateHalfOpen {
		if b.halfOpenAttempts >= b.config.HalfOpenMaxAttempts {
			b.stats.Rejections++
			return generation, ErrTooManyRequests
		}
		b.halfOpenAttempts++
	}

	b.stats.Executions++
	return generation, nil
}

// afterRequest is called after a request is executed
func (b *Breaker) afterRequest(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if success {
		b.stats.Successes++
		b.lastSuccess = now
	} else {
		b.stats.Failures++
		b.lastFailure = now
	}

	_, generation := b.currentState(now)
	if generation != before {
		// The state machine moved on while this request was in flight
		return
	}

	if success {
		b.onSuccess(now)
	} else {
		b.onFailure(now)
	}
}

// onSuccess handles successful requests
func (b *Breaker) onSuccess(now time.Time) {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.setState(StateClosed, now)
		}
	}
}

// onFailure handles failed requests
func (b *Breaker) onFailure(now time.Time) {
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		// A single trial failure reopens the breaker
		b.setState(StateOpen, now)
	}
}

// currentState returns the current state and generation, applying a due
// open to half-open transition. There is no background timer: an
// unobserved breaker never changes state.
func (b *Breaker) currentState(now time.Time) (State, uint64) {
	if b.state == StateOpen && !b.expiry.After(now) {
		b.setState(StateHalfOpen, now)
	}
	return b.state, b.generation
}

// setState changes the state of the circuit breaker
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.generation++
	b.enteredAt = now

	b.failureCount = 0
	b.successCount = 0
	b.halfOpenAttempts = 0

	switch state {
	case StateOpen:
		b.expiry = now.Add(b.config.ResetTimeout)
		b.stats.Trips++
	default:
		b.expiry = time.Time{}
	}

	if b.onStateChange != nil {
		b.onStateChange(b.name, prev, state)
	}
}
