package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/relay/circuit"
)

// ErrNoInstances reports that discovery returned nothing for a service
var ErrNoInstances = errors.New("no instances available")

// CircuitOpenError reports a call rejected by the service's circuit breaker.
// The transport function was not invoked for the rejected attempt.
type CircuitOpenError struct {
	Service string
	State   circuit.State
	// RetryAfter is the remaining cooldown before a trial is allowed;
	// zero when the breaker is already trialing
	RetryAfter time.Duration
	Attempts   int
	Elapsed    time.Duration
	Err        error
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit for %s is %s, retry after %s", e.Service, e.State, e.RetryAfter.Round(time.Millisecond))
	}
	return fmt.Sprintf("circuit for %s is %s", e.Service, e.State)
}

// Unwrap returns the breaker rejection
func (e *CircuitOpenError) Unwrap() error {
	return e.Err
}

// TimeoutError reports one attempt that exceeded the per-attempt budget.
// It is retryable: remaining attempts proceed as usual.
type TimeoutError struct {
	Service string
	Attempt int
	Limit   time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt %d against %s timed out after %s", e.Attempt, e.Service, e.Limit)
}

// Unwrap returns the underlying deadline error
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// Timeout marks the error as a timeout for retry classification
func (e *TimeoutError) Timeout() bool {
	return true
}
