package retry

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Kind identifies a backoff strategy. The set is closed: custom delay
// policies plug in through a DecisionFunc instead.
type Kind string

const (
	KindFixed       Kind = "fixed"
	KindExponential Kind = "exponential"
	KindLinear      Kind = "linear"
	KindJitter      Kind = "jitter"
	KindFibonacci   Kind = "fibonacci"
)

// Backoff computes the delay after a failed attempt. Attempt numbers are
// 1-based: Delay(1) is the pause between the first and second attempts.
// Implementations must be immutable and safe for concurrent use.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// NewBackoff builds the backoff strategy described by the configuration
func NewBackoff(config Config) (Backoff, error) {
	switch config.Strategy {
	case KindFixed, "":
		return Fixed(config.InitialDelay), nil
	case KindExponential:
		return Exponential(config.InitialDelay, config.Multiplier, config.MaxDelay), nil
	case KindLinear:
		return Linear(config.InitialDelay, config.Increment, config.MaxDelay), nil
	case KindJitter:
		return Jitter(config.InitialDelay, config.Multiplier, config.MaxDelay), nil
	case KindFibonacci:
		return Fibonacci(config.InitialDelay, config.MaxDelay), nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy: %q", config.Strategy)
	}
}

type fixedBackoff struct {
	delay time.Duration
}

// Fixed returns the same delay for every attempt
func Fixed(delay time.Duration) Backoff {
	return fixedBackoff{delay: delay}
}

func (b fixedBackoff) Delay(int) time.Duration {
	return b.delay
}

type exponentialBackoff struct {
	base       time.Duration
	multiplier float64
	max        time.Duration
}

// Exponential grows the delay by multiplier after each attempt, capped at max
func Exponential(base time.Duration, multiplier float64, max time.Duration) Backoff {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return exponentialBackoff{base: base, multiplier: multiplier, max: max}
}

func (b exponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.base) * math.Pow(b.multiplier, float64(attempt-1))
	if b.max > 0 && delay > float64(b.max) {
		return b.max
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

type linearBackoff struct {
	initial   time.Duration
	increment time.Duration
	max       time.Duration
}

// Linear grows the delay by a fixed increment after each attempt, capped at max
func Linear(initial, increment, max time.Duration) Backoff {
	return linearBackoff{initial: initial, increment: increment, max: max}
}

func (b linearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := b.initial + b.increment*time.Duration(attempt-1)
	if b.max > 0 && delay > b.max {
		return b.max
	}
	return delay
}

type jitterBackoff struct {
	exp exponentialBackoff
}

// Jitter spreads an exponential delay uniformly across its upper half to
// decorrelate retry storms from concurrent callers
func Jitter(base time.Duration, multiplier float64, max time.Duration) Backoff {
	return jitterBackoff{exp: Exponential(base, multiplier, max).(exponentialBackoff)}
}

func (b jitterBackoff) Delay(attempt int) time.Duration {
	delay := b.exp.Delay(attempt)
	if delay <= 0 {
		return 0
	}

	half := delay / 2
	return half + randomDuration(half)
}

// randomDuration returns a uniform value in [0, max]. When the entropy
// source is unavailable it falls back to the midpoint, keeping delays
// bounded rather than failing the retry.
func randomDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)+1))
	if err != nil {
		return max / 2
	}
	return time.Duration(n.Int64())
}

type fibonacciBackoff struct {
	base time.Duration
	max  time.Duration
}

// Fibonacci scales the base delay by the Fibonacci sequence, capped at max
func Fibonacci(base, max time.Duration) Backoff {
	return fibonacciBackoff{base: base, max: max}
}

func (b fibonacciBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	prev, curr := int64(0), int64(1)
	for i := 1; i < attempt; i++ {
		prev, curr = curr, prev+curr
		if b.max > 0 && b.base > 0 && curr > int64(b.max)/int64(b.base) {
			return b.max
		}
	}

	delay := b.base * time.Duration(curr)
	if b.max > 0 && delay > b.max {
		return b.max
	}
	return delay
}
