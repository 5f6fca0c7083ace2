package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	status int
}

func (e *statusErr) Error() string   { return "request failed" }
func (e *statusErr) StatusCode() int { return e.status }

type codeErr struct {
	code string
}

func (e *codeErr) Error() string     { return "transport failed: " + e.code }
func (e *codeErr) ErrorCode() string { return e.code }

type timeoutErr struct{}

func (timeoutErr) Error() string { return "deadline exceeded" }
func (timeoutErr) Timeout() bool { return true }

// fakeSleeper records requested pauses without waiting
type fakeSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sleeps = append(s.sleeps, d)
	return nil
}

func (s *fakeSleeper) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.sleeps))
	copy(out, s.sleeps)
	return out
}

func newTestRetryer(t *testing.T, config Config, opts ...Option) (*Retryer, *fakeSleeper) {
	t.Helper()
	sleeper := &fakeSleeper{}
	r, err := New("test", config, append([]Option{WithSleeper(sleeper)}, opts...)...)
	require.NoError(t, err)
	return r, sleeper
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	r, sleeper := newTestRetryer(t, DefaultConfig())

	result, err := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Empty(t, sleeper.recorded())

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Executions)
	assert.Equal(t, uint64(1), stats.Attempts)
	assert.Equal(t, uint64(1), stats.Successes)
	assert.Equal(t, uint64(0), stats.SuccessfulRetries)
}

func TestRetryRecoversAfterFailures(t *testing.T) {
	r, sleeper := newTestRetryer(t, Config{
		MaxAttempts:  4,
		Strategy:     KindExponential,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
	})

	calls := 0
	result, err := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, &codeErr{code: "ECONNRESET"}
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.recorded())

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.Attempts)
	assert.Equal(t, uint64(1), stats.Successes)
	assert.Equal(t, uint64(1), stats.SuccessfulRetries)
}

func TestRetryExhaustsBudget(t *testing.T) {
	r, sleeper := newTestRetryer(t, Config{
		MaxAttempts:  3,
		Strategy:     KindFixed,
		InitialDelay: 50 * time.Millisecond,
	})

	cause := &statusErr{status: 503}
	calls := 0
	_, err := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, cause
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeper.recorded(), 2)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempts exhausted")

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, uint64(1), stats.Exhausted)
}

func TestRetryNonRetryableSurfacesUnchanged(t *testing.T) {
	r, sleeper := newTestRetryer(t, DefaultConfig())

	cause := errors.New("validation failed")
	calls := 0
	_, err := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, cause
	})

	// Single attempt, no pause, and the caller sees the original error
	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.recorded())

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, uint64(0), stats.Exhausted)
}

func TestRetryClientErrorNotRetried(t *testing.T) {
	r, _ := newTestRetryer(t, DefaultConfig())

	cause := &statusErr{status: 404}
	calls := 0
	_, err := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, cause
	})
	assert.Equal(t, cause, err)
	assert.Equal(t, 1, calls)
}

func TestRetryConfiguredStatusCode(t *testing.T) {
	r, _ := newTestRetryer(t, Config{
		MaxAttempts:          3,
		Strategy:             KindFixed,
		InitialDelay:         10 * time.Millisecond,
		RetryableStatusCodes: []int{429},
	})

	calls := 0
	result, err := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, &statusErr{status: 429}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
}

func TestRetryConfiguredErrorCode(t *testing.T) {
	r, _ := newTestRetryer(t, Config{
		MaxAttempts:         3,
		Strategy:            KindFixed,
		InitialDelay:        10 * time.Millisecond,
		RetryableErrorCodes: []string{"SLOT_BUSY"},
	})

	calls := 0
	_, err := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, &codeErr{code: "SLOT_BUSY"}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryTimeoutIsRetryable(t *testing.T) {
	r, _ := newTestRetryer(t, Config{
		MaxAttempts:  2,
		Strategy:     KindFixed,
		InitialDelay: 10 * time.Millisecond,
	})

	calls := 0
	_, err := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, timeoutErr{}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryDeadlineExceededIsRetryable(t *testing.T) {
	r, _ := newTestRetryer(t, Config{
		MaxAttempts:  2,
		Strategy:     KindFixed,
		InitialDelay: 10 * time.Millisecond,
	})

	calls := 0
	_, err := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, context.DeadlineExceeded
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryCanceledContextStopsLoop(t *testing.T) {
	r, err := New("test", Config{
		MaxAttempts:  5,
		Strategy:     KindFixed,
		InitialDelay: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	calls := 0
	start := time.Now()
	_, execErr := r.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, &codeErr{code: "ECONNRESET"}
	})

	assert.ErrorIs(t, execErr, context.Canceled)
	assert.Equal(t, 1, calls)
	// The pause was interrupted, not waited out
	assert.Less(t, time.Since(start), 90*time.Millisecond)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Attempts)
	assert.Equal(t, uint64(1), stats.Failures)
}

func TestRetryCustomDecision(t *testing.T) {
	r, sleeper := newTestRetryer(t, Config{MaxAttempts: 3, Strategy: KindFixed, InitialDelay: time.Second})

	cause := errors.New("weird failure")
	calls := 0
	decide := func(err error, rctx Context) Decision {
		// Retry anything, with a flat custom delay
		return Decision{Retry: true, Delay: 5 * time.Millisecond, Reason: "custom"}
	}

	_, err := r.ExecuteWithDecision(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, cause
	}, decide)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond}, sleeper.recorded())
}

func TestRetryOnRetryHook(t *testing.T) {
	var mu sync.Mutex
	var reasons []string
	var attempts []int

	r, _ := newTestRetryer(t, Config{
		MaxAttempts:  3,
		Strategy:     KindFixed,
		InitialDelay: 10 * time.Millisecond,
	}, WithOnRetry(func(rctx Context, d Decision) {
		mu.Lock()
		defer mu.Unlock()
		reasons = append(reasons, d.Reason)
		attempts = append(attempts, rctx.Attempt)
	}))

	calls := 0
	_, err := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, &statusErr{status: 502}
		}
		return "ok", nil
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, attempts)
	require.Len(t, reasons, 2)
	assert.Contains(t, reasons[0], "server error 502")
}

func TestRetryUpdateConfig(t *testing.T) {
	r, sleeper := newTestRetryer(t, Config{
		MaxAttempts:  3,
		Strategy:     KindFixed,
		InitialDelay: 100 * time.Millisecond,
	})

	attempts := 2
	strategy := KindLinear
	increment := 50 * time.Millisecond
	config, err := r.UpdateConfig(ConfigUpdate{
		MaxAttempts: &attempts,
		Strategy:    &strategy,
		Increment:   &increment,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, config.MaxAttempts)
	assert.Equal(t, KindLinear, config.Strategy)

	calls := 0
	_, execErr := r.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, &codeErr{code: "ECONNRESET"}
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, execErr, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, sleeper.recorded())
}

func TestRetryUpdateConfigRejectsUnknownStrategy(t *testing.T) {
	r, _ := newTestRetryer(t, DefaultConfig())

	bad := Kind("quadratic")
	_, err := r.UpdateConfig(ConfigUpdate{Strategy: &bad})
	require.Error(t, err)
	// The previous configuration survives a rejected update
	assert.Equal(t, KindExponential, r.Config().Strategy)
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	_, err := New("test", Config{Strategy: "quadratic"})
	assert.Error(t, err)
}

func TestRetryDefaults(t *testing.T) {
	r, err := New("test", Config{})
	require.NoError(t, err)

	config := r.Config()
	assert.Equal(t, 3, config.MaxAttempts)
	assert.Equal(t, KindExponential, config.Strategy)
	assert.Equal(t, 200*time.Millisecond, config.InitialDelay)
	assert.Equal(t, 2.0, config.Multiplier)
}

func TestRetryHealthCheck(t *testing.T) {
	r, _ := newTestRetryer(t, DefaultConfig())

	status := r.HealthCheck()
	assert.Equal(t, "retry:test", status.Component)
	assert.True(t, status.Healthy)
	assert.Equal(t, "exponential", status.Details["strategy"])
}
