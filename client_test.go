package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/relay/balance"
	"github.com/GriffinCanCode/relay/circuit"
	"github.com/GriffinCanCode/relay/config"
	"github.com/GriffinCanCode/relay/discovery"
	"github.com/GriffinCanCode/relay/monitoring"
	"github.com/GriffinCanCode/relay/ratelimit"
	"github.com/GriffinCanCode/relay/retry"
)

type statusErr struct {
	code int
}

func (e *statusErr) Error() string {
	return fmt.Sprintf("status %d", e.code)
}

func (e *statusErr) StatusCode() int {
	return e.code
}

type fakeSleeper struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept = append(s.slept, d)
	return nil
}

func (s *fakeSleeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slept)
}

func newBillingResolver(ids ...string) *discovery.Static {
	if len(ids) == 0 {
		ids = []string{"b-1"}
	}
	r := discovery.NewStatic()
	for _, id := range ids {
		r.Register("billing", discovery.Instance{
			ID:      id,
			Address: id + ":9000",
			Status:  discovery.StatusHealthy,
		})
	}
	return r
}

func TestNewRequiresResolver(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestClientCallSuccess(t *testing.T) {
	c, err := New(newBillingResolver())
	require.NoError(t, err)

	calls := 0
	result, err := c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		calls++
		assert.Equal(t, "b-1", inst.ID)
		return "pong", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", result)
	assert.Equal(t, 1, calls)

	stats := c.Stats()["billing"]
	assert.Equal(t, uint64(1), stats.Breaker.Executions)
	assert.Equal(t, uint64(1), stats.Retry.Successes)
	assert.Equal(t, uint64(1), stats.Balance.TotalSelections)
}

func TestClientCallRetriesThenSucceeds(t *testing.T) {
	sleeper := &fakeSleeper{}
	c, err := New(newBillingResolver(), WithSleeper(sleeper))
	require.NoError(t, err)

	calls := 0
	result, err := c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, &statusErr{code: 503}
		}
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, sleeper.count())

	stats := c.Stats()["billing"]
	assert.Equal(t, uint64(1), stats.Retry.SuccessfulRetries)
	assert.Equal(t, uint64(2), stats.Breaker.Failures)
}

func TestClientCallNonRetryable(t *testing.T) {
	sleeper := &fakeSleeper{}
	c, err := New(newBillingResolver(), WithSleeper(sleeper))
	require.NoError(t, err)

	boom := &statusErr{code: 404}
	calls := 0
	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		calls++
		return nil, boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "non-retryable errors surface unchanged")
	assert.Equal(t, 1, calls)
	assert.Zero(t, sleeper.count())
}

func TestClientCallExhausted(t *testing.T) {
	c, err := New(newBillingResolver(), WithSleeper(&fakeSleeper{}))
	require.NoError(t, err)

	boom := &statusErr{code: 502}
	calls := 0
	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		calls++
		return nil, boom
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "call billing failed")
}

func TestClientBreakerOpens(t *testing.T) {
	cfg := config.Default()
	cfg.Breaker.FailureThreshold = 2
	cfg.Retry.MaxAttempts = 1

	c, err := New(newBillingResolver(), WithConfig(cfg), WithSleeper(&fakeSleeper{}))
	require.NoError(t, err)

	boom := &statusErr{code: 503}
	calls := 0
	fail := func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		calls++
		return nil, boom
	}

	for i := 0; i < 2; i++ {
		_, err := c.Call(context.Background(), "billing", fail)
		require.Error(t, err)
	}
	assert.Equal(t, 2, calls)

	br, ok := c.Breaker("billing")
	require.True(t, ok)
	assert.True(t, br.IsOpen())

	_, err = c.Call(context.Background(), "billing", fail)
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "billing", open.Service)
	assert.Equal(t, circuit.StateOpen, open.State)
	assert.Greater(t, open.RetryAfter, time.Duration(0))
	assert.Equal(t, 1, open.Attempts)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, 2, calls, "transport must not run while open")
}

func TestClientBreakerRecovery(t *testing.T) {
	cfg := config.Default()
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.ResetTimeout = 25 * time.Millisecond
	cfg.Breaker.SuccessThreshold = 1
	cfg.Retry.MaxAttempts = 1

	c, err := New(newBillingResolver(), WithConfig(cfg), WithSleeper(&fakeSleeper{}))
	require.NoError(t, err)

	boom := &statusErr{code: 503}
	for i := 0; i < 2; i++ {
		_, err := c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
			return nil, boom
		})
		require.Error(t, err)
	}

	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		t.Fatal("transport invoked while open")
		return nil, nil
	})
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)

	time.Sleep(30 * time.Millisecond)

	result, err := c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		return "back", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "back", result)

	br, ok := c.Breaker("billing")
	require.True(t, ok)
	assert.True(t, br.IsClosed())
}

func TestClientBreakerSharedAcrossInstances(t *testing.T) {
	cfg := config.Default()
	cfg.Breaker.FailureThreshold = 2
	cfg.Retry.MaxAttempts = 1

	c, err := New(newBillingResolver("b-1", "b-2", "b-3"), WithConfig(cfg), WithSleeper(&fakeSleeper{}))
	require.NoError(t, err)

	boom := &statusErr{code: 503}
	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		_, err := c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
			seen[inst.ID] = true
			return nil, boom
		})
		require.Error(t, err)
	}
	assert.Len(t, seen, 2, "round-robin spread the failing calls")

	// One breaker guards the whole service, not each instance
	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		t.Fatal("transport invoked while open")
		return nil, nil
	})
	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
}

func TestClientAttemptTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.MaxAttempts = 2

	c, err := New(newBillingResolver(),
		WithConfig(cfg),
		WithAttemptTimeout(15*time.Millisecond),
		WithSleeper(&fakeSleeper{}),
	)
	require.NoError(t, err)

	calls := 0
	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		calls++
		select {
		case <-time.After(200 * time.Millisecond):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "billing", timeout.Service)
	assert.Equal(t, 2, timeout.Attempt)
	assert.Equal(t, 15*time.Millisecond, timeout.Limit)
	assert.True(t, timeout.Timeout())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientCallerCancellation(t *testing.T) {
	c, err := New(newBillingResolver())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Call(ctx, "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
			calls++
			return nil, &statusErr{code: 503}
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()

	// Cancel while the retry loop pauses between attempts
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancellation did not interrupt the retry pause")
	}
	assert.Equal(t, 1, calls, "no further attempts after cancellation")
}

func TestClientRateLimitReject(t *testing.T) {
	c, err := New(newBillingResolver(), WithRateLimit(ratelimit.Config{
		Global: ratelimit.Limit{RPS: 1, Burst: 1},
		Mode:   ratelimit.ModeReject,
	}))
	require.NoError(t, err)

	calls := 0
	ok := func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		calls++
		return "ok", nil
	}

	_, err = c.Call(context.Background(), "billing", ok)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "billing", ok)
	assert.ErrorIs(t, err, ratelimit.ErrLimited)
	assert.Equal(t, 1, calls, "limited calls never reach the transport")
}

func TestClientNoInstances(t *testing.T) {
	c, err := New(newBillingResolver())
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "ghost", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		t.Fatal("transport invoked without instances")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrNoInstances)
}

func TestClientNoEligible(t *testing.T) {
	resolver := discovery.NewStatic()
	resolver.Register("billing", discovery.Instance{ID: "b-1", Address: "b-1:9000", Status: discovery.StatusUnhealthy})

	c, err := New(resolver)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		t.Fatal("transport invoked without eligible instances")
		return nil, nil
	})
	assert.ErrorIs(t, err, balance.ErrNoEligible)
}

func TestClientResolverError(t *testing.T) {
	boom := fmt.Errorf("registry down")
	resolver := discovery.ResolverFunc(func(ctx context.Context, service string) ([]discovery.Instance, error) {
		return nil, boom
	})

	c, err := New(resolver)
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "resolve billing")
}

func TestClientProfileOverrides(t *testing.T) {
	profiles, err := config.ParseFile([]byte(`
services:
  billing:
    breaker:
      failure_threshold: 7
    retry:
      max_attempts: 2
`))
	require.NoError(t, err)

	c, err := New(newBillingResolver(), WithProfiles(profiles), WithSleeper(&fakeSleeper{}))
	require.NoError(t, err)

	calls := 0
	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		calls++
		return nil, &statusErr{code: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls, "profile caps the attempt budget")

	br, ok := c.Breaker("billing")
	require.True(t, ok)
	assert.Equal(t, 7, br.Config().FailureThreshold)
}

func TestClientRoundRobinRotation(t *testing.T) {
	c, err := New(newBillingResolver("b-1", "b-2", "b-3"))
	require.NoError(t, err)

	var order []string
	for i := 0; i < 3; i++ {
		_, err := c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
			order = append(order, inst.ID)
			return "ok", nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"b-1", "b-2", "b-3"}, order)
}

func TestInvoke(t *testing.T) {
	c, err := New(newBillingResolver())
	require.NoError(t, err)

	value, err := Invoke(context.Background(), c, "billing", func(ctx context.Context, inst discovery.Instance) (string, error) {
		return "typed:" + inst.ID, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "typed:b-1", value)

	boom := &statusErr{code: 404}
	value, err = Invoke(context.Background(), c, "billing", func(ctx context.Context, inst discovery.Instance) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, value)
}

func TestClientStatsAndHealth(t *testing.T) {
	c, err := New(newBillingResolver(), WithRateLimit(ratelimit.Config{
		Global: ratelimit.Limit{RPS: 100, Burst: 100},
	}))
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	components := make(map[string]bool)
	for _, status := range c.HealthCheck() {
		assert.True(t, status.Healthy)
		components[status.Component] = true
	}
	assert.True(t, components["circuit:billing"])
	assert.True(t, components["retry:billing"])
	assert.True(t, components["balance:billing"])
	assert.True(t, components["ratelimit"])

	c.ResetStats()
	stats := c.Stats()["billing"]
	assert.Equal(t, circuit.Stats{}, stats.Breaker)
	assert.Equal(t, retry.Stats{}, stats.Retry)
	assert.Zero(t, stats.Balance.TotalSelections)
	assert.Zero(t, c.Limiter().Stats().Allowed)
}

func TestClientUpdateServiceConfig(t *testing.T) {
	c, err := New(newBillingResolver())
	require.NoError(t, err)

	threshold := 9
	attempts := 5
	require.NoError(t, c.UpdateServiceConfig("billing", ServiceConfigUpdate{
		Breaker: &circuit.ConfigUpdate{FailureThreshold: &threshold},
		Retry:   &retry.ConfigUpdate{MaxAttempts: &attempts},
	}))

	br, ok := c.Breaker("billing")
	require.True(t, ok, "update materializes the components")
	assert.Equal(t, 9, br.Config().FailureThreshold)

	bad := retry.Kind("warp")
	err = c.UpdateServiceConfig("billing", ServiceConfigUpdate{
		Retry: &retry.ConfigUpdate{Strategy: &bad},
	})
	assert.Error(t, err)
}

func TestClientMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	cfg := config.Default()
	cfg.Breaker.FailureThreshold = 1
	cfg.Retry.MaxAttempts = 1

	c, err := New(newBillingResolver(), WithConfig(cfg), WithMetrics(metrics), WithSleeper(&fakeSleeper{}))
	require.NoError(t, err)

	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CallsTotal.WithLabelValues("billing", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SelectionsTotal.WithLabelValues("billing", "b-1")))

	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		return nil, &statusErr{code: 503}
	})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CallsTotal.WithLabelValues("billing", "exhausted")))

	// Transition listeners run asynchronously
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.BreakerTransitions.WithLabelValues("billing", "closed", "open")) == 1.0
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.BreakerState.WithLabelValues("billing")) == 2.0
	}, time.Second, 10*time.Millisecond)

	_, err = c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		t.Fatal("transport invoked while open")
		return nil, nil
	})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CallsTotal.WithLabelValues("billing", "circuit-open")))

	_, err = c.Call(context.Background(), "ghost", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RejectionsTotal.WithLabelValues("ghost", "no-instances")))
}

func TestClientConcurrentCalls(t *testing.T) {
	c, err := New(newBillingResolver("b-1", "b-2", "b-3"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := c.Call(context.Background(), "billing", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
					return "ok", nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	stats := c.Stats()["billing"]
	assert.Equal(t, uint64(200), stats.Breaker.Executions)
	assert.Equal(t, uint64(200), stats.Balance.TotalSelections)
	assert.Equal(t, uint64(200), stats.Retry.Successes)
}
