/*
Package relay executes service-to-service calls with bounded fault
tolerance. It composes the resilience building blocks of this module: a
per-service circuit breaker, a retry loop with configurable backoff, a
load-balancing instance selector, and an optional rate limiter.

# Overview

A Client resolves the candidate instances of a logical service, selects one,
and runs the caller-supplied transport function through the service's
circuit breaker inside a retry loop. The transport is payload-agnostic: the
client never touches the wire, it only schedules attempts and classifies
their outcomes.

Call flow:

	resolve instances -> rate limit -> select instance
	    -> retry loop { breaker gate -> transport attempt }
	    -> typed result or mapped error

Retries wrap the breaker, so every attempt passes the gate: once the
breaker opens mid-call, the remaining attempts fail fast without reaching
the transport.

# Usage

	resolver := discovery.NewStatic()
	resolver.Register("payments",
		discovery.Instance{ID: "pay-1", Address: "10.0.0.1:8443", Status: discovery.StatusHealthy},
		discovery.Instance{ID: "pay-2", Address: "10.0.0.2:8443", Status: discovery.StatusHealthy},
	)

	client, err := relay.New(resolver,
		relay.WithLogger(logging.NewDefault()),
		relay.WithAttemptTimeout(2*time.Second),
	)
	if err != nil {
		log.Fatal(err)
	}

	result, err := client.Call(ctx, "payments", func(ctx context.Context, inst discovery.Instance) (interface{}, error) {
		return charge(ctx, inst.Address, order)
	})

Typed results go through Invoke:

	receipt, err := relay.Invoke(ctx, client, "payments", charge)

# Errors

Terminal failures are mapped for the caller: *CircuitOpenError when the
breaker rejected the call (carrying circuit state and the remaining
cooldown), *retry.ExhaustedError when the attempt budget ran out (wrapping
the last cause), and the transport's own error, unchanged, when it was not
retryable. Attempt counts and elapsed time ride along on the typed errors.

# Configuration

Defaults come from config.Default, overridable through environment
variables (RELAY_* keys) and per-service YAML profiles. Profiles win over
the global configuration; explicit options win over both.
*/
package relay
