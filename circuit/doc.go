/*
Package circuit provides the circuit breaker state machine for fail-fast
protection of unhealthy services.

# Overview

This package implements the circuit breaker pattern to prevent cascading
failures: after enough consecutive failures the breaker opens and rejects
calls immediately, then periodically admits trial calls to probe recovery.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Configurable failure threshold, reset timeout, and trial budget
- Lazy state transitions driven by calls, never by background timers
- Manual Trip and Reset overrides
- Per-service registry with shared transition listeners
- Thread-safe operations

# Usage

	// Create a circuit breaker
	breaker := circuit.New("payments", circuit.Config{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		SuccessThreshold:    2,
		HalfOpenMaxAttempts: 3,
	})

	// Execute request through breaker
	result, err := breaker.Execute(func() (interface{}, error) {
		return client.Call()
	})

	// Or manage one breaker per service
	registry := circuit.NewRegistry()
	registry.Subscribe(func(name string, from, to circuit.State) {
		log.Printf("breaker %s: %s -> %s", name, from, to)
	})
	breaker = registry.GetOrCreate("payments", circuit.DefaultConfig())

# States

- Closed: Normal operation, requests pass through
- Open: Requests fail immediately with ErrOpen
- Half-Open: Limited trial requests probe whether the service recovered

# Pattern

The circuit breaker transitions between states based on call outcomes:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open

The open to half-open transition is evaluated on the next call after the
reset timeout elapses. An idle breaker keeps its state indefinitely.
*/
package circuit
