/*
Package monitoring provides Prometheus metrics for relayed calls.

# Overview

This package collects call outcomes, retry activity, breaker transitions,
and per-instance selection latency. It records measurements only; exposing
them is the host application's concern.

# Usage

	// Register against a custom registry (nil uses the default)
	metrics := monitoring.NewMetrics(nil)

	// Record outcomes
	metrics.RecordCall("payments", "ok", elapsed, attempts)
	metrics.RecordRetry("payments", "server error 503")
	metrics.SetBreakerState("payments", 2)

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	http.Handle("/metrics", promhttp.Handler())
*/
package monitoring
