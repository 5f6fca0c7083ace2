package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Call metrics
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	CallAttempts *prometheus.HistogramVec

	// Retry metrics
	RetriesTotal *prometheus.CounterVec

	// Rejection metrics (breaker, balancer, rate limiter)
	RejectionsTotal *prometheus.CounterVec

	// Breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Selection metrics
	SelectionsTotal *prometheus.CounterVec
	InstanceLatency *prometheus.HistogramVec
}

// NewMetrics creates a new metrics collector registered against reg.
// A nil registerer falls back to the global default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Call metrics
		CallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_calls_total",
				Help: "Total number of relayed calls",
			},
			[]string{"service", "status"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_call_duration_seconds",
				Help:    "End-to-end call duration in seconds, including retries",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service"},
		),
		CallAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_call_attempts",
				Help:    "Transport attempts consumed per call",
				Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
			},
			[]string{"service"},
		),

		// Retry metrics
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_retries_total",
				Help: "Total number of retry pauses by decision reason",
			},
			[]string{"service", "reason"},
		),

		// Rejection metrics
		RejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_rejections_total",
				Help: "Calls rejected before reaching the transport",
			},
			[]string{"service", "reason"},
		),

		// Breaker metrics
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relay_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"service", "from", "to"},
		),

		// Selection metrics
		SelectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_selections_total",
				Help: "Instance selections by the load balancer",
			},
			[]string{"service", "instance"},
		),
		InstanceLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_instance_latency_seconds",
				Help:    "Per-attempt transport latency by instance",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "instance"},
		),
	}
}

// RecordCall records a completed call
func (m *Metrics) RecordCall(service, status string, duration time.Duration, attempts int) {
	m.CallsTotal.WithLabelValues(service, status).Inc()
	m.CallDuration.WithLabelValues(service).Observe(duration.Seconds())
	m.CallAttempts.WithLabelValues(service).Observe(float64(attempts))
}

// RecordRetry records a retry pause
func (m *Metrics) RecordRetry(service, reason string) {
	m.RetriesTotal.WithLabelValues(service, reason).Inc()
}

// RecordRejection records a call rejected before the transport ran
func (m *Metrics) RecordRejection(service, reason string) {
	m.RejectionsTotal.WithLabelValues(service, reason).Inc()
}

// RecordBreakerTransition records a breaker state change
func (m *Metrics) RecordBreakerTransition(service, from, to string) {
	m.BreakerTransitions.WithLabelValues(service, from, to).Inc()
}

// SetBreakerState sets the breaker state gauge
func (m *Metrics) SetBreakerState(service string, state float64) {
	m.BreakerState.WithLabelValues(service).Set(state)
}

// RecordSelection records an instance selection
func (m *Metrics) RecordSelection(service, instance string) {
	m.SelectionsTotal.WithLabelValues(service, instance).Inc()
}

// RecordInstanceLatency records one transport attempt's latency
func (m *Metrics) RecordInstanceLatency(service, instance string, duration time.Duration) {
	m.InstanceLatency.WithLabelValues(service, instance).Observe(duration.Seconds())
}
