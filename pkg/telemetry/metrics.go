package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the bridge.
type Metrics struct {
	config MetricsConfig

	// Call metrics
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec

	// Lifecycle metrics
	stateTransitions *prometheus.CounterVec
	lastPing         prometheus.Gauge

	// Transaction metrics
	transactions *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "cadbridge"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Total number of engine calls by method, transport mode, and outcome",
			},
			[]string{"method", "mode", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Duration of engine calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "mode"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Total number of call retries",
			},
			[]string{"method"},
		),
		stateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Connection state machine transitions",
			},
			[]string{"from", "to"},
		),
		lastPing: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_ping_seconds",
				Help:      "Last observed liveness round-trip latency",
			},
		),
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total transactions by outcome (committed, rolled_back, rollback_failed)",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.calls,
		m.callDuration,
		m.retries,
		m.stateTransitions,
		m.lastPing,
		m.transactions,
	)

	return m, nil
}

// RecordCall records one engine call with its outcome and duration.
func (m *Metrics) RecordCall(method, mode, outcome string, duration time.Duration) {
	if m.calls == nil {
		return
	}
	m.calls.WithLabelValues(method, mode, outcome).Inc()
	m.callDuration.WithLabelValues(method, mode).Observe(duration.Seconds())
}

// RecordRetry records one retry of a call.
func (m *Metrics) RecordRetry(method string) {
	if m.retries == nil {
		return
	}
	m.retries.WithLabelValues(method).Inc()
}

// RecordStateTransition records a connection state change.
func (m *Metrics) RecordStateTransition(from, to string) {
	if m.stateTransitions == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to).Inc()
}

// RecordPing records the last liveness round-trip latency.
func (m *Metrics) RecordPing(latency time.Duration) {
	if m.lastPing == nil {
		return
	}
	m.lastPing.Set(latency.Seconds())
}

// RecordTransactionOutcome records a resolved transaction.
func (m *Metrics) RecordTransactionOutcome(outcome string) {
	if m.transactions == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.registry == nil {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	go func() {
		// Serve until process exit; errors here must not take the bridge down
		_ = http.ListenAndServe(m.config.ListenAddress, mux)
	}()

	return nil
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer measures elapsed time for an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// String formats the elapsed time.
func (t *Timer) String() string {
	return fmt.Sprintf("%.3fs", t.Duration().Seconds())
}
