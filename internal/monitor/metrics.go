package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the render orchestrator.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	AttemptsTotal     *prometheus.CounterVec
	AttemptDuration   prometheus.Histogram
	AttemptsPerRun    prometheus.Histogram
	RemediationsTotal *prometheus.CounterVec
	ProviderRequests  *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	ActiveRuns        prometheus.Gauge
	RequestsInFlight  prometheus.Gauge
	ScriptSizeBytes   prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "manim",
				Name:      "runs_total",
				Help:      "Total number of execution runs by outcome.",
			},
			[]string{"outcome"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "manim",
				Name:      "run_duration_seconds",
				Help:      "End-to-end duration of execution runs in seconds.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),

		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "manim",
				Name:      "attempts_total",
				Help:      "Total render attempts by outcome.",
			},
			[]string{"outcome"},
		),

		AttemptDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "manim",
				Name:      "attempt_duration_seconds",
				Help:      "Duration of individual render attempts in seconds.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),

		AttemptsPerRun: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "manim",
				Name:      "attempts_per_run",
				Help:      "How many attempts each run needed before terminating.",
				Buckets:   []float64{1, 2, 3, 5, 10, 25, 50, 100},
			},
		),

		RemediationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "manim",
				Name:      "remediations_total",
				Help:      "Remediation actions taken between attempts, by kind.",
			},
			[]string{"kind"},
		),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "manim",
				Name:      "provider_requests_total",
				Help:      "AI provider requests by provider and status.",
			},
			[]string{"provider", "status"},
		),

		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "manim",
				Name:      "provider_request_duration_seconds",
				Help:      "Latency of AI provider requests.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "manim",
				Name:      "active_runs",
				Help:      "Number of execution runs currently in flight.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "manim",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		ScriptSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "manim",
				Name:      "script_size_bytes",
				Help:      "Size of submitted scripts in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.AttemptsTotal,
		m.AttemptDuration,
		m.AttemptsPerRun,
		m.RemediationsTotal,
		m.ProviderRequests,
		m.ProviderLatency,
		m.ActiveRuns,
		m.RequestsInFlight,
		m.ScriptSizeBytes,
	)

	return m
}

// ObserveAttempt implements the executor's observer hook for attempts.
func (m *Metrics) ObserveAttempt(outcome string, seconds float64) {
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
	m.AttemptDuration.Observe(seconds)
}

// ObserveRemediation counts one remediation action by kind.
func (m *Metrics) ObserveRemediation(kind string) {
	m.RemediationsTotal.WithLabelValues(kind).Inc()
}

// ObserveRun counts one terminated run and how many attempts it needed.
func (m *Metrics) ObserveRun(outcome string, attempts int) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.AttemptsPerRun.Observe(float64(attempts))
}

// RecordProviderRequest records one AI provider call.
func (m *Metrics) RecordProviderRequest(provider, status string, durationSec float64) {
	m.ProviderRequests.WithLabelValues(provider, status).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(durationSec)
}
