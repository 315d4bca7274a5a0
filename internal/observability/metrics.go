package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central Prometheus metric set for the orchestrator.
type Metrics struct {
	// ToolExecutions counts tool invocations.
	// Labels: tool_name, status (success|error|cancelled|timeout)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolDuration *prometheus.HistogramVec

	// ModelRequests counts model invocations.
	// Labels: provider, model, status (success|error)
	ModelRequests *prometheus.CounterVec

	// ModelRetries counts model retries on network-class errors.
	// Labels: provider
	ModelRetries *prometheus.CounterVec

	// CredentialIssued counts broker bundle minting.
	// Labels: provider, status (success|error)
	CredentialIssued *prometheus.CounterVec

	// RCATasks counts background RCA task outcomes.
	// Labels: outcome (complete|error|rate_limited)
	RCATasks *prometheus.CounterVec

	// ActiveSockets gauges live socket registrations.
	ActiveSockets prometheus.Gauge

	// ConfirmationLatency measures confirmation round-trip time in seconds.
	ConfirmationLatency prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_tool_executions_total",
			Help: "Tool invocations by tool name and terminal status.",
		}, []string{"tool_name", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aurora_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300, 1200},
		}, []string{"tool_name"}),

		ModelRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_model_requests_total",
			Help: "Model invocations by provider, model, and status.",
		}, []string{"provider", "model", "status"}),

		ModelRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_model_retries_total",
			Help: "Model retries on network-class errors.",
		}, []string{"provider"}),

		CredentialIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_credentials_issued_total",
			Help: "Credential bundles minted by the broker.",
		}, []string{"provider", "status"}),

		RCATasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aurora_rca_tasks_total",
			Help: "Background RCA task outcomes.",
		}, []string{"outcome"}),

		ActiveSockets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aurora_active_sockets",
			Help: "Live socket registrations in the fabric.",
		}),

		ConfirmationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aurora_confirmation_latency_seconds",
			Help:    "User confirmation round-trip latency.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
	}
}
