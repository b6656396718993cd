// Package metrics implements the MetricsCollector port with
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iliarafa/llmarena/internal/ports"
)

// PrometheusMetrics records provider request metrics, comparison
// outcomes, and credit flow in the global Prometheus registry.
type PrometheusMetrics struct {
	llmRequests     *prometheus.CounterVec
	llmTokens       *prometheus.CounterVec
	llmLatency      *prometheus.HistogramVec
	comparisons     *prometheus.CounterVec
	creditsCharged  prometheus.Counter
	creditsCredited prometheus.Counter
	systemGauges    *prometheus.GaugeVec
}

// NewPrometheusMetrics registers all metrics in the global registry
// and returns the collector. Call once per process.
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		llmRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total LLM backend requests by provider, model, and status.",
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total tokens exchanged with LLM backends.",
			},
			[]string{"provider", "model", "token_type"},
		),
		llmLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "LLM backend request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "status"},
		),
		comparisons: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "comparisons_total",
				Help: "Total comparison requests by terminal state.",
			},
			[]string{"state"},
		),
		creditsCharged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credits_charged_total",
				Help: "Total credits charged for settled comparisons.",
			},
		),
		creditsCredited: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credits_credited_total",
				Help: "Total credits granted through payments and starter balances.",
			},
		),
		systemGauges: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "arena_system_state",
				Help: "Current system state values.",
			},
			[]string{"metric"},
		),
	}
}

// RecordCounter implements the MetricsCollector interface by routing
// named counters to their Prometheus equivalents.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	switch metric {
	case "llm_requests_total":
		pm.llmRequests.WithLabelValues(
			labels["provider"], labels["model"], labels["status"],
		).Add(value)
	case "llm_tokens_total":
		pm.llmTokens.WithLabelValues(
			labels["provider"], labels["model"], labels["token_type"],
		).Add(value)
	case "comparisons_total":
		pm.comparisons.WithLabelValues(labels["state"]).Add(value)
	case "credits_charged_total":
		pm.creditsCharged.Add(value)
	case "credits_credited_total":
		pm.creditsCredited.Add(value)
	default:
		pm.comparisons.WithLabelValues(metric).Add(value)
	}
}

// RecordHistogram implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	switch metric {
	case "llm_request_duration_seconds":
		pm.llmLatency.WithLabelValues(labels["provider"], labels["status"]).Observe(value)
	default:
		pm.llmLatency.WithLabelValues(labels["provider"], labels["status"]).Observe(value)
	}
}

// RecordGauge implements the MetricsCollector interface.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	pm.systemGauges.WithLabelValues(metric).Set(value)
}

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
