package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus instruments for the pipeline service.
type Metrics struct {
	registry *prometheus.Registry

	// PipelineRuns counts completed pipeline invocations by outcome:
	// "accepted", "exhausted", "failed".
	PipelineRuns *prometheus.CounterVec

	// StageDuration observes wall time per pipeline stage.
	StageDuration *prometheus.HistogramVec

	// ValidationRejections counts disclosure-check rejections by phase:
	// "keyword", "semantic".
	ValidationRejections *prometheus.CounterVec

	// AdmissionDenied counts requests rejected before the pipeline starts
	// by reason: "token", "quota".
	AdmissionDenied *prometheus.CounterVec
}

// NewMetrics creates the instruments on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procura",
			Name:      "pipeline_runs_total",
			Help:      "Completed pipeline invocations by outcome.",
		}, []string{"outcome"}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "procura",
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"stage"}),
		ValidationRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procura",
			Name:      "validation_rejections_total",
			Help:      "Disclosure-check rejections by phase.",
		}, []string{"phase"}),
		AdmissionDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procura",
			Name:      "admission_denied_total",
			Help:      "Requests rejected before pipeline start by reason.",
		}, []string{"reason"}),
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
