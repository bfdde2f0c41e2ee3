package metrics

import "github.com/prometheus/client_golang/prometheus"

// Generation and retrieval Prometheus metrics.
var (
	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of generation requests",
		},
		[]string{"model", "mode", "status"}, // mode: "blocking" / "stream"
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Generation duration in seconds, until the last fragment",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"model", "mode"},
	)

	GenerationMalformedLinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_malformed_lines_total",
			Help:      "Stream lines skipped because they were not valid JSON",
		},
		[]string{"model"},
	)

	RetrievalCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_candidates",
			Help:      "Number of candidates returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		},
		[]string{"kind"}, // "chat" / "search"
	)

	RetrievalFallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_scope_fallback_total",
			Help:      "Retrievals that widened a time-restricted scope to the whole catalog",
		},
	)

	ReconcileFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_fallback_total",
			Help:      "Model replies that needed a fallback during reconciliation",
		},
		[]string{"reason"}, // "unparseable" / "no_valid_ids"
	)
)

var genMetricsRegistered bool

// RegisterGenerationMetrics registers generation and retrieval metrics. Must be called once from main.
func RegisterGenerationMetrics() {
	if genMetricsRegistered {
		return
	}
	prometheus.MustRegister(GenerationRequestsTotal)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(GenerationMalformedLinesTotal)
	prometheus.MustRegister(RetrievalCandidates)
	prometheus.MustRegister(RetrievalFallbackTotal)
	prometheus.MustRegister(ReconcileFallbackTotal)
	genMetricsRegistered = true
}
