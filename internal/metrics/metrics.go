// Package metrics defines Prometheus collectors for the search engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchengine",
			Name:      "search_requests_total",
			Help:      "Total number of search requests by outcome",
		},
		[]string{"outcome"}, // "exact", "hybrid", "degraded", "empty", "error"
	)

	ResultCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchengine",
			Name:      "result_cache_total",
			Help:      "Result cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchengine",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchengine",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "matchengine",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding provider request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "matchengine",
			Name:      "embedding_errors_total",
			Help:      "Total embedding provider errors",
		},
		[]string{"provider", "model", "error_type"},
	)

	DocumentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "matchengine",
			Name:      "documents_total",
			Help:      "Number of documents in the store",
		},
	)

	IndexVectorsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "matchengine",
			Name:      "index_vectors_total",
			Help:      "Number of vectors in the similarity index",
		},
	)

	IndexRebuildsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "matchengine",
			Name:      "index_rebuilds_total",
			Help:      "Total number of full index rebuilds",
		},
	)

	PersistFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "matchengine",
			Name:      "persist_failures_total",
			Help:      "Total number of failed persistence attempts",
		},
	)
)

var registered bool

// Register registers all engine metrics. Must be called once from main.
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(ResultCacheTotal)
	prometheus.MustRegister(EmbeddingCacheTotal)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingRequestDuration)
	prometheus.MustRegister(EmbeddingErrorsTotal)
	prometheus.MustRegister(DocumentsTotal)
	prometheus.MustRegister(IndexVectorsTotal)
	prometheus.MustRegister(IndexRebuildsTotal)
	prometheus.MustRegister(PersistFailuresTotal)
	registered = true
}
