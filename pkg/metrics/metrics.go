package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered globally through promauto and exposed by the
// server on GET /metrics.

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semdex_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semdex_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// BatchSize tracks how full the scheduler batches are when dispatched,
	// the main signal for tuning max_batch_size and max_wait.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semdex_batch_size",
			Help:    "Number of requests coalesced into each dispatched batch",
			Buckets: prometheus.LinearBuckets(1, 4, 16),
		},
	)

	EmbedDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semdex_embed_duration_seconds",
			Help:    "Duration of the embedding stage per batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semdex_search_duration_seconds",
			Help:    "Duration of the index search stage per batch",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	IndexedVectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "semdex_indexed_vectors",
			Help: "Number of vectors in the served index",
		},
	)
)
