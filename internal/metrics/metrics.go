package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recall Memory Engine Metrics
var (
	// Request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Request duration histogram
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Classification outcomes per category
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "classifications_total",
			Help:      "Total classification decisions by category and source",
		},
		[]string{"category", "source"},
	)

	// Add operations
	AddTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "add_total",
			Help:      "Total memory add operations",
		},
		[]string{"status"},
	)

	// Retrieve operations
	RetrieveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "retrieve_total",
			Help:      "Total memory retrieve operations",
		},
		[]string{"status"},
	)

	// Retrieval duration
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "retrieval_duration_seconds",
			Help:      "End to end retrieval duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	// Conflict resolution actions
	ConflictActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "conflict_actions_total",
			Help:      "Conflict resolution decisions by action",
		},
		[]string{"action"},
	)

	// Tier promotions
	PromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "promotions_total",
			Help:      "Tier promotions by destination tier",
		},
		[]string{"tier"},
	)

	// Tier evictions
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "evictions_total",
			Help:      "Tier evictions by source tier",
		},
		[]string{"tier"},
	)

	// Embedding duration
	EmbeddingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "embedding_duration_seconds",
			Help:      "Embedding computation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10},
		},
	)

	// Vector search duration
	VectorSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "vector_search_duration_seconds",
			Help:      "Vector search duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2},
		},
	)

	// Degraded retrievals (lexical only, embedding unavailable)
	DegradedRetrievalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "degraded_retrievals_total",
			Help:      "Retrievals served without the vector channel",
		},
	)

	// Cache hits
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "cache_hits_total",
			Help:      "Total cache hits",
		},
		[]string{"cache_type"},
	)

	// Cache misses
	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "memory",
			Name:      "cache_misses_total",
			Help:      "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordClassification records a classification decision
func RecordClassification(category, source string) {
	ClassificationsTotal.WithLabelValues(category, source).Inc()
}

// RecordAdd records a memory add operation
func RecordAdd(status string) {
	AddTotal.WithLabelValues(status).Inc()
}

// RecordRetrieve records a memory retrieve operation
func RecordRetrieve(status string, durationSec float64) {
	RetrieveTotal.WithLabelValues(status).Inc()
	RetrievalDuration.Observe(durationSec)
}

// RecordConflictAction records a conflict resolution decision
func RecordConflictAction(action string) {
	ConflictActionsTotal.WithLabelValues(action).Inc()
}

// RecordPromotion records a tier promotion
func RecordPromotion(tier string) {
	PromotionsTotal.WithLabelValues(tier).Inc()
}

// RecordEviction records a tier eviction
func RecordEviction(tier string) {
	EvictionsTotal.WithLabelValues(tier).Inc()
}

// RecordEmbedding records embedding computation time
func RecordEmbedding(durationSec float64) {
	EmbeddingDuration.Observe(durationSec)
}

// RecordVectorSearch records vector search time
func RecordVectorSearch(durationSec float64) {
	VectorSearchDuration.Observe(durationSec)
}

// RecordDegradedRetrieval records a lexical-only retrieval
func RecordDegradedRetrieval() {
	DegradedRetrievalsTotal.Inc()
}

// RecordCacheHit records a cache hit
func RecordCacheHit(cacheType string) {
	CacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss(cacheType string) {
	CacheMissesTotal.WithLabelValues(cacheType).Inc()
}
