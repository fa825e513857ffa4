package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retrieval, rerank and store metrics.
var (
	RetrievalBranchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_branches_total",
			Help:      "Per-collection retrieval outcomes",
		},
		[]string{"collection", "status"}, // ok, missing, timeout, failed
	)

	RetrievalBranchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_branch_duration_seconds",
			Help:      "Per-collection search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"collection"},
	)

	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Pipeline queries by presentation outcome",
		},
		[]string{"outcome"}, // thresholded, fallback, error
	)

	RerankRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_requests_total",
			Help:      "Total number of rerank requests",
		},
		[]string{"model", "status"},
	)

	RerankRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rerank_request_duration_seconds",
			Help:      "Rerank request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)

	StoreSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_skipped_records_total",
			Help:      "Stored records skipped on read",
		},
		[]string{"backend", "collection", "reason"}, // corrupt, dimension
	)
)
