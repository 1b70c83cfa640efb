package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Retrieval and tool Prometheus metrics.
var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "End-to-end retrieval duration (embed + vector search) in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"scope"},
	)

	SearchResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned after the score threshold",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"scope"},
	)

	VectorStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_store_errors_total",
			Help:      "Vector store failures by operation",
		},
		[]string{"driver", "op"},
	)

	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "MCP tool calls by outcome",
		},
		[]string{"tool", "status"},
	)
)

var registerRetrieval sync.Once

// RegisterRetrievalMetrics registers the retrieval and tool collectors.
// Repeated calls are no-ops.
func RegisterRetrievalMetrics() {
	registerRetrieval.Do(func() {
		prometheus.MustRegister(SearchDuration, SearchResults, VectorStoreErrorsTotal, ToolCallsTotal)
	})
}
