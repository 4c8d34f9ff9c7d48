package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_search_operations_total",
			Help: "Number of search operations by operation type and source type",
		},
		[]string{"operation", "source_type"},
	)

	searchOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_search_operation_duration_seconds",
			Help:    "Duration of search operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"operation", "source_type"},
	)

	resultsReturned = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_results_returned",
			Help:    "Number of results returned per search",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
		},
		[]string{"operation"},
	)

	adapterOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_adapter_operations_total",
			Help: "Number of adapter operations by adapter name and operation",
		},
		[]string{"adapter", "operation"},
	)

	adapterOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_adapter_operation_duration_seconds",
			Help:    "Duration of adapter operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"adapter", "operation"},
	)

	adapterHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "retrieval_adapter_healthy",
			Help: "1 if the adapter's last health check succeeded, 0 otherwise",
		},
		[]string{"adapter"},
	)

	toolOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_tool_operations_total",
			Help: "Number of tool-dispatch invocations by tool name",
		},
		[]string{"tool"},
	)

	toolOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_tool_operation_duration_seconds",
			Help:    "Duration of tool-dispatch invocations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"tool"},
	)

	toolOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_tool_operation_errors_total",
			Help: "Number of tool-dispatch invocations that returned an error, by tool and error class",
		},
		[]string{"tool", "error_class"},
	)

	apiRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_api_requests_total",
			Help: "Number of HTTP API requests by endpoint, method and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_api_request_duration_seconds",
			Help:    "Duration of HTTP API requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"endpoint", "method"},
	)

	cacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retrieval_cache_operations_total",
			Help: "Number of cache operations by tier, operation and result",
		},
		[]string{"tier", "operation", "result"},
	)

	cacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_cache_operation_duration_seconds",
			Help:    "Duration of cache operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 10, 5), // 0.1ms to 100ms
		},
		[]string{"tier", "operation"},
	)
)

// PromMetricsClient is the Prometheus-backed metrics client used outside of
// tests. It does not implement the generic MetricsClient interface; engine,
// cache and dispatcher code take a *PromMetricsClient directly.
type PromMetricsClient struct{}

func NewPromMetricsClient() *PromMetricsClient {
	return &PromMetricsClient{}
}

// RecordSearchOperation records one search_knowledge_base/search_runbooks
// call, its source type, latency and result count.
func (c *PromMetricsClient) RecordSearchOperation(operation, sourceType string, durationSeconds float64, resultCount int) {
	searchOperations.WithLabelValues(operation, sourceType).Inc()
	searchOperationDuration.WithLabelValues(operation, sourceType).Observe(durationSeconds)
	resultsReturned.WithLabelValues(operation).Observe(float64(resultCount))
}

// RecordAdapterOperation records a single adapter call (Search, GetDocument,
// HealthCheck, RefreshIndex, ...).
func (c *PromMetricsClient) RecordAdapterOperation(adapter, operation string, durationSeconds float64, err error) {
	adapterOperations.WithLabelValues(adapter, operation).Inc()
	adapterOperationDuration.WithLabelValues(adapter, operation).Observe(durationSeconds)
	if operation == "health_check" {
		healthy := 0.0
		if err == nil {
			healthy = 1.0
		}
		adapterHealth.WithLabelValues(adapter).Set(healthy)
	}
}

// RecordToolOperation records one MCP-style tool invocation.
func (c *PromMetricsClient) RecordToolOperation(tool string, durationSeconds float64, errorClass string) {
	toolOperations.WithLabelValues(tool).Inc()
	toolOperationDuration.WithLabelValues(tool).Observe(durationSeconds)
	if errorClass != "" {
		toolOperationErrors.WithLabelValues(tool, errorClass).Inc()
	}
}

// RecordAPIRequest records one HTTP request handled by the gin router.
func (c *PromMetricsClient) RecordAPIRequest(endpoint, method, status string, durationSeconds float64) {
	apiRequests.WithLabelValues(endpoint, method, status).Inc()
	apiRequestDuration.WithLabelValues(endpoint, method).Observe(durationSeconds)
}

// RecordCacheOperation records a Tier-1 (local) or Tier-2 (redis) cache
// lookup, store or invalidation.
func (c *PromMetricsClient) RecordCacheOperation(tier, operation string, hit bool, durationSeconds float64) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheOperations.WithLabelValues(tier, operation, result).Inc()
	cacheOperationDuration.WithLabelValues(tier, operation).Observe(durationSeconds)
}
