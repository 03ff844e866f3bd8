// Package metrics holds the Prometheus collectors shared by the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Backend metrics track completion calls against the remote providers.
var (
	BackendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsum_backend_calls_total",
			Help: "Backend completion attempts by provider, model and outcome",
		},
		[]string{"provider", "model", "outcome"},
	)

	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsum_backend_call_duration_seconds",
			Help:    "Duration of a single backend completion attempt",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"provider", "model"},
	)

	BackendRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsum_backend_retries_total",
			Help: "Backend attempts beyond the first",
		},
		[]string{"provider"},
	)

	BackendTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsum_backend_tokens_total",
			Help: "Tokens consumed by backend calls",
		},
		[]string{"model", "kind"},
	)
)

// Pipeline metrics track the cache and the summarization tree.
var (
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsum_cache_lookups_total",
			Help: "Memoization lookups by operation and result",
		},
		[]string{"operation", "result"},
	)

	SummarizeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsum_summarize_calls_total",
			Help: "Recursive summarizer invocations by branch",
		},
		[]string{"branch"},
	)

	SectionsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docsum_sections_dropped_total",
			Help: "Intermediate sections whose summary failed and was left out of synthesis",
		},
	)

	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsum_documents_total",
			Help: "Documents processed by final status",
		},
		[]string{"status"},
	)
)

// HTTP metrics are labelled by chi route pattern, never by raw path, so
// job IDs do not blow up cardinality.
var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "docsum_http_requests_total",
		Help: "HTTP requests by method, route pattern and status code",
	},
	[]string{"method", "route", "status"},
)

// RecordBackendCall records one attempt against a provider.
func RecordBackendCall(provider, model string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	BackendCallsTotal.WithLabelValues(provider, model, outcome).Inc()
	BackendCallDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

// RecordTokens adds prompt and completion token counts for a model.
func RecordTokens(model string, prompt, completion int) {
	BackendTokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	BackendTokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
}

// RecordCacheLookup counts a memoization hit or miss.
func RecordCacheLookup(operation string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(operation, result).Inc()
}
