// Package metrics holds the process-wide Prometheus collectors.
//
// Collectors are registered on the default registry through promauto, so importing
// the package is enough; /metrics serves them via promhttp.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jamflow"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds, including streamed bodies",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "LLM calls by provider and outcome (ok, error, fallback)",
		},
		[]string{"provider", "outcome"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "LLM call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"provider"},
	)

	SnippetsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "snippets_created_total",
			Help:      "Snippets persisted, by kind",
		},
		[]string{"kind"},
	)

	KnowledgeEntriesMatched = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "knowledge",
			Name:      "entries_matched",
			Help:      "Knowledge base entries included per prompt",
			Buckets:   []float64{0, 1, 5, 10, 20, 30},
		},
	)

	KnowledgeCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "knowledge",
			Name:      "search_cache_total",
			Help:      "Knowledge search cache lookups (hit, miss)",
		},
		[]string{"result"},
	)
)

// RecordHTTPRequest records one completed request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordLLMRequest records one provider call.
func RecordLLMRequest(provider, outcome string, d time.Duration) {
	LLMRequestsTotal.WithLabelValues(provider, outcome).Inc()
	LLMRequestDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func RecordSnippet(kind string) {
	SnippetsCreatedTotal.WithLabelValues(kind).Inc()
}

func RecordKnowledgeMatches(n int) {
	KnowledgeEntriesMatched.Observe(float64(n))
}

func RecordKnowledgeCache(hit bool) {
	if hit {
		KnowledgeCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	KnowledgeCacheTotal.WithLabelValues("miss").Inc()
}
