// Package metrics exposes the Prometheus collectors used across the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage labels for StageDuration.
const (
	StageEnhancement = "query_enhancement"
	StageRetrieval   = "vector_search"
	StageFormatting  = "response_formatting"
	StageTotal       = "total"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_requests_total",
			Help: "Total questions handled, by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage"},
	)

	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_provider_calls_total",
			Help: "Generation provider attempts, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_provider_fallbacks_total",
			Help: "Transitions from the local provider to the cloud provider",
		},
		[]string{"reason"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_cache_lookups_total",
			Help: "Answer cache lookups, by result",
		},
		[]string{"result"},
	)

	GuardBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rag_guard_blocks_total",
		Help: "Questions rejected by the input guard",
	})
)

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
