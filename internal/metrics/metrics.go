// Package metrics exposes Prometheus instruments for search and write paths.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "projectsearch"

// Metrics holds the instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Searches counts searches by requested and served mode.
	// Labels: requested (semantic, keyword), served (semantic, keyword, keyword_fallback)
	Searches *prometheus.CounterVec

	// SearchDuration tracks search latency by served mode
	SearchDuration *prometheus.HistogramVec

	// ProviderFailures counts embedding provider errors.
	// Labels: operation (create, edit, search, reembed)
	ProviderFailures *prometheus.CounterVec

	// DegradedWrites counts projects stored without an embedding
	DegradedWrites prometheus.Counter

	// Reembedded counts projects whose embedding was recomputed by the worker.
	// Labels: result (updated, skipped, failed)
	Reembedded *prometheus.CounterVec
}

// New registers the instruments on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Searches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "requests_total",
				Help:      "Total number of searches by requested and served mode",
			},
			[]string{"requested", "served"},
		),
		SearchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "duration_seconds",
				Help:      "Duration of search requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"served"},
		),
		ProviderFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "embedding",
				Name:      "provider_failures_total",
				Help:      "Total number of embedding provider failures by operation",
			},
			[]string{"operation"},
		),
		DegradedWrites: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "projects",
				Name:      "degraded_writes_total",
				Help:      "Total number of project writes committed without an embedding",
			},
		),
		Reembedded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "embedding",
				Name:      "reembedded_total",
				Help:      "Total number of projects processed by the re-embedding worker",
			},
			[]string{"result"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSearch records one completed search
func (m *Metrics) RecordSearch(requested, served string, took time.Duration) {
	if m == nil {
		return
	}
	m.Searches.WithLabelValues(requested, served).Inc()
	m.SearchDuration.WithLabelValues(served).Observe(took.Seconds())
}

// RecordProviderFailure records a failed embedding call
func (m *Metrics) RecordProviderFailure(operation string) {
	if m == nil {
		return
	}
	m.ProviderFailures.WithLabelValues(operation).Inc()
}

// RecordDegradedWrite records a project committed without an embedding
func (m *Metrics) RecordDegradedWrite() {
	if m == nil {
		return
	}
	m.DegradedWrites.Inc()
}

// RecordReembed records one project handled by the re-embedding worker
func (m *Metrics) RecordReembed(result string) {
	if m == nil {
		return
	}
	m.Reembedded.WithLabelValues(result).Inc()
}
