// Package observability holds the prometheus collectors and the slog logger
// factory shared by every statline component.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// resolutionsTotal counts resolve calls by domain and outcome.
	// Labels: domain, outcome (exact, alias, fuzzy, miss, error)
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statline",
		Subsystem: "resolver",
		Name:      "resolutions_total",
		Help:      "Entity resolutions by domain and outcome",
	}, []string{"domain", "outcome"})

	// cacheLookupsTotal counts result cache reads.
	// Labels: result (hit, miss, expired)
	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statline",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Result cache lookups by result",
	}, []string{"result"})

	// cacheEntries tracks the number of live entries.
	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "statline",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Entries currently held by the result cache",
	})

	// registryRefreshesTotal counts schema refresh attempts.
	// Labels: domain, status (ok, failed, stale_served)
	registryRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statline",
		Subsystem: "registry",
		Name:      "refreshes_total",
		Help:      "Tool schema refresh attempts by domain and status",
	}, []string{"domain", "status"})

	// registrySchemaAge reports the age of the served schema copy.
	// Labels: domain
	registrySchemaAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "statline",
		Subsystem: "registry",
		Name:      "schema_age_seconds",
		Help:      "Age of the tool schema copy currently served per domain",
	}, []string{"domain"})

	// backendCallsTotal counts backend calls.
	// Labels: domain, tool, status (ok, error, circuit_open, timeout)
	backendCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statline",
		Subsystem: "backend",
		Name:      "calls_total",
		Help:      "Domain backend calls by domain, tool and status",
	}, []string{"domain", "tool", "status"})

	// backendLatencySeconds measures backend call latency.
	// Labels: domain
	backendLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "statline",
		Subsystem: "backend",
		Name:      "latency_seconds",
		Help:      "Domain backend call latency",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"domain"})

	// pipelineInvocationsTotal counts executed invocations.
	// Labels: phase (resolver, dependent), status (ok, error, cached)
	pipelineInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "statline",
		Subsystem: "pipeline",
		Name:      "invocations_total",
		Help:      "Tool invocations executed by the pipeline",
	}, []string{"phase", "status"})

	// pipelineEnrichedTotal counts invocations whose arguments were enriched.
	pipelineEnrichedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "statline",
		Subsystem: "pipeline",
		Name:      "enriched_total",
		Help:      "Dependent invocations enriched from resolver output",
	})
)

// RecordResolution records the outcome of one resolve call.
func RecordResolution(domain, outcome string) {
	resolutionsTotal.WithLabelValues(domain, outcome).Inc()
}

// RecordCacheLookup records a cache read.
func RecordCacheLookup(result string) {
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// SetCacheEntries records the current cache size.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// RecordRegistryRefresh records a schema refresh attempt.
func RecordRegistryRefresh(domain, status string) {
	registryRefreshesTotal.WithLabelValues(domain, status).Inc()
}

// SetSchemaAge records the age of the schema copy served for domain.
func SetSchemaAge(domain string, age time.Duration) {
	registrySchemaAge.WithLabelValues(domain).Set(age.Seconds())
}

// DeleteSchemaAge removes the age series for a domain that left configuration.
func DeleteSchemaAge(domain string) {
	registrySchemaAge.DeleteLabelValues(domain)
}

// RecordBackendCall records one backend call and its latency.
func RecordBackendCall(domain, tool, status string, elapsed time.Duration) {
	backendCallsTotal.WithLabelValues(domain, tool, status).Inc()
	backendLatencySeconds.WithLabelValues(domain).Observe(elapsed.Seconds())
}

// RecordInvocation records one pipeline invocation.
func RecordInvocation(phase, status string) {
	pipelineInvocationsTotal.WithLabelValues(phase, status).Inc()
}

// RecordEnrichment records one enriched invocation.
func RecordEnrichment() {
	pipelineEnrichedTotal.Inc()
}
