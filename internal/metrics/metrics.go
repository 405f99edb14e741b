// Package metrics holds the process-wide Prometheus collectors for the
// loading pipeline. Collectors register themselves on the default registry
// at init; serving them is the embedding application's concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Parser metrics

	FeaturesParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "parser",
		Name:      "features_total",
		Help:      "Features produced by the format parsers",
	}, []string{"format"})

	ParserWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "parser",
		Name:      "warnings_total",
		Help:      "Per-entity warnings emitted while parsing",
	}, []string{"format"})

	ParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "parser",
		Name:      "failures_total",
		Help:      "Files rejected with a fatal structural error",
	}, []string{"format"})

	// Geodesy service metrics

	GeodesyCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "geodesy",
		Name:      "calls_total",
		Help:      "Calls to the coordinate transformation service",
	}, []string{"endpoint", "result"})

	GeodesyCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geoloader",
		Subsystem: "geodesy",
		Name:      "call_duration_seconds",
		Help:      "Latency of transformation service calls",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"endpoint"})

	TransformFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "geodesy",
		Name:      "fallbacks_total",
		Help:      "Transforms served by the degraded linear approximation",
	})

	// Height delta cache metrics

	DeltaCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "cache",
		Name:      "delta_hits_total",
		Help:      "Height delta cache hits",
	})

	DeltaCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "cache",
		Name:      "delta_misses_total",
		Help:      "Height delta cache misses",
	})

	DeltaCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "cache",
		Name:      "delta_evictions_total",
		Help:      "Height delta cache entries evicted by age",
	})

	// Streaming metrics

	ChunksEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "stream",
		Name:      "chunks_total",
		Help:      "Feature chunks emitted by the streaming manager",
	})

	StreamLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "stream",
		Name:      "limit_hits_total",
		Help:      "Streams terminated by a resource ceiling",
	}, []string{"limit"})

	// Validation metrics

	GeometriesRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "validate",
		Name:      "repaired_total",
		Help:      "Geometries rewritten by self-intersection repair",
	})

	RepairFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "validate",
		Name:      "repair_failures_total",
		Help:      "Geometries kept unrepaired after a failed repair attempt",
	})

	// Preview metrics

	PreviewsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "preview",
		Name:      "generated_total",
		Help:      "Preview datasets generated",
	})

	PreviewFeaturesSampled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "geoloader",
		Subsystem: "preview",
		Name:      "features_sampled_total",
		Help:      "Features included in generated previews",
	})
)
