// Package metrics exposes the Prometheus instrumentation for the detection
// core. A Collector is constructed explicitly and injected; nothing here is a
// process-wide singleton.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Evaluation latency buckets in milliseconds.
var latencyBuckets = []float64{
	0.1, 0.5, 1,
	5, 10, 25,
	50, 100, 250,
	500, 1000,
}

// Collector holds every metric emitted by the detection core.
type Collector struct {
	Evaluations     *prometheus.CounterVec
	PatternMatches  *prometheus.CounterVec
	PatternTimeouts *prometheus.CounterVec
	PatternErrors   *prometheus.CounterVec
	Blocks          *prometheus.CounterVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheEvictions  *prometheus.CounterVec
	EvalLatency     prometheus.Histogram
}

// NewCollector registers the core metrics with the given registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		Evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_evaluations_total",
				Help: "Total pattern-registry evaluations by resulting action",
			},
			[]string{"action"},
		),
		PatternMatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_pattern_matches_total",
				Help: "Pattern matches by category",
			},
			[]string{"category"},
		),
		PatternTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_pattern_timeouts_total",
				Help: "Pattern evaluations that exceeded their wall-clock budget",
			},
			[]string{"pattern_id"},
		),
		PatternErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_pattern_errors_total",
				Help: "Pattern evaluations that failed in the matcher engine",
			},
			[]string{"pattern_id"},
		),
		Blocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_blocks_total",
				Help: "Blocked inputs by detection stage",
			},
			[]string{"stage"},
		),
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_cache_hits_total",
				Help: "Result-cache hits by cache name",
			},
			[]string{"cache"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_cache_misses_total",
				Help: "Result-cache misses by cache name",
			},
			[]string{"cache"},
		),
		CacheEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vigil_cache_evictions_total",
				Help: "Result-cache evictions by cache name",
			},
			[]string{"cache"},
		),
		EvalLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vigil_evaluation_latency_ms",
				Help:    "Pattern-registry evaluation latency in milliseconds",
				Buckets: latencyBuckets,
			},
		),
	}
}

// NewNopCollector returns a collector bound to a throwaway registry, for
// callers (and tests) that do not scrape metrics.
func NewNopCollector() *Collector {
	return NewCollector(prometheus.NewRegistry())
}
