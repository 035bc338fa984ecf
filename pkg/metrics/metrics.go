// Package metrics defines the Prometheus metric collectors used by the index
// builder and the search path, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the build and search paths.
type Metrics struct {
	DocsIndexedTotal     prometheus.Counter
	DocsSkippedTotal     *prometheus.CounterVec
	BytesReadTotal       prometheus.Counter
	ShardFlushesTotal    *prometheus.CounterVec
	ShardBytesWritten    prometheus.Counter
	CheckpointsTotal     *prometheus.CounterVec
	MergeDuration        *prometheus.HistogramVec
	IndexTrigrams        prometheus.Gauge
	IndexDocuments       prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchCandidateCount prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
}

// New creates all collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "codesearch_docs_indexed_total",
				Help: "Total documents accepted into a build.",
			},
		),
		DocsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesearch_docs_skipped_total",
				Help: "Documents skipped during a build by reason.",
			},
			[]string{"reason"},
		),
		BytesReadTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "codesearch_bytes_read_total",
				Help: "Total content bytes read by build workers.",
			},
		),
		ShardFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesearch_shard_flushes_total",
				Help: "Total posting accumulator flushes by status.",
			},
			[]string{"status"},
		),
		ShardBytesWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "codesearch_shard_bytes_written_total",
				Help: "Total bytes written to temporary shard files.",
			},
		),
		CheckpointsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesearch_checkpoints_total",
				Help: "Total checkpoint saves by status.",
			},
			[]string{"status"},
		),
		MergeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codesearch_merge_duration_seconds",
				Help:    "Duration of shard and index merges in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"kind"},
		),
		IndexTrigrams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "codesearch_index_trigrams",
				Help: "Distinct trigrams in the most recently written index.",
			},
		),
		IndexDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "codesearch_index_documents",
				Help: "Documents in the most recently written index.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesearch_search_queries_total",
				Help: "Total searches by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codesearch_search_latency_seconds",
				Help:    "Candidate selection latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchCandidateCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codesearch_search_candidates",
				Help:    "Number of candidate documents per query.",
				Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "codesearch_cache_hits_total",
				Help: "Total candidate cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "codesearch_cache_misses_total",
				Help: "Total candidate cache misses.",
			},
		),
	}

	reg.MustRegister(
		m.DocsIndexedTotal,
		m.DocsSkippedTotal,
		m.BytesReadTotal,
		m.ShardFlushesTotal,
		m.ShardBytesWritten,
		m.CheckpointsTotal,
		m.MergeDuration,
		m.IndexTrigrams,
		m.IndexDocuments,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchCandidateCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
	)

	return m
}

// Discard returns collectors registered with a private registry, for callers
// that do not export metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
