package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	upsertDuration        prometheus.Histogram
	searchDuration        prometheus.Histogram
	conceptInsertDuration prometheus.Histogram
	retrieveDuration      prometheus.Histogram

	chunksTotal   prometheus.Gauge
	conceptNodes  prometheus.Gauge
	activeScopes  prometheus.Gauge
	embedCacheOps *prometheus.CounterVec

	rerankSkippedTotal  prometheus.Counter
	droppedHitsTotal    prometheus.Counter
	embedFailuresTotal  prometheus.Counter
	snapshotWritesTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			upsertDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "evidence_upsert_duration_seconds",
					Help:    "Evidence chunk upsert duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			searchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "evidence_search_duration_seconds",
					Help:    "Evidence kNN search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			conceptInsertDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "concept_insert_duration_seconds",
					Help:    "Concept index insertion duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			retrieveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "retrieve_duration_seconds",
					Help:    "Full retrieval pipeline duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			chunksTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "evidence_chunks_total",
					Help: "Current number of indexed evidence chunks across scopes.",
				},
			),
			conceptNodes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "concept_nodes_total",
					Help: "Current number of concept nodes across scopes.",
				},
			),
			activeScopes: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_scopes",
					Help: "Current number of live memory scopes.",
				},
			),
			embedCacheOps: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "embedding_cache_ops_total",
					Help: "Embedding cache operations by outcome.",
				},
				[]string{"outcome"},
			),
			rerankSkippedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "rerank_skipped_total",
					Help: "Retrievals that degraded to kNN order after reranker failure.",
				},
			),
			droppedHitsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "dropped_hits_total",
					Help: "Evidence hits dropped for missing provenance.",
				},
			),
			embedFailuresTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "embedding_failures_total",
					Help: "Chunks marked embedding-failed after exhausting retries.",
				},
			),
			snapshotWritesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "snapshot_writes_total",
					Help: "Snapshot records written to audit sinks.",
				},
			),
		}

		prometheus.MustRegister(
			m.upsertDuration,
			m.searchDuration,
			m.conceptInsertDuration,
			m.retrieveDuration,
			m.chunksTotal,
			m.conceptNodes,
			m.activeScopes,
			m.embedCacheOps,
			m.rerankSkippedTotal,
			m.droppedHitsTotal,
			m.embedFailuresTotal,
			m.snapshotWritesTotal,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered registers all collectors with the default registry.
// Safe to call from multiple packages.
func EnsureRegistered() {
	getMetrics()
}

// Handler exposes the default prometheus registry over HTTP.
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordUpsert records an evidence upsert duration.
func RecordUpsert(d time.Duration) {
	getMetrics().upsertDuration.Observe(d.Seconds())
}

// RecordSearch records an evidence search duration.
func RecordSearch(d time.Duration) {
	getMetrics().searchDuration.Observe(d.Seconds())
}

// RecordConceptInsert records a concept insertion duration.
func RecordConceptInsert(d time.Duration) {
	getMetrics().conceptInsertDuration.Observe(d.Seconds())
}

// RecordRetrieve records a full retrieval pipeline duration.
func RecordRetrieve(d time.Duration) {
	getMetrics().retrieveDuration.Observe(d.Seconds())
}

// SetChunks sets the indexed chunk gauge.
func SetChunks(n int) {
	getMetrics().chunksTotal.Set(float64(n))
}

// SetConceptNodes sets the concept node gauge.
func SetConceptNodes(n int) {
	getMetrics().conceptNodes.Set(float64(n))
}

// SetActiveScopes sets the live scope gauge.
func SetActiveScopes(n int) {
	getMetrics().activeScopes.Set(float64(n))
}

// RecordEmbedCacheHit counts an embedding cache hit.
func RecordEmbedCacheHit() {
	getMetrics().embedCacheOps.WithLabelValues("hit").Inc()
}

// RecordEmbedCacheMiss counts an embedding cache miss.
func RecordEmbedCacheMiss() {
	getMetrics().embedCacheOps.WithLabelValues("miss").Inc()
}

// RecordRerankSkipped counts a rerank degradation.
func RecordRerankSkipped() {
	getMetrics().rerankSkippedTotal.Inc()
}

// RecordDroppedHit counts a hit dropped for missing provenance.
func RecordDroppedHit() {
	getMetrics().droppedHitsTotal.Inc()
}

// RecordEmbedFailure counts a chunk marked embedding-failed.
func RecordEmbedFailure() {
	getMetrics().embedFailuresTotal.Inc()
}

// RecordSnapshotWrite counts a snapshot record written.
func RecordSnapshotWrite() {
	getMetrics().snapshotWritesTotal.Inc()
}
