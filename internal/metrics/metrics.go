package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const pre = "megadata_"

// Metrics groups the worker and scheduler counters. All methods are safe
// on a nil *Metrics, so components can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	collectionsChecked prometheus.Counter
	collectionsFailed  prometheus.Counter
	tokensCreated      prometheus.Counter
	tokensSkipped      prometheus.Counter
	publishBatches     *prometheus.CounterVec
	inconsistentTokens prometheus.Counter
	syncedTokens       prometheus.Counter
	jobRuns            *prometheus.CounterVec
	droppedFirings     *prometheus.CounterVec
}

// New creates the counters on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		collectionsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: pre + "reconcile_collections_checked_total",
			Help: "External collections visited by the reconciler.",
		}),
		collectionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: pre + "reconcile_collections_failed_total",
			Help: "External collections whose pass failed.",
		}),
		tokensCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: pre + "reconcile_tokens_created_total",
			Help: "Tokens created from external contracts.",
		}),
		tokensSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: pre + "reconcile_tokens_skipped_total",
			Help: "Missing tokens skipped because their metadata could not be fetched.",
		}),
		publishBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: pre + "publish_batches_total",
			Help: "Ledger publish batches by result.",
		}, []string{"result"}),
		inconsistentTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: pre + "publish_inconsistent_tokens_total",
			Help: "Tokens published to the ledger whose local status update failed.",
		}),
		syncedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: pre + "sync_tokens_done_total",
			Help: "Pending tokens mirrored to the ledger by the sync worker.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: pre + "job_runs_total",
			Help: "Scheduled job runs by job and result.",
		}, []string{"job", "result"}),
		droppedFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: pre + "job_dropped_firings_total",
			Help: "Job firings dropped because a run was already in flight.",
		}, []string{"job"}),
	}

	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.collectionsChecked, m.collectionsFailed, m.tokensCreated, m.tokensSkipped,
		m.publishBatches, m.inconsistentTokens, m.syncedTokens, m.jobRuns, m.droppedFirings,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CollectionChecked(failed bool) {
	if m == nil {
		return
	}
	m.collectionsChecked.Inc()
	if failed {
		m.collectionsFailed.Inc()
	}
}

func (m *Metrics) TokensCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensCreated.Add(float64(n))
}

func (m *Metrics) TokenSkipped() {
	if m == nil {
		return
	}
	m.tokensSkipped.Inc()
}

func (m *Metrics) PublishBatch(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.publishBatches.WithLabelValues(result).Inc()
}

func (m *Metrics) Inconsistent(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.inconsistentTokens.Add(float64(n))
}

func (m *Metrics) Synced(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncedTokens.Add(float64(n))
}

// JobRun counts a completed run; result is "ok", "error" or "panic".
func (m *Metrics) JobRun(job, result string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
}

func (m *Metrics) Dropped(job string) {
	if m == nil {
		return
	}
	m.droppedFirings.WithLabelValues(job).Inc()
}
