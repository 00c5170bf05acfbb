package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and histograms a Runtime updates at the
// commit/abort/sync decision points. Each Runtime
// keeps its own registry so that multiple runtimes in one process (tests,
// perf tools) don't collide on metric names.
type Metrics struct {
	registry *prometheus.Registry

	CommitsTotal   prometheus.Counter
	AbortsTotal    *prometheus.CounterVec
	SyncsTotal     prometheus.Counter
	SyncDuration   prometheus.Histogram
	CommitDuration prometheus.Histogram
}

// NewMetrics builds a fresh, independently-registered Metrics set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		CommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txengine_commits_total",
			Help: "Total number of transactions that committed successfully.",
		}),
		AbortsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txengine_aborts_total",
			Help: "Total number of transactions that aborted, by cause.",
		}, []string{"cause"}),
		SyncsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "txengine_syncs_total",
			Help: "Total number of version-locked object sync operations.",
		}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "txengine_sync_duration_seconds",
			Help:    "Time spent rolling a materialized object forward or backward during sync.",
			Buckets: prometheus.DefBuckets,
		}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "txengine_commit_duration_seconds",
			Help:    "Time spent in Sequencer.Append/AppendAt for a committing transaction.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.CommitsTotal, m.AbortsTotal, m.SyncsTotal, m.SyncDuration, m.CommitDuration)
	return m
}

// Registry exposes the underlying prometheus registry, e.g. for serving a
// /metrics HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAbort increments the abort counter for cause.
func (m *Metrics) RecordAbort(cause AbortCause) {
	m.AbortsTotal.WithLabelValues(cause.String()).Inc()
}
