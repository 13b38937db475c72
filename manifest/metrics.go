package manifest

import "github.com/prometheus/client_golang/prometheus"

// Metrics wraps the prometheus collectors the core registers into a
// caller-supplied registry, never the global default one — the same
// discipline the teacher's own stats package follows, so that embedding
// more than one Manifest in a process (one per prefix) doesn't collide on
// collector names.
type Metrics struct {
	commits          prometheus.Counter
	conflicts        prometheus.Counter
	orphansDeleted   prometheus.Counter
	checkpointFolds  prometheus.Counter
	gcTargetsDeleted prometheus.Counter
	commitLatency    prometheus.Histogram
	gcPhaseLatency   *prometheus.HistogramVec
}

// NewMetrics constructs and registers the manifest's collectors into reg.
// Pass a fresh *prometheus.Registry per Manifest if running more than one in
// the same process.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fusio_manifest_commits_total",
			Help: "Successful write session commits.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fusio_manifest_conflicts_total",
			Help: "Write sessions that ended Conflicted.",
		}),
		orphansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fusio_manifest_orphans_deleted_total",
			Help: "Orphan segments deleted by orphan recovery.",
		}),
		checkpointFolds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fusio_manifest_checkpoint_folds_total",
			Help: "Checkpoints successfully folded and linked into HEAD.",
		}),
		gcTargetsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fusio_manifest_gc_targets_deleted_total",
			Help: "Objects deleted by the GC coordinator's delete phase.",
		}),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fusio_manifest_commit_latency_seconds",
			Help:    "End-to-end commit() latency, successful and conflicted alike.",
			Buckets: prometheus.DefBuckets,
		}),
		gcPhaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fusio_manifest_gc_phase_latency_seconds",
			Help:    "Latency of each GC coordinator phase.",
			Buckets: prometheus.DefBuckets,
		}, []string{"phase"}),
	}
	reg.MustRegister(m.commits, m.conflicts, m.orphansDeleted, m.checkpointFolds, m.gcTargetsDeleted, m.commitLatency, m.gcPhaseLatency)
	return m
}

// noopMetrics is used when the caller doesn't supply a registry, so every
// call site can unconditionally touch m.metrics.X without a nil check.
func noopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
