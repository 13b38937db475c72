// Package manifest is the transactional metadata layer described by
// fusio-manifest: serializable isolation over a key→value mapping, backed
// exclusively by an object store's conditional-PUT/GET/LIST/DELETE
// primitives, with no external coordinator. See the package's accompanying
// specification for the full design; this file is the top-level handle
// tying its subsystems together, the same way the teacher wires one
// top-level handle (a proxy, a target) to its subsystems.
package manifest

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fusio-io/fusio-manifest/objstore"
	"github.com/fusio-io/fusio-manifest/xact"
)

// Manifest is the handle an embedding application holds: one manifest per
// object-store prefix, one serializability domain (§1's "one manifest = one
// prefix = one serializability domain").
type Manifest struct {
	store  objstore.Store
	config Config

	heads       *headStore
	segments    *segmentStore
	checkpoints *checkpointStore
	leases      *leaseStore

	checkpointer *checkpointer
	gc           *gcCoordinator

	metrics *Metrics
}

// Open constructs a Manifest over store at cfg.Prefix. It does not itself
// create HEAD — call Initialize first against a fresh prefix, or Open an
// already-initialized one. Pass reg to register Prometheus collectors into
// a caller-owned registry; pass nil to use an unregistered, in-process-only
// Metrics instance (useful for tests).
func Open(store objstore.Store, cfg Config, reg *prometheus.Registry) *Manifest {
	cfg = cfg.WithDefaults()
	m := &Manifest{
		store:       store,
		config:      cfg,
		heads:       newHeadStore(store, cfg.Prefix),
		segments:    newSegmentStore(store, cfg.Prefix),
		checkpoints: newCheckpointStore(store, cfg.Prefix),
		leases:      newLeaseStore(store, cfg.Prefix),
	}
	if reg != nil {
		m.metrics = NewMetrics(reg)
	} else {
		m.metrics = noopMetrics()
	}
	m.checkpointer = newCheckpointer(m)
	m.gc = newGCCoordinator(m)
	return m
}

// Initialize creates HEAD at {last_txn_id: 0, last_segment_seq: 0} with an
// IfNotExists precondition — the explicit HEAD-creation path named in §7
// (NotInitialized) but not otherwise specified. Two callers racing the same
// Initialize: exactly one succeeds, the other gets ErrConflict, not
// corruption.
func (m *Manifest) Initialize(ctx context.Context) error {
	return m.heads.initialize(ctx)
}

// OpenWrite begins a write session per §4.2.
func (m *Manifest) OpenWrite(ctx context.Context) (*WriteSession, error) {
	return m.openWrite(ctx)
}

// OpenRead begins a read session per §4.3.
func (m *Manifest) OpenRead(ctx context.Context) (*ReadSession, error) {
	return m.openRead(ctx)
}

// RunCheckpointer performs one checkpoint fold-and-link attempt (§4.4). The
// embedding application (or the bundled background Task, see xact) decides
// the schedule; RunCheckpointer itself is synchronous and idempotent modulo
// unreferenced objects on a lost CAS race.
func (m *Manifest) RunCheckpointer(ctx context.Context) (string, error) {
	id, err := m.checkpointer.run(ctx)
	if err == nil && id != "" {
		m.metrics.checkpointFolds.Add(1)
	}
	return id, err
}

// RunGC performs one full GC cycle (§4.5).
func (m *Manifest) RunGC(ctx context.Context) error {
	return m.gc.run(ctx)
}

// Snapshot exposes loadSnapshot for callers (e.g. diagnostics, the bundled
// background tasks) that need a point-in-time view without opening a full
// session.
func (m *Manifest) Snapshot(ctx context.Context) (Snapshot, error) {
	return m.loadSnapshot(ctx)
}

// Metrics returns the Manifest's collector bundle.
func (m *Manifest) Metrics() *Metrics { return m.metrics }

// StartBackgroundTasks starts the checkpointer and GC coordinator as
// xact.Tasks on a fresh Runner, per §9: "independent loops that coordinate
// only through HEAD and the gc/PLAN object." The caller owns the returned
// Runner's lifetime and should call StopAll on shutdown.
func (m *Manifest) StartBackgroundTasks(ctx context.Context) *xact.Runner {
	runner := xact.NewRunner()
	runner.Go(ctx, "checkpointer", m.config.GCInterval, NewCheckpointerTask(m))
	runner.Go(ctx, "gc", m.config.GCInterval, NewGCTask(m))
	return runner
}

// StartLeaseKeeper starts a lease-keeper Task for session on runner, renewed
// at a jittered TTL/2 interval (§4.3). The caller should runner.Stop(name)
// (or StopAll) no later than calling session.End.
func (m *Manifest) StartLeaseKeeper(ctx context.Context, runner *xact.Runner, session *ReadSession) {
	runner.Go(ctx, "lease-keeper-"+session.sessionID, LeaseKeeperInterval(m.config.LeaseTTL), NewLeaseKeeperTask(session))
}
