package manifest

import (
	"context"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fusio-io/fusio-manifest/internal/xlog"
	"github.com/fusio-io/fusio-manifest/objstore"
)

// GCPhase is the gc_plan object's phase (§3, §4.5).
type GCPhase string

const (
	GCComputing GCPhase = "Computing"
	GCApplying  GCPhase = "Applying"
)

// GCPlan is the at-most-one-live, CAS-guarded object at P/gc/PLAN.
type GCPlan struct {
	Token                string   `json:"token"`
	Phase                GCPhase  `json:"phase"`
	FloorSnapshotTxnID   uint64   `json:"floor_snapshot_txn_id"`
	Targets              []string `json:"targets"`
	RequiredCheckpointID string   `json:"required_checkpoint_id"`
}

// gcCoordinator runs the three-phase plan of §4.5.
type gcCoordinator struct {
	m *Manifest
}

func newGCCoordinator(m *Manifest) *gcCoordinator { return &gcCoordinator{m: m} }

// run executes one full Compute → Apply → Delete+Reset cycle. It is safe to
// call concurrently from multiple processes: every phase transition is a
// CAS on gc/PLAN, so at most one caller advances the plan at a time; others
// observe ErrConflict and simply return (another coordinator is driving).
func (g *gcCoordinator) run(ctx context.Context) error {
	plan, etag, err := g.compute(ctx)
	if err != nil {
		return err
	}
	if plan == nil {
		return nil // nothing to collect
	}

	plan, _, err = g.apply(ctx, *plan, etag)
	if err != nil {
		return err
	}

	return g.deleteAndReset(ctx, *plan)
}

// compute is phase 1: CAS gc_plan None→{Computing, floor}, then determine
// the deletion set.
func (g *gcCoordinator) compute(ctx context.Context) (*GCPlan, string, error) {
	start := time.Now()
	defer func() { g.m.metrics.gcPhaseLatency.WithLabelValues("compute").Observe(time.Since(start).Seconds()) }()

	snap, err := g.m.loadSnapshot(ctx)
	if err != nil {
		return nil, "", err
	}

	leases, err := g.m.leases.list(ctx)
	if err != nil {
		return nil, "", err
	}
	floor := g.computeFloor(leases, snap.LastTxnID)
	minPinnedUptoSeq, protectedCheckpoints := g.leaseRequirements(leases)

	meta, err := snap.checkpoint(ctx, g.m)
	if err != nil {
		return nil, "", err
	}

	token := newGCPlanToken()
	plan := GCPlan{Token: token, Phase: GCComputing, FloorSnapshotTxnID: floor}
	if meta != nil {
		plan.RequiredCheckpointID = meta.ID
	}

	targets, err := g.computeTargets(ctx, snap, meta, floor, minPinnedUptoSeq, protectedCheckpoints, leases)
	if err != nil {
		return nil, "", err
	}
	plan.Targets = targets
	if len(targets) == 0 {
		return nil, "", nil
	}

	body, err := jsonc.Marshal(plan)
	if err != nil {
		return nil, "", pkgerrors.Wrap(ErrCorrupted, err.Error())
	}
	newEtag, err := g.m.store.PutIfMatch(ctx, gcPlanKey(g.m.config.Prefix), body, objstore.IfNotExists())
	if err != nil {
		if pkgerrors.Is(err, objstore.ErrPreconditionFailed) {
			return nil, "", ErrConflict // another coordinator already has a plan live
		}
		return nil, "", pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	return &plan, newEtag, nil
}

// computeFloor is the minimum live lease's snapshot_txn_id, or HEAD's own
// last_txn_id absent any leases (§4.5 step 1), additionally held back by
// Config.GCSafetyMargin.
func (g *gcCoordinator) computeFloor(leases []Lease, headTxnID uint64) uint64 {
	floor := headTxnID
	now := time.Now()
	for _, l := range leases {
		if now.After(l.ExpiresAt.Add(g.m.config.LeaseGrace)) {
			continue // dead lease, does not constrain the floor
		}
		if l.SnapshotTxnID < floor {
			floor = l.SnapshotTxnID
		}
	}
	if floor > g.m.config.GCSafetyMargin {
		floor -= g.m.config.GCSafetyMargin
	} else {
		floor = 0
	}
	return floor
}

// leaseRequirements reports what every live read lease's frozen snapshot
// still depends on (§4.3, §8): minPinnedUptoSeq is the smallest
// PinnedUptoSeq across live read leases (segments above it are read
// directly by at least one of them and so are never a target below), or
// math.MaxUint64 if no live read lease constrains it; protected is the set
// of checkpoint ids pinned by a live read lease, which must survive
// regardless of their own upto_txn_id.
func (g *gcCoordinator) leaseRequirements(leases []Lease) (minPinnedUptoSeq uint64, protected map[string]bool) {
	minPinnedUptoSeq = ^uint64(0)
	protected = map[string]bool{}
	now := time.Now()
	for _, l := range leases {
		if l.Kind != LeaseRead {
			continue // write leases never serve get/scan against old segments
		}
		if now.After(l.ExpiresAt.Add(g.m.config.LeaseGrace)) {
			continue // dead lease, does not constrain retention
		}
		if l.PinnedUptoSeq < minPinnedUptoSeq {
			minPinnedUptoSeq = l.PinnedUptoSeq
		}
		if l.PinnedCheckpointID != nil {
			protected[*l.PinnedCheckpointID] = true
		}
	}
	return minPinnedUptoSeq, protected
}

// computeTargets determines §4.5(a)-(d)'s deletion set.
func (g *gcCoordinator) computeTargets(ctx context.Context, snap Snapshot, meta *CheckpointMeta, floor, minPinnedUptoSeq uint64, protectedCheckpoints map[string]bool, leases []Lease) ([]string, error) {
	var targets []string

	// (a) segments with seq <= current checkpoint's upto_seq AND txn_id <=
	// floor — but never past minPinnedUptoSeq: a live read lease opened
	// before any checkpoint covered these segments (or before the current
	// one did) still reads them directly out of the segment log, so they
	// must survive regardless of what the current checkpoint or the txn
	// floor alone would allow.
	if meta != nil && meta.UptoTxnID <= floor {
		ceiling := meta.UptoSeq
		if minPinnedUptoSeq < ceiling {
			ceiling = minPinnedUptoSeq
		}
		for seq := uint64(1); seq <= ceiling; seq++ {
			targets = append(targets, segmentKey(g.m.config.Prefix, seq))
		}
	}

	// (b) checkpoints older than the current one whose upto_txn_id <= floor,
	// excluding any checkpoint a live read lease is still pinned to.
	entries, err := g.m.store.List(ctx, checkpointsDir(g.m.config.Prefix), "")
	if err != nil {
		return nil, pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	if xlog.FastV(xlog.LevelDebug, "gc") {
		xlog.Infof("gc: scanning %d checkpoint object(s) for collection", len(entries))
	}
	seen := map[string]bool{}
	for _, e := range entries {
		id, kind, ok := parseCheckpointKey(g.m.config.Prefix, e.Key)
		if !ok || kind != "meta" || seen[id] {
			continue
		}
		seen[id] = true
		if meta != nil && id == meta.ID {
			continue // the current linked checkpoint is never a target
		}
		if protectedCheckpoints[id] {
			continue // a live reader is still pinned to this exact checkpoint
		}
		old, err := g.m.checkpoints.loadMeta(ctx, id)
		if err != nil {
			if pkgerrors.Is(err, ErrNotFound) || pkgerrors.Is(err, ErrCorrupted) {
				continue
			}
			return nil, err
		}
		if old.UptoTxnID <= floor {
			targets = append(targets, checkpointMetaKey(g.m.config.Prefix, id), checkpointPayloadKey(g.m.config.Prefix, id))
		}
	}

	// (c) orphan segments: reuse the same listing orphan recovery uses.
	orphanSeqs, err := g.m.segments.listAfter(ctx, snap.LastSegmentSeq)
	if err != nil {
		return nil, err
	}
	for _, seq := range orphanSeqs {
		targets = append(targets, segmentKey(g.m.config.Prefix, seq))
	}

	// (d) expired leases.
	now := time.Now()
	for _, l := range leases {
		if now.After(l.ExpiresAt.Add(g.m.config.LeaseGrace)) {
			targets = append(targets, leaseKey(g.m.config.Prefix, l.SessionID))
		}
	}

	return targets, nil
}

// apply is phase 2: ensure HEAD still references at least as new a
// checkpoint as RequiredCheckpointID before deleting anything, then CAS the
// plan Computing→Applying.
func (g *gcCoordinator) apply(ctx context.Context, plan GCPlan, etag string) (*GCPlan, string, error) {
	start := time.Now()
	defer func() { g.m.metrics.gcPhaseLatency.WithLabelValues("apply").Observe(time.Since(start).Seconds()) }()

	snap, err := g.m.loadSnapshot(ctx)
	if err != nil {
		return nil, "", err
	}
	if plan.RequiredCheckpointID != "" && (snap.CheckpointID == nil || *snap.CheckpointID != plan.RequiredCheckpointID) {
		if _, err := g.m.checkpointer.run(ctx); err != nil && !pkgerrors.Is(err, ErrConflict) {
			return nil, "", err
		}
	}

	plan.Phase = GCApplying
	body, err := jsonc.Marshal(plan)
	if err != nil {
		return nil, "", pkgerrors.Wrap(ErrCorrupted, err.Error())
	}
	newEtag, err := g.m.store.PutIfMatch(ctx, gcPlanKey(g.m.config.Prefix), body, objstore.IfMatch(etag))
	if err != nil {
		if pkgerrors.Is(err, objstore.ErrPreconditionFailed) {
			return nil, "", ErrConflict
		}
		return nil, "", pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	return &plan, newEtag, nil
}

// deleteAndReset is phase 3: issue every target DELETE (idempotent,
// unordered), then remove gc/PLAN itself. That last step is a plain,
// unconditional Delete; it does not check the plan's etag.
func (g *gcCoordinator) deleteAndReset(ctx context.Context, plan GCPlan) error {
	start := time.Now()
	defer func() { g.m.metrics.gcPhaseLatency.WithLabelValues("delete").Observe(time.Since(start).Seconds()) }()

	const maxParallel = 8
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallel)
	for _, target := range plan.Targets {
		target := target
		group.Go(func() error {
			if err := g.m.store.Delete(gctx, target); err != nil {
				return pkgerrors.Wrap(ErrUnavailable, err.Error())
			}
			if seq, ok := parseSegmentSeq(g.m.config.Prefix, target); ok {
				g.m.segments.cache.Remove(strconv.FormatUint(seq, 10))
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	g.m.metrics.gcTargetsDeleted.Add(float64(len(plan.Targets)))
	xlog.Infof("manifest: gc reclaimed %d object(s) at floor txn=%d", len(plan.Targets), plan.FloorSnapshotTxnID)

	if err := g.m.store.Delete(ctx, gcPlanKey(g.m.config.Prefix)); err != nil {
		return pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	return nil
}

func parseCheckpointKey(prefix, key string) (id, kind string, ok bool) {
	rest, found := trimDir(key, checkpointsDir(prefix))
	if !found {
		return "", "", false
	}
	for _, suffix := range []string{".meta", ".payload"} {
		if len(rest) > len(suffix) && rest[len(rest)-len(suffix):] == suffix {
			return rest[:len(rest)-len(suffix)], suffix[1:], true
		}
	}
	return "", "", false
}

func trimDir(key, dir string) (string, bool) {
	if len(key) <= len(dir) || key[:len(dir)] != dir {
		return "", false
	}
	return key[len(dir):], true
}
