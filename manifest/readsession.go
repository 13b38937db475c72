package manifest

import (
	"context"
	"sort"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// ReadSession answers get/scan at a fixed snapshot (§4.3).
type ReadSession struct {
	m         *Manifest
	mu        sync.Mutex
	snapshot  Snapshot
	sessionID string
	expiresAt time.Time
	ended     bool

	// pinnedCheckpointID/pinnedUptoSeq mirror what's recorded on this
	// session's lease (see Lease) — captured once here since the snapshot
	// never changes for the life of the session, so there is nothing to
	// recompute on renew.
	pinnedCheckpointID *string
	pinnedUptoSeq      uint64
}

// openRead implements §4.3's open_read(): load a snapshot and register a
// reader lease at it. The checkpoint metadata is resolved eagerly here,
// ahead of Snapshot's usual lazy fetch-on-first-use, because GC must know
// from the lease alone what this frozen view still depends on (§8 GC
// safety) — the fetched meta is cached onto the snapshot so Get/Scan's own
// first lookup is free.
func (m *Manifest) openRead(ctx context.Context) (*ReadSession, error) {
	snap, err := m.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := snap.checkpoint(ctx, m)
	if err != nil {
		return nil, err
	}
	var pinnedUptoSeq uint64
	if meta != nil {
		pinnedUptoSeq = meta.UptoSeq
	}

	sessionID := newSessionID()
	expiresAt := time.Now().Add(m.config.LeaseTTL)
	lease := Lease{
		SessionID:          sessionID,
		SnapshotTxnID:      snap.LastTxnID,
		ExpiresAt:          expiresAt,
		Kind:               LeaseRead,
		PinnedCheckpointID: snap.CheckpointID,
		PinnedUptoSeq:      pinnedUptoSeq,
	}
	if err := m.leases.create(ctx, lease); err != nil {
		return nil, err
	}
	return &ReadSession{
		m:                  m,
		snapshot:           snap,
		sessionID:          sessionID,
		expiresAt:          expiresAt,
		pinnedCheckpointID: snap.CheckpointID,
		pinnedUptoSeq:      pinnedUptoSeq,
	}, nil
}

// Renew extends the session's lease, per §4.3's lease keeper: "a session
// longer than TTL/2 must renew." Called by the background keeper, or
// directly by a caller not using one.
func (r *ReadSession) Renew(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return pkgerrors.Wrap(ErrInvalidState, "renew: session ended")
	}
	if time.Now().After(r.expiresAt.Add(r.m.config.LeaseGrace)) {
		return ErrSnapshotExpired
	}
	r.expiresAt = time.Now().Add(r.m.config.LeaseTTL)
	lease := Lease{
		SessionID:          r.sessionID,
		SnapshotTxnID:      r.snapshot.LastTxnID,
		ExpiresAt:          r.expiresAt,
		Kind:               LeaseRead,
		PinnedCheckpointID: r.pinnedCheckpointID,
		PinnedUptoSeq:      r.pinnedUptoSeq,
	}
	return r.m.leases.renew(ctx, lease)
}

// Get implements §4.3's get(k).
func (r *ReadSession) Get(ctx context.Context, key []byte) ([]byte, error) {
	r.mu.Lock()
	snap := r.snapshot
	ended := r.ended
	expired := time.Now().After(r.expiresAt.Add(r.m.config.LeaseGrace))
	r.mu.Unlock()
	if ended {
		return nil, pkgerrors.Wrap(ErrInvalidState, "get: session ended")
	}
	if expired {
		return nil, ErrSnapshotExpired
	}

	meta, err := snap.checkpoint(ctx, r.m)
	if err != nil {
		return nil, err
	}

	var uptoSeq uint64
	if meta != nil {
		uptoSeq = meta.UptoSeq
	}

	if uptoSeq < snap.LastSegmentSeq {
		bySeq, _, err := r.m.segments.getRange(ctx, uptoSeq+1, snap.LastSegmentSeq)
		if err != nil {
			return nil, err
		}
		seqs := make([]uint64, 0, len(bySeq))
		for seq := range bySeq {
			seqs = append(seqs, seq)
		}
		// descending seq order, newest segment first
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] > seqs[j] })
		for _, seq := range seqs {
			records := bySeq[seq]
			for i := len(records) - 1; i >= 0; i-- {
				rec := records[i]
				if string(rec.Key) != string(key) {
					continue
				}
				if rec.Op == OpDel {
					return nil, ErrNotFound
				}
				return rec.Value, nil
			}
		}
	}

	if meta == nil {
		return nil, ErrNotFound
	}
	if !mayContain(*meta, string(key)) {
		return nil, ErrNotFound
	}
	payload, err := r.m.checkpoints.loadPayload(ctx, *meta)
	if err != nil {
		return nil, err
	}
	entry, ok := payload[string(key)]
	if !ok || entry.Op != OpPut {
		return nil, ErrNotFound
	}
	return entry.Value, nil
}

// ScanEntry is one row yielded by Scan. Scan drops tombstones before
// returning, so every entry it yields has Op == OpPut.
type ScanEntry struct {
	Key   []byte
	Op    Op
	Value []byte
}

// Scan implements §4.3's scan(range): start from the checkpoint payload,
// then apply segments in ascending seq order, de-duplicating by key (newest
// wins) and dropping deleted keys,
// returning entries in ascending key order. start/end follow Go's half-open
// convention; an empty end means "to the end of the keyspace."
func (r *ReadSession) Scan(ctx context.Context, start, end []byte) ([]ScanEntry, error) {
	r.mu.Lock()
	snap := r.snapshot
	ended := r.ended
	expired := time.Now().After(r.expiresAt.Add(r.m.config.LeaseGrace))
	r.mu.Unlock()
	if ended {
		return nil, pkgerrors.Wrap(ErrInvalidState, "scan: session ended")
	}
	if expired {
		return nil, ErrSnapshotExpired
	}

	merged := map[string]ScanEntry{}

	meta, err := snap.checkpoint(ctx, r.m)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		payload, err := r.m.checkpoints.loadPayload(ctx, *meta)
		if err != nil {
			return nil, err
		}
		for k, e := range payload {
			if !inRange([]byte(k), start, end) {
				continue
			}
			merged[k] = ScanEntry{Key: []byte(k), Op: e.Op, Value: e.Value}
		}
	}

	var uptoSeq uint64
	if meta != nil {
		uptoSeq = meta.UptoSeq
	}
	if uptoSeq < snap.LastSegmentSeq {
		bySeq, _, err := r.m.segments.getRange(ctx, uptoSeq+1, snap.LastSegmentSeq)
		if err != nil {
			return nil, err
		}
		seqs := make([]uint64, 0, len(bySeq))
		for seq := range bySeq {
			seqs = append(seqs, seq)
		}
		sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
		for _, seq := range seqs {
			for _, rec := range bySeq[seq] {
				if !inRange(rec.Key, start, end) {
					continue
				}
				merged[string(rec.Key)] = ScanEntry{Key: rec.Key, Op: rec.Op, Value: rec.Value}
			}
		}
	}

	out := make([]ScanEntry, 0, len(merged))
	for _, e := range merged {
		if e.Op == OpDel {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Key) < string(out[j].Key) })
	return out, nil
}

func inRange(key, start, end []byte) bool {
	if start != nil && string(key) < string(start) {
		return false
	}
	if len(end) > 0 && string(key) >= string(end) {
		return false
	}
	return true
}

// End implements §4.3's end(): delete the lease. Idempotent.
func (r *ReadSession) End(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return nil
	}
	r.ended = true
	return r.m.leases.delete(ctx, r.sessionID)
}

// SnapshotTxnID returns the transaction id this session's view is pinned to.
func (r *ReadSession) SnapshotTxnID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot.LastTxnID
}
