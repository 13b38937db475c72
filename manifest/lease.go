package manifest

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/fusio-io/fusio-manifest/objstore"
)

// LeaseKind distinguishes reader from writer leases (§6).
type LeaseKind string

const (
	LeaseRead  LeaseKind = "Read"
	LeaseWrite LeaseKind = "Write"
)

// Lease pins a session's snapshot so GC never deletes anything it still
// needs (§3). A read session's snapshot.checkpoint_id is fixed at open() and
// never re-resolves to whatever HEAD's checkpoint later becomes (§4.3), so
// PinnedCheckpointID/PinnedUptoSeq record exactly what that frozen view
// still depends on: the specific checkpoint object (if any) it reads
// against, and the segment range below which that checkpoint already
// covers it. Write leases leave both zero — a write session never serves
// get/scan against old segments, so it has nothing beyond SnapshotTxnID to
// pin.
type Lease struct {
	SessionID     string    `json:"session_id"`
	SnapshotTxnID uint64    `json:"snapshot_txn_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	Kind          LeaseKind `json:"kind"`

	PinnedCheckpointID *string `json:"pinned_checkpoint_id,omitempty"`
	PinnedUptoSeq      uint64  `json:"pinned_upto_seq"`
}

// leaseStore manages the leases/<session_id>.lease objects (§2 component 5).
type leaseStore struct {
	store  objstore.Store
	prefix string
}

func newLeaseStore(store objstore.Store, prefix string) *leaseStore {
	return &leaseStore{store: store, prefix: prefix}
}

// create writes a fresh lease. Session ids are uuids, so collisions are not
// a realistic concern, but the write is still unconditional-overwrite-safe
// (PreconditionNone) since a session only ever writes its own lease key.
func (l *leaseStore) create(ctx context.Context, lease Lease) error {
	body, err := jsonc.Marshal(lease)
	if err != nil {
		return pkgerrors.Wrap(ErrCorrupted, err.Error())
	}
	if _, err := l.store.PutIfMatch(ctx, leaseKey(l.prefix, lease.SessionID), body, objstore.None()); err != nil {
		return pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	return nil
}

// renew rewrites the lease with a pushed-out ExpiresAt (§4.3's lease
// keeper). Same key, unconditional: only the owning session ever writes it.
func (l *leaseStore) renew(ctx context.Context, lease Lease) error {
	return l.create(ctx, lease)
}

// delete removes a session's lease. Idempotent (§4.3's end()).
func (l *leaseStore) delete(ctx context.Context, sessionID string) error {
	if err := l.store.Delete(ctx, leaseKey(l.prefix, sessionID)); err != nil {
		return pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	return nil
}

// list returns every currently-stored lease, live or expired; callers
// (GC) apply the expiry/grace check themselves against wall-clock "now".
func (l *leaseStore) list(ctx context.Context) ([]Lease, error) {
	entries, err := l.store.List(ctx, leasesDir(l.prefix), "")
	if err != nil {
		return nil, pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	leases := make([]Lease, 0, len(entries))
	for _, e := range entries {
		obj, err := l.store.Get(ctx, e.Key)
		if err != nil {
			if pkgerrors.Is(err, objstore.ErrNotFound) {
				continue // raced a concurrent end()/expiry delete
			}
			return nil, pkgerrors.Wrap(ErrUnavailable, err.Error())
		}
		var lease Lease
		if err := jsonc.Unmarshal(obj.Body, &lease); err != nil {
			continue // a corrupted lease is simply excluded from the watermark
		}
		leases = append(leases, lease)
	}
	return leases, nil
}
