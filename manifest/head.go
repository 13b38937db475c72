package manifest

import (
	"context"

	pkgerrors "github.com/pkg/errors"

	"github.com/fusio-io/fusio-manifest/internal/xlog"
	"github.com/fusio-io/fusio-manifest/objstore"
)

// Head is the single mutable object whose CAS linearizes every commit (§3).
type Head struct {
	LastTxnID      uint64  `json:"last_txn_id"`
	LastSegmentSeq uint64  `json:"last_segment_seq"`
	CheckpointID   *string `json:"checkpoint_id,omitempty"`
}

// headStore reads and CAS-writes the HEAD object. It owns no state of its
// own beyond the object-store handle; every value it returns carries the
// ETag it was read/written at, per §4.6's CAS discipline.
type headStore struct {
	store  objstore.Store
	prefix string
}

func newHeadStore(store objstore.Store, prefix string) *headStore {
	return &headStore{store: store, prefix: prefix}
}

// load reads HEAD. Returns ErrNotInitialized if absent.
func (h *headStore) load(ctx context.Context) (Head, string, error) {
	obj, err := h.store.Get(ctx, headKey(h.prefix))
	if err != nil {
		if pkgerrors.Is(err, objstore.ErrNotFound) {
			return Head{}, "", ErrNotInitialized
		}
		return Head{}, "", pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	var head Head
	if err := jsonc.Unmarshal(obj.Body, &head); err != nil {
		return Head{}, "", pkgerrors.Wrap(ErrCorrupted, "head: "+err.Error())
	}
	return head, obj.ETag, nil
}

// initialize creates HEAD at {0,0} with an IfNotExists precondition. Two
// racing callers: exactly one succeeds, the other observes ErrConflict.
func (h *headStore) initialize(ctx context.Context) error {
	body, err := jsonc.Marshal(Head{})
	if err != nil {
		return pkgerrors.Wrap(ErrCorrupted, err.Error())
	}
	_, err = h.store.PutIfMatch(ctx, headKey(h.prefix), body, objstore.IfNotExists())
	if err != nil {
		if pkgerrors.Is(err, objstore.ErrPreconditionFailed) {
			return ErrConflict
		}
		return pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	return nil
}

// casUpdate writes next with an IfMatch(etag) precondition. On precondition
// failure it returns ErrConflict — benign, the caller reloads a snapshot and
// restarts (§4.6).
func (h *headStore) casUpdate(ctx context.Context, next Head, etag string) (newEtag string, err error) {
	body, err := jsonc.Marshal(next)
	if err != nil {
		return "", pkgerrors.Wrap(ErrCorrupted, err.Error())
	}
	newEtag, err = h.store.PutIfMatch(ctx, headKey(h.prefix), body, objstore.IfMatch(etag))
	if err != nil {
		if pkgerrors.Is(err, objstore.ErrPreconditionFailed) {
			return "", ErrConflict
		}
		xlog.Warningf("head: cas update failed: %v", err)
		return "", pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	return newEtag, nil
}
