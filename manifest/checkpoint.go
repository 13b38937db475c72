package manifest

import (
	"context"
	"sort"

	cuckoo "github.com/seiflotfy/cuckoofilter"
	pkgerrors "github.com/pkg/errors"

	"github.com/fusio-io/fusio-manifest/objstore"
)

// CheckpointMeta is the metadata object linked from HEAD.checkpoint_id
// (§3): "{id, upto_txn_id, upto_seq, payload_location}".
type CheckpointMeta struct {
	ID              string `json:"id"`
	UptoTxnID       uint64 `json:"upto_txn_id"`
	UptoSeq         uint64 `json:"upto_seq"`
	PayloadLocation string `json:"payload_location"`

	// Filter is an optional cuckoofilter.Encode() blob over every live key
	// as of UptoTxnID. get(k) consults it before fetching the payload,
	// short-circuiting to NotFound on a negative when no segment in range
	// mentions k either. Absent (nil) for checkpoints folded before this
	// field existed, or when filter construction is disabled.
	Filter []byte `json:"filter,omitempty"`
}

// checkpointStore reads and writes checkpoint metadata/payload pairs (§2
// component 3).
type checkpointStore struct {
	store  objstore.Store
	prefix string
}

func newCheckpointStore(store objstore.Store, prefix string) *checkpointStore {
	return &checkpointStore{store: store, prefix: prefix}
}

func (c *checkpointStore) loadMeta(ctx context.Context, id string) (CheckpointMeta, error) {
	obj, err := c.store.Get(ctx, checkpointMetaKey(c.prefix, id))
	if err != nil {
		if pkgerrors.Is(err, objstore.ErrNotFound) {
			return CheckpointMeta{}, ErrNotFound
		}
		return CheckpointMeta{}, pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	var meta CheckpointMeta
	if err := jsonc.Unmarshal(obj.Body, &meta); err != nil {
		return CheckpointMeta{}, pkgerrors.Wrap(ErrCorrupted, "checkpoint meta: "+err.Error())
	}
	return meta, nil
}

func (c *checkpointStore) loadPayload(ctx context.Context, meta CheckpointMeta) (map[string]CheckpointEntry, error) {
	obj, err := c.store.Get(ctx, meta.PayloadLocation)
	if err != nil {
		if pkgerrors.Is(err, objstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, pkgerrors.Wrap(ErrUnavailable, err.Error())
	}
	return decodeCheckpointPayload(obj.Body)
}

// write lays down a fresh checkpoint's payload then metadata, both under a
// freshly minted id; neither object is linked into HEAD yet (§4.4 step 3 —
// linking happens in a separate CAS in step 4).
func (c *checkpointStore) write(ctx context.Context, uptoTxnID, uptoSeq uint64, entries map[string]CheckpointEntry, withFilter bool) (CheckpointMeta, error) {
	id, err := newCheckpointID()
	if err != nil {
		return CheckpointMeta{}, pkgerrors.Wrap(ErrUnavailable, "checkpoint id: "+err.Error())
	}

	payload, err := encodeCheckpointPayload(entries)
	if err != nil {
		return CheckpointMeta{}, err
	}
	payloadKey := checkpointPayloadKey(c.prefix, id)
	if _, err := c.store.PutIfMatch(ctx, payloadKey, payload, objstore.IfNotExists()); err != nil {
		return CheckpointMeta{}, pkgerrors.Wrap(ErrUnavailable, "checkpoint payload put: "+err.Error())
	}

	meta := CheckpointMeta{ID: id, UptoTxnID: uptoTxnID, UptoSeq: uptoSeq, PayloadLocation: payloadKey}
	if withFilter {
		meta.Filter = buildFilter(entries)
	}
	metaBody, err := jsonc.Marshal(meta)
	if err != nil {
		return CheckpointMeta{}, pkgerrors.Wrap(ErrCorrupted, err.Error())
	}
	if _, err := c.store.PutIfMatch(ctx, checkpointMetaKey(c.prefix, id), metaBody, objstore.IfNotExists()); err != nil {
		return CheckpointMeta{}, pkgerrors.Wrap(ErrUnavailable, "checkpoint meta put: "+err.Error())
	}
	return meta, nil
}

func buildFilter(entries map[string]CheckpointEntry) []byte {
	live := 0
	for _, e := range entries {
		if e.Op == OpPut {
			live++
		}
	}
	if live == 0 {
		return nil
	}
	f := cuckoo.NewFilter(uint(live))
	for k, e := range entries {
		if e.Op == OpPut {
			f.InsertUnique([]byte(k))
		}
	}
	return f.Encode()
}

// mayContain consults meta.Filter, if present. A false return is a hard
// guarantee the key was never live as of UptoTxnID; a true return means
// "maybe" and the caller must still check the payload.
func mayContain(meta CheckpointMeta, key string) bool {
	if meta.Filter == nil {
		return true
	}
	f, _, err := cuckoo.Decode(meta.Filter)
	if err != nil || f == nil {
		return true
	}
	return f.Lookup([]byte(key))
}

// checkpointer implements §4.4's fold algorithm.
type checkpointer struct {
	m *Manifest
}

func newCheckpointer(m *Manifest) *checkpointer { return &checkpointer{m: m} }

// run performs one fold-and-link attempt, returning the new checkpoint's id
// if one was linked, or ("", nil) if folding was skipped: nothing new to
// fold, fewer than CheckpointEvery new segments, or CheckpointSafetyMargin
// leaving no segment past the prior checkpoint.
func (c *checkpointer) run(ctx context.Context) (string, error) {
	snap, err := c.m.loadSnapshot(ctx)
	if err != nil {
		return "", err
	}

	var priorUptoSeq uint64
	var priorUptoTxnID uint64
	prior, err := snap.checkpoint(ctx, c.m)
	if err != nil {
		return "", err
	}
	if prior != nil {
		priorUptoSeq = prior.UptoSeq
		priorUptoTxnID = prior.UptoTxnID
	}

	if snap.LastSegmentSeq <= priorUptoSeq {
		return "", nil // nothing to fold
	}
	if snap.LastSegmentSeq-priorUptoSeq < c.m.config.CheckpointEvery {
		return "", nil // not enough new segments yet (§4.4's cadence policy K)
	}

	target := snap.LastSegmentSeq
	if target > c.m.config.CheckpointSafetyMargin {
		target -= c.m.config.CheckpointSafetyMargin
	} else {
		target = 0
	}
	if target <= priorUptoSeq {
		return "", nil
	}

	entries := map[string]CheckpointEntry{}
	if prior != nil {
		base, err := c.m.checkpoints.loadPayload(ctx, *prior)
		if err != nil {
			return "", err
		}
		for k, v := range base {
			entries[k] = v
		}
	}

	segsBySeq, txnBySeq, err := c.m.segments.getRange(ctx, priorUptoSeq+1, target)
	if err != nil {
		return "", err
	}
	var targetTxnID uint64 = priorUptoTxnID
	seqs := make([]uint64, 0, len(segsBySeq))
	for seq := range segsBySeq {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		for _, rec := range segsBySeq[seq] {
			if rec.Op == OpPut {
				entries[string(rec.Key)] = CheckpointEntry{Op: OpPut, Value: rec.Value}
			} else {
				entries[string(rec.Key)] = CheckpointEntry{Op: OpDel}
			}
		}
		if txnBySeq[seq] > targetTxnID {
			targetTxnID = txnBySeq[seq]
		}
	}

	meta, err := c.m.checkpoints.write(ctx, targetTxnID, target, entries, true)
	if err != nil {
		return "", err
	}

	next := Head{LastTxnID: snap.LastTxnID, LastSegmentSeq: snap.LastSegmentSeq, CheckpointID: &meta.ID}
	if _, err := c.m.heads.casUpdate(ctx, next, snap.HeadEtag); err != nil {
		// Losing the link race leaves meta's payload/meta objects
		// unreferenced; GC will collect them (§4.4 step 4).
		return "", err
	}
	return meta.ID, nil
}
