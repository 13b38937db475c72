package manifest

import "context"

// Snapshot fixes a reader's or writer's view per the Glossary: "an (etag,
// last_txn_id, last_segment_seq, checkpoint_id?) tuple."
type Snapshot struct {
	HeadEtag       string
	LastTxnID      uint64
	LastSegmentSeq uint64
	CheckpointID   *string

	// checkpointMeta is populated by checkpoint() the first time the
	// checkpoint's upto_seq/upto_txn_id is needed (openRead does so eagerly
	// to fill in its lease); the
	// payload itself is fetched lazier still (§4.1: "payload is fetched
	// lazily").
	checkpointMeta *CheckpointMeta
}

// loadSnapshot implements §4.1: read HEAD, and if checkpoint_id is set,
// nothing more is fetched here — checkpoint metadata is read on first use.
func (m *Manifest) loadSnapshot(ctx context.Context) (Snapshot, error) {
	head, etag, err := m.heads.load(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		HeadEtag:       etag,
		LastTxnID:      head.LastTxnID,
		LastSegmentSeq: head.LastSegmentSeq,
		CheckpointID:   head.CheckpointID,
	}, nil
}

// checkpoint lazily loads and caches this snapshot's checkpoint metadata.
// Returns (nil, nil) if the snapshot has no linked checkpoint.
func (s *Snapshot) checkpoint(ctx context.Context, m *Manifest) (*CheckpointMeta, error) {
	if s.CheckpointID == nil {
		return nil, nil
	}
	if s.checkpointMeta != nil {
		return s.checkpointMeta, nil
	}
	meta, err := m.checkpoints.loadMeta(ctx, *s.CheckpointID)
	if err != nil {
		return nil, err
	}
	s.checkpointMeta = &meta
	return s.checkpointMeta, nil
}
