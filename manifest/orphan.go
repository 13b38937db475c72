package manifest

import (
	"context"

	"github.com/fusio-io/fusio-manifest/internal/xlog"
)

// recoverOrphans implements §4.7. Invoked at the start of every write
// session; safe to call speculatively from read paths too (it performs no
// HEAD mutation under the default delete policy, so it cannot race a
// reader's own snapshot).
//
// Returns the number of orphan segments deleted. The default policy is
// delete, not adopt (§9 open question (a)): adopting would require proving
// the orphan's txn_id and staged operations are still the writer's to
// claim, which the core has no way to verify once that writer's process
// may be gone.
func (m *Manifest) recoverOrphans(ctx context.Context, afterSeq uint64) (int, error) {
	seqs, err := m.segments.listAfter(ctx, afterSeq)
	if err != nil {
		return 0, err
	}
	if len(seqs) == 0 {
		return 0, nil
	}
	deleted := 0
	for _, seq := range seqs {
		if err := m.segments.delete(ctx, seq); err != nil {
			return deleted, err
		}
		deleted++
	}
	if xlog.FastV(xlog.LevelVerbose, "orphan") {
		xlog.Infof("manifest: orphan recovery deleted %d segment(s) above seq=%d", deleted, afterSeq)
	}
	m.metrics.orphansDeleted.Add(float64(deleted))
	return deleted, nil
}
