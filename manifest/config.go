package manifest

import "time"

// Config is the small construction-time struct §6 calls for in place of a
// CLI or flag surface: "configuration (checkpoint cadence K, lease TTL, GC
// safety margin) is passed as a small struct at construction time."
type Config struct {
	// Prefix is the object-store key prefix owning one serializability
	// domain ("P/" in §6's layout diagram). Required.
	Prefix string

	// CheckpointEvery bounds HEAD.last_segment_seq - checkpoint.upto_seq:
	// the checkpointer targets folding once this many segments accumulate
	// past the current checkpoint (§4.4's policy constant K).
	CheckpointEvery uint64

	// CheckpointSafetyMargin is subtracted from last_segment_seq when
	// picking target_upto_seq, keeping a few of the newest segments out of
	// the fold so readers mid-snapshot-load don't race a checkpoint that
	// just subsumed the segment they're about to list (§4.4 step 1).
	CheckpointSafetyMargin uint64

	// LeaseTTL is the nominal lifetime of a lease before it needs renewal.
	LeaseTTL time.Duration

	// LeaseGrace is added to LeaseTTL before a lease is considered dead by
	// GC (§3: "considered invalid past expires_at + grace").
	LeaseGrace time.Duration

	// GCInterval is the background GC coordinator's poll period.
	GCInterval time.Duration

	// GCSafetyMargin additionally holds back floor_snapshot_txn_id by this
	// many transactions below the minimum live lease watermark, absorbing
	// clock skew between the lease's wall-clock expires_at hint and the
	// GC coordinator's own read of it (§4.5 names the floor a policy
	// choice, not a correctness parameter).
	GCSafetyMargin uint64

	// RetryMaxAttempts bounds the adapter-level retry policy referenced by
	// §7's "retried... with bounded backoff"; object-store adapters that
	// accept a MaxAttempts knob (s3store.Config.MaxAttempts) are
	// constructed from this field by the embedding application, not by
	// Config itself — Config only carries the number so it can be logged
	// and surfaced via metrics labels consistently.
	RetryMaxAttempts int
}

// WithDefaults returns a copy of cfg with zero-valued fields set to the
// package's recommended defaults. It does not mutate cfg.
func (cfg Config) WithDefaults() Config {
	out := cfg
	if out.CheckpointEvery == 0 {
		out.CheckpointEvery = 256
	}
	if out.CheckpointSafetyMargin == 0 {
		out.CheckpointSafetyMargin = 8
	}
	if out.LeaseTTL == 0 {
		out.LeaseTTL = 30 * time.Second
	}
	if out.LeaseGrace == 0 {
		out.LeaseGrace = 10 * time.Second
	}
	if out.GCInterval == 0 {
		out.GCInterval = 5 * time.Minute
	}
	if out.RetryMaxAttempts == 0 {
		out.RetryMaxAttempts = 3
	}
	return out
}
