package manifest

import (
	"context"
	"math/rand"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/fusio-io/fusio-manifest/internal/xlog"
	"github.com/fusio-io/fusio-manifest/xact"
)

// checkpointerTask wraps Manifest.RunCheckpointer as a xact.Task, the
// "Checkpointer... background processes" of §2 component 10 and §9's
// "independent loops."
type checkpointerTask struct {
	xact.Base
	m *Manifest
}

// NewCheckpointerTask returns a Task that folds a new checkpoint on every
// tick when one is due; a tick with nothing to fold is a cheap no-op
// (checkpointer.run returns "" with a nil error).
func NewCheckpointerTask(m *Manifest) xact.Task {
	t := &checkpointerTask{m: m}
	t.Init("checkpointer")
	return t
}

func (t *checkpointerTask) Tick(ctx context.Context) error {
	id, err := t.m.RunCheckpointer(ctx)
	if err != nil {
		if pkgerrors.Is(err, ErrConflict) {
			return nil // another checkpointer won the link race; benign
		}
		t.AddErr(err)
		return err
	}
	if id != "" {
		xlog.Infof("manifest: checkpointer linked %s", id)
	}
	return nil
}

// gcTask wraps Manifest.RunGC as a xact.Task (§2 component 11).
type gcTask struct {
	xact.Base
	m *Manifest
}

// NewGCTask returns a Task that runs one GC cycle per tick.
func NewGCTask(m *Manifest) xact.Task {
	t := &gcTask{m: m}
	t.Init("gc")
	return t
}

func (t *gcTask) Tick(ctx context.Context) error {
	if err := t.m.RunGC(ctx); err != nil {
		if pkgerrors.Is(err, ErrConflict) {
			return nil // another coordinator already holds gc/PLAN; benign
		}
		t.AddErr(err)
		return err
	}
	return nil
}

// leaseKeeperTask renews one ReadSession's lease at jittered TTL/2 intervals
// for as long as the session is open, per §4.3's optional lease keeper,
// implemented here as a first-class background task rather than left to
// the embedding application.
type leaseKeeperTask struct {
	xact.Base
	session *ReadSession
}

// NewLeaseKeeperTask returns a Task that keeps session's lease alive. The
// caller is responsible for stopping the task (via the Runner) no later
// than calling session.End.
func NewLeaseKeeperTask(session *ReadSession) xact.Task {
	t := &leaseKeeperTask{session: session}
	t.Init("lease-keeper")
	return t
}

func (t *leaseKeeperTask) Tick(ctx context.Context) error {
	if err := t.session.Renew(ctx); err != nil {
		if pkgerrors.Is(err, ErrInvalidState) {
			t.Finish() // session already ended; stop ticking
			return nil
		}
		t.AddErr(err)
		return err
	}
	return nil
}

// minLeaseKeeperInterval floors the renewal interval so a zero or
// near-zero LeaseTTL (as used by some GC tests) never reaches
// time.NewTicker with a non-positive duration.
const minLeaseKeeperInterval = time.Second

// LeaseKeeperInterval picks a renewal interval jittered around TTL/2, so
// many sessions opened at once don't all renew in lockstep.
func LeaseKeeperInterval(ttl time.Duration) time.Duration {
	half := ttl / 2
	quarter := int64(half) / 4
	if quarter <= 0 {
		if half < minLeaseKeeperInterval {
			return minLeaseKeeperInterval
		}
		return half
	}
	jitter := time.Duration(rand.Int63n(quarter))
	if result := half - jitter/2; result >= minLeaseKeeperInterval {
		return result
	}
	return minLeaseKeeperInterval
}
