package manifest_test

import (
	"context"
	"testing"

	pkgerrors "github.com/pkg/errors"

	"github.com/fusio-io/fusio-manifest/manifest"
	"github.com/fusio-io/fusio-manifest/objstore/memstore"
)

func newTestManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	store, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	m := manifest.Open(store, manifest.Config{Prefix: "P/"}, nil)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m
}

// Scenario 1 (§8): single writer, read-your-writes.
func TestSingleWriterReadYourWrites(t *testing.T) {
	ctx := context.Background()
	m := newTestManifest(t)

	w, err := m.OpenWrite(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastTxnID != 1 || snap.LastSegmentSeq != 1 {
		t.Fatalf("got %+v, want {LastTxnID:1 LastSegmentSeq:1}", snap)
	}

	r, err := m.OpenRead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer r.End(ctx)

	v, err := r.Get(ctx, []byte("a"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "1" {
		t.Fatalf("got %q, want %q", v, "1")
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	ctx := context.Background()
	m := newTestManifest(t)

	w, _ := m.OpenWrite(ctx)
	w.Put([]byte("a"), []byte("1"))
	if err := w.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	w2, _ := m.OpenWrite(ctx)
	w2.Delete([]byte("a"))
	if err := w2.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	r, _ := m.OpenRead(ctx)
	defer r.End(ctx)
	if _, err := r.Get(ctx, []byte("a")); !pkgerrors.Is(err, manifest.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

// Scenario 2 (§8): two writers, linearizable commit.
func TestTwoWritersOneWins(t *testing.T) {
	ctx := context.Background()
	m := newTestManifest(t)

	x, err := m.OpenWrite(ctx)
	if err != nil {
		t.Fatal(err)
	}
	y, err := m.OpenWrite(ctx)
	if err != nil {
		t.Fatal(err)
	}

	x.Put([]byte("x"), []byte("1"))
	y.Put([]byte("y"), []byte("1"))

	errX := x.Commit(ctx)
	errY := y.Commit(ctx)

	winners, conflicts := 0, 0
	for _, err := range []error{errX, errY} {
		switch {
		case err == nil:
			winners++
		case pkgerrors.Is(err, manifest.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 || conflicts != 1 {
		t.Fatalf("got winners=%d conflicts=%d, want 1 and 1", winners, conflicts)
	}

	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastTxnID != 1 || snap.LastSegmentSeq != 1 {
		t.Fatalf("got %+v", snap)
	}

	// The loser never wrote a segment at all: both sessions shared the same
	// snapshot and so staged the same next seq, and the loser's segment PUT
	// itself collided (see TestRecoverOrphansDeletesUnlinkedSegment for a
	// genuine orphan, which requires a writer to crash between its segment
	// PUT and its HEAD CAS). This open_write is just exercising that the
	// no-op orphan scan doesn't error on a clean HEAD.
	deleted, err := m.OpenWrite(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_ = deleted.End(ctx)
}

// Scenario 3 (§8): snapshot isolation.
func TestReaderDoesNotSeeLaterCommit(t *testing.T) {
	ctx := context.Background()
	m := newTestManifest(t)

	w, _ := m.OpenWrite(ctx)
	w.Put([]byte("k"), []byte("before"))
	if err := w.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	r, err := m.OpenRead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer r.End(ctx)

	w2, _ := m.OpenWrite(ctx)
	w2.Put([]byte("k"), []byte("after"))
	if err := w2.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	v, err := r.Get(ctx, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "before" {
		t.Fatalf("got %q, want %q (snapshot isolation violated)", v, "before")
	}
}

// §8: repeated orphan recovery on the same HEAD state is a no-op after the
// first run. (Genuine orphan-segment reclamation is covered by
// TestRecoverOrphansDeletesUnlinkedSegment in package manifest, which can
// simulate the crash-before-HEAD-CAS case this black-box test cannot.)
func TestOrphanRecoveryIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManifest(t)

	x, _ := m.OpenWrite(ctx)
	y, _ := m.OpenWrite(ctx)
	x.Put([]byte("x"), []byte("1"))
	y.Put([]byte("y"), []byte("1"))
	_ = x.Commit(ctx)
	_ = y.Commit(ctx) // one of these collides at the segment PUT, no HEAD change

	w1, err := m.OpenWrite(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_ = w1.End(ctx)

	w2, err := m.OpenWrite(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_ = w2.End(ctx)

	snap, err := m.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastTxnID != 1 || snap.LastSegmentSeq != 1 {
		t.Fatalf("got %+v", snap)
	}
}

func TestInvalidStateOnDoubleCommit(t *testing.T) {
	ctx := context.Background()
	m := newTestManifest(t)

	w, _ := m.OpenWrite(ctx)
	w.Put([]byte("a"), []byte("1"))
	if err := w.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(ctx); !pkgerrors.Is(err, manifest.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestInitializeTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	m := newTestManifest(t)
	if err := m.Initialize(ctx); !pkgerrors.Is(err, manifest.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}
