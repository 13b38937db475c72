package manifest

import (
	"context"
	"testing"

	"github.com/fusio-io/fusio-manifest/objstore/memstore"
)

// A genuine orphan — a segment object written but never linked from HEAD —
// can only arise from a writer that crashes between its segment PUT and its
// HEAD CAS (§4.7); two WriteSessions racing the same snapshot instead
// collide at the segment PUT itself, since they compute the identical next
// seq (see manifest_test.go's TestTwoWritersOneWins). This file is in
// package manifest, not manifest_test, so it can reach segmentStore.put
// directly and simulate that crash.
func newOrphanTestManifest(t *testing.T) *Manifest {
	t.Helper()
	store, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	m := Open(store, Config{Prefix: "P/"}, nil)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRecoverOrphansDeletesUnlinkedSegment(t *testing.T) {
	ctx := context.Background()
	m := newOrphanTestManifest(t)

	// Simulate a writer that wrote its segment but crashed before the HEAD
	// CAS: HEAD is still at {0,0}, but segment 1 exists.
	if err := m.segments.put(ctx, 1, 1, []Record{{Key: []byte("a"), Op: OpPut, Value: []byte("1")}}); err != nil {
		t.Fatal(err)
	}

	n, err := m.recoverOrphans(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("got %d orphans deleted, want 1", n)
	}

	if _, _, err := m.segments.get(ctx, 1); err == nil {
		t.Fatal("expected the orphaned segment to be gone")
	}

	// Idempotent: a second pass over the same HEAD state finds nothing.
	n, err = m.recoverOrphans(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("got %d orphans on second pass, want 0", n)
	}
}

func TestGCReclaimsUnlinkedSegmentViaOrphanGap(t *testing.T) {
	ctx := context.Background()
	m := newOrphanTestManifest(t)

	if err := m.segments.put(ctx, 1, 1, []Record{{Key: []byte("a"), Op: OpPut, Value: []byte("1")}}); err != nil {
		t.Fatal(err)
	}

	if err := m.RunGC(ctx); err != nil {
		t.Fatal(err)
	}

	if _, _, err := m.segments.get(ctx, 1); err == nil {
		t.Fatal("expected GC to reclaim the orphaned segment via its gap-detection sub-phase")
	}
}
