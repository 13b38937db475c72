package manifest_test

import (
	"context"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/fusio-io/fusio-manifest/manifest"
	"github.com/fusio-io/fusio-manifest/objstore/memstore"
)

// §7: a read session whose lease has expired (and whose snapshot objects
// may already have been collected) must surface ErrSnapshotExpired from the
// read path itself, not just from Renew.
func TestGetReturnsSnapshotExpiredPastLeaseGrace(t *testing.T) {
	ctx := context.Background()
	store, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	m := manifest.Open(store, manifest.Config{Prefix: "P/", LeaseTTL: time.Millisecond, LeaseGrace: time.Millisecond}, nil)
	if err := m.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	w, _ := m.OpenWrite(ctx)
	w.Put([]byte("a"), []byte("1"))
	if err := w.Commit(ctx); err != nil {
		t.Fatal(err)
	}

	r, err := m.OpenRead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer r.End(ctx)

	time.Sleep(5 * time.Millisecond)

	if _, err := r.Get(ctx, []byte("a")); !pkgerrors.Is(err, manifest.ErrSnapshotExpired) {
		t.Fatalf("got %v, want ErrSnapshotExpired", err)
	}
	if _, err := r.Scan(ctx, nil, nil); !pkgerrors.Is(err, manifest.ErrSnapshotExpired) {
		t.Fatalf("got %v, want ErrSnapshotExpired", err)
	}
}

// §4.4/§4.5(b): a checkpoint a live reader is still pinned to must survive
// GC even once a newer checkpoint has superseded it as HEAD's current one.
func TestGCRespectsReaderPinnedToOldCheckpoint(t *testing.T) {
	ctx := context.Background()
	store, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	m := manifest.Open(store, manifest.Config{Prefix: "P/", CheckpointEvery: 1, CheckpointSafetyMargin: 0}, nil)
	if err := m.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	commit := func(k string) {
		w, err := m.OpenWrite(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Put([]byte(k), []byte("v")); err != nil {
			t.Fatal(err)
		}
		if err := w.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	commit("a")
	if _, err := m.RunCheckpointer(ctx); err != nil {
		t.Fatal(err)
	}

	// Reader pins the first checkpoint.
	r, err := m.OpenRead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer r.End(ctx)

	commit("b")
	if _, err := m.RunCheckpointer(ctx); err != nil {
		t.Fatal(err)
	}
	commit("c")

	if err := m.RunGC(ctx); err != nil {
		t.Fatal(err)
	}

	v, err := r.Get(ctx, []byte("a"))
	if err != nil {
		t.Fatalf("reader lost visibility into its pinned checkpoint's key: %v", err)
	}
	if string(v) != "v" {
		t.Fatalf("got %q", v)
	}
}
