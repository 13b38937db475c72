package manifest_test

import (
	"context"
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"

	"github.com/fusio-io/fusio-manifest/manifest"
	"github.com/fusio-io/fusio-manifest/objstore/memstore"
)

// Scenario 4 (§8): checkpoint fold correctness. Segments 1..10 contain a mix
// of Puts and a Del; the checkpoint's answer for a key must match what a
// reader computes purely from segments.
func TestCheckpointFoldCorrectness(t *testing.T) {
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

	commit := func(k, v string, del bool) {
		w, err := m.OpenWrite(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if del {
			if err := w.Delete([]byte(k)); err != nil {
				t.Fatal(err)
			}
		} else {
			if err := w.Put([]byte(k), []byte(v)); err != nil {
				t.Fatal(err)
			}
		}
		if err := w.Commit(ctx); err != nil {
			t.Fatalf("commit %s: %v", k, err)
		}
	}

	commit("a", "1", false)
	commit("b", "2", false)
	commit("a", "", true)
	for i := 0; i < 7; i++ {
		commit(fmt.Sprintf("filler-%d", i), "x", false)
	}

	id, err := m.RunCheckpointer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a checkpoint to be folded")
	}

	r, err := m.OpenRead(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer r.End(ctx)

	if _, err := r.Get(ctx, []byte("a")); !pkgerrors.Is(err, manifest.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound for deleted key a", err)
	}
	v, err := r.Get(ctx, []byte("b"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "2" {
		t.Fatalf("got %q, want %q", v, "2")
	}
}

func TestCheckpointerNoOpWhenNothingNewToFold(t *testing.T) {
	ctx := context.Background()
	store, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	m := manifest.Open(store, manifest.Config{Prefix: "P/"}, nil)
	if err := m.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	id, err := m.RunCheckpointer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Fatalf("expected no checkpoint on an empty manifest, got %q", id)
	}
}
