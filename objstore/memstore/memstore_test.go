package memstore_test

import (
	"context"
	"testing"

	"github.com/fusio-io/fusio-manifest/objstore"
	"github.com/fusio-io/fusio-manifest/objstore/memstore"
)

func TestGetNotFound(t *testing.T) {
	s, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Get(context.Background(), "missing"); err != objstore.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestPutIfMatchIfNotExists(t *testing.T) {
	s, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	etag, err := s.PutIfMatch(ctx, "k", []byte("v1"), objstore.IfNotExists())
	if err != nil {
		t.Fatal(err)
	}
	if etag == "" {
		t.Fatal("expected non-empty etag")
	}

	if _, err := s.PutIfMatch(ctx, "k", []byte("v2"), objstore.IfNotExists()); err != objstore.ErrPreconditionFailed {
		t.Fatalf("got %v, want ErrPreconditionFailed", err)
	}
}

func TestPutIfMatchTag(t *testing.T) {
	s, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	etag1, err := s.PutIfMatch(ctx, "k", []byte("v1"), objstore.IfNotExists())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.PutIfMatch(ctx, "k", []byte("v2"), objstore.IfMatch("wrong")); err != objstore.ErrPreconditionFailed {
		t.Fatalf("got %v, want ErrPreconditionFailed", err)
	}

	etag2, err := s.PutIfMatch(ctx, "k", []byte("v2"), objstore.IfMatch(etag1))
	if err != nil {
		t.Fatal(err)
	}
	if etag2 == etag1 {
		t.Fatal("expected etag to change after a successful write")
	}

	obj, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(obj.Body) != "v2" || obj.ETag != etag2 {
		t.Fatalf("got %+v", obj)
	}
}

func TestListOrderAndStartAfter(t *testing.T) {
	s, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	for _, k := range []string{"p/b", "p/a", "p/c", "q/x"} {
		if _, err := s.PutIfMatch(ctx, k, []byte(k), objstore.IfNotExists()); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List(ctx, "p/", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Key != "p/a" || entries[1].Key != "p/b" || entries[2].Key != "p/c" {
		t.Fatalf("got out-of-order entries: %+v", entries)
	}

	entries, err = s.List(ctx, "p/", "p/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Key != "p/b" {
		t.Fatalf("got %+v", entries)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	if _, err := s.PutIfMatch(ctx, "k", []byte("v"), objstore.IfNotExists()); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != objstore.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
