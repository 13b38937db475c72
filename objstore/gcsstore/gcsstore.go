// Package gcsstore adapts Google Cloud Storage to objstore.Store. GCS has no
// ETag-based conditional write, but its object "generation" number plays the
// identical role: PutIfMatch(IfNotExists) becomes Conditions{DoesNotExist:
// true}, and PutIfMatch(IfMatch(tag)) becomes Conditions{GenerationMatch:
// <tag as int64>} — the generation number IS the ETag the core hands back
// and later supplies on the next CAS.
package gcsstore

import (
	"context"
	"errors"
	"io"
	"strconv"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/fusio-io/fusio-manifest/internal/xlog"
	"github.com/fusio-io/fusio-manifest/objstore"
)

// Store adapts one GCS bucket to objstore.Store.
type Store struct {
	bucket *storage.BucketHandle
}

// New constructs a Store for the given bucket name using a caller-supplied
// *storage.Client (so the embedding application controls auth/credentials).
func New(client *storage.Client, bucket string) *Store {
	return &Store{bucket: client.Bucket(bucket)}
}

func (s *Store) Get(ctx context.Context, key string) (objstore.Object, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return objstore.Object{}, objstore.ErrNotFound
		}
		return objstore.Object{}, classify(err)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return objstore.Object{}, classify(err)
	}
	return objstore.Object{Body: body, ETag: strconv.FormatInt(r.Attrs.Generation, 10)}, nil
}

func (s *Store) PutIfMatch(ctx context.Context, key string, body []byte, pre objstore.Precondition) (string, error) {
	obj := s.bucket.Object(key)
	switch pre.Kind {
	case objstore.PreconditionIfNotExists:
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	case objstore.PreconditionIfMatch:
		gen, err := strconv.ParseInt(pre.Tag, 10, 64)
		if err != nil {
			return "", objstore.ErrPreconditionFailed
		}
		obj = obj.If(storage.Conditions{GenerationMatch: gen})
	}

	w := obj.NewWriter(ctx)
	if _, err := w.Write(body); err != nil {
		w.Close()
		return "", classify(err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return "", objstore.ErrPreconditionFailed
		}
		return "", classify(err)
	}
	return strconv.FormatInt(w.Attrs().Generation, 10), nil
}

func (s *Store) List(ctx context.Context, prefix string, startAfter string) ([]objstore.Entry, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix, StartOffset: startAfter})
	var entries []objstore.Entry
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classify(err)
		}
		if attrs.Name <= startAfter {
			continue
		}
		entries = append(entries, objstore.Entry{Key: attrs.Name, Size: attrs.Size})
	}
	return entries, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return classify(err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 412 || apiErr.Code == 409
	}
	return false
}

func classify(err error) error {
	xlog.Warningf("gcsstore: %v", err)
	return objstore.ErrUnavailable
}
