// Package memstore is an in-process objstore.Store fake backed by
// github.com/tidwall/buntdb, an embedded ACID key/value store. It exists for
// unit tests and for local/single-process experimentation with the manifest
// core; it is not a distributed store, and the generation counter it keeps
// per key stands in for the ETag an object store would hand back.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/buntdb"

	"github.com/fusio-io/fusio-manifest/objstore"
)

// record is what's actually stored at a key: the body plus the generation it
// was written at. Encoded as "<gen>\n<body>" so a single buntdb value holds
// both — buntdb indexes/values are strings, not structs.
const sep = "\n"

// Store is an in-memory objstore.Store. The zero value is not usable; use
// New. Safe for concurrent use (buntdb serializes transactions internally,
// but PutIfMatch's read-check-write needs to be one atomic unit, so callers
// also take s.mu).
type Store struct {
	mu sync.Mutex
	db *buntdb.DB
}

// New opens a fresh, empty in-memory store.
func New() (*Store, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("memstore: open: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying buntdb handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (objstore.Object, error) {
	var obj objstore.Object
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if err != nil {
			if err == buntdb.ErrNotFound {
				return objstore.ErrNotFound
			}
			return err
		}
		gen, body := split(val)
		obj = objstore.Object{Body: []byte(body), ETag: gen}
		return nil
	})
	if err != nil {
		return objstore.Object{}, err
	}
	return obj, nil
}

func (s *Store) PutIfMatch(ctx context.Context, key string, body []byte, pre objstore.Precondition) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newEtag string
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := tx.Get(key)
		exists := err == nil
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}

		switch pre.Kind {
		case objstore.PreconditionIfNotExists:
			if exists {
				return objstore.ErrPreconditionFailed
			}
		case objstore.PreconditionIfMatch:
			if !exists {
				return objstore.ErrPreconditionFailed
			}
			curGen, _ := split(cur)
			if curGen != pre.Tag {
				return objstore.ErrPreconditionFailed
			}
		}

		nextGen := 1
		if exists {
			curGen, _ := split(cur)
			n, _ := strconv.Atoi(curGen)
			nextGen = n + 1
		}
		newEtag = strconv.Itoa(nextGen)
		_, _, err = tx.Set(key, join(newEtag, string(body)), nil)
		return err
	})
	if err != nil {
		if err == objstore.ErrPreconditionFailed {
			return "", objstore.ErrPreconditionFailed
		}
		return "", err
	}
	return newEtag, nil
}

func (s *Store) List(ctx context.Context, prefix string, startAfter string) ([]objstore.Entry, error) {
	var entries []objstore.Entry
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(key, val string) bool {
			if key <= startAfter {
				return true
			}
			_, body := split(val)
			entries = append(entries, objstore.Entry{Key: key, Size: int64(len(body))})
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	return err
}

func join(gen, body string) string {
	return gen + sep + body
}

func split(val string) (gen, body string) {
	i := strings.Index(val, sep)
	if i < 0 {
		return val, ""
	}
	return val[:i], val[i+1:]
}
