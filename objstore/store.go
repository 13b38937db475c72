// Package objstore defines the object-store seam that the manifest core is
// built on top of, and nothing else: one small interface carrying exactly the
// primitives spec'd for the core (conditional PUT, strongly consistent GET,
// prefix LIST, idempotent DELETE), plus the precondition vocabulary those
// calls are predicated on. Concrete adapters (S3, GCS, Azure Blob, and an
// in-memory fake for tests) live in subpackages; nothing in this package
// talks to a network.
package objstore

import (
	"context"
	"errors"
)

// PreconditionKind selects which conditional-write semantics a PutIfMatch
// call is predicated on.
type PreconditionKind int

const (
	// PreconditionNone performs an unconditional PUT (overwrite whatever is
	// there, or create). The core uses it only for lease writes, since a
	// session only ever writes its own lease key; HEAD, segment, checkpoint
	// and gc-plan writes are all conditional PUTs.
	PreconditionNone PreconditionKind = iota
	// PreconditionIfNotExists requires the object to not currently exist.
	PreconditionIfNotExists
	// PreconditionIfMatch requires the object's current ETag to equal Tag.
	PreconditionIfMatch
)

// Precondition is the conditional-write predicate passed to PutIfMatch.
type Precondition struct {
	Kind PreconditionKind
	Tag  string // meaningful only when Kind == PreconditionIfMatch
}

// None is the zero-value, unconditional precondition.
func None() Precondition { return Precondition{Kind: PreconditionNone} }

// IfNotExists requires the target key to be absent.
func IfNotExists() Precondition { return Precondition{Kind: PreconditionIfNotExists} }

// IfMatch requires the target key's current ETag to equal tag.
func IfMatch(tag string) Precondition { return Precondition{Kind: PreconditionIfMatch, Tag: tag} }

// Object is the result of a Get: the object's bytes plus the ETag they were
// read at. The ETag is the sole CAS token the core ever reasons about.
type Object struct {
	Body []byte
	ETag string
}

// Entry is one row of a List result.
type Entry struct {
	Key  string
	Size int64
}

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("objstore: not found")
	// ErrPreconditionFailed is returned by PutIfMatch when the supplied
	// Precondition does not hold against the object store's current state.
	ErrPreconditionFailed = errors.New("objstore: precondition failed")
	// ErrUnavailable is returned once an adapter's bounded retry policy for
	// transient faults is exhausted.
	ErrUnavailable = errors.New("objstore: unavailable")
)

// Store is the complete set of object-store primitives the manifest core
// depends on. Every method must honor strong read-after-write consistency:
// a Get immediately following a successful PutIfMatch/Delete on the same key,
// anywhere in the system, must observe the write.
type Store interface {
	// Get returns the object's bytes and ETag, or ErrNotFound.
	Get(ctx context.Context, key string) (Object, error)

	// PutIfMatch writes body to key if pre holds, returning the new ETag.
	// Returns ErrPreconditionFailed if it does not, without performing the
	// write.
	PutIfMatch(ctx context.Context, key string, body []byte, pre Precondition) (etag string, err error)

	// List returns entries with the given prefix in lexicographic key order,
	// starting strictly after startAfter (empty for "from the beginning").
	List(ctx context.Context, prefix string, startAfter string) ([]Entry, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
