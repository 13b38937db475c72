// Package segmentcache is an in-process, size-bounded cache of immutable
// objects. The manifest uses it for decoded segment records, shared by every
// read session in one process, so concurrent readers at nearby snapshots
// don't each re-fetch the same object-store bytes; checkpoint payloads are
// not cached. It is adapted
// from the teacher's own fuse/fs namespace cache: that cache held mutable
// filesystem metadata and needed explicit invalidation on rename/unlink;
// this one holds strictly immutable payloads (a committed segment or a
// linked checkpoint payload never changes), so there is no invalidation
// path at all — only admission and eviction.
package segmentcache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache maps string keys to cached values of type V — callers pick what V
// is (the manifest stores decoded segments).
type Cache[V any] struct {
	lru *lru.Cache[string, V]
}

// New constructs a Cache holding at most size entries, evicting least-
// recently-used first. Panics only if size <= 0, which no caller in this
// module ever passes.
func New[V any](size int) *Cache[V] {
	c, err := lru.New[string, V](size)
	if err != nil {
		panic(err)
	}
	return &Cache[V]{lru: c}
}

// Get returns the cached value for key, if present.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Add inserts or updates key's cached value.
func (c *Cache[V]) Add(key string, value V) {
	c.lru.Add(key, value)
}

// Remove evicts key, if present. Used when a cached object is deleted from
// the underlying store (e.g. orphan recovery, GC) so a stale hit can never
// be served after the object itself is gone.
func (c *Cache[V]) Remove(key string) {
	c.lru.Remove(key)
}

// Len returns the number of entries currently cached.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}
