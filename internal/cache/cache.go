// Package cache holds memoized lookups of collection metadata.
//
// A cache is never a source of truth. Entries are written when a
// transaction reads a row and dropped after any transaction that changes
// the row commits; InvalidateAfterCommit is the only supported way to
// drop them from a transaction.
package cache

import (
	"fmt"
	"sync"
)

// Cacher stores opaque values under string keys.
//
// Every Delete advances the cache's epoch. A reader that captured the
// epoch before reading from the database fills the cache with
// SetIfUnchanged, which refuses keys deleted since; an invalidation that
// runs before a slower reader commits can then not be undone by it.
type Cacher interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Epoch() uint64
	SetIfUnchanged(key string, value any, epoch uint64) bool
}

// Memory is an in-process Cacher.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]any

	// epoch counts deletes; deleted holds the epoch of each key's last
	// delete.
	epoch   uint64
	deleted map[string]uint64
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]any),
		deleted: make(map[string]uint64),
	}
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

func (m *Memory) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.deleted[key] = m.epoch
	delete(m.entries, key)
}

// Epoch returns the number of deletes so far.
func (m *Memory) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// SetIfUnchanged stores value unless key was deleted after epoch.
func (m *Memory) SetIfUnchanged(key string, value any, epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleted[key] > epoch {
		return false
	}
	m.entries[key] = value
	return true
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Nop caches nothing.
type Nop struct{}

func (Nop) Get(string) (any, bool)                  { return nil, false }
func (Nop) Set(string, any)                         {}
func (Nop) Delete(string)                           {}
func (Nop) Epoch() uint64                           { return 0 }
func (Nop) SetIfUnchanged(string, any, uint64) bool { return false }

// Committer is the part of a transaction the cache needs.
type Committer interface {
	PostCommit(fn func())
}

// InvalidateAfterCommit drops keys once txn commits. A rollback leaves
// the entries in place.
func InvalidateAfterCommit(c Cacher, txn Committer, keys ...string) {
	txn.PostCommit(func() {
		for _, k := range keys {
			c.Delete(k)
		}
	})
}

// KeyForObjectWithName keys the child-with-name lookup of a home.
func KeyForObjectWithName(homeID int64, name string) string {
	return fmt.Sprintf("objectWithName:%d:%s", homeID, name)
}

// KeyForResourceID keys the child-with-id lookup of a home.
func KeyForResourceID(homeID, resourceID int64) string {
	return fmt.Sprintf("objectWithResourceID:%d:%d", homeID, resourceID)
}

// KeyForBindUID keys the child-with-bind-uid lookup of a home.
func KeyForBindUID(homeID int64, bindUID string) string {
	return fmt.Sprintf("objectWithBindUID:%d:%s", homeID, bindUID)
}

// KeyForHomeChildMetaData keys the metadata row of a collection.
func KeyForHomeChildMetaData(resourceID int64) string {
	return fmt.Sprintf("metadata:%d", resourceID)
}
