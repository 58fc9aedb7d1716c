// Package memtable implements the in-memory ordered write buffer (C6) and
// the manager that rotates full memtables into an immutable flush queue
// (C7). See spec §4.5/§4.6.
package memtable

import (
	"sort"
	"sync"

	"github.com/kvforge/lsmkv/internal/entry"
)

// Memtable is an ordered in-memory buffer: a hash map keyed by string gives
// O(1) point GET, while GetAllEntries drains it in ascending key order.
// Tombstones count toward MaxSize the same as live entries. Fully in
// memory; no I/O.
type Memtable struct {
	mu      sync.RWMutex
	byKey   map[string]entry.Entry
	maxSize int
}

// New creates an empty memtable that reports full once it holds maxSize
// entries. maxSize <= 0 means "never full" (the caller drives rotation some
// other way).
func New(maxSize int) *Memtable {
	return &Memtable{byKey: make(map[string]entry.Entry), maxSize: maxSize}
}

// Put inserts or overwrites e.
func (m *Memtable) Put(e entry.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[e.Key] = e
}

// Delete inserts a tombstone. e must already carry IsDeleted=true.
func (m *Memtable) Delete(e entry.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[e.Key] = e
}

// Get returns the entry for key. Tombstones are hidden unless
// includeTombstones is set, matching spec §4.5.
func (m *Memtable) Get(key string, includeTombstones bool) (entry.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byKey[key]
	if !ok {
		return entry.Entry{}, false
	}
	if e.IsDeleted && !includeTombstones {
		return entry.Entry{}, false
	}
	return e, true
}

// Len reports the number of entries (tombstones included).
func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}

// IsFull reports whether the memtable has reached its configured max size.
func (m *Memtable) IsFull() bool {
	if m.maxSize <= 0 {
		return false
	}
	return m.Len() >= m.maxSize
}

// Clear empties the memtable.
func (m *Memtable) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey = make(map[string]entry.Entry)
}

// GetAllEntries returns every entry (tombstones included) in ascending key
// order, the form a flush writes to an SSTable.
func (m *Memtable) GetAllEntries() []entry.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entry.Entry, 0, len(m.byKey))
	for _, e := range m.byKey {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// EstimatedBytes is the flat 100-bytes-per-entry surrogate spec §4.6
// documents as intentional: the immutable-queue flush trigger only needs
// monotonic growth, not a precise byte count.
const bytesPerEntrySurrogate = 100

// Immutable wraps a memtable that has been rotated out of active duty: it
// carries a monotonically assigned sequence number and an estimated
// memory footprint, and is otherwise read-only from the manager's
// perspective (no more Put/Delete are routed to it).
type Immutable struct {
	Memtable       *Memtable
	SequenceNumber uint64
	EstimatedBytes int64
}

func newImmutable(m *Memtable, seq uint64) *Immutable {
	return &Immutable{
		Memtable:       m,
		SequenceNumber: seq,
		EstimatedBytes: int64(m.Len()) * bytesPerEntrySurrogate,
	}
}
