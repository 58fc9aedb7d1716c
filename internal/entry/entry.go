// Package entry defines the atomic unit carried through every layer of the
// store: the memtable, the WAL and the on-disk runs.
package entry

import "encoding/json"

// MaxKeyBytes and MaxValueBytes bound the size of a key/value the store
// will accept. Enforced at the facade boundary (internal/store), not here.
const (
	MaxKeyBytes   = 1024
	MaxValueBytes = 1024 * 1024
)

// Entry is the atomic unit of the store. Equality is defined by Key alone;
// ordering is lexicographic by Key. For any key, the Entry with the largest
// Timestamp wins across all memory and disk layers.
type Entry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	IsDeleted bool   `json:"is_deleted"`
	Timestamp int64  `json:"timestamp"`
}

// entryWire mirrors the on-disk JSON-line framing from spec §6: a tombstone
// or an absent value serializes as a JSON null rather than an empty string,
// so a deleted key and an explicitly-empty-valued key remain distinguishable
// on disk.
type entryWire struct {
	Key       string  `json:"key"`
	Value     *string `json:"value"`
	Timestamp int64   `json:"timestamp"`
	IsDeleted bool    `json:"is_deleted"`
}

// New builds a live (non-tombstone) Entry.
func New(key, value string, timestamp int64) Entry {
	return Entry{Key: key, Value: value, Timestamp: timestamp}
}

// NewTombstone builds a tombstone Entry: IsDeleted true, no value.
func NewTombstone(key string, timestamp int64) Entry {
	return Entry{Key: key, IsDeleted: true, Timestamp: timestamp}
}

// MarshalJSON writes the entry as one JSON-line record per spec §6:
// {"key":…,"value":…|null,"timestamp":…,"is_deleted":…}.
func (e Entry) MarshalJSON() ([]byte, error) {
	w := entryWire{Key: e.Key, Timestamp: e.Timestamp, IsDeleted: e.IsDeleted}
	if !e.IsDeleted {
		v := e.Value
		w.Value = &v
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses a run-entry JSON-line record.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var w entryWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Key = w.Key
	e.Timestamp = w.Timestamp
	e.IsDeleted = w.IsDeleted
	if w.Value != nil {
		e.Value = *w.Value
	} else {
		e.Value = ""
	}
	return nil
}

// Less orders entries lexicographically by key, the only ordering the store
// relies on (data files, sparse indexes and merges are all key-sorted).
func Less(a, b Entry) bool {
	return a.Key < b.Key
}

// NewerThan reports whether e should win over other for the same key,
// i.e. e carries the larger timestamp.
func (e Entry) NewerThan(other Entry) bool {
	return e.Timestamp > other.Timestamp
}
