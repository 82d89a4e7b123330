package inventory

import (
	"encoding/json"
	"sort"
	"sync"
)

// KeySet is a read-only view of the keys present in a table, used for
// parent-reference validation.
type KeySet map[string]struct{}

// Has reports whether key is in the set.
func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Table is a keyed entity table. Merge calls are safe under concurrency; the
// table is the sole synchronization point where branch results are folded
// together.
type Table[T Entity] struct {
	mu   sync.RWMutex
	rows map[string]T
}

// NewTable creates an empty table.
func NewTable[T Entity]() *Table[T] {
	return &Table[T]{rows: make(map[string]T)}
}

// Len returns the number of rows.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Get returns the row for key.
func (t *Table[T]) Get(key string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[key]
	return row, ok
}

// Put inserts or overwrites one row (last write wins).
func (t *Table[T]) Put(row T) {
	t.mu.Lock()
	t.rows[row.Key()] = row
	t.mu.Unlock()
}

// Keys returns a snapshot of the keys currently present.
func (t *Table[T]) Keys() KeySet {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(KeySet, len(t.rows))
	for k := range t.rows {
		out[k] = struct{}{}
	}
	return out
}

// Rows returns all rows sorted by key. Sorting makes output deterministic
// regardless of traversal timing.
func (t *Table[T]) Rows() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.rows[k])
	}
	return out
}

// MarshalJSON emits the rows as a sorted array.
func (t *Table[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Rows())
}
