package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/watchpatch/internal/ir"
)

// MemoryStore is a Store backed by a map keyed by Watch.Key.
//
// Thread-safety: all methods are safe for concurrent use. Reads and writes
// copy the data so callers never share maps with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	watch Watch
	data  ir.IRObject
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*entry)}
}

// Watches returns every watch that has data, ordered by key so callers see
// a deterministic sequence.
func (m *MemoryStore) Watches(ctx context.Context) ([]Watch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Watch, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.entries[k].watch)
	}
	return out, nil
}

// ReadQuery returns a copy of the data cached for w.
func (m *MemoryStore) ReadQuery(ctx context.Context, w Watch) (ir.IRObject, error) {
	key, err := w.Key()
	if err != nil {
		return nil, fmt.Errorf("watch key: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(e.data), nil
}

// WriteQuery stores data for w, registering the watch if it is new.
func (m *MemoryStore) WriteQuery(ctx context.Context, w Watch, data ir.IRObject) error {
	key, err := w.Key()
	if err != nil {
		return fmt.Errorf("watch key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &entry{watch: w, data: deepCopy(data)}
	return nil
}

// Evict drops the watch and its data, as when the owning view unmounts.
// It reports whether anything was removed.
func (m *MemoryStore) Evict(w Watch) (bool, error) {
	key, err := w.Key()
	if err != nil {
		return false, fmt.Errorf("watch key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

// Len returns the number of cached watches.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func deepCopy(obj ir.IRObject) ir.IRObject {
	if obj == nil {
		return nil
	}
	return copyValue(obj).(ir.IRObject)
}

func copyValue(v ir.IRValue) ir.IRValue {
	switch val := v.(type) {
	case ir.IRObject:
		out := make(ir.IRObject, len(val))
		for k, child := range val {
			out[k] = copyValue(child)
		}
		return out
	case ir.IRArray:
		out := make(ir.IRArray, len(val))
		for i, child := range val {
			out[i] = copyValue(child)
		}
		return out
	default:
		return v
	}
}
