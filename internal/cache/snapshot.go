package cache

import (
	"context"
	"fmt"
	"io"

	"github.com/roach88/watchpatch/internal/ir"
)

// Entry is one watch with its cached data, the unit of a snapshot.
type Entry struct {
	Watch Watch
	Data  ir.IRObject
}

// snapshotVersion is bumped when the snapshot layout changes.
const snapshotVersion = 1

// Snapshot returns every entry ordered by watch key.
func (m *MemoryStore) Snapshot(ctx context.Context) ([]Entry, error) {
	watches, err := m.Watches(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(watches))
	for _, w := range watches {
		data, err := m.ReadQuery(ctx, w)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Watch: w, Data: data})
	}
	return out, nil
}

// WriteSnapshot writes the store as canonical JSON:
//
//	{"entries":[{"data":{...},"query":"...","variables":{...}}],"version":1}
//
// Output is byte-stable for equal contents.
func (m *MemoryStore) WriteSnapshot(ctx context.Context, w io.Writer) error {
	b, err := m.MarshalSnapshot(ctx)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// MarshalSnapshot returns the canonical JSON form of the store.
func (m *MemoryStore) MarshalSnapshot(ctx context.Context) ([]byte, error) {
	entries, err := m.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	arr := make(ir.IRArray, 0, len(entries))
	for _, e := range entries {
		arr = append(arr, EntryValue(e))
	}
	doc := ir.IRObject{
		"version": ir.IRInt(snapshotVersion),
		"entries": arr,
	}
	b, err := ir.MarshalCanonical(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return b, nil
}

// EntryValue renders e as an IRObject with query, variables and data keys.
func EntryValue(e Entry) ir.IRObject {
	vars := e.Watch.Variables
	if vars == nil {
		vars = ir.IRObject{}
	}
	data := e.Data
	if data == nil {
		data = ir.IRObject{}
	}
	return ir.IRObject{
		"query":     ir.IRString(e.Watch.Query),
		"variables": vars,
		"data":      data,
	}
}

// ParseEntry is the inverse of EntryValue.
func ParseEntry(obj ir.IRObject) (Entry, error) {
	q, ok := obj["query"].(ir.IRString)
	if !ok || q == "" {
		return Entry{}, fmt.Errorf("entry: query must be a non-empty string")
	}
	var e Entry
	e.Watch.Query = string(q)

	switch v := obj["variables"].(type) {
	case nil, ir.IRNull:
		e.Watch.Variables = ir.IRObject{}
	case ir.IRObject:
		e.Watch.Variables = v
	default:
		return Entry{}, fmt.Errorf("entry: variables must be an object, got %s", ir.TypeName(v))
	}

	data, ok := obj["data"].(ir.IRObject)
	if !ok {
		return Entry{}, fmt.Errorf("entry: data must be an object, got %s", ir.TypeName(obj["data"]))
	}
	e.Data = data

	for k := range obj {
		switch k {
		case "query", "variables", "data":
		default:
			return Entry{}, fmt.Errorf("entry: unknown field %q", k)
		}
	}
	return e, nil
}

// ReadSnapshot loads a snapshot produced by WriteSnapshot into a new store.
func ReadSnapshot(ctx context.Context, r io.Reader) (*MemoryStore, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	doc, err := ir.UnmarshalIRObject(raw)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	if v, ok := doc["version"]; ok {
		if n, isInt := v.(ir.IRInt); !isInt || n != snapshotVersion {
			return nil, fmt.Errorf("unsupported snapshot version %v", v)
		}
	}

	entries, ok := doc["entries"].(ir.IRArray)
	if !ok {
		return nil, fmt.Errorf("snapshot: entries must be an array")
	}

	store := NewMemoryStore()
	for i, raw := range entries {
		obj, ok := raw.(ir.IRObject)
		if !ok {
			return nil, fmt.Errorf("snapshot entry %d: expected object", i)
		}
		e, err := ParseEntry(obj)
		if err != nil {
			return nil, fmt.Errorf("snapshot entry %d: %w", i, err)
		}
		if err := store.WriteQuery(ctx, e.Watch, e.Data); err != nil {
			return nil, fmt.Errorf("snapshot entry %d: %w", i, err)
		}
	}
	return store, nil
}
