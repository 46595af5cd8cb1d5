package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/selector"
)

// createTestStore creates a new store in a temporary directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// postsCollection is a minimal collection with the default id field.
func postsCollection() *registry.Collection {
	return &registry.Collection{Name: "Posts", TypeName: "Post"}
}

// createTestPost creates a post document.
func createTestPost(id string, score int64, status string) ir.IRObject {
	return ir.IRObject{
		"_id":    ir.IRString(id),
		"score":  ir.IRInt(score),
		"status": ir.IRString(status),
	}
}

// paramsFor builds query parameters from a selector object.
func paramsFor(t *testing.T, sel ir.IRObject, sort selector.SortSpec, limit int) registry.Parameters {
	t.Helper()
	p, err := selector.Parse(sel)
	require.NoError(t, err)
	return registry.Parameters{Source: sel, Selector: p, Sort: sort, Limit: limit}
}

// docIDs extracts the _id strings of docs.
func docIDs(docs []ir.IRObject) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, string(d["_id"].(ir.IRString)))
	}
	return out
}
