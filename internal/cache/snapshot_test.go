package cache

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watchpatch/internal/ir"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.WriteQuery(ctx, postsWatch("top"), ir.MustObject(map[string]any{
		"posts": map[string]any{
			"__typename": "MultiPostOutput",
			"results":    []any{map[string]any{"_id": 1, "score": 5}},
			"totalCount": 1,
		},
	})))
	require.NoError(t, store.WriteQuery(ctx, postsWatch("new"), ir.MustObject(map[string]any{
		"posts": map[string]any{"results": []any{}},
	})))

	var buf bytes.Buffer
	require.NoError(t, store.WriteSnapshot(ctx, &buf))

	loaded, err := ReadSnapshot(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())

	var again bytes.Buffer
	require.NoError(t, loaded.WriteSnapshot(ctx, &again))
	assert.Equal(t, buf.String(), again.String(), "snapshot must be byte-stable")
}

func TestSnapshot_Format(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	w := Watch{Query: "{ posts { results { _id } } }", Variables: ir.IRObject{}}
	require.NoError(t, store.WriteQuery(ctx, w, ir.MustObject(map[string]any{
		"posts": map[string]any{"results": []any{}},
	})))

	b, err := store.MarshalSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t,
		`{"entries":[{"data":{"posts":{"results":[]}},"query":"{ posts { results { _id } } }","variables":{}}],"version":1}`,
		string(b))
}

func TestReadSnapshot_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", `{`, "parse snapshot"},
		{"bad version", `{"version":2,"entries":[]}`, "unsupported snapshot version"},
		{"entries missing", `{"version":1}`, "entries must be an array"},
		{"entry not object", `{"entries":[1]}`, "expected object"},
		{"no query", `{"entries":[{"data":{}}]}`, "query must be a non-empty string"},
		{"bad variables", `{"entries":[{"query":"{a}","variables":[],"data":{}}]}`, "variables must be an object"},
		{"no data", `{"entries":[{"query":"{a}"}]}`, "data must be an object"},
		{"unknown field", `{"entries":[{"query":"{a}","data":{},"extra":1}]}`, "unknown field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSnapshot(context.Background(), strings.NewReader(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadSnapshot_NullVariables(t *testing.T) {
	store, err := ReadSnapshot(context.Background(), strings.NewReader(`{"entries":[{"query":"{a}","variables":null,"data":{"a":1}}]}`))
	require.NoError(t, err)

	watches, err := store.Watches(context.Background())
	require.NoError(t, err)
	require.Len(t, watches, 1)
	assert.Equal(t, ir.IRObject{}, watches[0].Variables)
}
