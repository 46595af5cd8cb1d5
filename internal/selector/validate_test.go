package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watchpatch/internal/ir"
)

func TestValidate_PushdownSelector(t *testing.T) {
	p := MustParse(ir.MustObject(map[string]any{
		"status": 2,
		"score":  map[string]any{"$gte": 1, "$ne": 7},
		"tags":   map[string]any{"$in": []any{"go", "db"}},
		"$or": []any{
			map[string]any{"sticky": true},
			map[string]any{"pinned": map[string]any{"$exists": true}},
		},
		"title": map[string]any{"$not": map[string]any{"$eq": "draft"}},
	}))

	result := Validate(p)
	assert.True(t, result.Pushdown)
	assert.Empty(t, result.Warnings)
}

func TestValidate_NilPredicate(t *testing.T) {
	result := Validate(nil)
	assert.True(t, result.Pushdown)
}

func TestValidate_InMemoryOperators(t *testing.T) {
	tests := []struct {
		name     string
		selector map[string]any
		warning  string
	}{
		{"regex", map[string]any{"title": map[string]any{"$regex": "^a"}}, "$regex"},
		{"size", map[string]any{"tags": map[string]any{"$size": 2}}, "$size"},
		{"all", map[string]any{"tags": map[string]any{"$all": []any{"a"}}}, "$all"},
		{"elemMatch", map[string]any{"c": map[string]any{"$elemMatch": map[string]any{"u": 1}}}, "$elemMatch"},
		{"object value", map[string]any{"author": map[string]any{"name": "ann"}}, "only scalar values"},
		{"array value", map[string]any{"tags": []any{"a"}}, "only scalar values"},
		{"array in $in", map[string]any{"tags": map[string]any{"$in": []any{[]any{"a"}}}}, "only scalar values"},
		{"nested under or", map[string]any{"$or": []any{map[string]any{"t": map[string]any{"$regex": "x"}}}}, "$regex"},
		{"dotted path", map[string]any{"comments.author": "bob"}, "dotted path"},
		{"array index", map[string]any{"tags.1": "b"}, "dotted path"},
		{"dotted exists", map[string]any{"comments.author": map[string]any{"$exists": true}}, "dotted path"},
		{"dotted in", map[string]any{"author.name": map[string]any{"$in": []any{"ann", "bob"}}}, "dotted path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Validate(MustParse(ir.MustObject(tt.selector)))
			assert.False(t, result.Pushdown)
			require.Len(t, result.Warnings, 1)
			assert.Contains(t, result.Warnings[0], tt.warning)
		})
	}
}
