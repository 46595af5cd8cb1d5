package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/querysql"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/selector"
	"github.com/roach88/watchpatch/internal/testutil"
)

func TestPutDocument_ReadBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	coll := postsCollection()

	doc := createTestPost("p1", 5, "published")
	require.NoError(t, s.PutDocument(ctx, coll, doc, 1))

	got, err := s.ReadDocument(ctx, coll, ir.IRString("p1"))
	require.NoError(t, err)
	assert.Equal(t, doc, got)
}

func TestPutDocument_Replaces(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	coll := postsCollection()

	require.NoError(t, s.PutDocument(ctx, coll, createTestPost("p1", 5, "published"), 1))
	require.NoError(t, s.PutDocument(ctx, coll, ir.IRObject{"_id": ir.IRString("p1"), "score": ir.IRInt(9)}, 2))

	got, err := s.ReadDocument(ctx, coll, ir.IRString("p1"))
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"_id": ir.IRString("p1"), "score": ir.IRInt(9)}, got)

	n, err := s.CountDocuments(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPutDocument_MissingID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.PutDocument(ctx, postsCollection(), ir.IRObject{"score": ir.IRInt(1)}, 1)
	assert.ErrorIs(t, err, ErrMissingID)

	err = s.PutDocument(ctx, postsCollection(), ir.IRObject{"_id": ir.IRNull{}}, 1)
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestPutDocument_CustomIDField(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	coll := &registry.Collection{Name: "Users", TypeName: "User", IDField: "slug"}

	require.NoError(t, s.PutDocument(ctx, coll, ir.IRObject{"slug": ir.IRInt(42), "name": ir.IRString("ann")}, 1))

	got, err := s.ReadDocument(ctx, coll, ir.IRInt(42))
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("ann"), got["name"])

	// Integer and string ids are distinct
	_, err = s.ReadDocument(ctx, coll, ir.IRString("42"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadDocument_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.ReadDocument(context.Background(), postsCollection(), ir.IRString("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocuments_CollectionsAreIsolated(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	posts := postsCollection()
	comments := &registry.Collection{Name: "Comments", TypeName: "Comment"}

	require.NoError(t, s.PutDocument(ctx, posts, createTestPost("x", 1, "published"), 1))

	_, err := s.ReadDocument(ctx, comments, ir.IRString("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDocument(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	coll := postsCollection()

	require.NoError(t, s.PutDocument(ctx, coll, createTestPost("p1", 5, "published"), 1))

	deleted, err := s.DeleteDocument(ctx, coll, ir.IRString("p1"))
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteDocument(ctx, coll, ir.IRString("p1"))
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestApplyMutation(t *testing.T) {
	ctx := context.Background()
	coll := postsCollection()

	t.Run("create inserts", func(t *testing.T) {
		s := createTestStore(t)
		m := mutation.Result{Kind: mutation.KindCreate, TypeName: "Post", Document: createTestPost("p1", 5, "published")}
		require.NoError(t, s.ApplyMutation(ctx, coll, m, 1))

		got, err := s.ReadDocument(ctx, coll, ir.IRString("p1"))
		require.NoError(t, err)
		assert.Equal(t, m.Document, got)
	})

	t.Run("update merges over stored fields", func(t *testing.T) {
		s := createTestStore(t)
		require.NoError(t, s.PutDocument(ctx, coll, createTestPost("p1", 5, "published"), 1))

		m := mutation.Result{Kind: mutation.KindUpdate, TypeName: "Post", Document: ir.IRObject{
			"_id":   ir.IRString("p1"),
			"score": ir.IRInt(8),
		}}
		require.NoError(t, s.ApplyMutation(ctx, coll, m, 2))

		got, err := s.ReadDocument(ctx, coll, ir.IRString("p1"))
		require.NoError(t, err)
		assert.Equal(t, createTestPost("p1", 8, "published"), got)
	})

	t.Run("upsert inserts when missing", func(t *testing.T) {
		s := createTestStore(t)
		m := mutation.Result{Kind: mutation.KindUpsert, TypeName: "Post", Document: createTestPost("p2", 1, "draft")}
		require.NoError(t, s.ApplyMutation(ctx, coll, m, 1))

		got, err := s.ReadDocument(ctx, coll, ir.IRString("p2"))
		require.NoError(t, err)
		assert.Equal(t, m.Document, got)
	})

	t.Run("delete removes", func(t *testing.T) {
		s := createTestStore(t)
		require.NoError(t, s.PutDocument(ctx, coll, createTestPost("p1", 5, "published"), 1))

		m := mutation.Result{Kind: mutation.KindDelete, TypeName: "Post", Document: ir.IRObject{"_id": ir.IRString("p1")}}
		require.NoError(t, s.ApplyMutation(ctx, coll, m, 2))

		_, err := s.ReadDocument(ctx, coll, ir.IRString("p1"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no document is a no-op", func(t *testing.T) {
		s := createTestStore(t)
		require.NoError(t, s.ApplyMutation(ctx, coll, mutation.Result{Kind: mutation.KindDelete, TypeName: "Post"}, 1))

		n, err := s.CountDocuments(ctx, coll)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("update without id fails", func(t *testing.T) {
		s := createTestStore(t)
		m := mutation.Result{Kind: mutation.KindUpdate, TypeName: "Post", Document: ir.IRObject{"score": ir.IRInt(1)}}
		assert.ErrorIs(t, s.ApplyMutation(ctx, coll, m, 1), ErrMissingID)
	})
}

// seedPosts stores a small fixed collection.
func seedPosts(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	coll := postsCollection()

	docs := []ir.IRObject{
		createTestPost("a", 3, "published"),
		createTestPost("b", 7, "published"),
		createTestPost("c", 5, "draft"),
		createTestPost("d", 1, "published"),
		{
			"_id":    ir.IRString("e"),
			"score":  ir.IRInt(9),
			"status": ir.IRString("published"),
			"tags":   ir.IRArray{ir.IRString("go"), ir.IRString("sql")},
			"title":  ir.IRString("Hello world"),
		},
		{
			"_id":       ir.IRString("f"),
			"score":     ir.IRFloat(4.5),
			"status":    ir.IRObject{"label": ir.IRString("draft")},
			"deletedAt": ir.IRNull{},
			"featured":  ir.IRInt(1),
		},
	}
	for i, doc := range docs {
		require.NoError(t, s.PutDocument(ctx, coll, doc, int64(i+1)))
	}
}

func TestFindDocuments(t *testing.T) {
	s := createTestStore(t)
	seedPosts(t, s)
	coll := postsCollection()
	byScore := selector.SortSpec{{Field: "score", Direction: selector.Desc}}

	tests := []struct {
		name     string
		selector ir.IRObject
		sort     selector.SortSpec
		limit    int
		expected []string
	}{
		{
			name:     "equality",
			selector: ir.IRObject{"status": ir.IRString("published")},
			expected: []string{"a", "b", "d", "e"},
		},
		{
			name:     "sorted and limited",
			selector: ir.IRObject{"status": ir.IRString("published")},
			sort:     byScore,
			limit:    2,
			expected: []string{"e", "b"},
		},
		{
			name:     "range over ints and floats",
			selector: ir.IRObject{"score": ir.IRObject{"$gte": ir.IRInt(4), "$lt": ir.IRInt(8)}},
			sort:     byScore,
			expected: []string{"b", "c", "f"},
		},
		{
			name:     "array element equality",
			selector: ir.IRObject{"tags": ir.IRString("go")},
			expected: []string{"e"},
		},
		{
			name:     "ne excludes only true matches",
			selector: ir.IRObject{"status": ir.IRObject{"$ne": ir.IRString("draft")}},
			expected: []string{"a", "b", "d", "e", "f"},
		},
		{
			name:     "null matches missing and null",
			selector: ir.IRObject{"deletedAt": ir.IRNull{}},
			expected: []string{"a", "b", "c", "d", "e", "f"},
		},
		{
			name:     "exists",
			selector: ir.IRObject{"deletedAt": ir.IRObject{"$exists": ir.IRBool(true)}},
			expected: []string{"f"},
		},
		{
			name:     "bool does not match integer",
			selector: ir.IRObject{"featured": ir.IRBool(true)},
			expected: []string{},
		},
		{
			name: "or with nin",
			selector: ir.IRObject{"$or": ir.IRArray{
				ir.IRObject{"score": ir.IRObject{"$gt": ir.IRInt(8)}},
				ir.IRObject{"_id": ir.IRObject{"$in": ir.IRArray{ir.IRString("a"), ir.IRString("zz")}}},
			}},
			expected: []string{"a", "e"},
		},
		{
			name:     "nested path",
			selector: ir.IRObject{"status.label": ir.IRString("draft")},
			expected: []string{"f"},
		},
		{
			name:     "regex falls back to memory",
			selector: ir.IRObject{"title": ir.IRObject{"$regex": ir.IRString("^hello"), "$options": ir.IRString("i")}},
			expected: []string{"e"},
		},
		{
			name:     "size falls back to memory",
			selector: ir.IRObject{"tags": ir.IRObject{"$size": ir.IRInt(2)}},
			expected: []string{"e"},
		},
		{
			name:     "empty selector",
			selector: ir.IRObject{},
			sort:     byScore,
			limit:    3,
			expected: []string{"e", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.FindDocuments(context.Background(), coll, paramsFor(t, tt.selector, tt.sort, tt.limit))
			require.NoError(t, err)
			assert.NotNil(t, docs)
			assert.Equal(t, tt.expected, docIDs(docs))
		})
	}
}

func TestFindDocuments_PushdownAgreesWithMatch(t *testing.T) {
	s := createTestStore(t)
	seedPosts(t, s)
	ctx := context.Background()
	coll := postsCollection()

	all, err := s.FindDocuments(ctx, coll, registry.Parameters{})
	require.NoError(t, err)
	require.Len(t, all, 6)

	selectors := []ir.IRObject{
		{"score": ir.IRObject{"$lte": ir.IRInt(3)}},
		{"status": ir.IRObject{"$nin": ir.IRArray{ir.IRString("published")}}},
		{"$nor": ir.IRArray{ir.IRObject{"status": ir.IRString("draft")}}},
		{"score": ir.IRObject{"$not": ir.IRObject{"$gt": ir.IRInt(4)}}},
		{"tags": ir.IRObject{"$ne": ir.IRString("go")}},
	}

	for _, sel := range selectors {
		params := paramsFor(t, sel, nil, 0)
		require.True(t, selector.Validate(params.Selector).Pushdown, "selector %v should push down", sel)

		got, err := s.FindDocuments(ctx, coll, params)
		require.NoError(t, err)

		var want []string
		for _, doc := range all {
			if selector.Match(params.Selector, doc) {
				want = append(want, string(doc["_id"].(ir.IRString)))
			}
		}
		if want == nil {
			want = []string{}
		}
		assert.Equal(t, want, docIDs(got), "selector %v", sel)
	}
}

func TestFindDocuments_NestedPaths(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	coll := postsCollection()

	for _, src := range []string{
		`{"_id": "p1", "author": {"name": "ann"}, "score": 1}`,
		`{"_id": "p2", "author": {"name": "bob"}}`,
		`{"_id": "p3", "score": 2}`,
	} {
		require.NoError(t, s.PutDocument(ctx, coll, testutil.JSONObject(t, src), 1))
	}

	tests := []struct {
		selector string
		want     []string
	}{
		{`{"author.name": "ann"}`, []string{"p1"}},
		{`{"author.name": {"$exists": false}}`, []string{"p3"}},
		{`{"author": {"name": "bob"}}`, []string{"p2"}},
		{`{"author.name": {"$in": ["ann", "bob"]}, "score": {"$gte": 1}}`, []string{"p1"}},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			got, err := s.FindDocuments(ctx, coll, paramsFor(t, testutil.JSONObject(t, tt.selector), nil, 0))
			require.NoError(t, err)
			assert.Equal(t, tt.want, docIDs(got))
		})
	}
}

func TestFindDocuments_ArrayPathsAgreeWithMatch(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	coll := postsCollection()

	for _, src := range []string{
		`{"_id": "p1", "comments": [{"author": "ann"}, {"author": "bob"}], "tags": ["a", "b"]}`,
		`{"_id": "p2", "comments": [{"author": "cy"}], "tags": ["b"]}`,
		`{"_id": "p3", "comments": [{"text": "hi"}], "tags": []}`,
	} {
		require.NoError(t, s.PutDocument(ctx, coll, testutil.JSONObject(t, src), 1))
	}

	all, err := s.FindDocuments(ctx, coll, registry.Parameters{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	tests := []struct {
		selector string
		want     []string
	}{
		{`{"comments.author": "bob"}`, []string{"p1"}},
		{`{"tags.1": "b"}`, []string{"p1"}},
		{`{"comments.author": {"$exists": true}}`, []string{"p1", "p2"}},
		{`{"comments.author": {"$in": ["bob", "cy"]}}`, []string{"p1", "p2"}},
		{`{"comments.author": {"$ne": "ann"}}`, []string{"p2", "p3"}},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			params := paramsFor(t, testutil.JSONObject(t, tt.selector), nil, 0)
			assert.False(t, selector.Validate(params.Selector).Pushdown)

			got, err := s.FindDocuments(ctx, coll, params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, docIDs(got))

			want := []string{}
			for _, doc := range all {
				if selector.Match(params.Selector, doc) {
					want = append(want, string(doc["_id"].(ir.IRString)))
				}
			}
			assert.Equal(t, want, docIDs(got))
		})
	}
}

func TestFindDocuments_CompiledSQLPrepares(t *testing.T) {
	s := createTestStore(t)
	compiler := querysql.NewSQLCompiler()

	scan, _ := compiler.CompileScan("posts")
	stmt, err := s.DB().Prepare(scan)
	require.NoError(t, err, scan)
	require.NoError(t, stmt.Close())

	selectors := []string{
		`{"score": {"$gt": 1}}`,
		`{"status": null}`,
		`{"tags": {"$nin": ["go", "db"]}}`,
		`{"$or": [{"status": "draft"}, {"score": {"$exists": false}}]}`,
	}
	for _, src := range selectors {
		p := selector.MustParse(testutil.JSONObject(t, src))
		query, _, err := compiler.Compile("posts", p)
		require.NoError(t, err, src)

		stmt, err := s.DB().Prepare(query)
		require.NoError(t, err, query)
		require.NoError(t, stmt.Close())
	}
}

func TestImportDocuments(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	coll := postsCollection()

	require.NoError(t, s.PutDocument(ctx, coll, createTestPost("b", 100, "published"), 1))

	docs := []ir.IRObject{
		createTestPost("a", 1, "published"),
		createTestPost("b", 2, "published"), // already present
		createTestPost("c", 3, "published"),
		{"score": ir.IRInt(4)}, // no id
		{"_id": ir.IRBool(true)},
		createTestPost("f", 6, "draft"),
	}

	result, err := s.ImportDocuments(ctx, coll, docs, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{"#3", "#4"}, result.Failed)

	n, err := s.CountDocuments(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// Existing documents are not overwritten
	b, err := s.ReadDocument(ctx, coll, ir.IRString("b"))
	require.NoError(t, err)
	assert.Equal(t, ir.IRInt(100), b["score"])
}

func TestImportDocuments_DefaultBatchSize(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	coll := postsCollection()

	docs := make([]ir.IRObject, 0, DefaultImportBatchSize+5)
	for i := 0; i < DefaultImportBatchSize+5; i++ {
		docs = append(docs, ir.IRObject{"_id": ir.IRInt(int64(i))})
	}

	result, err := s.ImportDocuments(ctx, coll, docs, 0)
	require.NoError(t, err)
	assert.Equal(t, len(docs), result.Imported)
	assert.Empty(t, result.Failed)
}
