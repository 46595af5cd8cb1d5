package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watchpatch/internal/cache"
	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/selector"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register(&registry.Collection{
		Name:     "Posts",
		TypeName: "Post",
		Views: map[string]registry.View{
			"top": {Name: "top", Sort: scoreDesc, Limit: 3},
			"published": {
				Name:     "published",
				Selector: ir.MustObject(map[string]any{"status": "published"}),
				Sort:     scoreDesc,
			},
		},
	}))
	require.NoError(t, reg.Register(&registry.Collection{
		Name:     "Comments",
		TypeName: "Comment",
		DefaultView: registry.View{
			Sort: selector.SortSpec{{Field: "postedAt", Direction: selector.Asc}},
		},
	}))
	return reg
}

func postsData(docs ...ir.IRObject) ir.IRObject {
	results := make(ir.IRArray, len(docs))
	for i, d := range docs {
		results[i] = d
	}
	return ir.IRObject{"posts": ir.IRObject{
		"__typename": ir.IRString("MultiPostOutput"),
		"results":    results,
		"totalCount": ir.IRInt(len(docs)),
	}}
}

func readPage(t *testing.T, store cache.Store, w cache.Watch, key string) Page {
	t.Helper()
	data, err := store.ReadQuery(context.Background(), w)
	require.NoError(t, err)
	p, err := DecodePage(data[key], "Post", "_id")
	require.NoError(t, err)
	return p
}

func seed(t *testing.T, store *cache.MemoryStore, w cache.Watch, data ir.IRObject) {
	t.Helper()
	require.NoError(t, store.WriteQuery(context.Background(), w, data))
}

func TestReconciler_Scenarios(t *testing.T) {
	ctx := context.Background()
	top := watchWithView(postsListQuery, "top")

	tests := []struct {
		name string
		m    mutation.Result
		want []ir.IRObject
	}{
		{"create", mutation.Result{Kind: mutation.KindCreate, TypeName: "Post", Document: scored(3, 4)},
			[]ir.IRObject{scored(1, 5), scored(3, 4), scored(2, 3)}},
		{"delete", mutation.Result{Kind: mutation.KindDelete, TypeName: "Post", Document: doc(map[string]any{"_id": 2})},
			[]ir.IRObject{scored(1, 5)}},
		{"update", mutation.Result{Kind: mutation.KindUpdate, TypeName: "Post", Document: scored(1, 1)},
			[]ir.IRObject{scored(2, 3), scored(1, 1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := cache.NewMemoryStore()
			seed(t, store, top, postsData(scored(1, 5), scored(2, 3)))

			rec := New(testRegistry(t), store)
			report, err := rec.Apply(ctx, tt.m)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Targets)
			assert.Len(t, report.Changed, 1)

			page := readPage(t, store, top, "posts")
			assert.Equal(t, tt.want, page.Results)
			assert.Equal(t, "MultiPostOutput", page.Typename)
		})
	}
}

func TestReconciler_OnlyMatchingTypeAndSelector(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()

	published := watchWithView(postsListQuery, "published")
	top := watchWithView(postsListQuery, "top")
	comments := watchWithView(commentsListQuery, "")

	seed(t, store, published, postsData(doc(map[string]any{"_id": 1, "status": "published", "score": 5})))
	seed(t, store, top, postsData(scored(1, 5)))
	seed(t, store, comments, ir.MustObject(map[string]any{"comments": map[string]any{"results": []any{}}}))

	rec := New(testRegistry(t), store)
	report, err := rec.Apply(ctx, mutation.Result{
		Kind:     mutation.KindCreate,
		TypeName: "Post",
		Document: doc(map[string]any{"_id": 2, "status": "draft", "score": 9}),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Targets)
	assert.Len(t, report.Changed, 1, "only the unfiltered view gains the draft")
	assert.Equal(t, 1, report.Unchanged)

	assert.Equal(t, intIDs(1), readPage(t, store, published, "posts").IDs())
	assert.Equal(t, intIDs(2, 1), readPage(t, store, top, "posts").IDs())

	data, err := store.ReadQuery(ctx, comments)
	require.NoError(t, err)
	assert.Equal(t, ir.MustObject(map[string]any{"comments": map[string]any{"results": []any{}}}), data)
}

func TestReconciler_TotalCountAndTruncation(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	top := watchWithView(postsListQuery, "top")
	seed(t, store, top, postsData(scored(1, 5), scored(2, 3), scored(3, 1)))

	rec := New(testRegistry(t), store)
	_, err := rec.Apply(ctx, mutation.Result{Kind: mutation.KindCreate, TypeName: "Post", Document: scored(4, 4)})
	require.NoError(t, err)

	page := readPage(t, store, top, "posts")
	assert.Equal(t, intIDs(1, 4, 2), page.IDs())
	assert.Equal(t, int64(4), *page.TotalCount)
}

func TestReconciler_TruncationDisabled(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	top := watchWithView(postsListQuery, "top")
	seed(t, store, top, postsData(scored(1, 5), scored(2, 3), scored(3, 1)))

	rec := New(testRegistry(t), store, WithTruncateToLimit(false))
	_, err := rec.Apply(ctx, mutation.Result{Kind: mutation.KindCreate, TypeName: "Post", Document: scored(4, 4)})
	require.NoError(t, err)

	assert.Equal(t, intIDs(1, 4, 2, 3), readPage(t, store, top, "posts").IDs())
}

func TestReconciler_PreservesOtherData(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	top := watchWithView(postsListQuery, "top")

	data := postsData(scored(1, 5))
	data["currentUser"] = ir.IRObject{"_id": ir.IRString("u1")}
	data["posts"].(ir.IRObject)["cursor"] = ir.IRString("c1")
	seed(t, store, top, data)

	rec := New(testRegistry(t), store)
	_, err := rec.Apply(ctx, mutation.Result{Kind: mutation.KindCreate, TypeName: "Post", Document: scored(2, 1)})
	require.NoError(t, err)

	got, err := store.ReadQuery(ctx, top)
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"_id": ir.IRString("u1")}, got["currentUser"])
	assert.Equal(t, ir.IRString("c1"), got["posts"].(ir.IRObject)["cursor"])
}

func TestReconciler_NoDocument(t *testing.T) {
	store := cache.NewMemoryStore()
	rec := New(testRegistry(t), store)

	report, err := rec.Apply(context.Background(), mutation.Result{Kind: mutation.KindDelete, TypeName: "Unregistered"})
	require.NoError(t, err, "a missing document is a no-op even for unknown types")
	assert.True(t, report.NoDocument)
}

func TestReconciler_UnknownType(t *testing.T) {
	rec := New(testRegistry(t), cache.NewMemoryStore())

	_, err := rec.Apply(context.Background(), mutation.Result{Kind: mutation.KindCreate, TypeName: "Tag", Document: scored(1, 1)})
	require.Error(t, err)
	assert.True(t, IsUnknownType(err))
	assert.True(t, IsConfigError(err))
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestReconciler_InvalidResult(t *testing.T) {
	rec := New(testRegistry(t), cache.NewMemoryStore())
	_, err := rec.Apply(context.Background(), mutation.Result{Kind: "merge", TypeName: "Post"})
	assert.ErrorIs(t, err, mutation.ErrMalformed)
}

func TestReconciler_MalformedPageIsolated(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()

	broken := watchWithView(postsListQuery, "published")
	good := watchWithView(postsListQuery, "top")
	seed(t, store, broken, ir.MustObject(map[string]any{"posts": map[string]any{"results": "oops"}}))
	seed(t, store, good, postsData(scored(1, 5)))

	rec := New(testRegistry(t), store)
	report, err := rec.Apply(ctx, mutation.Result{Kind: mutation.KindCreate, TypeName: "Post", Document: scored(2, 9)})
	require.Error(t, err)
	assert.True(t, IsMalformedPage(err))
	assert.Equal(t, 1, report.Failed)
	assert.Len(t, report.Changed, 1)

	// The broken page is not repaired.
	data, rerr := store.ReadQuery(ctx, broken)
	require.NoError(t, rerr)
	assert.Equal(t, ir.IRString("oops"), data["posts"].(ir.IRObject)["results"])

	assert.Equal(t, intIDs(2, 1), readPage(t, store, good, "posts").IDs())
}

func TestReconciler_MissingDataKeyIsMalformed(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	top := watchWithView(postsListQuery, "top")
	seed(t, store, top, ir.IRObject{})

	_, err := New(testRegistry(t), store).Apply(ctx, mutation.Result{Kind: mutation.KindCreate, TypeName: "Post", Document: scored(2, 9)})
	assert.True(t, IsMalformedPage(err))
}

func TestReconciler_UnknownView(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	w := watchWithView(postsListQuery, "nonexistent")
	seed(t, store, w, postsData())

	_, err := New(testRegistry(t), store).Apply(ctx, mutation.Result{Kind: mutation.KindCreate, TypeName: "Post", Document: scored(2, 9)})
	require.Error(t, err)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, CodeUnknownView, rerr.Code)
	assert.True(t, IsConfigError(err))
}

type failingStore struct {
	cache.Store
	readErr error
}

func (f failingStore) ReadQuery(ctx context.Context, w cache.Watch) (ir.IRObject, error) {
	return nil, f.readErr
}

func TestReconciler_MissingAndStoreErrors(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryStore()
	seed(t, mem, watchWithView(postsListQuery, "top"), postsData())

	m := mutation.Result{Kind: mutation.KindCreate, TypeName: "Post", Document: scored(1, 1)}

	report, err := New(testRegistry(t), failingStore{Store: mem, readErr: cache.ErrNotFound}).Apply(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Missing)

	report, err = New(testRegistry(t), failingStore{Store: mem, readErr: errors.New("disk on fire")}).Apply(ctx, m)
	require.Error(t, err)
	assert.Equal(t, 1, report.Failed)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, CodeStore, rerr.Code)
	assert.ErrorContains(t, err, "disk on fire")
}

func TestReconciler_SameWatchTwoAliases(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	w := cache.Watch{Query: frontpageQuery, Variables: ir.IRObject{}}

	data := ir.IRObject{
		"top":    postsData(scored(1, 5))["posts"],
		"recent": postsData(scored(1, 5))["posts"],
	}
	seed(t, store, w, data)

	report, err := New(testRegistry(t), store).Apply(ctx, mutation.Result{Kind: mutation.KindCreate, TypeName: "Post", Document: scored(2, 1)})
	require.NoError(t, err)
	assert.Len(t, report.Changed, 2)

	assert.Equal(t, intIDs(1, 2), readPage(t, store, w, "top").IDs())
	assert.Equal(t, intIDs(1, 2), readPage(t, store, w, "recent").IDs())
}
