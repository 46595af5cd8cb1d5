package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/selector"
)

func scenarioPage() Page {
	return pageOf(scored(1, 5), scored(2, 3))
}

func TestHandleCreate_InsertsInSortOrder(t *testing.T) {
	out := HandleCreate(Input{
		Document:   scored(3, 4),
		Page:       scenarioPage(),
		Parameters: params(t, map[string]any{}, scoreDesc),
		TypeName:   "Post",
	})

	assert.Equal(t, intIDs(1, 3, 2), ids(out))
	assert.Equal(t, "MultiPostOutput", out.Typename)
	assert.Equal(t, []ir.IRObject{scored(1, 5), scored(3, 4), scored(2, 3)}, out.Results)
}

func TestHandleDelete_RemovesRegardlessOfSelector(t *testing.T) {
	out := HandleDelete(Input{
		Document:   doc(map[string]any{"_id": 2}),
		Page:       scenarioPage(),
		Parameters: params(t, map[string]any{"status": "published"}, scoreDesc),
		TypeName:   "Post",
	})

	assert.Equal(t, []ir.IRObject{scored(1, 5)}, out.Results)
	assert.Equal(t, "MultiPostOutput", out.Typename)
}

func TestHandleUpdate_Reorders(t *testing.T) {
	out := HandleUpdate(Input{
		Document:   scored(1, 1),
		Page:       scenarioPage(),
		Parameters: params(t, map[string]any{}, scoreDesc),
		TypeName:   "Post",
	})

	assert.Equal(t, []ir.IRObject{scored(2, 3), scored(1, 1)}, out.Results)
}

func TestHandleCreate_MembershipGated(t *testing.T) {
	published := params(t, map[string]any{"status": "published"}, scoreDesc)
	page := pageOf(
		doc(map[string]any{"_id": 1, "status": "published", "score": 5}),
	)

	out := HandleCreate(Input{
		Document:   doc(map[string]any{"_id": 3, "status": "draft", "score": 9}),
		Page:       page,
		Parameters: published,
		TypeName:   "Post",
	})

	assert.Equal(t, page.Results, out.Results)
}

func TestHandleCreate_DuplicateSuppressed(t *testing.T) {
	in := Input{
		Document:   scored(3, 4),
		Page:       counted(2, scored(1, 5), scored(2, 3)),
		Parameters: params(t, map[string]any{}, scoreDesc),
		TypeName:   "Post",
	}

	once := HandleCreate(in)
	in.Page = once
	twice := HandleCreate(in)

	assert.Equal(t, once.Encode(), twice.Encode())
	assert.Equal(t, int64(3), *twice.TotalCount)
}

func TestHandleUpdate_MigratesOutOfSet(t *testing.T) {
	sel := params(t, map[string]any{"status": "published"}, scoreDesc)
	page := counted(2,
		doc(map[string]any{"_id": 1, "status": "published", "score": 5}),
		doc(map[string]any{"_id": 2, "status": "published", "score": 3}),
	)

	out := HandleUpdate(Input{
		Document:   doc(map[string]any{"_id": 1, "status": "draft", "score": 5}),
		Page:       page,
		Parameters: sel,
		TypeName:   "Post",
	})

	assert.Equal(t, intIDs(2), ids(out))
	assert.Equal(t, int64(1), *out.TotalCount)
}

func TestHandleUpdate_MigratesIntoSet(t *testing.T) {
	sel := params(t, map[string]any{"status": "published"}, scoreDesc)
	page := pageOf(doc(map[string]any{"_id": 2, "status": "published", "score": 3}))

	out := HandleUpdate(Input{
		Document:   doc(map[string]any{"_id": 1, "status": "published", "score": 5}),
		Page:       page,
		Parameters: sel,
		TypeName:   "Post",
	})

	assert.Equal(t, intIDs(1, 2), ids(out))
}

func TestHandleUpdate_PartialPayloadJudgedMerged(t *testing.T) {
	sel := params(t, map[string]any{"status": "published"}, scoreDesc)
	page := pageOf(
		doc(map[string]any{"_id": 1, "status": "published", "score": 5}),
		doc(map[string]any{"_id": 2, "status": "published", "score": 3}),
	)

	// Only the score is sent; the stored status still matches.
	out := HandleUpdate(Input{
		Document:   doc(map[string]any{"_id": 1, "score": 1}),
		Page:       page,
		Parameters: sel,
		TypeName:   "Post",
	})

	assert.Equal(t, intIDs(2, 1), ids(out))
	assert.Equal(t, ir.IRString("published"), out.Results[1]["status"])
}

func TestHandleUpdate_UpsertPath(t *testing.T) {
	h, err := HandlerFor(mutation.KindUpsert)
	require.NoError(t, err)

	out := h(Input{
		Document:   scored(9, 4),
		Page:       scenarioPage(),
		Parameters: params(t, map[string]any{}, scoreDesc),
		TypeName:   "Post",
	})
	assert.Equal(t, intIDs(1, 9, 2), ids(out))
}

func TestHandlers_NilDocumentIsNoop(t *testing.T) {
	page := scenarioPage()
	for _, h := range []Handler{HandleCreate, HandleUpdate, HandleDelete} {
		out := h(Input{Page: page, Parameters: params(t, map[string]any{}, scoreDesc), TypeName: "Post"})
		assert.Equal(t, page, out)
		assert.Empty(t, out.Typename, "no document means no re-tag")
	}
}

func TestHandlers_Truncate(t *testing.T) {
	p := params(t, map[string]any{}, scoreDesc)
	p.Limit = 2

	out := HandleCreate(Input{
		Document:   scored(3, 4),
		Page:       scenarioPage(),
		Parameters: p,
		TypeName:   "Post",
	})
	assert.Equal(t, intIDs(1, 3), ids(out))

	// Falling off the end of a full page.
	out = HandleCreate(Input{
		Document:   scored(4, 0),
		Page:       scenarioPage(),
		Parameters: p,
		TypeName:   "Post",
	})
	assert.Equal(t, intIDs(1, 2), ids(out))
}

func TestHandlers_UpdateInPlaceKeepsLoadedTail(t *testing.T) {
	p := params(t, map[string]any{}, scoreDesc)
	p.Limit = 2

	// Three results on a limit-2 page: the third came from fetch-more.
	grown := pageOf(scored(1, 5), scored(2, 3), scored(3, 1))

	out := HandleUpdate(Input{
		Document:   scored(2, 4),
		Page:       grown,
		Parameters: p,
		TypeName:   "Post",
	})
	assert.Equal(t, intIDs(1, 2, 3), ids(out))

	out = HandleUpdate(Input{
		Document:   scored(3, 9),
		Page:       grown,
		Parameters: p,
		TypeName:   "Post",
	})
	assert.Equal(t, intIDs(3, 1, 2), ids(out), "reordered, not truncated")

	// A create of an entity already present is not an add either.
	out = HandleCreate(Input{
		Document:   scored(1, 5),
		Page:       grown,
		Parameters: p,
		TypeName:   "Post",
	})
	assert.Equal(t, intIDs(1, 2, 3), ids(out))

	// An update that adds a new entity still truncates.
	out = HandleUpdate(Input{
		Document:   scored(4, 4),
		Page:       grown,
		Parameters: p,
		TypeName:   "Post",
	})
	assert.Equal(t, intIDs(1, 4), ids(out))
}

func TestHandlers_AreReferentiallyTransparent(t *testing.T) {
	in := Input{
		Document:   scored(3, 4),
		Page:       scenarioPage(),
		Parameters: params(t, map[string]any{"score": map[string]any{"$gt": 0}}, scoreDesc),
		TypeName:   "Post",
	}
	before := in.Page.Encode()

	for _, h := range []Handler{HandleCreate, HandleUpdate, HandleDelete} {
		a := h(in)
		b := h(in)
		assert.Equal(t, a.Encode(), b.Encode())
	}
	assert.Equal(t, before, in.Page.Encode(), "input page must not be modified")
}

func TestHandlerFor(t *testing.T) {
	for _, k := range mutation.Kinds {
		h, err := HandlerFor(k)
		require.NoError(t, err)
		assert.NotNil(t, h)
	}

	_, err := HandlerFor(mutation.Kind("merge"))
	assert.Error(t, err)
}

func TestHandleCreate_NoSortKeepsAppendOrder(t *testing.T) {
	out := HandleCreate(Input{
		Document:   scored(3, 9),
		Page:       scenarioPage(),
		Parameters: params(t, map[string]any{}, selector.SortSpec{}),
		TypeName:   "Post",
	})
	assert.Equal(t, intIDs(1, 2, 3), ids(out))
}
