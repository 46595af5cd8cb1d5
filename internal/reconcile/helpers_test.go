package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/selector"
)

func doc(fields map[string]any) ir.IRObject {
	return ir.MustObject(fields)
}

func scored(id, score int) ir.IRObject {
	return doc(map[string]any{"_id": id, "score": score})
}

func pageOf(docs ...ir.IRObject) Page {
	return Page{Results: docs, Extra: ir.IRObject{}}
}

func counted(n int64, docs ...ir.IRObject) Page {
	p := pageOf(docs...)
	p.TotalCount = &n
	return p
}

func ids(p Page) []ir.IRValue {
	return p.IDs()
}

func intIDs(ns ...int) []ir.IRValue {
	out := make([]ir.IRValue, len(ns))
	for i, n := range ns {
		out[i] = ir.IRInt(n)
	}
	return out
}

func params(t *testing.T, sel map[string]any, sort selector.SortSpec) registry.Parameters {
	t.Helper()
	source := ir.MustObject(sel)
	pred, err := selector.Parse(source)
	require.NoError(t, err)
	return registry.Parameters{Source: source, Selector: pred, Sort: sort}
}

var scoreDesc = selector.SortSpec{{Field: "score", Direction: selector.Desc}}
