package reconcile

import (
	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/selector"
)

// BelongsToSet reports whether doc satisfies the page's selector.
func BelongsToSet(doc ir.IRObject, sel selector.Predicate) bool {
	return selector.Match(sel, doc)
}

// IsInSet reports whether a document with doc's id is on the page. A
// document without an id is never in the set.
func IsInSet(p Page, doc ir.IRObject) bool {
	return p.indexOf(doc) >= 0
}

func (p Page) indexOf(doc ir.IRObject) int {
	id, ok := p.id(doc)
	if !ok {
		return -1
	}
	for i, existing := range p.Results {
		if other, ok := p.id(existing); ok && ir.Equal(id, other) {
			return i
		}
	}
	return -1
}

// AddToSet appends doc unless a document with its id is already present.
// totalCount, when the page carries one, grows by one.
func AddToSet(p Page, doc ir.IRObject) Page {
	out := p.clone()
	if IsInSet(p, doc) {
		return out
	}
	out.Results = append(out.Results, doc)
	if out.TotalCount != nil {
		*out.TotalCount++
	}
	return out
}

// RemoveFromSet drops every document with doc's id. totalCount shrinks by
// the number removed and never below zero.
func RemoveFromSet(p Page, doc ir.IRObject) Page {
	out := p.clone()
	id, ok := p.id(doc)
	if !ok {
		return out
	}

	kept := out.Results[:0]
	removed := 0
	for _, existing := range out.Results {
		if other, ok := p.id(existing); ok && ir.Equal(id, other) {
			removed++
			continue
		}
		kept = append(kept, existing)
	}
	out.Results = kept

	if out.TotalCount != nil && removed > 0 {
		*out.TotalCount = max(*out.TotalCount-int64(removed), 0)
	}
	return out
}

// UpdateInSet merges doc's fields over the document with the same id,
// keeping its position. Fields absent from doc keep their old values.
func UpdateInSet(p Page, doc ir.IRObject) Page {
	out := p.clone()
	i := p.indexOf(doc)
	if i < 0 {
		return out
	}
	out.Results[i] = out.Results[i].Merge(doc)
	return out
}

// ReorderSet stable-sorts the page by spec. Membership never changes; an
// empty spec leaves the order as is.
func ReorderSet(p Page, spec selector.SortSpec) Page {
	out := p.clone()
	if len(spec) == 0 || len(out.Results) < 2 {
		return out
	}

	vals := make([]ir.IRValue, len(out.Results))
	for i, doc := range out.Results {
		vals[i] = doc
	}
	spec.Sort(vals)
	for i, v := range vals {
		out.Results[i] = v.(ir.IRObject)
	}
	return out
}

// TruncateSet keeps at most limit results. A limit of zero or less keeps
// everything. totalCount is left alone: it counts the whole result set,
// not the loaded window.
func TruncateSet(p Page, limit int) Page {
	out := p.clone()
	if limit > 0 && len(out.Results) > limit {
		out.Results = out.Results[:limit]
	}
	return out
}
