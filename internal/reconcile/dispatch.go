package reconcile

import (
	"fmt"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/registry"
)

// Input is everything a handler needs to patch one page.
type Input struct {
	// Document is the mutated document. Nil means the mutation returned
	// no document and the page is left untouched.
	Document ir.IRObject

	// Page is the cached page before the mutation.
	Page Page

	// Parameters are the watch's derived selector, sort and limit. A zero
	// Limit disables truncation.
	Parameters registry.Parameters

	// TypeName is the mutated type, used to re-tag the page.
	TypeName string
}

// Handler computes the new page for one mutation kind. Handlers are pure.
type Handler func(Input) Page

// HandlerFor returns the handler for kind. Upserts share the update handler.
func HandlerFor(kind mutation.Kind) (Handler, error) {
	switch kind {
	case mutation.KindCreate:
		return HandleCreate, nil
	case mutation.KindUpdate, mutation.KindUpsert:
		return HandleUpdate, nil
	case mutation.KindDelete:
		return HandleDelete, nil
	default:
		return nil, fmt.Errorf("no handler for mutation kind %q", kind)
	}
}

// HandleCreate adds the document when it matches the selector and is not
// already on the page, then re-sorts. A non-matching document leaves the
// page's results unchanged. The same create may reach several equivalent
// cache entries, so the add is idempotent.
func HandleCreate(in Input) Page {
	if in.Document == nil {
		return in.Page
	}

	page := in.Page
	if BelongsToSet(in.Document, in.Parameters.Selector) {
		added := !IsInSet(page, in.Document)
		if added {
			page = AddToSet(page, in.Document)
		}
		page = ReorderSet(page, in.Parameters.Sort)
		if added {
			page = TruncateSet(page, in.Parameters.Limit)
		}
	}
	return retag(page, in.TypeName)
}

// HandleUpdate keeps the page consistent with an edited document: a match
// is added or merged in place and the page re-sorted; a document that no
// longer matches is removed. Upserts take the same path. The page is cut
// back to the limit only after an add.
func HandleUpdate(in Input) Page {
	if in.Document == nil {
		return in.Page
	}

	page := in.Page

	// Partial payloads are judged as they will look once merged.
	candidate := in.Document
	if i := page.indexOf(in.Document); i >= 0 {
		candidate = page.Results[i].Merge(in.Document)
	}

	if BelongsToSet(candidate, in.Parameters.Selector) {
		added := !IsInSet(page, in.Document)
		if added {
			page = AddToSet(page, in.Document)
		} else {
			page = UpdateInSet(page, in.Document)
		}
		page = ReorderSet(page, in.Parameters.Sort)
		// Only an add can push the page past the limit. A page grown by
		// fetch-more keeps its loaded tail across in-place edits.
		if added {
			page = TruncateSet(page, in.Parameters.Limit)
		}
	} else {
		page = RemoveFromSet(page, in.Document)
	}
	return retag(page, in.TypeName)
}

// HandleDelete removes the document regardless of the selector.
func HandleDelete(in Input) Page {
	if in.Document == nil {
		return in.Page
	}
	return retag(RemoveFromSet(in.Page, in.Document), in.TypeName)
}

func retag(p Page, typeName string) Page {
	p.Typename = mutation.ResultMarker(typeName)
	return p
}
