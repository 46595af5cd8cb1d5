package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/selector"
)

// CompileCollection parses a CUE value into a Collection.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the collection struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`collection: Posts: { type_name: "Post" }`)
//	coll, err := CompileCollection(v.LookupPath(cue.ParsePath("collection.Posts")))
func CompileCollection(v cue.Value) (*registry.Collection, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	coll := &registry.Collection{}

	// Collection name from struct label
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		coll.Name = labels[len(labels)-1].Unquoted()
	}

	typeVal := v.LookupPath(cue.ParsePath("type_name"))
	if !typeVal.Exists() {
		return nil, &CompileError{
			Field:   "type_name",
			Message: "type_name is required",
			Pos:     v.Pos(),
		}
	}
	typeName, err := typeVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if typeName == "" {
		return nil, &CompileError{Field: "type_name", Message: "type_name must not be empty", Pos: typeVal.Pos()}
	}
	coll.TypeName = typeName

	if coll.IDField, err = optionalString(v, "id_field"); err != nil {
		return nil, err
	}
	if coll.ResolverName, err = optionalString(v, "resolver"); err != nil {
		return nil, err
	}

	defaultVal := v.LookupPath(cue.ParsePath("default_view"))
	if defaultVal.Exists() {
		coll.DefaultView, err = compileView(defaultVal, "default_view")
		if err != nil {
			return nil, err
		}
	}

	coll.Views, err = compileViews(v)
	if err != nil {
		return nil, err
	}

	if err := coll.Validate(); err != nil {
		return nil, &CompileError{Field: "collection", Message: err.Error(), Pos: v.Pos()}
	}
	return coll, nil
}

// compileViews extracts the named views. A collection without views gets
// an empty map.
func compileViews(v cue.Value) (map[string]registry.View, error) {
	views := make(map[string]registry.View)

	viewsVal := v.LookupPath(cue.ParsePath("view"))
	if !viewsVal.Exists() {
		return views, nil // views are optional
	}

	iter, err := viewsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		view, err := compileView(iter.Value(), "view."+name)
		if err != nil {
			return nil, err
		}
		view.Name = name
		views[name] = view
	}
	return views, nil
}

// compileView parses selector, sort and limit. All three are optional.
func compileView(v cue.Value, field string) (registry.View, error) {
	var view registry.View

	if selVal := v.LookupPath(cue.ParsePath("selector")); selVal.Exists() {
		if selVal.IncompleteKind() != cue.StructKind {
			return view, &CompileError{
				Field:   field + ".selector",
				Message: "selector must be a struct",
				Pos:     selVal.Pos(),
			}
		}
		raw, err := concreteValue(selVal, field+".selector")
		if err != nil {
			return view, err
		}
		view.Selector = raw.(ir.IRObject)
	}

	if sortVal := v.LookupPath(cue.ParsePath("sort")); sortVal.Exists() {
		raw, err := concreteValue(sortVal, field+".sort")
		if err != nil {
			return view, err
		}
		spec, err := selector.ParseSort(raw)
		if err != nil {
			return view, &CompileError{Field: field + ".sort", Message: err.Error(), Pos: sortVal.Pos()}
		}
		view.Sort = spec
	}

	if limitVal := v.LookupPath(cue.ParsePath("limit")); limitVal.Exists() {
		limit, err := limitVal.Int64()
		if err != nil {
			return view, &CompileError{Field: field + ".limit", Message: "limit must be an integer", Pos: limitVal.Pos()}
		}
		if limit < 0 {
			return view, &CompileError{Field: field + ".limit", Message: "limit must not be negative", Pos: limitVal.Pos()}
		}
		view.Limit = int(limit)
	}

	return view, nil
}

// concreteValue exports v as JSON and decodes it into the IR so numbers
// keep their integer or float kind.
func concreteValue(v cue.Value, field string) (ir.IRValue, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		cerr := formatCUEError(err)
		if ce, ok := cerr.(*CompileError); ok {
			ce.Field = field
			return nil, ce
		}
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	val, err := ir.UnmarshalIRValue(data)
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return val, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: field + " must be a string", Pos: fv.Pos()}
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
