package registry

import (
	"fmt"
	"strings"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/selector"
)

const termsPrefix = "$terms."

// GetParameters derives the selector, sort and limit for terms.
//
// The default view's selector is merged key by key with the named view's
// (the named view wins). Sort comes from the named view, falling back to
// the default view. Limit comes from terms.limit, then the named view,
// then the default view.
func (c *Collection) GetParameters(terms ir.IRObject) (Parameters, error) {
	view, err := c.resolveView(terms)
	if err != nil {
		return Parameters{}, err
	}

	merged := c.DefaultView.Selector.Merge(view.Selector)
	resolved, _ := substitute(merged, termFiller(terms))
	source, _ := resolved.(ir.IRObject)
	if source == nil {
		source = ir.IRObject{}
	}

	pred, err := selector.Parse(source)
	if err != nil {
		return Parameters{}, fmt.Errorf("%w: collection %s: %v", ErrInvalidSelector, c.Name, err)
	}

	params := Parameters{
		Source:   source,
		Selector: pred,
		Sort:     view.Sort,
		Limit:    view.Limit,
	}
	if len(params.Sort) == 0 {
		params.Sort = c.DefaultView.Sort
	}
	if params.Limit == 0 {
		params.Limit = c.DefaultView.Limit
	}

	if raw, ok := terms["limit"]; ok {
		limit, err := termLimit(raw)
		if err != nil {
			return Parameters{}, err
		}
		if limit > 0 {
			params.Limit = limit
		}
	}
	return params, nil
}

func (c *Collection) resolveView(terms ir.IRObject) (View, error) {
	raw, ok := terms["view"]
	if !ok {
		return View{}, nil
	}
	switch name := raw.(type) {
	case ir.IRNull:
		return View{}, nil
	case ir.IRString:
		if name == "" {
			return View{}, nil
		}
		v, ok := c.Views[string(name)]
		if !ok {
			return View{}, fmt.Errorf("%w: %s has no view %q", ErrUnknownView, c.Name, string(name))
		}
		return v, nil
	default:
		return View{}, fmt.Errorf("%w: view must be a string, got %s", ErrInvalidTerms, ir.TypeName(raw))
	}
}

func termLimit(v ir.IRValue) (int, error) {
	switch n := v.(type) {
	case ir.IRNull:
		return 0, nil
	case ir.IRInt:
		if n < 0 {
			return 0, fmt.Errorf("%w: limit must not be negative", ErrInvalidTerms)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: limit must be an integer, got %s", ErrInvalidTerms, ir.TypeName(v))
	}
}

// filler resolves a placeholder name to a value.
type filler interface {
	fill(name string) (ir.IRValue, bool)
}

type termFiller ir.IRObject

func (f termFiller) fill(name string) (ir.IRValue, bool) {
	v, ok := ir.IRObject(f)[name]
	return v, ok
}

// placeholderFiller treats every placeholder as absent, leaving the
// static part of a template for validation.
type placeholderFiller struct{}

func (placeholderFiller) fill(string) (ir.IRValue, bool) {
	return nil, false
}

// substitute replaces placeholders in v. The boolean is false when v
// should be dropped from its parent: a placeholder with no value, or a
// container emptied by such drops.
func substitute(v ir.IRValue, f filler) (ir.IRValue, bool) {
	switch val := v.(type) {
	case ir.IRString:
		name, ok := strings.CutPrefix(string(val), termsPrefix)
		if !ok {
			return val, true
		}
		return f.fill(name)
	case ir.IRObject:
		if len(val) == 0 {
			return val, true
		}
		out := make(ir.IRObject, len(val))
		for k, child := range val {
			if sub, keep := substitute(child, f); keep {
				out[k] = sub
			}
		}
		return out, len(out) > 0
	case ir.IRArray:
		if len(val) == 0 {
			return val, true
		}
		out := make(ir.IRArray, 0, len(val))
		for _, child := range val {
			if sub, keep := substitute(child, f); keep {
				out = append(out, sub)
			}
		}
		return out, len(out) > 0
	default:
		return v, true
	}
}
