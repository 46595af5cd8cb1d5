package selector

import (
	"strconv"
	"strings"

	"github.com/roach88/watchpatch/internal/ir"
)

// Match reports whether doc satisfies p. A nil predicate matches everything.
//
// Match is total: every Predicate type is handled, and malformed inputs
// (wrong kinds, missing fields) simply fail to match.
func Match(p Predicate, doc ir.IRValue) bool {
	if p == nil {
		return true
	}

	switch pred := p.(type) {
	case Compare:
		return matchCompare(pred, doc)
	case *Compare:
		return matchCompare(*pred, doc)
	case In:
		return matchIn(pred, doc)
	case *In:
		return matchIn(*pred, doc)
	case Exists:
		return (len(lookup(doc, splitPath(pred.Field))) > 0) == pred.Exists
	case *Exists:
		return (len(lookup(doc, splitPath(pred.Field))) > 0) == pred.Exists
	case Regex:
		return matchRegex(pred, doc)
	case *Regex:
		return matchRegex(*pred, doc)
	case Size:
		return matchSize(pred, doc)
	case *Size:
		return matchSize(*pred, doc)
	case All:
		return matchAll(pred, doc)
	case *All:
		return matchAll(*pred, doc)
	case ElemMatch:
		return matchElem(pred, doc)
	case *ElemMatch:
		return matchElem(*pred, doc)
	case And:
		return matchEvery(pred.Predicates, doc)
	case *And:
		return matchEvery(pred.Predicates, doc)
	case Or:
		return matchAny(pred.Predicates, doc)
	case *Or:
		return matchAny(pred.Predicates, doc)
	case Nor:
		return !matchAny(pred.Predicates, doc)
	case *Nor:
		return !matchAny(pred.Predicates, doc)
	case Not:
		return !Match(pred.Predicate, doc)
	case *Not:
		return !Match(pred.Predicate, doc)
	default:
		return false
	}
}

func matchEvery(preds []Predicate, doc ir.IRValue) bool {
	for _, p := range preds {
		if !Match(p, doc) {
			return false
		}
	}
	return true
}

func matchAny(preds []Predicate, doc ir.IRValue) bool {
	for _, p := range preds {
		if Match(p, doc) {
			return true
		}
	}
	return false
}

func splitPath(field string) []string {
	if field == "" {
		return nil
	}
	return strings.Split(field, ".")
}

// lookup returns every leaf value reachable at path. Arrays met before the
// end of the path are traversed element-wise; a numeric segment indexes
// into an array directly. An empty result means the field is missing.
func lookup(v ir.IRValue, path []string) []ir.IRValue {
	if len(path) == 0 {
		return []ir.IRValue{v}
	}

	switch val := v.(type) {
	case ir.IRObject:
		child, ok := val[path[0]]
		if !ok {
			return nil
		}
		return lookup(child, path[1:])
	case ir.IRArray:
		if idx, err := strconv.Atoi(path[0]); err == nil && idx >= 0 {
			if idx < len(val) {
				return lookup(val[idx], path[1:])
			}
			return nil
		}
		var out []ir.IRValue
		for _, elem := range val {
			if obj, ok := elem.(ir.IRObject); ok {
				out = append(out, lookup(obj, path)...)
			}
		}
		return out
	default:
		return nil
	}
}

// candidates expands leaf arrays one level, so a condition on an array
// field can hold for the whole array or for any element.
func candidates(leaves []ir.IRValue) []ir.IRValue {
	out := make([]ir.IRValue, 0, len(leaves))
	for _, leaf := range leaves {
		out = append(out, leaf)
		if arr, ok := leaf.(ir.IRArray); ok {
			out = append(out, arr...)
		}
	}
	return out
}

// hasMissing reports whether some branch of the traversal at path ends
// without a value, such as an array element object lacking the field.
func hasMissing(v ir.IRValue, path []string) bool {
	if len(path) == 0 {
		return false
	}

	switch val := v.(type) {
	case ir.IRObject:
		child, ok := val[path[0]]
		if !ok {
			return true
		}
		return hasMissing(child, path[1:])
	case ir.IRArray:
		if idx, err := strconv.Atoi(path[0]); err == nil && idx >= 0 {
			if idx < len(val) {
				return hasMissing(val[idx], path[1:])
			}
			return true
		}
		for _, elem := range val {
			if obj, ok := elem.(ir.IRObject); ok && hasMissing(obj, path) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func isNull(v ir.IRValue) bool {
	switch v.(type) {
	case nil, ir.IRNull:
		return true
	}
	return false
}

func matchEq(field string, value ir.IRValue, doc ir.IRValue) bool {
	path := splitPath(field)
	leaves := lookup(doc, path)
	if isNull(value) && (len(leaves) == 0 || hasMissing(doc, path)) {
		return true
	}
	for _, c := range candidates(leaves) {
		if ir.Equal(c, value) {
			return true
		}
	}
	return false
}

func matchCompare(c Compare, doc ir.IRValue) bool {
	switch c.Op {
	case OpEq:
		return matchEq(c.Field, c.Value, doc)
	case OpNe:
		return !matchEq(c.Field, c.Value, doc)
	}

	if isNull(c.Value) {
		// Only the inclusive bounds match null, and then exactly like $eq.
		if c.Op == OpGte || c.Op == OpLte {
			return matchEq(c.Field, c.Value, doc)
		}
		return false
	}

	for _, cand := range candidates(lookup(doc, splitPath(c.Field))) {
		if !ir.SameKind(cand, c.Value) {
			continue
		}
		cmp := ir.Compare(cand, c.Value)
		switch c.Op {
		case OpGt:
			if cmp > 0 {
				return true
			}
		case OpGte:
			if cmp >= 0 {
				return true
			}
		case OpLt:
			if cmp < 0 {
				return true
			}
		case OpLte:
			if cmp <= 0 {
				return true
			}
		}
	}
	return false
}

func matchIn(in In, doc ir.IRValue) bool {
	found := false
	for _, v := range in.Values {
		if matchEq(in.Field, v, doc) {
			found = true
			break
		}
	}
	return found != in.Negate
}

func matchRegex(r Regex, doc ir.IRValue) bool {
	re := r.re
	if re == nil {
		compiled, err := NewRegex(r.Field, r.Pattern, r.Options)
		if err != nil {
			return false
		}
		re = compiled.re
	}
	for _, c := range candidates(lookup(doc, splitPath(r.Field))) {
		if s, ok := c.(ir.IRString); ok && re.MatchString(string(s)) {
			return true
		}
	}
	return false
}

func matchSize(s Size, doc ir.IRValue) bool {
	for _, leaf := range lookup(doc, splitPath(s.Field)) {
		if arr, ok := leaf.(ir.IRArray); ok && int64(len(arr)) == s.N {
			return true
		}
	}
	return false
}

func matchAll(a All, doc ir.IRValue) bool {
	if len(a.Values) == 0 {
		return false
	}
	for _, v := range a.Values {
		if !matchEq(a.Field, v, doc) {
			return false
		}
	}
	return true
}

func matchElem(e ElemMatch, doc ir.IRValue) bool {
	for _, leaf := range lookup(doc, splitPath(e.Field)) {
		arr, ok := leaf.(ir.IRArray)
		if !ok {
			continue
		}
		for _, elem := range arr {
			if Match(e.Predicate, elem) {
				return true
			}
		}
	}
	return false
}
