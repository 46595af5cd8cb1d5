package selector

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/watchpatch/internal/ir"
)

// ParseError reports a selector that cannot be turned into a Predicate.
type ParseError struct {
	Path    string // dotted location inside the selector, e.g. "$or[1].score"
	Message string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return "selector: " + e.Message
	}
	return fmt.Sprintf("selector: %s: %s", e.Path, e.Message)
}

// Parse converts a declarative selector object into a Predicate.
//
// Keys are processed in RFC 8785 order so the resulting tree is
// deterministic. A selector with a single condition is returned unwrapped;
// an empty or nil selector parses to True().
func Parse(sel ir.IRObject) (Predicate, error) {
	preds, err := parseDocument(sel, "")
	if err != nil {
		return nil, err
	}
	return collapse(preds), nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or with selectors known to be valid.
func MustParse(sel ir.IRObject) Predicate {
	p, err := Parse(sel)
	if err != nil {
		panic(err)
	}
	return p
}

// NewRegex compiles pattern with $options flags into a Regex predicate.
func NewRegex(field, pattern, options string) (Regex, error) {
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			if !strings.ContainsRune(flags, o) {
				flags += string(o)
			}
		default:
			return Regex{}, fmt.Errorf("unsupported $options flag %q", o)
		}
	}
	expr := pattern
	if flags != "" {
		expr = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Regex{}, fmt.Errorf("invalid $regex: %w", err)
	}
	return Regex{Field: field, Pattern: pattern, Options: options, re: re}, nil
}

func collapse(preds []Predicate) Predicate {
	if len(preds) == 1 {
		return preds[0]
	}
	if preds == nil {
		preds = []Predicate{}
	}
	return And{Predicates: preds}
}

// parseDocument parses a selector object whose keys are field paths or
// top-level logical operators.
func parseDocument(sel ir.IRObject, at string) ([]Predicate, error) {
	var preds []Predicate
	for _, key := range sel.SortedKeys() {
		val := sel[key]
		loc := joinPath(at, key)

		if strings.HasPrefix(key, "$") {
			switch key {
			case "$and", "$or", "$nor":
				children, err := parseClauses(val, loc)
				if err != nil {
					return nil, err
				}
				switch key {
				case "$and":
					preds = append(preds, And{Predicates: children})
				case "$or":
					preds = append(preds, Or{Predicates: children})
				default:
					preds = append(preds, Nor{Predicates: children})
				}
			case "$comment":
				// Informational only.
			default:
				return nil, &ParseError{Path: loc, Message: fmt.Sprintf("unknown top-level operator %s", key)}
			}
			continue
		}

		fieldPreds, err := parseField(key, val, loc)
		if err != nil {
			return nil, err
		}
		preds = append(preds, fieldPreds...)
	}
	return preds, nil
}

// parseClauses parses the array operand of $and / $or / $nor.
func parseClauses(val ir.IRValue, loc string) ([]Predicate, error) {
	arr, ok := val.(ir.IRArray)
	if !ok {
		return nil, &ParseError{Path: loc, Message: fmt.Sprintf("expected array, got %s", ir.TypeName(val))}
	}
	if len(arr) == 0 {
		return nil, &ParseError{Path: loc, Message: "must be a non-empty array"}
	}
	children := make([]Predicate, 0, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(ir.IRObject)
		if !ok {
			return nil, &ParseError{Path: fmt.Sprintf("%s[%d]", loc, i), Message: "expected object"}
		}
		sub, err := parseDocument(obj, fmt.Sprintf("%s[%d]", loc, i))
		if err != nil {
			return nil, err
		}
		children = append(children, collapse(sub))
	}
	return children, nil
}

// isOperatorObject reports whether every key of obj is a $-operator.
// Mixing operators with plain keys is rejected.
func isOperatorObject(obj ir.IRObject, loc string) (bool, error) {
	if len(obj) == 0 {
		return false, nil
	}
	ops := 0
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			ops++
		}
	}
	switch ops {
	case 0:
		return false, nil
	case len(obj):
		return true, nil
	default:
		return false, &ParseError{Path: loc, Message: "cannot mix operators and field names"}
	}
}

// parseField parses the condition attached to one field path.
func parseField(field string, val ir.IRValue, loc string) ([]Predicate, error) {
	obj, ok := val.(ir.IRObject)
	if !ok {
		return []Predicate{Compare{Field: field, Op: OpEq, Value: val}}, nil
	}
	isOps, err := isOperatorObject(obj, loc)
	if err != nil {
		return nil, err
	}
	if !isOps {
		// Literal sub-document: exact equality.
		return []Predicate{Compare{Field: field, Op: OpEq, Value: obj}}, nil
	}

	var preds []Predicate
	for _, op := range obj.SortedKeys() {
		operand := obj[op]
		opLoc := joinPath(loc, op)

		switch op {
		case string(OpEq), string(OpNe), string(OpGt), string(OpGte), string(OpLt), string(OpLte):
			preds = append(preds, Compare{Field: field, Op: CompareOp(op), Value: operand})

		case "$in", "$nin":
			arr, ok := operand.(ir.IRArray)
			if !ok {
				return nil, &ParseError{Path: opLoc, Message: fmt.Sprintf("expected array, got %s", ir.TypeName(operand))}
			}
			preds = append(preds, In{Field: field, Values: slices.Clone([]ir.IRValue(arr)), Negate: op == "$nin"})

		case "$exists":
			want, err := truthy(operand, opLoc)
			if err != nil {
				return nil, err
			}
			preds = append(preds, Exists{Field: field, Exists: want})

		case "$regex":
			pattern, ok := operand.(ir.IRString)
			if !ok {
				return nil, &ParseError{Path: opLoc, Message: "expected string pattern"}
			}
			options := ""
			if o, present := obj["$options"]; present {
				s, ok := o.(ir.IRString)
				if !ok {
					return nil, &ParseError{Path: joinPath(loc, "$options"), Message: "expected string"}
				}
				options = string(s)
			}
			re, err := NewRegex(field, string(pattern), options)
			if err != nil {
				return nil, &ParseError{Path: opLoc, Message: err.Error()}
			}
			preds = append(preds, re)

		case "$options":
			if _, present := obj["$regex"]; !present {
				return nil, &ParseError{Path: opLoc, Message: "$options without $regex"}
			}

		case "$size":
			n, ok := operand.(ir.IRInt)
			if !ok || n < 0 {
				return nil, &ParseError{Path: opLoc, Message: "expected non-negative integer"}
			}
			preds = append(preds, Size{Field: field, N: int64(n)})

		case "$all":
			arr, ok := operand.(ir.IRArray)
			if !ok {
				return nil, &ParseError{Path: opLoc, Message: fmt.Sprintf("expected array, got %s", ir.TypeName(operand))}
			}
			preds = append(preds, All{Field: field, Values: slices.Clone([]ir.IRValue(arr))})

		case "$elemMatch":
			sub, ok := operand.(ir.IRObject)
			if !ok {
				return nil, &ParseError{Path: opLoc, Message: "expected object"}
			}
			inner, err := parseElemMatch(sub, opLoc)
			if err != nil {
				return nil, err
			}
			preds = append(preds, ElemMatch{Field: field, Predicate: inner})

		case "$not":
			sub, ok := operand.(ir.IRObject)
			if !ok {
				return nil, &ParseError{Path: opLoc, Message: "expected operator object"}
			}
			if isOps, err := isOperatorObject(sub, opLoc); err != nil || !isOps {
				return nil, &ParseError{Path: opLoc, Message: "expected operator object"}
			}
			inner, err := parseField(field, sub, opLoc)
			if err != nil {
				return nil, err
			}
			preds = append(preds, Not{Predicate: collapse(inner)})

		default:
			return nil, &ParseError{Path: opLoc, Message: fmt.Sprintf("unknown operator %s", op)}
		}
	}
	return preds, nil
}

// parseElemMatch handles both forms: {$gte: 80} applies to scalar elements,
// {user: "u1"} applies to object elements.
func parseElemMatch(sub ir.IRObject, loc string) (Predicate, error) {
	isOps, err := isOperatorObject(sub, loc)
	if err != nil {
		return nil, err
	}
	if isOps {
		preds, err := parseField("", sub, loc)
		if err != nil {
			return nil, err
		}
		return collapse(preds), nil
	}
	preds, err := parseDocument(sub, loc)
	if err != nil {
		return nil, err
	}
	return collapse(preds), nil
}

func truthy(v ir.IRValue, loc string) (bool, error) {
	switch val := v.(type) {
	case ir.IRBool:
		return bool(val), nil
	case ir.IRInt:
		return val != 0, nil
	default:
		return false, &ParseError{Path: loc, Message: "expected boolean"}
	}
}

func joinPath(at, key string) string {
	if at == "" {
		return key
	}
	return at + "." + key
}
