package selector

import (
	"fmt"
	"strings"

	"github.com/roach88/watchpatch/internal/ir"
)

// ValidationResult reports whether a selector can be pushed down to the
// SQL store.
//
// Selectors outside the pushdown fragment still work: the store falls back
// to loading the collection and filtering with Match. Warnings explain
// which nodes forced the fallback.
type ValidationResult struct {
	// Pushdown is true when every node compiles to SQL.
	Pushdown bool

	// Warnings lists the non-pushdown nodes. Empty when Pushdown is true.
	Warnings []string
}

// Validate checks a predicate against the pushdown fragment:
//  1. Fields are top-level names; dotted paths may cross arrays of objects
//     or name array indexes, which SQLite JSON paths cannot follow
//  2. Values are scalars (string, number, bool, null)
//  3. No $regex, $size, $all or $elemMatch
//  4. $not wraps a pushdown predicate
//
// Validate is a pure function with no side effects.
func Validate(p Predicate) ValidationResult {
	v := &validator{
		warnings: []string{},
	}
	v.validatePredicate(p)

	return ValidationResult{
		Pushdown: len(v.warnings) == 0,
		Warnings: v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings []string
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return
	}

	switch pred := p.(type) {
	case Compare:
		v.validateScalar(pred.Field, pred.Value)
	case *Compare:
		v.validateScalar(pred.Field, pred.Value)
	case In:
		v.validateIn(pred)
	case *In:
		v.validateIn(*pred)
	case Exists:
		v.validateField(pred.Field)
	case *Exists:
		v.validateField(pred.Field)
	case Regex, *Regex:
		v.addWarning("$regex is evaluated in memory")
	case Size, *Size:
		v.addWarning("$size is evaluated in memory")
	case All, *All:
		v.addWarning("$all is evaluated in memory")
	case ElemMatch, *ElemMatch:
		v.addWarning("$elemMatch is evaluated in memory")
	case And:
		v.validateAll(pred.Predicates)
	case *And:
		v.validateAll(pred.Predicates)
	case Or:
		v.validateAll(pred.Predicates)
	case *Or:
		v.validateAll(pred.Predicates)
	case Nor:
		v.validateAll(pred.Predicates)
	case *Nor:
		v.validateAll(pred.Predicates)
	case Not:
		v.validatePredicate(pred.Predicate)
	case *Not:
		v.validatePredicate(pred.Predicate)
	default:
		v.addWarning("Unknown predicate type: %T - pushdown cannot be verified", p)
	}
}

func (v *validator) validateAll(preds []Predicate) {
	for _, p := range preds {
		v.validatePredicate(p)
	}
}

func (v *validator) validateIn(in In) {
	if !v.validateField(in.Field) {
		return
	}
	for _, val := range in.Values {
		v.validateValue(in.Field, val)
	}
}

func (v *validator) validateScalar(field string, val ir.IRValue) {
	if v.validateField(field) {
		v.validateValue(field, val)
	}
}

// validateField reports whether field can be addressed by a JSON path.
func (v *validator) validateField(field string) bool {
	if field == "" {
		v.addWarning("predicate on the value itself is only valid inside $elemMatch")
		return false
	}
	if strings.Contains(field, ".") {
		v.addWarning("Field '%s' is a dotted path - array traversal is evaluated in memory", field)
		return false
	}
	return true
}

func (v *validator) validateValue(field string, val ir.IRValue) {
	switch val.(type) {
	case ir.IRObject, ir.IRArray:
		v.addWarning("Field '%s' compared to %s - only scalar values push down", field, ir.TypeName(val))
	}
}
