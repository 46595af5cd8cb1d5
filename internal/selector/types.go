package selector

import (
	"regexp"

	"github.com/roach88/watchpatch/internal/ir"
)

// Predicate is a parsed selector node.
//
// This is a sealed interface - only types in this package implement it.
// An empty Field on a field predicate means "the value under test itself";
// $elemMatch over scalar arrays relies on that.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// CompareOp enumerates the comparison operators.
type CompareOp string

const (
	OpEq  CompareOp = "$eq"
	OpNe  CompareOp = "$ne"
	OpGt  CompareOp = "$gt"
	OpGte CompareOp = "$gte"
	OpLt  CompareOp = "$lt"
	OpLte CompareOp = "$lte"
)

// Compare represents <field> <op> <value>.
//
// Example:
//
//	Compare{Field: "status", Op: OpEq, Value: ir.IRInt(2)}
type Compare struct {
	Field string
	Op    CompareOp
	Value ir.IRValue
}

func (Compare) predicateNode() {}

// In represents $in (or $nin when Negate is set).
type In struct {
	Field  string
	Values []ir.IRValue
	Negate bool
}

func (In) predicateNode() {}

// Exists represents $exists. A field holding null exists.
type Exists struct {
	Field  string
	Exists bool
}

func (Exists) predicateNode() {}

// Regex represents $regex with optional $options (i, m, s).
// Build with NewRegex so the pattern is compiled once.
type Regex struct {
	Field   string
	Pattern string
	Options string
	re      *regexp.Regexp
}

func (Regex) predicateNode() {}

// Size represents $size: the field is an array of exactly N elements.
type Size struct {
	Field string
	N     int64
}

func (Size) predicateNode() {}

// All represents $all: the field contains every listed value.
type All struct {
	Field  string
	Values []ir.IRValue
}

func (All) predicateNode() {}

// ElemMatch represents $elemMatch: some element of the array field satisfies
// Predicate. Paths inside Predicate are relative to the element.
type ElemMatch struct {
	Field     string
	Predicate Predicate
}

func (ElemMatch) predicateNode() {}

// And holds when every predicate holds. Empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or holds when at least one predicate holds.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Nor holds when no predicate holds.
type Nor struct {
	Predicates []Predicate
}

func (Nor) predicateNode() {}

// Not negates a field-level predicate. A missing field satisfies
// Not{Compare{score > 5}}.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// True returns the predicate that matches every document.
func True() Predicate {
	return And{}
}
