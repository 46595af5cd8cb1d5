package mutation

import (
	"fmt"
	"strings"

	"github.com/roach88/watchpatch/internal/ir"
)

// Kind discriminates mutation results.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindUpsert Kind = "upsert"
	KindDelete Kind = "delete"
)

// Kinds lists every known kind in declaration order.
var Kinds = []Kind{KindCreate, KindUpdate, KindUpsert, KindDelete}

// ParseKind accepts a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown mutation kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindUpsert, KindDelete:
		return true
	}
	return false
}

// Result is a validated mutation outcome.
//
// Document is nil when the server returned no document; that is a benign
// no-op for reconciliation, not an error.
type Result struct {
	Kind     Kind
	TypeName string
	Document ir.IRObject
}

// HasDocument reports whether reconciliation has anything to apply.
func (r Result) HasDocument() bool {
	return r.Document != nil
}

// Validate checks the discriminant fields. It does not inspect Document.
func (r Result) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, r.Kind)
	}
	if r.TypeName == "" {
		return fmt.Errorf("%w: missing type name", ErrMalformed)
	}
	return nil
}

// Digest is a content hash of the result, stable across map ordering.
func (r Result) Digest() (string, error) {
	var doc ir.IRValue
	if r.Document != nil {
		doc = r.Document
	}
	return ir.MutationDigest(string(r.Kind), r.TypeName, doc)
}

// String renders "create Post" for logs.
func (r Result) String() string {
	return string(r.Kind) + " " + r.TypeName
}
