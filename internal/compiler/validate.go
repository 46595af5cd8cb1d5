package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/selector"
)

// Validation codes. Errors (E1xx) make a spec set unusable; warnings (W2xx)
// flag views that work but are served slowly.
const (
	// Collection errors (E101-E109)
	ErrTypeNameEmpty      = "E101" // type name is required
	ErrDuplicateType      = "E102" // two collections share a type name
	ErrDuplicateName      = "E103" // two collections share a name
	ErrDuplicateResolver  = "E104" // two collections share a multi resolver
	ErrInvalidSelector    = "E105" // view selector does not parse
	ErrInvalidSort        = "E106" // sort key has an empty field
	ErrNegativeLimit      = "E107" // view limit is negative
	ErrUnknownPlaceholder = "E108" // placeholder outside the $terms namespace

	// View warnings (W201-W209)
	WarnNotPushdown = "W201" // selector falls back to scanning in the store
)

// ValidationError represents a spec validation finding.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// IsWarning reports whether the finding is advisory.
func (e ValidationError) IsWarning() bool {
	return strings.HasPrefix(e.Code, "W")
}

// Validate checks a set of collections against each other and checks every
// view. Returns all findings (does not fail-fast), errors and warnings
// interleaved in collection order.
func Validate(colls []*registry.Collection) []ValidationError {
	var errs []ValidationError

	types := make(map[string]string)
	names := make(map[string]bool)
	resolvers := make(map[string]string)

	for _, c := range colls {
		// E101: type name is required
		if strings.TrimSpace(c.TypeName) == "" {
			errs = append(errs, ValidationError{
				Field:   c.Name + ".type_name",
				Message: "type name is required and must be non-empty",
				Code:    ErrTypeNameEmpty,
			})
			continue
		}

		// E102: one collection per type
		if other, dup := types[c.TypeName]; dup {
			errs = append(errs, ValidationError{
				Field:   c.Name + ".type_name",
				Message: fmt.Sprintf("type %q is already declared by %s", c.TypeName, other),
				Code:    ErrDuplicateType,
			})
		}
		types[c.TypeName] = c.Name

		// E103: collection names are unique
		if names[c.Name] {
			errs = append(errs, ValidationError{
				Field:   c.Name,
				Message: fmt.Sprintf("duplicate collection name: %q", c.Name),
				Code:    ErrDuplicateName,
			})
		}
		names[c.Name] = true

		// E104: watch scanning routes by resolver, so resolvers are unique.
		// Collisions are reported against the first type that claimed it.
		if other, dup := resolvers[c.Resolver()]; !dup {
			resolvers[c.Resolver()] = c.TypeName
		} else if other != c.TypeName {
			errs = append(errs, ValidationError{
				Field:   c.Name + ".resolver",
				Message: fmt.Sprintf("resolver %q is also used by type %s", c.Resolver(), other),
				Code:    ErrDuplicateResolver,
			})
		}

		errs = append(errs, validateView(c, "default_view", c.DefaultView)...)
		for _, name := range c.ViewNames() {
			errs = append(errs, validateView(c, "view."+name, c.Views[name])...)
		}
	}

	return errs
}

// Errors returns only the non-warning findings.
func Errors(findings []ValidationError) []ValidationError {
	var out []ValidationError
	for _, f := range findings {
		if !f.IsWarning() {
			out = append(out, f)
		}
	}
	return out
}

func validateView(c *registry.Collection, field string, v registry.View) []ValidationError {
	var errs []ValidationError
	at := c.Name + "." + field

	// E107: negative limit
	if v.Limit < 0 {
		errs = append(errs, ValidationError{
			Field:   at + ".limit",
			Message: fmt.Sprintf("limit must not be negative, got %d", v.Limit),
			Code:    ErrNegativeLimit,
		})
	}

	// E106: sort keys name a field
	for i, key := range v.Sort {
		if key.Field == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.sort[%d]", at, i),
				Message: "sort field must be non-empty",
				Code:    ErrInvalidSort,
			})
		}
	}

	// E108: placeholders
	for _, p := range placeholders(v.Selector) {
		if !strings.HasPrefix(p, "$terms.") || p == "$terms." {
			errs = append(errs, ValidationError{
				Field:   at + ".selector",
				Message: fmt.Sprintf("placeholder %q must have the form $terms.<name>", p),
				Code:    ErrUnknownPlaceholder,
			})
		}
	}

	// E105: the static part parses; W201: and can be pushed down
	pred, err := selector.Parse(v.StaticSelector())
	if err != nil {
		errs = append(errs, ValidationError{
			Field:   at + ".selector",
			Message: err.Error(),
			Code:    ErrInvalidSelector,
		})
		return errs
	}
	if result := selector.Validate(pred); !result.Pushdown {
		errs = append(errs, ValidationError{
			Field:   at + ".selector",
			Message: "evaluated in memory: " + strings.Join(result.Warnings, "; "),
			Code:    WarnNotPushdown,
		})
	}

	return errs
}

// placeholders returns every string value that looks like a placeholder
// ($ followed by a dotted name), in key order.
func placeholders(v ir.IRValue) []string {
	var out []string
	var walk func(ir.IRValue)
	walk = func(v ir.IRValue) {
		switch val := v.(type) {
		case ir.IRString:
			s := string(val)
			if strings.HasPrefix(s, "$") && strings.Contains(s, ".") {
				out = append(out, s)
			}
		case ir.IRArray:
			for _, elem := range val {
				walk(elem)
			}
		case ir.IRObject:
			for _, k := range val.SortedKeys() {
				walk(val[k])
			}
		}
	}
	walk(v)
	return out
}
