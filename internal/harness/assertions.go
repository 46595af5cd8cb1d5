package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/registry"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s id=%s changed=%d", ev.Seq, ev.Kind, ev.TypeName, render(ev.ID), len(ev.Changed))
			if ev.ErrorCode != "" {
				fmt.Fprintf(&buf, " error=%s", ev.ErrorCode)
			}
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// AssertionContext provides what assertions need beyond the result.
type AssertionContext struct {
	// Seeds holds each entry's data before any mutation.
	Seeds map[string]ir.IRObject

	// IDField resolves the id field of a cached page.
	IDField func(page ir.IRObject) string
}

// EvaluateAssertions checks all assertions and returns failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertPageIDs:
			err = assertPageIDs(result, assertion, actx)
		case AssertTotalCount:
			err = assertTotalCount(result, assertion)
		case AssertUnchanged:
			err = assertUnchanged(result, assertion, actx)
		case AssertTraceCount:
			err = assertTraceCount(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}
	return errs
}

// lookupPage returns the page at entry.field in the final cache.
func lookupPage(result *Result, a Assertion) (ir.IRObject, error) {
	data, ok := result.Entries[a.Entry]
	if !ok {
		return nil, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("entry %q in cache", a.Entry),
			Actual:   "entry not found",
		}
	}
	page, ok := data.Object(a.Field)
	if !ok {
		return nil, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("page at %s.%s", a.Entry, a.Field),
			Actual:   "no page object",
		}
	}
	return page, nil
}

// assertPageIDs checks the page's result ids in order.
func assertPageIDs(result *Result, a Assertion, actx *AssertionContext) error {
	page, err := lookupPage(result, a)
	if err != nil {
		return err
	}

	want, err := ir.FromGo(a.IDs)
	if err != nil {
		return fmt.Errorf("ids: %w", err)
	}

	idField := registry.DefaultIDField
	if actx != nil && actx.IDField != nil {
		idField = actx.IDField(page)
	}
	results, _ := page["results"].(ir.IRArray)
	got := make(ir.IRArray, 0, len(results))
	for _, r := range results {
		doc, _ := r.(ir.IRObject)
		v, ok := doc[idField]
		if !ok {
			v = ir.IRNull{}
		}
		got = append(got, v)
	}

	if !ir.Equal(want, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s ids %s", a.Entry, a.Field, render(want)),
			Actual:   render(got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTotalCount checks the page's totalCount field.
func assertTotalCount(result *Result, a Assertion) error {
	page, err := lookupPage(result, a)
	if err != nil {
		return err
	}
	got, ok := page["totalCount"].(ir.IRInt)
	if !ok || int(got) != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s totalCount %d", a.Entry, a.Field, *a.Count),
			Actual:   render(page["totalCount"]),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertUnchanged checks that an entry's data equals its seed.
func assertUnchanged(result *Result, a Assertion, actx *AssertionContext) error {
	if actx == nil || actx.Seeds == nil {
		return fmt.Errorf("unchanged: no seeds available")
	}
	seed, ok := actx.Seeds[a.Entry]
	if !ok {
		return fmt.Errorf("unchanged: unknown entry %q", a.Entry)
	}
	if got := result.Entries[a.Entry]; !ir.Equal(seed, got) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s unchanged: %s", a.Entry, render(seed)),
			Actual:   render(got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTraceCount checks how many mutations changed at least one page.
func assertTraceCount(result *Result, a Assertion) error {
	if got := result.ChangedCount(); got != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d mutation(s) changing a page", *a.Count),
			Actual:   fmt.Sprintf("%d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func render(v ir.IRValue) string {
	if v == nil {
		return "null"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
