package harness

import (
	"github.com/roach88/watchpatch/internal/ir"
)

// TraceEvent records one applied mutation.
type TraceEvent struct {
	Seq      int64
	Batch    string
	Kind     string
	TypeName string

	// ID is the mutated document's id, nil when it has none.
	ID ir.IRValue

	// NoDocument is set when the mutation carried no document.
	NoDocument bool

	Changed   []PageChange
	Unchanged int
	Missing   int
	Failed    int

	// ErrorCode is the reconcile error code, or "" on success.
	ErrorCode string
}

// PageChange is one rewritten page, named by its scenario entry.
type PageChange struct {
	Entry  string
	Field  string
	Before []ir.IRValue
	After  []ir.IRValue
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every expect clause and assertion held.
	Pass bool

	// Trace contains one event per mutation, in seq order.
	Trace []TraceEvent

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string

	// Entries holds the final cached data keyed by entry name.
	Entries map[string]ir.IRObject
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Entries: make(map[string]ir.IRObject),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// ChangedCount returns the number of events that changed at least one page.
func (r *Result) ChangedCount() int {
	n := 0
	for _, ev := range r.Trace {
		if len(ev.Changed) > 0 {
			n++
		}
	}
	return n
}
