package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/watchpatch/internal/cache"
	"github.com/roach88/watchpatch/internal/compiler"
	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/pipeline"
	"github.com/roach88/watchpatch/internal/reconcile"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/testutil"
)

// CodeMalformedMutation is the trace error code for a mutation rejected
// before it was stamped.
const CodeMalformedMutation = "MALFORMED_MUTATION"

// Harness holds the state of one scenario execution.
type Harness struct {
	registry *registry.Registry
	cache    *cache.MemoryStore
	pipeline *pipeline.Pipeline
	clock    *testutil.DeterministicClock

	// entryNames maps watch keys to scenario entry names.
	entryNames map[string]string
	seeds      map[string]ir.IRObject
	watches    map[string]cache.Watch
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh in-memory cache. Mutations go through
// the real pipeline and reconciler with a deterministic clock and a fixed
// batch token, so the trace is reproducible.
//
// Execution flow:
// 1. Compile the scenario's collection specs into a registry
// 2. Seed the cache entries
// 3. Apply each mutation in order and check its expect clause
// 4. Evaluate assertions against the final cache
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	reg, err := compiler.CompileFiles(scenario.Specs...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile specs: %w", err)
	}

	h, err := newHarness(ctx, reg, scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Mutations {
		if err := h.applyStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	for _, name := range h.order(scenario) {
		data, err := h.cache.ReadQuery(ctx, h.watches[name])
		if err != nil {
			return nil, fmt.Errorf("read entry %q: %w", name, err)
		}
		result.Entries[name] = data
	}

	actx := &AssertionContext{Seeds: h.seeds, IDField: h.idField}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func newHarness(ctx context.Context, reg *registry.Registry, scenario *Scenario) (*Harness, error) {
	store := cache.NewMemoryStore()
	clock := testutil.NewDeterministicClock()

	truncate := true
	if scenario.TruncateToLimit != nil {
		truncate = *scenario.TruncateToLimit
	}
	rec := reconcile.New(reg, store, reconcile.WithTruncateToLimit(truncate))

	h := &Harness{
		registry: reg,
		cache:    store,
		clock:    clock,
		pipeline: pipeline.New(rec,
			pipeline.WithClock(clock),
			pipeline.WithTokenGenerator(testutil.NewFixedBatchGenerator(scenario.Batch)),
		),
		entryNames: make(map[string]string, len(scenario.Cache)),
		seeds:      make(map[string]ir.IRObject, len(scenario.Cache)),
		watches:    make(map[string]cache.Watch, len(scenario.Cache)),
	}

	for i, entry := range scenario.Cache {
		w, data, err := convertEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("cache[%d] %q: %w", i, entry.Name, err)
		}
		key, err := w.Key()
		if err != nil {
			return nil, fmt.Errorf("cache[%d] %q: %w", i, entry.Name, err)
		}
		if other, dup := h.entryNames[key]; dup {
			return nil, fmt.Errorf("cache[%d] %q: same watch as %q", i, entry.Name, other)
		}
		if err := store.WriteQuery(ctx, w, data); err != nil {
			return nil, fmt.Errorf("cache[%d] %q: %w", i, entry.Name, err)
		}
		h.entryNames[key] = entry.Name
		h.seeds[entry.Name] = data.Clone()
		h.watches[entry.Name] = w
	}

	return h, nil
}

// applyStep applies one mutation, records its trace event and checks the
// expect clause. Reconcile failures are part of the trace, not errors.
func (h *Harness) applyStep(ctx context.Context, i int, step MutationStep, result *Result) error {
	kind, err := mutation.ParseKind(step.Kind)
	if err != nil {
		return fmt.Errorf("mutation %d: %w", i, err)
	}
	m := mutation.Result{Kind: kind, TypeName: step.Type}
	if step.Document != nil {
		doc, err := convertObject(step.Document)
		if err != nil {
			return fmt.Errorf("mutation %d: document: %w", i, err)
		}
		m.Document = doc
	}

	applied, applyErr := h.pipeline.Apply(ctx, m)
	event := h.traceEvent(applied, applyErr)
	result.Trace = append(result.Trace, event)

	if step.Expect != nil {
		for _, msg := range checkExpect(i, step.Expect, event) {
			result.AddError(msg)
		}
	} else if event.ErrorCode != "" {
		result.AddError(fmt.Sprintf("mutation %d (%s): unexpected error %s: %v", i, m, event.ErrorCode, applyErr))
	}
	return nil
}

func (h *Harness) traceEvent(a pipeline.Applied, err error) TraceEvent {
	ev := TraceEvent{
		Seq:        a.Seq,
		Batch:      a.Batch,
		Kind:       string(a.Result.Kind),
		TypeName:   a.Result.TypeName,
		NoDocument: !a.Result.HasDocument(),
		Changed:    []PageChange{},
		Unchanged:  a.Report.Unchanged,
		Missing:    a.Report.Missing,
		Failed:     a.Report.Failed,
		ErrorCode:  ErrorCode(err),
	}
	if coll, ok := h.registry.Lookup(a.Result.TypeName); ok && a.Result.HasDocument() {
		if id, ok := coll.ID(a.Result.Document); ok {
			ev.ID = id
		}
	}
	for _, c := range a.Report.Changed {
		name, ok := h.entryNames[c.WatchKey]
		if !ok {
			name = c.WatchKey
		}
		ev.Changed = append(ev.Changed, PageChange{
			Entry:  name,
			Field:  c.DataKey,
			Before: h.ids(c.Before),
			After:  h.ids(c.After),
		})
	}
	// Pages are visited in watch key order; entry names read better.
	slices.SortStableFunc(ev.Changed, func(a, b PageChange) int {
		return cmp.Or(strings.Compare(a.Entry, b.Entry), strings.Compare(a.Field, b.Field))
	})
	return ev
}

func (h *Harness) ids(vals []ir.IRValue) []ir.IRValue {
	if vals == nil {
		return []ir.IRValue{}
	}
	return vals
}

// order returns entry names in scenario order.
func (h *Harness) order(scenario *Scenario) []string {
	names := make([]string, 0, len(scenario.Cache))
	for _, e := range scenario.Cache {
		names = append(names, e.Name)
	}
	return names
}

// idField returns the id field for a page, found through the collection
// whose result marker the page carries.
func (h *Harness) idField(page ir.IRObject) string {
	tag, _ := page["__typename"].(ir.IRString)
	for _, coll := range h.registry.Collections() {
		if mutation.ResultMarker(coll.TypeName) == string(tag) {
			return coll.IDKey()
		}
	}
	return registry.DefaultIDField
}

func checkExpect(i int, exp *ExpectClause, ev TraceEvent) []string {
	var msgs []string
	if exp.Error != ev.ErrorCode {
		want, got := exp.Error, ev.ErrorCode
		if want == "" {
			want = "success"
		}
		if got == "" {
			got = "success"
		}
		msgs = append(msgs, fmt.Sprintf("mutation %d: expected %s, got %s", i, want, got))
	}
	if exp.Changed != nil && *exp.Changed != len(ev.Changed) {
		msgs = append(msgs, fmt.Sprintf("mutation %d: expected %d changed page(s), got %d", i, *exp.Changed, len(ev.Changed)))
	}
	return msgs
}

// ErrorCode reduces an apply error to a stable code for traces and reports.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var rerr *reconcile.Error
	if errors.As(err, &rerr) {
		return string(rerr.Code)
	}
	if errors.Is(err, mutation.ErrMalformed) {
		return CodeMalformedMutation
	}
	return "ERROR"
}

func convertEntry(e CacheEntry) (cache.Watch, ir.IRObject, error) {
	vars := ir.IRObject{}
	if e.Variables != nil {
		v, err := convertObject(e.Variables)
		if err != nil {
			return cache.Watch{}, nil, fmt.Errorf("variables: %w", err)
		}
		vars = v
	}
	data, err := convertObject(e.Data)
	if err != nil {
		return cache.Watch{}, nil, fmt.Errorf("data: %w", err)
	}
	return cache.Watch{Query: e.Query, Variables: vars}, data, nil
}

// convertObject converts a YAML-decoded map into an IRObject.
func convertObject(m map[string]any) (ir.IRObject, error) {
	v, err := ir.FromGo(m)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("expected object, got %s", ir.TypeName(v))
	}
	return obj, nil
}
