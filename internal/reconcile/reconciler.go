package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/watchpatch/internal/cache"
	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/registry"
)

// Reconciler applies mutation results to every affected cached page.
//
// It holds no state between calls beyond its configuration. It must not be
// invoked re-entrantly for the same store: Apply reads and writes each page
// in turn and relies on the caller to serialize mutations.
type Reconciler struct {
	registry *registry.Registry
	store    cache.Store
	truncate bool
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTruncateToLimit controls whether pages are cut back to the view's
// limit after an add. Enabled by default.
func WithTruncateToLimit(enabled bool) Option {
	return func(r *Reconciler) {
		r.truncate = enabled
	}
}

// New creates a Reconciler over reg and store.
func New(reg *registry.Registry, store cache.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		registry: reg,
		store:    store,
		truncate: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the cache store the reconciler writes to.
func (r *Reconciler) Store() cache.Store {
	return r.store
}

// Report summarizes one Apply call.
type Report struct {
	// Kind and TypeName echo the applied mutation.
	Kind     mutation.Kind
	TypeName string

	// NoDocument is set when the mutation carried no document and nothing
	// was visited.
	NoDocument bool

	// Targets is the number of (watch, response key) pages considered.
	Targets int

	// Changed lists the pages whose content changed, in visit order.
	Changed []Change

	// Unchanged counts pages the mutation did not alter. They are not written.
	Unchanged int

	// Missing counts targets with no cached data.
	Missing int

	// Failed counts targets that returned an error.
	Failed int
}

// Change describes one rewritten page.
type Change struct {
	WatchKey string
	DataKey  string
	Before   []ir.IRValue
	After    []ir.IRValue
}

// Apply reconciles every cached page affected by m.
//
// A mutation without a document is a no-op. An unregistered type is
// returned immediately as an *Error with CodeUnknownType. Per-page failures
// (malformed page, bad terms, store errors) do not stop the other pages;
// they are joined into the returned error and counted in Report.Failed.
func (r *Reconciler) Apply(ctx context.Context, m mutation.Result) (Report, error) {
	report := Report{Kind: m.Kind, TypeName: m.TypeName}

	if err := m.Validate(); err != nil {
		return report, err
	}
	if !m.HasDocument() {
		slog.Debug("mutation has no document, skipping", "kind", m.Kind, "type", m.TypeName)
		report.NoDocument = true
		return report, nil
	}

	coll, ok := r.registry.Lookup(m.TypeName)
	if !ok {
		return report, &Error{
			Code:     CodeUnknownType,
			Message:  fmt.Sprintf("no collection registered for type %s", m.TypeName),
			TypeName: m.TypeName,
			Err:      ErrUnknownType,
		}
	}

	handler, err := HandlerFor(m.Kind)
	if err != nil {
		return report, err
	}

	if _, hasID := coll.ID(m.Document); !hasID {
		slog.Warn("mutated document has no id, set membership will not find it",
			"type", m.TypeName,
			"id_field", coll.IDKey())
	}

	watches, err := r.store.Watches(ctx)
	if err != nil {
		return report, &Error{Code: CodeStore, Message: "list watches", TypeName: m.TypeName, Err: err}
	}

	targets, scanErr := FindWatchesByResolver(watches, coll.Resolver())
	var errs []error
	if scanErr != nil {
		errs = append(errs, scanErr)
	}
	report.Targets = len(targets)

	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		change, changed, err := r.applyTarget(ctx, coll, handler, m, t)
		switch {
		case errors.Is(err, cache.ErrNotFound):
			report.Missing++
		case err != nil:
			report.Failed++
			slog.Warn("page reconciliation failed",
				"type", m.TypeName,
				"watch", shortKey(t.Key),
				"data_key", t.DataKey,
				"error", err)
			errs = append(errs, err)
		case changed:
			report.Changed = append(report.Changed, change)
		default:
			report.Unchanged++
		}
	}

	slog.Debug("mutation reconciled",
		"kind", m.Kind,
		"type", m.TypeName,
		"targets", report.Targets,
		"changed", len(report.Changed),
		"failed", report.Failed)

	return report, errors.Join(errs...)
}

func (r *Reconciler) applyTarget(ctx context.Context, coll *registry.Collection, handler Handler, m mutation.Result, t Target) (Change, bool, error) {
	fail := func(code ErrorCode, msg string, err error) error {
		return &Error{Code: code, Message: msg, TypeName: m.TypeName, WatchKey: t.Key, DataKey: t.DataKey, Err: err}
	}

	data, err := r.store.ReadQuery(ctx, t.Watch)
	if errors.Is(err, cache.ErrNotFound) {
		return Change{}, false, err
	}
	if err != nil {
		return Change{}, false, fail(CodeStore, "read query", err)
	}

	raw, ok := data[t.DataKey]
	if !ok {
		return Change{}, false, fail(CodeMalformedPage, fmt.Sprintf("cached data has no %q field", t.DataKey), nil)
	}
	page, err := DecodePage(raw, m.TypeName, coll.IDKey())
	if err != nil {
		return Change{}, false, fail(CodeMalformedPage, "cached page has unexpected shape", err)
	}

	params, err := coll.GetParameters(t.Watch.Terms())
	if err != nil {
		return Change{}, false, fail(parameterCode(err), "derive parameters", err)
	}
	if !r.truncate {
		params.Limit = 0
	}

	next := handler(Input{
		Document:   m.Document,
		Page:       page,
		Parameters: params,
		TypeName:   m.TypeName,
	})

	before := raw
	after := next.Encode()
	if ir.Equal(before, after) {
		return Change{}, false, nil
	}

	updated := data.Clone()
	updated[t.DataKey] = after
	if err := r.store.WriteQuery(ctx, t.Watch, updated); err != nil {
		return Change{}, false, fail(CodeStore, "write query", err)
	}

	slog.Debug("page reconciled",
		"type", m.TypeName,
		"watch", shortKey(t.Key),
		"data_key", t.DataKey,
		"before", len(page.Results),
		"after", len(next.Results))

	return Change{
		WatchKey: t.Key,
		DataKey:  t.DataKey,
		Before:   page.IDs(),
		After:    next.IDs(),
	}, true, nil
}

func parameterCode(err error) ErrorCode {
	switch {
	case errors.Is(err, registry.ErrUnknownView):
		return CodeUnknownView
	case errors.Is(err, registry.ErrInvalidSelector):
		return CodeInvalidSelector
	default:
		return CodeInvalidTerms
	}
}
