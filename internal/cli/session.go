package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/cache"
	"github.com/roach88/watchpatch/internal/harness"
	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/pipeline"
	"github.com/roach88/watchpatch/internal/reconcile"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/store"
)

// newFormatter builds the output formatter for cmd.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute (as in tests).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openStore opens the SQLite database, mapping failures to exit code 2.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no database: pass --db or set database in the config")
	}
	slog.Debug("opening database", "path", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// closeStore closes st, logging rather than returning the error.
func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// readMutations decodes mutation envelopes from path, or stdin for "-".
func readMutations(path string, stdin io.Reader) ([]mutation.Result, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open mutations: %w", err)
		}
		defer f.Close()
		r = f
	}
	return mutation.ReadEnvelopes(r)
}

// readCacheSnapshot loads a snapshot file into a MemoryStore.
func readCacheSnapshot(ctx context.Context, path string) (*cache.MemoryStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cache snapshot: %w", err)
	}
	defer f.Close()
	return cache.ReadSnapshot(ctx, f)
}

// writeCacheSnapshot writes m as canonical JSON to path.
func writeCacheSnapshot(ctx context.Context, m *cache.MemoryStore, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := m.WriteSnapshot(ctx, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ChangeSummary is the serialized form of one rewritten page.
type ChangeSummary struct {
	Watch  string     `json:"watch"`
	Field  string     `json:"field"`
	Before ir.IRArray `json:"before"`
	After  ir.IRArray `json:"after"`
}

// MutationSummary is the serialized outcome of one applied mutation.
type MutationSummary struct {
	Seq        int64           `json:"seq"`
	Batch      string          `json:"batch"`
	Kind       string          `json:"kind"`
	Type       string          `json:"type"`
	NoDocument bool            `json:"no_document,omitempty"`
	Targets    int             `json:"targets"`
	Changed    []ChangeSummary `json:"changed"`
	Unchanged  int             `json:"unchanged"`
	Missing    int             `json:"missing"`
	Failed     int             `json:"failed"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// summarize converts a pipeline outcome for output.
func summarize(a pipeline.Applied) MutationSummary {
	s := MutationSummary{
		Seq:        a.Seq,
		Batch:      a.Batch,
		Kind:       string(a.Result.Kind),
		Type:       a.Result.TypeName,
		NoDocument: a.Report.NoDocument,
		Targets:    a.Report.Targets,
		Changed:    make([]ChangeSummary, 0, len(a.Report.Changed)),
		Unchanged:  a.Report.Unchanged,
		Missing:    a.Report.Missing,
		Failed:     a.Report.Failed,
	}
	for _, c := range a.Report.Changed {
		s.Changed = append(s.Changed, ChangeSummary{
			Watch:  shortWatchKey(c.WatchKey),
			Field:  c.DataKey,
			Before: idList(c.Before),
			After:  idList(c.After),
		})
	}
	if a.Err != nil {
		s.Error = harness.ErrorCode(a.Err)
		s.Message = a.Err.Error()
	}
	return s
}

// printSummary writes one line per mutation plus one per changed page.
func printSummary(w io.Writer, s MutationSummary) {
	status := "ok"
	switch {
	case s.Error != "":
		status = "error " + s.Error
	case s.NoDocument:
		status = "no document"
	}
	fmt.Fprintf(w, "[%d] %s %s: %s (targets=%d changed=%d unchanged=%d missing=%d failed=%d)\n",
		s.Seq, s.Kind, s.Type, status, s.Targets, len(s.Changed), s.Unchanged, s.Missing, s.Failed)
	for _, c := range s.Changed {
		fmt.Fprintf(w, "    %s %s: %s -> %s\n", c.Watch, c.Field, renderIDs(c.Before), renderIDs(c.After))
	}
	if s.Message != "" {
		fmt.Fprintf(w, "    %s\n", s.Message)
	}
}

func idList(ids []ir.IRValue) ir.IRArray {
	out := make(ir.IRArray, len(ids))
	for i, id := range ids {
		if id == nil {
			id = ir.IRNull{}
		}
		out[i] = id
	}
	return out
}

func renderIDs(ids ir.IRArray) string {
	return describeValue(ids)
}

// shortWatchKey trims a watch hash for display.
func shortWatchKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

// countFailures returns how many outcomes carry an error.
func countFailures(applied []pipeline.Applied) int {
	n := 0
	for _, a := range applied {
		if a.Err != nil {
			n++
		}
	}
	return n
}

// newReconciler builds the reconciler with the configured truncation.
func newReconciler(opts *RootOptions, reg *registry.Registry, cs cache.Store) *reconcile.Reconciler {
	return reconcile.New(reg, cs, reconcile.WithTruncateToLimit(opts.settings().Reconcile.TruncateToLimit))
}
