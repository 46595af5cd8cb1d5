package cli

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Type     string // optional - filter to one type
	Batch    string // optional - filter to one batch
	After    int64
}

// TraceEntry is one logged mutation in the timeline.
type TraceEntry struct {
	Seq      int64       `json:"seq"`
	Batch    string      `json:"batch"`
	Kind     string      `json:"kind"`
	Type     string      `json:"type"`
	ID       ir.IRValue  `json:"id,omitempty"`
	Document ir.IRObject `json:"document,omitempty"`
	Digest   string      `json:"digest"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Timeline []TraceEntry `json:"timeline"`
	Stats    TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Total   int            `json:"total"`
	ByKind  map[string]int `json:"by_kind"`
	Types   []string       `json:"types"`
	Batches int            `json:"batches"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List the mutation log",
		Long: `List logged mutations in seq order.

Each entry shows its seq, batch token, kind, type and the document id.
With --verbose the full document is included.

Examples:
  watchpatch trace --db ./watchpatch.db
  watchpatch trace --db ./watchpatch.db --type Post --after 120
  watchpatch trace --db ./watchpatch.db --batch 0190a1b2-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "filter to one type")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "filter to one batch")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only mutations with seq greater than this")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.settings().Database
	}
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer closeStore(st)

	// Narrow with the most selective query, then filter the rest here
	var records []store.MutationRecord
	switch {
	case opts.Batch != "":
		records, err = st.ReadBatch(ctx, opts.Batch)
	case opts.Type != "":
		records, err = st.ReadMutationsForType(ctx, opts.Type)
	default:
		records, err = st.ReadMutations(ctx, opts.After)
	}
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err)
	}

	result := TraceResult{
		Timeline: []TraceEntry{},
		Stats:    TraceStats{ByKind: map[string]int{}, Types: []string{}},
	}
	batches := map[string]bool{}
	for _, rec := range records {
		if !traceMatches(opts, rec) {
			continue
		}
		entry := TraceEntry{
			Seq:    rec.Seq,
			Batch:  rec.Batch,
			Kind:   string(rec.Result.Kind),
			Type:   rec.Result.TypeName,
			Digest: rec.Digest,
		}
		if rec.Result.Document != nil {
			entry.ID = rec.Result.Document[registry.DefaultIDField]
			if opts.Verbose {
				entry.Document = rec.Result.Document
			}
		}
		result.Timeline = append(result.Timeline, entry)

		result.Stats.ByKind[entry.Kind]++
		if !slices.Contains(result.Stats.Types, entry.Type) {
			result.Stats.Types = append(result.Stats.Types, entry.Type)
		}
		batches[entry.Batch] = true
	}
	slices.Sort(result.Stats.Types)
	result.Stats.Total = len(result.Timeline)
	result.Stats.Batches = len(batches)

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

func traceMatches(opts *TraceOptions, rec store.MutationRecord) bool {
	if rec.Seq <= opts.After {
		return false
	}
	if opts.Type != "" && rec.Result.TypeName != opts.Type {
		return false
	}
	if opts.Batch != "" && rec.Batch != opts.Batch {
		return false
	}
	return true
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.Stats.Total == 0 {
		fmt.Fprintln(w, "No mutations found.")
		return nil
	}

	fmt.Fprintf(w, "Mutation log: %d mutation(s) in %d batch(es)\n\n", result.Stats.Total, result.Stats.Batches)
	for _, e := range result.Timeline {
		id := "-"
		if e.ID != nil {
			id = describeValue(e.ID)
		}
		fmt.Fprintf(w, "  [%d] %-6s %s id=%s batch=%s\n", e.Seq, e.Kind, e.Type, id, e.Batch)
		if verbose && e.Document != nil {
			fmt.Fprintf(w, "        %s\n", describeValue(e.Document))
		}
	}
	return nil
}

// describeValue renders v as canonical JSON.
func describeValue(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return ir.TypeName(v)
	}
	return string(b)
}
