package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/cache"
	"github.com/roach88/watchpatch/internal/pipeline"
	"github.com/roach88/watchpatch/internal/store"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	SpecsDir  string
	CachePath string
	Mutations string
	Output    string
	Database  string
	Batch     string

	// Tokens overrides the batch token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Tokens pipeline.TokenGenerator
}

// ReconcileResult is the JSON output of the reconcile command.
type ReconcileResult struct {
	Applied []MutationSummary `json:"applied"`
	Failed  int               `json:"failed"`
	Output  string            `json:"output,omitempty"`
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply mutation results to a cache snapshot",
		Long: `Apply a file of mutation results to cached query pages.

Mutations are newline-delimited or array JSON envelopes of the form
{"kind":"create","type":"Post","document":{...}} or, for raw GraphQL
responses, {"kind":"update","type":"Post","response":{...}}.

The cache comes from a snapshot file (--cache) or, with only --db, from the
entries persisted in the database. With --db every mutation is journaled
and the stored documents are kept current.

Example:
  watchpatch reconcile --specs ./specs --cache cache.json --mutations muts.ndjson --out cache.json
  watchpatch reconcile --db ./watchpatch.db --mutations - < muts.ndjson`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SpecsDir, "specs", "", "specs directory (default from config)")
	cmd.Flags().StringVar(&opts.CachePath, "cache", "", "cache snapshot to reconcile")
	cmd.Flags().StringVarP(&opts.Mutations, "mutations", "m", "", "mutation envelopes file, - for stdin (required)")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "write the reconciled snapshot here")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal mutations to this SQLite database")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "batch token for all mutations (default: generated)")
	_ = cmd.MarkFlagRequired("mutations")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	specsDir := opts.SpecsDir
	if specsDir == "" {
		specsDir = opts.settings().SpecsDir
	}
	reg, err := LoadRegistry(specsDir)
	if err != nil {
		return outputCommandError(formatter, ErrCodeBuildFailed, err)
	}

	results, err := readMutations(opts.Mutations, cmd.InOrStdin())
	if err != nil {
		return outputCommandError(formatter, ErrCodeBadInput, err)
	}
	formatter.VerboseLog("Read %d mutation(s)", len(results))

	var mem *cache.MemoryStore
	if opts.CachePath != "" {
		if mem, err = readCacheSnapshot(ctx, opts.CachePath); err != nil {
			return outputCommandError(formatter, ErrCodeBadInput, err)
		}
	}

	var st *store.Store
	if opts.Database != "" {
		if st, err = openStore(opts.Database); err != nil {
			return err
		}
		defer closeStore(st)
	}

	var cs cache.Store
	switch {
	case mem != nil:
		cs = mem
	case st != nil:
		cs = st.Cache()
	default:
		return outputCommandError(formatter, ErrCodeBadInput, fmt.Errorf("no cache: pass --cache or --db"))
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = pipeline.UUIDv7Generator{}
	}
	pipeOpts := []pipeline.Option{pipeline.WithTokenGenerator(tokens)}
	if st != nil {
		last, err := st.LastSeq(ctx)
		if err != nil {
			return outputCommandError(formatter, ErrCodeStore, err)
		}
		pipeOpts = append(pipeOpts,
			pipeline.WithClock(pipeline.NewClockAt(last)),
			pipeline.WithRecorder(st.Journal(reg)),
		)
	}
	pipe := pipeline.New(newReconciler(opts.RootOptions, reg, cs), pipeOpts...)

	batch := opts.Batch
	if batch == "" {
		batch = pipe.NewBatch()
	}
	// Per-mutation errors are reported below; ApplyBatch attempts them all
	applied, _ := pipe.ApplyBatch(ctx, batch, results...)

	result := ReconcileResult{Applied: make([]MutationSummary, 0, len(applied)), Failed: countFailures(applied)}
	for _, a := range applied {
		result.Applied = append(result.Applied, summarize(a))
	}

	if mem != nil && st != nil {
		entries, err := mem.Snapshot(ctx)
		if err == nil {
			err = st.SaveCache(ctx, entries)
		}
		if err != nil {
			return outputCommandError(formatter, ErrCodeStore, err)
		}
	}
	if opts.Output != "" {
		snap := mem
		if snap == nil {
			if snap, err = st.LoadCache(ctx); err != nil {
				return outputCommandError(formatter, ErrCodeStore, err)
			}
		}
		if err := writeCacheSnapshot(ctx, snap, opts.Output); err != nil {
			return outputCommandError(formatter, ErrCodeWriteFailed, err)
		}
		result.Output = opts.Output
	}

	slog.Info("reconcile finished", "batch", batch, "mutations", len(applied), "failed", result.Failed)

	if formatter.Format == "json" {
		if err := formatter.SuccessBatch(result, batch); err != nil {
			return err
		}
	} else {
		for _, s := range result.Applied {
			printSummary(formatter.Writer, s)
		}
		if result.Output != "" {
			fmt.Fprintf(formatter.Writer, "Wrote snapshot to %s\n", result.Output)
		}
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d mutation(s) failed", result.Failed, len(applied)))
	}
	return nil
}

// outputCommandError reports a command-level failure (exit code 2).
// A *LoadError keeps its own code.
func outputCommandError(formatter *OutputFormatter, code string, err error) error {
	message := err.Error()
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		code, message = loadErr.Code, loadErr.Message
	}
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, code, err)
}
