package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/cache"
	"github.com/roach88/watchpatch/internal/pipeline"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	SpecsDir  string
	CachePath string // base snapshot; default is the persisted cache
	Output    string
	Batch     string // optional - specific batch only
	After     int64
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Mutations     int               `json:"mutations"`
	Changed       int               `json:"changed"`
	Failed        int               `json:"failed"`
	Deterministic bool              `json:"deterministic"`
	Applied       []MutationSummary `json:"applied,omitempty"`
	Output        string            `json:"output,omitempty"`
}

// replayRun is the outcome of one pass over the log.
type replayRun struct {
	summaries []MutationSummary
	snapshot  []byte
	cache     *cache.MemoryStore
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the mutation log and verify determinism",
		Long: `Replay logged mutations onto a base cache and verify determinism.

The log is replayed twice, each time onto a fresh copy of the base cache
(--cache, or the cache persisted in the database). Both passes must yield
byte-identical snapshots and identical per-mutation reports. Replayed
mutations keep their original seq and batch and are not logged again.

Exit codes:
  0 - Replay is deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  watchpatch replay --db ./watchpatch.db
  watchpatch replay --db ./watchpatch.db --cache base.json --out replayed.json
  watchpatch replay --db ./watchpatch.db --batch 0190a1b2-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.SpecsDir, "specs", "", "specs directory (default from config)")
	cmd.Flags().StringVar(&opts.CachePath, "cache", "", "base cache snapshot (default: persisted cache)")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "write the replayed snapshot here")
	cmd.Flags().StringVar(&opts.Batch, "batch", "", "replay one batch only")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "replay mutations with seq greater than this")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)
	cfg := opts.settings()

	specsDir := opts.SpecsDir
	if specsDir == "" {
		specsDir = cfg.SpecsDir
	}
	reg, err := LoadRegistry(specsDir)
	if err != nil {
		return outputCommandError(formatter, ErrCodeBuildFailed, err)
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Database
	}
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer closeStore(st)

	var records []store.MutationRecord
	if opts.Batch != "" {
		records, err = st.ReadBatch(ctx, opts.Batch)
	} else {
		records, err = st.ReadMutations(ctx, opts.After)
	}
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err)
	}
	formatter.VerboseLog("Replaying %d mutation(s)", len(records))

	base := func() (*cache.MemoryStore, error) {
		if opts.CachePath != "" {
			return readCacheSnapshot(ctx, opts.CachePath)
		}
		return st.LoadCache(ctx)
	}

	first, err := replayOnce(ctx, opts.RootOptions, reg, records, base)
	if err != nil {
		return outputCommandError(formatter, ErrCodeBadInput, err)
	}
	second, err := replayOnce(ctx, opts.RootOptions, reg, records, base)
	if err != nil {
		return outputCommandError(formatter, ErrCodeBadInput, err)
	}

	result := ReplayResult{
		Mutations:     len(records),
		Deterministic: bytes.Equal(first.snapshot, second.snapshot) && reflect.DeepEqual(first.summaries, second.summaries),
	}
	for _, s := range first.summaries {
		result.Changed += len(s.Changed)
		if s.Error != "" {
			result.Failed++
		}
	}
	if opts.Verbose {
		result.Applied = first.summaries
	}

	if opts.Output != "" {
		if err := writeCacheSnapshot(ctx, first.cache, opts.Output); err != nil {
			return outputCommandError(formatter, ErrCodeWriteFailed, err)
		}
		result.Output = opts.Output
	}

	if opts.Format == "json" {
		return outputReplayJSON(cmd, result)
	}
	return outputReplayText(cmd, result, first.summaries, opts.Verbose)
}

// replayOnce replays records onto a fresh base cache.
func replayOnce(ctx context.Context, opts *RootOptions, reg *registry.Registry, records []store.MutationRecord, base func() (*cache.MemoryStore, error)) (replayRun, error) {
	mem, err := base()
	if err != nil {
		return replayRun{}, err
	}

	pipe := pipeline.New(newReconciler(opts, reg, mem))
	// Per-record failures are part of the outcome being compared
	applied, _ := pipe.Replay(ctx, records)

	run := replayRun{cache: mem, summaries: make([]MutationSummary, 0, len(applied))}
	for _, a := range applied {
		run.summaries = append(run.summaries, summarize(a))
	}
	if len(applied) < len(records) {
		return replayRun{}, fmt.Errorf("replay stopped after %d of %d records", len(applied), len(records))
	}

	run.snapshot, err = mem.MarshalSnapshot(ctx)
	if err != nil {
		return replayRun{}, err
	}
	return run, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(cmd *cobra.Command, result ReplayResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	if !result.Deterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "determinism verification failed",
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if !result.Deterministic {
		// Determinism failure = exit code 1
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, summaries []MutationSummary, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.Mutations == 0 {
		fmt.Fprintln(w, "No mutations found in database.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d mutation(s), %d page(s) changed, %d failed\n",
		result.Mutations, result.Changed, result.Failed)
	fmt.Fprintln(w)

	if verbose {
		for _, s := range summaries {
			printSummary(w, s)
		}
		fmt.Fprintln(w)
	}

	if result.Output != "" {
		fmt.Fprintf(w, "Wrote snapshot to %s\n", result.Output)
	}

	if result.Deterministic {
		fmt.Fprintln(w, "✓ Replay verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	// Determinism failure = exit code 1
	return NewExitError(ExitFailure, "determinism verification failed")
}
