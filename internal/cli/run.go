package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/cache"
	"github.com/roach88/watchpatch/internal/mutation"
	"github.com/roach88/watchpatch/internal/pipeline"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database  string
	CachePath string
	Output    string

	// Tokens allows overriding the batch token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Tokens pipeline.TokenGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [specs-dir]",
		Short: "Reconcile a stream of mutations from stdin",
		Long: `Start the single-writer pipeline and reconcile mutation envelopes
read from stdin, one JSON object per line, until stdin closes or the
process is interrupted.

Every mutation is journaled to the database and the stored documents are
kept current. Pages are patched in the cache persisted in the database,
or in a snapshot file with --cache, which is written back on exit.

One summary line per mutation is written to stdout (JSON lines with
--format json). Malformed lines are logged and skipped.

Example:
  tail -f mutations.ndjson | watchpatch run --db ./watchpatch.db ./specs
  watchpatch run --db /tmp/test.db --cache cache.json ./specs < muts.ndjson`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.settings().SpecsDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runPipeline(opts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.CachePath, "cache", "", "cache snapshot to patch instead of the persisted cache")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "where to write the snapshot on exit (default: --cache)")

	return cmd
}

func runPipeline(opts *RunOptions, specsDir string, cmd *cobra.Command) error {
	// Compile specs
	slog.Info("compiling specs", "dir", specsDir)
	reg, err := LoadRegistry(specsDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile specs", err)
	}
	slog.Info("specs compiled", "collections", len(reg.Collections()))

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.settings().Database
	}
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer closeStore(st)
	slog.Info("database ready", "path", dbPath)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	var mem *cache.MemoryStore
	var cs cache.Store = st.Cache()
	if opts.CachePath != "" {
		if mem, err = readCacheSnapshot(ctx, opts.CachePath); err != nil {
			return WrapExitError(ExitCommandError, "failed to read cache snapshot", err)
		}
		cs = mem
	}

	last, err := st.LastSeq(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read mutation log", err)
	}

	tokens := opts.Tokens
	if tokens == nil {
		tokens = pipeline.UUIDv7Generator{}
	}

	var failed atomic.Int64
	out := cmd.OutOrStdout()
	jsonLines := opts.Format == "json"
	pipe := pipeline.New(newReconciler(opts.RootOptions, reg, cs),
		pipeline.WithClock(pipeline.NewClockAt(last)),
		pipeline.WithTokenGenerator(tokens),
		pipeline.WithRecorder(st.Journal(reg)),
		pipeline.WithObserver(func(a pipeline.Applied) {
			if a.Err != nil {
				failed.Add(1)
			}
			s := summarize(a)
			if jsonLines {
				_ = json.NewEncoder(out).Encode(s)
				return
			}
			printSummary(out, s)
		}),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	go func() {
		n := feedPipeline(ctx, pipe, cmd.InOrStdin())
		slog.Info("input closed", "mutations", n)
		pipe.Close()
	}()

	slog.Info("pipeline started", "db", dbPath, "specs_dir", specsDir, "resume_seq", last)

	runErr := pipe.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "pipeline error", runErr)
	}

	if mem != nil {
		path := opts.Output
		if path == "" {
			path = opts.CachePath
		}
		// The run context may be cancelled by now
		if err := writeCacheSnapshot(context.Background(), mem, path); err != nil {
			return WrapExitError(ExitCommandError, "failed to write cache snapshot", err)
		}
		slog.Info("snapshot written", "path", path)
	}

	slog.Info("pipeline stopped gracefully", "failed", failed.Load())
	if n := failed.Load(); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d mutation(s) failed", n))
	}
	return nil
}

// feedPipeline enqueues one envelope per input line, each under its own
// batch token, and returns the number enqueued.
func feedPipeline(ctx context.Context, pipe *pipeline.Pipeline, r io.Reader) int {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	n := 0
	for line := 1; scanner.Scan(); line++ {
		if ctx.Err() != nil {
			return n
		}
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		m, err := mutation.ParseEnvelope(raw)
		if err != nil {
			slog.Warn("skipping malformed mutation", "line", line, "error", err)
			continue
		}
		if !pipe.Enqueue(pipe.NewBatch(), m) {
			return n
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		slog.Error("reading input", "error", err)
	}
	return n
}
