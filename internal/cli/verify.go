package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/registry"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
	SpecsDir string
}

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	Mutations    int      `json:"mutations"`
	BadDigests   []int64  `json:"bad_digests"`
	Unregistered []string `json:"unregistered_types,omitempty"`
	Valid        bool     `json:"valid"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check mutation log digests",
		Long: `Recompute the digest of every logged mutation and compare it with
the stored one. With --specs, logged types without a registered collection
are reported as warnings.

Exit codes:
  0 - Every digest matches
  1 - One or more digests differ
  2 - Command error

Examples:
  watchpatch verify --db ./watchpatch.db
  watchpatch verify --db ./watchpatch.db --specs ./specs --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.SpecsDir, "specs", "", "specs directory for type checks")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	var reg *registry.Registry
	if opts.SpecsDir != "" {
		var err error
		if reg, err = LoadRegistry(opts.SpecsDir); err != nil {
			return outputCommandError(formatter, ErrCodeBuildFailed, err)
		}
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.settings().Database
	}
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer closeStore(st)

	records, err := st.ReadMutations(ctx, 0)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err)
	}
	bad, err := st.VerifyDigests(ctx)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err)
	}

	result := VerifyResult{Mutations: len(records), BadDigests: bad, Valid: len(bad) == 0}
	if reg != nil {
		for _, rec := range records {
			name := rec.Result.TypeName
			if _, ok := reg.Lookup(name); !ok && !slices.Contains(result.Unregistered, name) {
				result.Unregistered = append(result.Unregistered, name)
			}
		}
		slices.Sort(result.Unregistered)
	}
	for _, name := range result.Unregistered {
		slog.Warn("logged type has no registered collection", "type", name)
	}

	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, name := range result.Unregistered {
			fmt.Fprintf(w, "⚠ %s: no registered collection\n", name)
		}
		if result.Valid {
			fmt.Fprintf(w, "✓ %d mutation digest(s) verified\n", result.Mutations)
		} else {
			fmt.Fprintf(w, "✗ %d of %d digest(s) differ\n", len(bad), result.Mutations)
			for _, seq := range bad {
				fmt.Fprintf(w, "  seq %d\n", seq)
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d digest mismatch(es)", len(bad)))
	}
	return nil
}
