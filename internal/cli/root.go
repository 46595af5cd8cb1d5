package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config is loaded before any subcommand runs. Commands fall back to
	// its values for flags left unset.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// settings returns the loaded config, or the defaults when a command runs
// without the root (as in tests).
func (o *RootOptions) settings() *config.Config {
	if o.Config == nil {
		o.Config = config.LoadDefaults()
	}
	return o.Config
}

// NewRootCommand creates the root command for the watchpatch CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "watchpatch",
		Short: "watchpatch - keep cached query pages consistent with mutations",
		Long: `Patch cached list queries in place after create, update and delete
mutations, without refetching. Collections and their views are declared
in CUE; pages are reconciled against each view's selector, sort and limit.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}

			path := opts.ConfigPath
			if path == "" {
				path = config.FindConfigFile()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			opts.Config = cfg

			// Logs go to stderr so JSON output on stdout stays parseable
			slog.SetDefault(cfg.NewLogger(cmd.ErrOrStderr(), opts.Verbose))
			slog.Debug("config loaded", "path", path, "database", cfg.Database, "specs_dir", cfg.SpecsDir)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: ./watchpatch.yaml, then ~/.config/watchpatch/config.yaml)")

	// Add subcommands
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewMatchCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
