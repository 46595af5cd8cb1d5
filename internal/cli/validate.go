package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.ValidationError `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [specs-dir]",
		Short: "Validate collection specs",
		Long: `Validate CUE collection specs without building a registry.

Checks that every collection compiles, that type names, collection names
and resolvers are unique, and that each view's selector, sort and limit
are well formed. Selectors that cannot be pushed down to SQL are reported
as warnings and do not fail validation.

The specs directory defaults to specs_dir from the config.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.settings().SpecsDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)
	for _, c := range loadResult.Collections {
		formatter.VerboseLog("Validating collection: %s (%s, %d view(s))", c.Name, c.TypeName, len(c.Views))
	}

	var failures []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			failures = append(failures, compiler.ValidationError{
				Field:   positionLabel(loadErr),
				Message: loadErr.Message,
				Code:    loadErr.Code,
			})
		}
	}

	var warnings []compiler.ValidationError
	for _, f := range compiler.Validate(loadResult.Collections) {
		if f.IsWarning() {
			warnings = append(warnings, f)
		} else {
			failures = append(failures, f)
		}
	}

	if len(failures) > 0 {
		return outputValidationErrors(formatter, failures, warnings)
	}
	return outputValidateSuccess(formatter, warnings)
}

// positionLabel renders "file:line" for a load error, or "load".
func positionLabel(e *LoadError) string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d", e.Pos.Filename(), e.Pos.Line())
	}
	return "load"
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, warnings []compiler.ValidationError) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Warnings: warnings})
	}

	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "warning %s: %s: %s\n", w.Code, w.Field, w.Message)
	}
	fmt.Fprintln(formatter.Writer, "✓ All specs valid")
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs, warnings []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:    false,
				Errors:   errs,
				Warnings: warnings,
			},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", err.Code, err.Field, err.Message)
	}
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "  warning %s: %s: %s\n", w.Code, w.Field, w.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

// ValidateSpecsDir validates all specs in a directory.
// This is a helper function for external callers.
func ValidateSpecsDir(specsDir string) ([]compiler.ValidationError, error) {
	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}
	return compiler.Validate(loadResult.Collections), nil
}
