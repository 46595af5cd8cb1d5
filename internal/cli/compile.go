package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/compiler"
	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/registry"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledView is the serialized form of a view.
type CompiledView struct {
	Selector ir.IRObject `json:"selector"`
	Sort     string      `json:"sort,omitempty"`
	Limit    int         `json:"limit,omitempty"`
}

// CompiledCollection is the serialized form of a collection.
type CompiledCollection struct {
	Name        string                  `json:"name"`
	TypeName    string                  `json:"type_name"`
	IDField     string                  `json:"id_field"`
	Resolver    string                  `json:"resolver"`
	DefaultView CompiledView            `json:"default_view"`
	Views       map[string]CompiledView `json:"views"`
}

// CompilationResult holds the compiled collections.
type CompilationResult struct {
	Collections []CompiledCollection `json:"collections"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile [specs-dir]",
		Short: "Compile CUE collection specs to canonical JSON",
		Long: `Compile CUE collection specs to their canonical JSON description.

The output lists every collection with its resolved id field, multi
resolver, default view and named views. With --output the description is
written as canonical JSON, suitable for diffing between spec revisions.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.settings().SpecsDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runCompile(opts, dir, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, specsDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadSpecs(specsDir, LoadModeCollectAll)

	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsDir)

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	if _, err := compiler.BuildRegistry(loadResult.Collections); err != nil {
		return outputCompileErrors(formatter, []error{err})
	}

	result := &CompilationResult{Collections: make([]CompiledCollection, 0, len(loadResult.Collections))}
	for _, c := range loadResult.Collections {
		formatter.VerboseLog("Compiled collection: %s", c.Name)
		result.Collections = append(result.Collections, describeCollection(c))
	}

	if opts.Output != "" {
		if err := writeCompiledToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

func describeCollection(c *registry.Collection) CompiledCollection {
	out := CompiledCollection{
		Name:        c.Name,
		TypeName:    c.TypeName,
		IDField:     c.IDKey(),
		Resolver:    c.Resolver(),
		DefaultView: describeView(c.DefaultView),
		Views:       make(map[string]CompiledView, len(c.Views)),
	}
	for name, v := range c.Views {
		out.Views[name] = describeView(v)
	}
	return out
}

func describeView(v registry.View) CompiledView {
	sel := v.Selector
	if sel == nil {
		sel = ir.IRObject{}
	}
	return CompiledView{Selector: sel, Sort: v.Sort.String(), Limit: v.Limit}
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d collection(s)\n\n", len(result.Collections))
	for _, c := range result.Collections {
		fmt.Fprintf(formatter.Writer, "  %s: type %s, resolver %s, id %s, %d view(s)\n",
			c.Name, c.TypeName, c.Resolver, c.IDField, len(c.Views))
	}
	fmt.Fprintln(formatter.Writer)

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote canonical JSON to %s\n", outputFile)
	}
	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
				loadErr.Pos.Filename(),
				loadErr.Pos.Line(),
				loadErr.Pos.Column())
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var verr compiler.ValidationError
	if errors.As(err, &verr) {
		return verr.Code, verr.Field + ": " + verr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeCompiledToFile writes the compilation result as canonical JSON.
func writeCompiledToFile(result *CompilationResult, filename string) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling collections: %w", err)
	}
	v, err := ir.UnmarshalIRValue(raw)
	if err != nil {
		return err
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filename, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
