package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/ir"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Database   string
	SpecsDir   string
	Collection string
	BatchSize  int
}

// ImportSummary is the output of the import command.
type ImportSummary struct {
	Collection string   `json:"collection"`
	Read       int      `json:"read"`
	Imported   int      `json:"imported"`
	Skipped    int      `json:"skipped"`
	Failed     []string `json:"failed"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Bulk-load documents into a collection",
		Long: `Load documents from a JSON array or newline-delimited JSON file
("-" for stdin) into the document store. Documents whose id is already
stored are skipped, so an interrupted import can be rerun.

Examples:
  watchpatch import --db ./watchpatch.db --collection Posts posts.ndjson
  watchpatch import --collection Posts --batch-size 500 - < posts.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.SpecsDir, "specs", "", "specs directory (default from config)")
	cmd.Flags().StringVarP(&opts.Collection, "collection", "c", "", "collection name (required)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "documents per transaction (default from config)")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
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
	coll, ok := reg.ByName(opts.Collection)
	if !ok {
		return outputCommandError(formatter, ErrCodeNotFound, fmt.Errorf("unknown collection %q", opts.Collection))
	}

	docs, err := readDocuments(path, cmd.InOrStdin())
	if err != nil {
		return outputCommandError(formatter, ErrCodeBadInput, err)
	}
	formatter.VerboseLog("Read %d document(s) from %s", len(docs), path)

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Database
	}
	st, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer closeStore(st)

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = cfg.Import.BatchSize
	}
	res, err := st.ImportDocuments(ctx, coll, docs, batchSize)
	if err != nil {
		return outputCommandError(formatter, ErrCodeStore, err)
	}

	summary := ImportSummary{
		Collection: coll.Name,
		Read:       len(docs),
		Imported:   res.Imported,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
	}

	if opts.Format == "json" {
		if err := formatter.Success(summary); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "✓ %s: imported %d, skipped %d, failed %d of %d document(s)\n",
			summary.Collection, summary.Imported, summary.Skipped, len(summary.Failed), summary.Read)
		for _, id := range summary.Failed {
			fmt.Fprintf(formatter.Writer, "  failed: %s\n", id)
		}
	}

	if len(summary.Failed) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d document(s) failed to import", len(summary.Failed)))
	}
	return nil
}

// readDocuments decodes a JSON array of objects or newline-delimited
// objects from path, or from stdin for "-".
func readDocuments(path string, stdin io.Reader) ([]ir.IRObject, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open documents: %w", err)
		}
		defer f.Close()
		r = f
	}

	br := bufio.NewReader(r)
	dec := json.NewDecoder(br)

	if first, err := peekByte(br); err == nil && first == '[' {
		var docs []ir.IRObject
		if err := dec.Decode(&docs); err != nil {
			return nil, fmt.Errorf("decode documents: %w", err)
		}
		return docs, nil
	}

	var docs []ir.IRObject
	for i := 0; ; i++ {
		var doc ir.IRObject
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
}

// peekByte returns the first non-space byte without consuming it.
func peekByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			if _, err := br.ReadByte(); err != nil {
				return 0, err
			}
		default:
			return b[0], nil
		}
	}
}
