package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/watchpatch/internal/ir"
	"github.com/roach88/watchpatch/internal/querysql"
	"github.com/roach88/watchpatch/internal/registry"
	"github.com/roach88/watchpatch/internal/selector"
)

// MatchOptions holds flags for the match command.
type MatchOptions struct {
	*RootOptions
	Selector   string
	Docs       []string
	SpecsDir   string
	Collection string
	Terms      string
}

// MatchRow is the verdict for one document.
type MatchRow struct {
	Index   int        `json:"index"`
	ID      ir.IRValue `json:"id,omitempty"`
	Matches bool       `json:"matches"`
}

// MatchResult is the output of the match command.
type MatchResult struct {
	Selector ir.IRObject `json:"selector"`
	Sort     string      `json:"sort,omitempty"`
	Limit    int         `json:"limit,omitempty"`
	Pushdown bool        `json:"pushdown"`
	Warnings []string    `json:"warnings"`
	SQL      string      `json:"sql,omitempty"`
	Rows     []MatchRow  `json:"rows"`
	Page     ir.IRArray  `json:"page"`
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "match [documents-file]",
		Short: "Evaluate a selector against documents",
		Long: `Evaluate a selector against documents and show the resulting page.

The selector is given directly with --selector, or resolved from a
collection's views with --collection and --terms, exactly as a watch with
those terms would resolve it. Documents come from --doc flags or a JSON
array / newline-delimited file ("-" for stdin).

The output lists which documents match, the ids of the page after sorting
and limiting, and whether the selector can be pushed down to SQL.

Examples:
  watchpatch match --selector '{"status":"published"}' --doc '{"_id":1,"status":"draft"}'
  watchpatch match --collection Posts --terms '{"view":"byAuthor","author":"ann"}' posts.ndjson`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatch(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Selector, "selector", "s", "", "selector JSON")
	cmd.Flags().StringArrayVarP(&opts.Docs, "doc", "d", nil, "document JSON (repeatable)")
	cmd.Flags().StringVar(&opts.SpecsDir, "specs", "", "specs directory (default from config)")
	cmd.Flags().StringVarP(&opts.Collection, "collection", "c", "", "resolve the selector from this collection's views")
	cmd.Flags().StringVar(&opts.Terms, "terms", "{}", "watch terms JSON, used with --collection")
	cmd.MarkFlagsMutuallyExclusive("selector", "collection")

	return cmd
}

func runMatch(opts *MatchOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	params, coll, err := matchParameters(opts)
	if err != nil {
		return outputCommandError(formatter, ErrCodeBadInput, err)
	}

	docs := make([]ir.IRObject, 0, len(opts.Docs))
	for i, raw := range opts.Docs {
		doc, err := ir.UnmarshalIRObject([]byte(raw))
		if err != nil {
			return outputCommandError(formatter, ErrCodeBadInput, fmt.Errorf("--doc %d: %w", i, err))
		}
		docs = append(docs, doc)
	}
	if len(args) == 1 {
		more, err := readDocuments(args[0], cmd.InOrStdin())
		if err != nil {
			return outputCommandError(formatter, ErrCodeBadInput, err)
		}
		docs = append(docs, more...)
	}

	check := selector.Validate(params.Selector)
	result := MatchResult{
		Selector: params.Source,
		Sort:     params.Sort.String(),
		Limit:    params.Limit,
		Pushdown: check.Pushdown,
		Warnings: check.Warnings,
		Rows:     make([]MatchRow, 0, len(docs)),
		Page:     ir.IRArray{},
	}
	if check.Pushdown {
		if sql, _, err := querysql.NewSQLCompiler().Compile(coll.Name, params.Selector); err == nil {
			result.SQL = sql
		}
	}

	var page []ir.IRValue
	for i, doc := range docs {
		row := MatchRow{Index: i, ID: doc[coll.IDKey()], Matches: selector.Match(params.Selector, doc)}
		if row.Matches {
			page = append(page, doc)
		}
		result.Rows = append(result.Rows, row)
	}
	params.Sort.Sort(page)
	if params.Limit > 0 && len(page) > params.Limit {
		page = page[:params.Limit]
	}
	for _, doc := range page {
		id, ok := doc.(ir.IRObject)[coll.IDKey()]
		if !ok {
			id = ir.IRNull{}
		}
		result.Page = append(result.Page, id)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Selector: %s\n", describeValue(result.Selector))
	if result.Sort != "" {
		fmt.Fprintf(w, "Sort: %s\n", result.Sort)
	}
	if result.Limit > 0 {
		fmt.Fprintf(w, "Limit: %d\n", result.Limit)
	}
	if result.Pushdown {
		fmt.Fprintln(w, "Pushdown: yes")
	} else {
		fmt.Fprintf(w, "Pushdown: no (%s)\n", strings.Join(result.Warnings, "; "))
	}
	fmt.Fprintln(w)
	for _, row := range result.Rows {
		mark := "✗"
		if row.Matches {
			mark = "✓"
		}
		id := "-"
		if row.ID != nil {
			id = describeValue(row.ID)
		}
		fmt.Fprintf(w, "  %s [%d] id=%s\n", mark, row.Index, id)
	}
	fmt.Fprintf(w, "\nPage: %s\n", describeValue(result.Page))
	return nil
}

// matchParameters resolves the selector, sort and limit to evaluate, and
// the collection they belong to. A bare --selector gets an anonymous
// collection with the default id field.
func matchParameters(opts *MatchOptions) (registry.Parameters, *registry.Collection, error) {
	if opts.Collection == "" {
		if opts.Selector == "" {
			return registry.Parameters{}, nil, errors.New("one of --selector or --collection is required")
		}
		src, err := ir.UnmarshalIRObject([]byte(opts.Selector))
		if err != nil {
			return registry.Parameters{}, nil, fmt.Errorf("--selector: %w", err)
		}
		pred, err := selector.Parse(src)
		if err != nil {
			return registry.Parameters{}, nil, err
		}
		return registry.Parameters{Source: src, Selector: pred}, &registry.Collection{Name: "documents"}, nil
	}

	specsDir := opts.SpecsDir
	if specsDir == "" {
		specsDir = opts.settings().SpecsDir
	}
	reg, err := LoadRegistry(specsDir)
	if err != nil {
		return registry.Parameters{}, nil, err
	}
	coll, ok := reg.ByName(opts.Collection)
	if !ok {
		return registry.Parameters{}, nil, fmt.Errorf("unknown collection %q", opts.Collection)
	}
	terms, err := ir.UnmarshalIRObject([]byte(opts.Terms))
	if err != nil {
		return registry.Parameters{}, nil, fmt.Errorf("--terms: %w", err)
	}
	params, err := coll.GetParameters(terms)
	if err != nil {
		return registry.Parameters{}, nil, err
	}
	return params, coll, nil
}
