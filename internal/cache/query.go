package cache

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// RootField is a top-level field selected by a query operation.
type RootField struct {
	// Name is the schema field, e.g. "posts".
	Name string

	// DataKey is where the field's result lives in the response data:
	// the alias when one is given, otherwise Name.
	DataKey string
}

// RootFields parses a GraphQL document and returns the root fields of its
// query operations in document order. Inline fragments and fragment
// spreads at the root are expanded. Mutation and subscription operations
// are ignored.
func RootFields(query string) ([]RootField, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return nil, fmt.Errorf("parse watch query: %w", err)
	}

	var out []RootField
	seen := make(map[string]bool)
	for _, op := range doc.Operations {
		if op.Operation != ast.Query {
			continue
		}
		collectRootFields(doc, op.SelectionSet, seen, &out, map[string]bool{})
	}
	return out, nil
}

func collectRootFields(doc *ast.QueryDocument, set ast.SelectionSet, seen map[string]bool, out *[]RootField, visiting map[string]bool) {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			key := s.Alias
			if key == "" {
				key = s.Name
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			*out = append(*out, RootField{Name: s.Name, DataKey: key})
		case *ast.InlineFragment:
			collectRootFields(doc, s.SelectionSet, seen, out, visiting)
		case *ast.FragmentSpread:
			if visiting[s.Name] {
				continue
			}
			frag := doc.Fragments.ForName(s.Name)
			if frag == nil {
				continue
			}
			visiting[s.Name] = true
			collectRootFields(doc, frag.SelectionSet, seen, out, visiting)
			delete(visiting, s.Name)
		}
	}
}
