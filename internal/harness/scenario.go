package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/watchpatch/internal/mutation"
)

// Scenario defines a reconciliation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists the CUE collection specs to compile.
	// Paths are relative to the scenario file location.
	Specs []string `yaml:"specs"`

	// Batch is the fixed batch token stamped on every mutation.
	// If empty, defaults to "test-batch-default".
	Batch string `yaml:"batch,omitempty"`

	// TruncateToLimit controls page truncation after adds. Default: true.
	TruncateToLimit *bool `yaml:"truncate_to_limit,omitempty"`

	// Cache seeds the cache before any mutation.
	Cache []CacheEntry `yaml:"cache"`

	// Mutations are applied in order.
	Mutations []MutationStep `yaml:"mutations"`

	// Assertions validate the final pages and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// CacheEntry is one seeded watch and its data.
type CacheEntry struct {
	// Name labels the entry for assertions and the trace.
	Name string `yaml:"name"`

	Query     string         `yaml:"query"`
	Variables map[string]any `yaml:"variables,omitempty"`
	Data      map[string]any `yaml:"data"`
}

// MutationStep is one mutation result to apply.
type MutationStep struct {
	Kind string `yaml:"kind"`
	Type string `yaml:"type"`

	// Document is the returned document. Omit it for a mutation that
	// returned none.
	Document map[string]any `yaml:"document,omitempty"`

	// Expect optionally checks the reconcile report.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks one mutation's outcome.
type ExpectClause struct {
	// Changed is the expected number of rewritten pages.
	Changed *int `yaml:"changed,omitempty"`

	// Error is the expected error code (e.g. "UNKNOWN_TYPE"). Empty
	// means the mutation must succeed.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "page_ids": the page's result ids, in order
	// - "total_count": the page's totalCount
	// - "unchanged": the entry's data equals its seed
	// - "trace_count": number of mutations that changed a page
	Type string `yaml:"type"`

	// Entry names the cache entry (page_ids, total_count, unchanged).
	Entry string `yaml:"entry,omitempty"`

	// Field is the response key of the page (page_ids, total_count).
	Field string `yaml:"field,omitempty"`

	// IDs are the expected ids (page_ids).
	IDs []any `yaml:"ids,omitempty"`

	// Count is the expected number (total_count, trace_count).
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertPageIDs     = "page_ids"
	AssertTotalCount  = "total_count"
	AssertUnchanged   = "unchanged"
	AssertTraceCount  = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Spec paths are resolved relative to the scenario file. Returns an error
// if the file doesn't exist, is malformed, contains unknown fields
// (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return loadScenario(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath is LoadScenario with relative spec paths
// resolved against basePath instead of the scenario's directory.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	return loadScenario(path, basePath)
}

func loadScenario(path, base string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve spec paths BEFORE validation
	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) {
			scenario.Specs[i] = filepath.Join(base, specPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}

	if len(s.Mutations) == 0 {
		return fmt.Errorf("mutations list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	names := make(map[string]bool, len(s.Cache))
	for i, entry := range s.Cache {
		if entry.Name == "" {
			return fmt.Errorf("cache[%d]: name is required", i)
		}
		if names[entry.Name] {
			return fmt.Errorf("cache[%d]: duplicate name %q", i, entry.Name)
		}
		names[entry.Name] = true
		if entry.Query == "" {
			return fmt.Errorf("cache[%d]: query is required", i)
		}
		if entry.Data == nil {
			return fmt.Errorf("cache[%d]: data is required", i)
		}
	}

	for i, step := range s.Mutations {
		if _, err := mutation.ParseKind(step.Kind); err != nil {
			return fmt.Errorf("mutations[%d]: %w", i, err)
		}
		if step.Type == "" {
			return fmt.Errorf("mutations[%d]: type is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, names); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, entries map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needEntry := func() error {
		if a.Entry == "" {
			return fmt.Errorf("assertions[%d]: entry is required for %s", index, a.Type)
		}
		if !entries[a.Entry] {
			return fmt.Errorf("assertions[%d]: unknown entry %q", index, a.Entry)
		}
		return nil
	}

	switch a.Type {
	case AssertPageIDs:
		if err := needEntry(); err != nil {
			return err
		}
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for page_ids", index)
		}
		if a.IDs == nil {
			return fmt.Errorf("assertions[%d]: ids is required for page_ids (use [] for an empty page)", index)
		}
	case AssertTotalCount:
		if err := needEntry(); err != nil {
			return err
		}
		if a.Field == "" {
			return fmt.Errorf("assertions[%d]: field is required for total_count", index)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for total_count", index)
		}
	case AssertUnchanged:
		if err := needEntry(); err != nil {
			return err
		}
	case AssertTraceCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
