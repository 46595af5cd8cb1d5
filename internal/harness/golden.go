package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/watchpatch/internal/ir"
)

// TraceSnapshot captures the trace and final cache of a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Batch        string
	Trace        []TraceEvent
	Entries      map[string]ir.IRObject
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// ir.MarshalCanonical only handles IR types and plain Go values.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		changes := make([]any, len(ev.Changed))
		for j, c := range ev.Changed {
			changes[j] = map[string]any{
				"entry":  c.Entry,
				"field":  c.Field,
				"before": idArray(c.Before),
				"after":  idArray(c.After),
			}
		}

		eventMap := map[string]any{
			"seq":       ev.Seq,
			"kind":      ev.Kind,
			"type":      ev.TypeName,
			"changed":   changes,
			"unchanged": ev.Unchanged,
		}
		if ev.ID != nil {
			eventMap["id"] = ev.ID
		}
		if ev.NoDocument {
			eventMap["no_document"] = true
		}
		if ev.Missing > 0 {
			eventMap["missing"] = ev.Missing
		}
		if ev.Failed > 0 {
			eventMap["failed"] = ev.Failed
		}
		if ev.ErrorCode != "" {
			eventMap["error"] = ev.ErrorCode
		}
		traceList[i] = eventMap
	}

	entries := make(map[string]any, len(s.Entries))
	for name, data := range s.Entries {
		entries[name] = data
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"entries":       entries,
	}
	if s.Batch != "" {
		result["batch"] = s.Batch
	}
	return result
}

// idArray converts page ids for serialization; ids that are absent become null.
func idArray(ids []ir.IRValue) ir.IRArray {
	out := make(ir.IRArray, len(ids))
	for i, id := range ids {
		if id == nil {
			out[i] = ir.IRNull{}
			continue
		}
		out[i] = id
	}
	return out
}

// Snapshot renders the canonical JSON golden form of a result.
func Snapshot(scenarioName, batch string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Batch:        batch,
		Trace:        result.Trace,
		Entries:      result.Entries,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, scenario.Batch, result)
}

// AssertGolden compares an already computed result against a golden file.
func AssertGolden(t *testing.T, scenarioName, batch string, result *Result) error {
	t.Helper()

	snapshotJSON, err := Snapshot(scenarioName, batch, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshotJSON)

	return nil
}
