package harness

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures every run of a scenario execution.
// Struct fields marshal in declaration order and attribute maps with sorted
// keys, so the JSON is deterministic.
type TraceSnapshot struct {
	ScenarioName string      `json:"scenario_name"`
	RunID        string      `json:"run_id,omitempty"`
	Runs         []RunResult `json:"runs"`
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s TraceSnapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario against a ledger in t.TempDir() and
// compares its trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result (for further checks) or an error if the scenario could
// not be executed. Test failure (via goldie) occurs if the trace doesn't
// match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, scenario.RunID, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName, runID string, result *Result) error {
	t.Helper()

	data, err := TraceSnapshot{ScenarioName: scenarioName, RunID: runID, Runs: result.Runs}.Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
