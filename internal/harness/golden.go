package harness

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures the complete trace of a scenario execution.
type TraceSnapshot struct {
	ScenarioName string           `json:"scenario_name"`
	Pass         bool             `json:"pass"`
	Trace        []TraceEvent     `json:"trace"`
	Aliases      map[string]int64 `json:"aliases,omitempty"`
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts Options) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
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

// MarshalSnapshot renders the golden-file form of a result.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Pass:         result.Pass,
		Trace:        result.Trace,
		Aliases:      result.Aliases,
	}
	// encoding/json sorts map keys, so the output is stable.
	return json.MarshalIndent(snapshot, "", "  ")
}
