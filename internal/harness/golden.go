package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/modvault/modvault/internal/virtualize"
)

// TraceSnapshot captures the resolution trace for a scenario execution
// in a stable serialization for golden comparison.
type TraceSnapshot struct {
	ScenarioName string                  `json:"scenario_name"`
	Trace        []virtualize.TraceEvent `json:"trace"`
}

// RunWithGolden executes a scenario, checks its expectations, and
// compares the trace against a golden file stored in
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Golden comparison only makes sense for sequential scenarios; a
// concurrent trace has no canonical order.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, checkErr := range Check(scenario, result) {
		t.Error(checkErr)
	}

	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		Trace:        result.Trace,
	}
	traceJSON, err := json.MarshalIndent(&snapshot, "", "  ")
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return nil
}
