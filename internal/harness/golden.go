package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/loomworld/canonry/internal/canon"
)

// TraceSnapshot is the golden-file form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// canonicalJSON serializes the snapshot as canonical JSON: sorted keys,
// no floats, stable across runs. The snapshot round-trips through the
// sealed value union so key ordering matches every other canonical
// artifact in the system.
func (s *TraceSnapshot) canonicalJSON() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	v, err := canon.ParseValue(raw)
	if err != nil {
		return nil, fmt.Errorf("trace snapshot is not canonical: %w", err)
	}
	return canon.MarshalCanonical(v)
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden. Regenerate goldens with:
//
//	go test ./internal/harness -update
//
// The scenario's own assertions must also pass.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return err
	}
	if !result.Pass {
		return fmt.Errorf("scenario %s failed: %v", scenario.Name, result.Errors)
	}

	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result's trace against the
// named golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	}
	traceJSON, err := snapshot.canonicalJSON()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
