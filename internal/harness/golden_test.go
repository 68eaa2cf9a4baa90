package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func runGoldenScenario(t *testing.T, file string) {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", file))
	require.NoError(t, err)
	require.NoError(t, RunWithGolden(t, scenario))
}

func TestGolden_LowConfidenceCannotUnkill(t *testing.T) {
	runGoldenScenario(t, "scenario_a.yaml")
}

func TestGolden_ExclusiveRelationsPickWinner(t *testing.T) {
	runGoldenScenario(t, "scenario_b.yaml")
}

func TestGolden_RevertRestoresPastState(t *testing.T) {
	runGoldenScenario(t, "scenario_c.yaml")
}

func TestTraceSnapshot_CanonicalJSONIsStable(t *testing.T) {
	snap := &TraceSnapshot{
		ScenarioName: "stable",
		Trace: []TraceEvent{
			{Type: "submit", Seq: 1, Proposal: "prop-1"},
			{Type: "decision", Seq: 2, Proposal: "prop-1", Status: "accepted", Txn: "tok-000001",
				Rationale: "no conflicts; effective weight above threshold"},
		},
	}

	first, err := snap.canonicalJSON()
	require.NoError(t, err)
	second, err := snap.canonicalJSON()
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))

	want := `{"scenario_name":"stable","trace":[` +
		`{"proposal":"prop-1","seq":1,"type":"submit"},` +
		`{"proposal":"prop-1","rationale":"no conflicts; effective weight above threshold",` +
		`"seq":2,"status":"accepted","txn":"tok-000001","type":"decision"}]}`
	require.Equal(t, want, string(first))
}
