package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureSnapshot(t *testing.T, dbPath, scope, scopeID string) string {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", DB: dbPath}
	cmd := NewSnapshotCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"capture", scope, scopeID})
	require.NoError(t, cmd.Execute(), "capture output: %s", buf.String())

	out := strings.TrimSpace(buf.String())
	id := strings.TrimPrefix(out, "Snapshot ")
	require.NotEmpty(t, id)
	return id
}

func TestSnapshotCaptureAndLineage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.db")
	submitProposal(t, dbPath, entityProposalJSON("prop-1", "n-hero", "testscope"))
	canonizeScope(t, dbPath, "testscope")

	id := captureSnapshot(t, dbPath, "testscope", "act-one")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", DB: dbPath}
	cmd := NewSnapshotCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"lineage", id})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), id)
	assert.Contains(t, buf.String(), "testscope/act-one")
}

func TestSnapshotDiffAgainstLive(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.db")
	submitProposal(t, dbPath, entityProposalJSON("prop-1", "n-hero", "testscope"))
	canonizeScope(t, dbPath, "testscope")

	id := captureSnapshot(t, dbPath, "testscope", "act-one")

	// Unchanged scope: no differences against live state.
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", DB: dbPath}
	cmd := NewSnapshotCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"diff", id})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No differences")

	submitProposal(t, dbPath, `{
		"id": "prop-move",
		"payload": {
			"kind": "fact",
			"fact": {"subject_id": "n-hero", "path": "location", "value": "crypt"}
		},
		"evidence": [{"source": "session-2", "timestamp": 2000}],
		"confidence_ppm": 1000000,
		"authority": "gm",
		"scope": "testscope"
	}`)
	canonizeScope(t, dbPath, "testscope")

	buf.Reset()
	cmd = NewSnapshotCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"diff", id})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `attr location: "tavern" -> "crypt"`)
}

func TestSnapshotRestoreThroughGate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.db")
	submitProposal(t, dbPath, entityProposalJSON("prop-1", "n-hero", "testscope"))
	canonizeScope(t, dbPath, "testscope")

	id := captureSnapshot(t, dbPath, "testscope", "act-one")

	submitProposal(t, dbPath, `{
		"id": "prop-move",
		"payload": {
			"kind": "fact",
			"fact": {"subject_id": "n-hero", "path": "location", "value": "crypt"}
		},
		"evidence": [{"source": "session-2", "timestamp": 2000}],
		"confidence_ppm": 1000000,
		"authority": "gm",
		"scope": "testscope"
	}`)
	canonizeScope(t, dbPath, "testscope")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", DB: dbPath}
	cmd := NewSnapshotCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"restore", id})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "1 accepted, 0 rejected, 0 pending")

	// Restoration went through the ledger: the subject has three records.
	histBuf := &bytes.Buffer{}
	histCmd := NewHistoryCommand(rootOpts)
	histCmd.SetOut(histBuf)
	histCmd.SetErr(histBuf)
	histCmd.SetArgs([]string{"n-hero"})
	require.NoError(t, histCmd.Execute())
	assert.Contains(t, histBuf.String(), "3 records")
}

func TestSnapshotRestoreUnknownID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.db")
	submitProposal(t, dbPath, entityProposalJSON("prop-1", "n-hero", "testscope"))
	canonizeScope(t, dbPath, "testscope")

	rootOpts := &RootOptions{Format: "text", DB: dbPath}
	cmd := NewSnapshotCommand(rootOpts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"restore", "sn-bogus"})

	err := cmd.Execute()
	require.Error(t, err)
}
