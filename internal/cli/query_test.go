package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runQueryCommand(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text", DB: dbPath}
	cmd := NewQueryCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestQueryFiltersByScopeAndKind(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.db")
	submitProposal(t, dbPath, entityProposalJSON("prop-1", "n-hero", "testscope"))
	submitProposal(t, dbPath, entityProposalJSON("prop-2", "n-stray", "otherscope"))
	canonizeScope(t, dbPath, "testscope")
	canonizeScope(t, dbPath, "otherscope")

	out, err := runQueryCommand(t, dbPath, "--scope", "testscope", "--kind", "character")
	require.NoError(t, err)
	assert.Contains(t, out, "n-hero")
	assert.NotContains(t, out, "n-stray")
	assert.Contains(t, out, "1 nodes")
}

func TestQueryFiltersByTagAndAttr(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.db")
	submitProposal(t, dbPath, entityProposalJSON("prop-1", "n-hero", "testscope"))
	canonizeScope(t, dbPath, "testscope")

	out, err := runQueryCommand(t, dbPath, "--tag", "alive", "--attr", "location=tavern")
	require.NoError(t, err)
	assert.Contains(t, out, "n-hero")

	out, err = runQueryCommand(t, dbPath, "--attr", "location=crypt")
	require.NoError(t, err)
	assert.Contains(t, out, "No matching nodes")
}

func TestQueryNullMatchesAbsentAttr(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.db")
	submitProposal(t, dbPath, entityProposalJSON("prop-1", "n-hero", "testscope"))
	canonizeScope(t, dbPath, "testscope")

	// The seeded entity has a location, so null matches nothing.
	out, err := runQueryCommand(t, dbPath, "--attr", "location=null")
	require.NoError(t, err)
	assert.Contains(t, out, "No matching nodes")
}

func TestQueryRejectsMalformedAttr(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.db")
	submitProposal(t, dbPath, entityProposalJSON("prop-1", "n-hero", "testscope"))
	canonizeScope(t, dbPath, "testscope")

	_, err := runQueryCommand(t, dbPath, "--attr", "location")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path=value")
}

func TestQueryJSONOutput(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "world.db")
	submitProposal(t, dbPath, entityProposalJSON("prop-1", "n-hero", "testscope"))
	canonizeScope(t, dbPath, "testscope")

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json", DB: dbPath}
	cmd := NewQueryCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--scope", "testscope"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `"status":"ok"`)
	assert.Contains(t, buf.String(), `"n-hero"`)
}

func TestQueryMissingDatabase(t *testing.T) {
	_, err := runQueryCommand(t, filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database not found")
}
