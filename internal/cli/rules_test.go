package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesCheckDefaults(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRulesCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"check"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "built-in defaults")
	assert.Contains(t, buf.String(), "min effective weight: 500000")
	assert.Contains(t, buf.String(), "gm")
}

func TestRulesCheckCustomFile(t *testing.T) {
	src := `
ruleset: {
	authority_weights: {
		player:     500000
		narrator:   700000
		lorekeeper: 850000
		gm:         1000000
	}
	min_effective_weight: 400000
	state_exclusivity: [["frozen", "burning"]]
	relation_exclusivity: [["rules", "serves"]]
	location_path: "position"
}
`
	path := filepath.Join(t.TempDir(), "custom.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRulesCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"check", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "min effective weight: 400000")
	assert.Contains(t, buf.String(), "frozen")
	assert.Contains(t, buf.String(), "location path:        position")
}

func TestRulesCheckBadSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(path, []byte("authority_weights: {"), 0o644))

	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRulesCommand(rootOpts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"check", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
