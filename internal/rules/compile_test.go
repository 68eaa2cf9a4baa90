package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworld/canonry/internal/canon"
)

func TestCompileDefaultsMatchesBuiltins(t *testing.T) {
	compiled, err := CompileDefaults()
	require.NoError(t, err)

	assert.Equal(t, Default(), compiled, "defaults.cue must mirror Default()")
}

func TestCompileBytes(t *testing.T) {
	src := `
ruleset: {
	authority_weights: {
		player:     500000
		narrator:   700000
		lorekeeper: 850000
		gm:         1000000
	}
	min_effective_weight: 400000
	state_exclusivity: [["hidden", "revealed"]]
	relation_exclusivity: [["loves", "hates"]]
	disjoint_places: [["keep", "crypt"]]
	location_path: "whereabouts"
}
`
	rs, err := CompileBytes([]byte(src), "custom.cue")
	require.NoError(t, err)

	assert.Equal(t, int64(500_000), rs.AuthorityWeight(canon.AuthorityPlayer))
	assert.Equal(t, int64(400_000), rs.MinEffectiveWeight)
	assert.True(t, rs.StatesExclusive("hidden", "revealed"))
	assert.True(t, rs.RelationsExclusive("loves", "hates"))
	assert.True(t, rs.PlacesDisjoint("keep", "crypt"))
	assert.Equal(t, "whereabouts", rs.LocationPath)
}

func TestCompileBytesMissingWeights(t *testing.T) {
	_, err := CompileBytes([]byte(`ruleset: { min_effective_weight: 500000 }`), "bad.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authority_weights")
}

func TestCompileBytesMissingThreshold(t *testing.T) {
	src := `
ruleset: {
	authority_weights: {player: 600000, narrator: 750000, lorekeeper: 900000, gm: 1000000}
}
`
	_, err := CompileBytes([]byte(src), "bad.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_effective_weight")
}

func TestCompileBytesRejectsUnknownAuthority(t *testing.T) {
	src := `
ruleset: {
	authority_weights: {player: 600000, narrator: 750000, lorekeeper: 900000, gm: 1000000, deity: 1000000}
	min_effective_weight: 500000
}
`
	_, err := CompileBytes([]byte(src), "bad.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown authority")
}

func TestCompileBytesSyntaxError(t *testing.T) {
	_, err := CompileBytes([]byte(`ruleset: { authority_weights: {`), "broken.cue")
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.cue")
	src := `
ruleset: {
	authority_weights: {player: 600000, narrator: 750000, lorekeeper: 900000, gm: 1000000}
	min_effective_weight: 500000
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	rs, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(500_000), rs.MinEffectiveWeight)
	assert.Equal(t, "location", rs.LocationPath, "location_path defaults when omitted")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
}
