package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworld/canonry/internal/canon"
)

func TestCompile_NoFilters(t *testing.T) {
	sql, params, err := Compile(Query{})
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM canonical_nodes")
	assert.NotContains(t, sql, "WHERE")
	assert.Contains(t, sql, "ORDER BY id COLLATE BINARY ASC")
	assert.Empty(t, params)
}

func TestCompile_ScopeAndKind(t *testing.T) {
	sql, params, err := Compile(Query{
		Filters: []Filter{
			ScopeIs{Scope: "ravenholm"},
			KindIs{Kind: "character"},
		},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "scope = ?")
	assert.Contains(t, sql, "kind = ?")
	assert.Contains(t, sql, "ORDER BY")

	// Values travel as parameters, never in the SQL text.
	assert.NotContains(t, sql, "ravenholm")
	assert.NotContains(t, sql, "character")
	assert.Equal(t, []any{"ravenholm", "character"}, params)
}

func TestCompile_HasTag(t *testing.T) {
	sql, params, err := Compile(Query{
		Filters: []Filter{HasTag{Tag: "alive"}},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "json_each(canonical_nodes.tags)")
	assert.NotContains(t, sql, "alive")
	assert.Equal(t, []any{"alive"}, params)
}

func TestCompile_AttrEquals(t *testing.T) {
	tests := []struct {
		name  string
		value canon.Value
		want  []any
	}{
		{"string", canon.String("tavern"), []any{"$.location", "tavern"}},
		{"int", canon.Int(7), []any{"$.location", int64(7)}},
		{"bool true", canon.Bool(true), []any{"$.location", int64(1)}},
		{"bool false", canon.Bool(false), []any{"$.location", int64(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := Compile(Query{
				Filters: []Filter{AttrEquals{Path: "location", Value: tt.value}},
			})
			require.NoError(t, err)
			assert.Contains(t, sql, "json_extract(attrs, ?) = ?")
			assert.Equal(t, tt.want, params)
		})
	}
}

func TestCompile_AttrEqualsNullMeansAbsent(t *testing.T) {
	sql, params, err := Compile(Query{
		Filters: []Filter{AttrEquals{Path: "location", Value: canon.Null{}}},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "json_extract(attrs, ?) IS NULL")
	assert.Equal(t, []any{"$.location"}, params)
}

func TestCompile_NestedAttrPath(t *testing.T) {
	_, params, err := Compile(Query{
		Filters: []Filter{AttrEquals{Path: "stats.hp", Value: canon.Int(10)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"$.stats.hp", int64(10)}, params)
}

func TestCompile_RelatedTo(t *testing.T) {
	sql, params, err := Compile(Query{
		Filters: []Filter{RelatedTo{Type: "allies", ObjectID: "n-mira"}},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "relations.relation_type = ?")
	assert.Contains(t, sql, "relations.object_id = ?")
	assert.Contains(t, sql, "relations.valid_to = 0")
	assert.Equal(t, []any{"allies", "n-mira"}, params)
}

func TestCompile_RelatedToAnyObject(t *testing.T) {
	sql, params, err := Compile(Query{
		Filters: []Filter{RelatedTo{Type: "allies"}},
	})
	require.NoError(t, err)

	assert.NotContains(t, sql, "object_id")
	assert.Equal(t, []any{"allies"}, params)
}

func TestCompile_Limit(t *testing.T) {
	sql, params, err := Compile(Query{
		Filters: []Filter{ScopeIs{Scope: "ravenholm"}},
		Limit:   5,
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "LIMIT ?")
	assert.Equal(t, []any{"ravenholm", 5}, params)
}

func TestCompile_StatusIs(t *testing.T) {
	sql, params, err := Compile(Query{
		Filters: []Filter{StatusIs{Status: canon.StatusCanon}},
	})
	require.NoError(t, err)

	assert.Contains(t, sql, "canon_status = ?")
	assert.Equal(t, []any{"canon"}, params)
}

func TestCompile_RejectsInvalidQuery(t *testing.T) {
	_, _, err := Compile(Query{
		Filters: []Filter{ScopeIs{}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty scope")
}
