package query

import (
	"fmt"
	"strings"

	"github.com/loomworld/canonry/internal/canon"
)

// Column order matches the store's node row scanner.
const nodeSelect = `SELECT
	id, kind, scope, attrs, tags, confidence_ppm, authority,
	canon_status, supersedes, superseded_by, evidence, created_at, seq
FROM canonical_nodes`

// Compile converts a query to parameterized SQL for SQLite.
// Returns (sql, params, error).
//
// Every compiled statement includes ORDER BY with a binary collation so
// repeated runs return rows in the same order. Values are never
// interpolated into the SQL text: everything user-supplied travels as a
// ? parameter, including json_extract paths.
func Compile(q Query) (string, []any, error) {
	if err := Validate(q); err != nil {
		return "", nil, err
	}

	var conds []string
	var params []any
	for _, f := range q.Filters {
		sql, p, err := compileFilter(f)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, sql)
		params = append(params, p...)
	}

	var b strings.Builder
	b.WriteString(nodeSelect)
	if len(conds) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(conds, "\n  AND "))
	}
	b.WriteString("\nORDER BY id COLLATE BINARY ASC")
	if q.Limit > 0 {
		b.WriteString("\nLIMIT ?")
		params = append(params, q.Limit)
	}
	return b.String(), params, nil
}

func compileFilter(f Filter) (string, []any, error) {
	switch f := f.(type) {
	case ScopeIs:
		return "scope = ?", []any{f.Scope}, nil
	case KindIs:
		return "kind = ?", []any{f.Kind}, nil
	case StatusIs:
		return "canon_status = ?", []any{string(f.Status)}, nil
	case HasTag:
		return "EXISTS (SELECT 1 FROM json_each(canonical_nodes.tags) WHERE json_each.value = ?)",
			[]any{f.Tag}, nil
	case AttrEquals:
		return compileAttrEquals(f)
	case RelatedTo:
		if f.ObjectID == "" {
			return "EXISTS (SELECT 1 FROM relations" +
					" WHERE relations.subject_id = canonical_nodes.id" +
					" AND relations.relation_type = ? AND relations.valid_to = 0)",
				[]any{f.Type}, nil
		}
		return "EXISTS (SELECT 1 FROM relations" +
				" WHERE relations.subject_id = canonical_nodes.id" +
				" AND relations.relation_type = ? AND relations.object_id = ?" +
				" AND relations.valid_to = 0)",
			[]any{f.Type, f.ObjectID}, nil
	default:
		return "", nil, fmt.Errorf("unsupported filter type %T", f)
	}
}

func compileAttrEquals(f AttrEquals) (string, []any, error) {
	path := "$." + f.Path
	param, null, err := attrParam(f.Value)
	if err != nil {
		return "", nil, err
	}
	if null {
		// Null means the path is absent.
		return "json_extract(attrs, ?) IS NULL", []any{path}, nil
	}
	return "json_extract(attrs, ?) = ?", []any{path, param}, nil
}

// attrParam converts a scalar canon value to a SQL parameter. Booleans
// map to the 0/1 integers json_extract produces for JSON true/false.
func attrParam(v canon.Value) (any, bool, error) {
	switch v := v.(type) {
	case nil, canon.Null:
		return nil, true, nil
	case canon.String:
		return string(v), false, nil
	case canon.Int:
		return int64(v), false, nil
	case canon.Bool:
		if v {
			return int64(1), false, nil
		}
		return int64(0), false, nil
	default:
		return nil, false, fmt.Errorf("value %T is not a scalar", v)
	}
}
