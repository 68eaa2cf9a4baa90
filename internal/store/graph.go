package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/query"
)

const nodeColumns = `
	id, kind, scope, attrs, tags, confidence_ppm, authority,
	canon_status, supersedes, superseded_by, evidence, created_at, seq`

const relationColumns = `
	id, subject_id, relation_type, object_id, valid_from, valid_to,
	confidence_ppm, authority, evidence, created_at, seq`

// GetNode returns one canonical node by id, nil when absent.
func (s *Store) GetNode(ctx context.Context, id string) (*canon.Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+nodeColumns+`
		FROM canonical_nodes
		WHERE id = ?
	`, id)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return &node, nil
}

// ScopeNodes returns every node in a scope, creation order. An empty scope
// returns the whole graph.
func (s *Store) ScopeNodes(ctx context.Context, scope string) ([]canon.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM canonical_nodes ORDER BY seq ASC`
	args := []any{}
	if scope != "" {
		query = `SELECT ` + nodeColumns + ` FROM canonical_nodes WHERE scope = ? ORDER BY seq ASC`
		args = append(args, scope)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scope nodes: %w", err)
	}
	return collectNodes(rows)
}

// FindNodes runs a compiled filter query against the canonical graph.
// Results come back ordered by node id.
func (s *Store) FindNodes(ctx context.Context, q query.Query) ([]canon.Node, error) {
	stmt, params, err := query.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("find nodes: %w", err)
	}
	return collectNodes(rows)
}

// NodeRelations returns every relation where the node is subject or object,
// creation order.
func (s *Store) NodeRelations(ctx context.Context, nodeID string) ([]canon.Relation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationColumns+`
		FROM relations
		WHERE subject_id = ? OR object_id = ?
		ORDER BY seq ASC
	`, nodeID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("query relations for node %s: %w", nodeID, err)
	}
	return collectRelations(rows)
}

// OpenRelations returns the open (valid_to = 0) relations of one subject,
// optionally filtered by relation type.
func (s *Store) OpenRelations(ctx context.Context, subjectID, relationType string) ([]canon.Relation, error) {
	query := `
		SELECT ` + relationColumns + `
		FROM relations
		WHERE subject_id = ? AND valid_to = 0
		ORDER BY seq ASC`
	args := []any{subjectID}
	if relationType != "" {
		query = `
			SELECT ` + relationColumns + `
			FROM relations
			WHERE subject_id = ? AND relation_type = ? AND valid_to = 0
			ORDER BY seq ASC`
		args = append(args, relationType)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open relations for %s: %w", subjectID, err)
	}
	return collectRelations(rows)
}

// GetRelation returns one relation by id, nil when absent.
func (s *Store) GetRelation(ctx context.Context, id string) (*canon.Relation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+relationColumns+`
		FROM relations
		WHERE id = ?
	`, id)
	rel, err := scanRelation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get relation %s: %w", id, err)
	}
	return &rel, nil
}

// scanNode reads one canonical_nodes row.
func scanNode(row rowScanner) (canon.Node, error) {
	var node canon.Node
	var attrs, tags, evidence, authority, status string

	err := row.Scan(&node.ID, &node.Kind, &node.Scope, &attrs, &tags,
		&node.ConfidencePPM, &authority, &status, &node.Supersedes,
		&node.SupersededBy, &evidence, &node.CreatedAt, &node.Seq)
	if err != nil {
		return canon.Node{}, err
	}

	node.Authority = canon.Authority(authority)
	node.Status = canon.CanonStatus(status)

	if node.Attrs, err = unmarshalAttrs(attrs); err != nil {
		return canon.Node{}, fmt.Errorf("node %s: %w", node.ID, err)
	}
	if node.Tags, err = unmarshalTags(tags); err != nil {
		return canon.Node{}, fmt.Errorf("node %s: %w", node.ID, err)
	}
	if node.Evidence, err = unmarshalEvidence(evidence); err != nil {
		return canon.Node{}, fmt.Errorf("node %s: %w", node.ID, err)
	}
	return node, nil
}

// scanRelation reads one relations row.
func scanRelation(row rowScanner) (canon.Relation, error) {
	var rel canon.Relation
	var evidence, authority string

	err := row.Scan(&rel.ID, &rel.SubjectID, &rel.Type, &rel.ObjectID,
		&rel.ValidFrom, &rel.ValidTo, &rel.ConfidencePPM, &authority,
		&evidence, &rel.CreatedAt, &rel.Seq)
	if err != nil {
		return canon.Relation{}, err
	}

	rel.Authority = canon.Authority(authority)
	if rel.Evidence, err = unmarshalEvidence(evidence); err != nil {
		return canon.Relation{}, fmt.Errorf("relation %s: %w", rel.ID, err)
	}
	return rel, nil
}

func collectNodes(rows *sql.Rows) ([]canon.Node, error) {
	defer rows.Close()

	var nodes []canon.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

func collectRelations(rows *sql.Rows) ([]canon.Relation, error) {
	defer rows.Close()

	var rels []canon.Relation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}
	return rels, nil
}
