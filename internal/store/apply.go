package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/loomworld/canonry/internal/canon"
)

// Field path prefixes used by change records to address node state.
// Attribute paths are "attrs.<dotted-path>", tag mutations use "tags",
// status flips use "canon_status", relation edges use
// "relations.<type>:<object-id>".
const (
	PathAttrsPrefix     = "attrs."
	PathTags            = "tags"
	PathCanonStatus     = "canon_status"
	PathRelationsPrefix = "relations."
)

// RelationFieldPath builds the field path for a relation edge.
func RelationFieldPath(relationType, objectID string) string {
	return PathRelationsPrefix + relationType + ":" + objectID
}

// applyFunc mutates the canonical tables per one ledger record, inside the
// appending SQL transaction.
type applyFunc func(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error

// applyFuncs is the closed apply registry. A record with an unregistered
// change type aborts the whole transaction: the ledger never carries a
// change the engine cannot replay.
var applyFuncs = map[canon.ChangeType]applyFunc{
	canon.ChangeNodeCreated:    applyNodeCreated,
	canon.ChangeNodeRetconned:  applyNodeRetconned,
	canon.ChangeAttrSet:        applyAttrSet,
	canon.ChangeTagAdded:       applyTagAdded,
	canon.ChangeTagRemoved:     applyTagRemoved,
	canon.ChangeRelationOpened: applyRelationOpened,
	canon.ChangeRelationClosed: applyRelationClosed,
	canon.ChangeReverted:       applyReverted,
}

// applyChange dispatches a ledger record to its registered apply function.
func applyChange(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	fn, ok := applyFuncs[rec.ChangeType]
	if !ok {
		return fmt.Errorf("unregistered change type %q", rec.ChangeType)
	}
	return fn(ctx, tx, rec)
}

// applyNodeCreated inserts a canonical node. NewValue carries the node
// document: kind, scope, attrs, tags, confidence_ppm, supersedes.
func applyNodeCreated(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	doc, ok := rec.NewValue.(canon.Object)
	if !ok {
		return fmt.Errorf("node-created requires an object new value, got %T", rec.NewValue)
	}

	kind := docString(doc, "kind")
	if kind == "" {
		return fmt.Errorf("node-created document missing kind")
	}

	attrs, err := docObject(doc, "attrs")
	if err != nil {
		return err
	}
	attrsJSON, err := marshalAttrs(attrs)
	if err != nil {
		return err
	}

	tags, err := docTags(doc, "tags")
	if err != nil {
		return err
	}
	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return err
	}

	evidenceJSON, err := marshalEvidence(recordEvidence(rec))
	if err != nil {
		return err
	}

	supersedes := docString(doc, "supersedes")

	_, err = tx.ExecContext(ctx, `
		INSERT INTO canonical_nodes
			(id, kind, scope, attrs, tags, confidence_ppm, authority,
			 canon_status, supersedes, superseded_by, evidence, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?)
	`, rec.SubjectID, kind, docString(doc, "scope"), attrsJSON, tagsJSON,
		docInt(doc, "confidence_ppm"), string(rec.Authority),
		string(canon.StatusCanon), supersedes, evidenceJSON, rec.Timestamp, rec.Seq)
	if err != nil {
		return fmt.Errorf("insert node %s: %w", rec.SubjectID, err)
	}

	// Link the superseded node forward.
	if supersedes != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE canonical_nodes SET superseded_by = ? WHERE id = ?
		`, rec.SubjectID, supersedes)
		if err != nil {
			return fmt.Errorf("link superseded node %s: %w", supersedes, err)
		}
	}
	return nil
}

// applyNodeRetconned flips a node out of canon. NewValue carries
// canon_status and optionally superseded_by.
func applyNodeRetconned(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	doc, ok := rec.NewValue.(canon.Object)
	if !ok {
		return fmt.Errorf("node-retconned requires an object new value, got %T", rec.NewValue)
	}
	status := docString(doc, "canon_status")
	if status == "" {
		return fmt.Errorf("node-retconned document missing canon_status")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE canonical_nodes SET canon_status = ?, superseded_by = ?
		WHERE id = ?
	`, status, docString(doc, "superseded_by"), rec.SubjectID)
	if err != nil {
		return fmt.Errorf("retcon node %s: %w", rec.SubjectID, err)
	}
	return requireOneRow(res, "node", rec.SubjectID)
}

// applyAttrSet writes one attribute path. FieldPath is "attrs.<path>".
func applyAttrSet(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	path, ok := strings.CutPrefix(rec.FieldPath, PathAttrsPrefix)
	if !ok || path == "" {
		return fmt.Errorf("attr-set requires an attrs field path, got %q", rec.FieldPath)
	}
	return setNodeAttr(ctx, tx, rec.SubjectID, path, rec.NewValue)
}

// setNodeAttr loads a node's attrs, sets path to v, and stores the result.
func setNodeAttr(ctx context.Context, tx *sql.Tx, nodeID, path string, v canon.Value) error {
	attrs, err := loadNodeAttrs(ctx, tx, nodeID)
	if err != nil {
		return err
	}
	if err := canon.SetPath(attrs, path, v); err != nil {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}
	attrsJSON, err := marshalAttrs(attrs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE canonical_nodes SET attrs = ? WHERE id = ?
	`, attrsJSON, nodeID)
	if err != nil {
		return fmt.Errorf("update attrs for node %s: %w", nodeID, err)
	}
	return nil
}

// applyTagAdded adds one tag. NewValue is the tag string.
func applyTagAdded(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	tag, ok := rec.NewValue.(canon.String)
	if !ok {
		return fmt.Errorf("tag-added requires a string new value, got %T", rec.NewValue)
	}
	return mutateNodeTags(ctx, tx, rec.SubjectID, func(tags []string) []string {
		for _, t := range tags {
			if t == string(tag) {
				return tags
			}
		}
		return append(tags, string(tag))
	})
}

// applyTagRemoved removes one tag. OldValue is the tag string.
func applyTagRemoved(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	tag, ok := rec.OldValue.(canon.String)
	if !ok {
		return fmt.Errorf("tag-removed requires a string old value, got %T", rec.OldValue)
	}
	return mutateNodeTags(ctx, tx, rec.SubjectID, func(tags []string) []string {
		out := tags[:0]
		for _, t := range tags {
			if t != string(tag) {
				out = append(out, t)
			}
		}
		return out
	})
}

// mutateNodeTags loads, transforms, and stores a node's tag set, keeping it
// sorted.
func mutateNodeTags(ctx context.Context, tx *sql.Tx, nodeID string, fn func([]string) []string) error {
	var tagsJSON string
	err := tx.QueryRowContext(ctx, `
		SELECT tags FROM canonical_nodes WHERE id = ?
	`, nodeID).Scan(&tagsJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("node %s not found", nodeID)
	}
	if err != nil {
		return fmt.Errorf("load tags for node %s: %w", nodeID, err)
	}

	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}
	tags = fn(tags)
	sort.Strings(tags)

	updated, err := marshalTags(tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE canonical_nodes SET tags = ? WHERE id = ?
	`, updated, nodeID)
	if err != nil {
		return fmt.Errorf("update tags for node %s: %w", nodeID, err)
	}
	return nil
}

// applyRelationOpened inserts a relation row. NewValue carries the edge
// document: relation_id, relation_type, object_id, valid_from,
// confidence_ppm.
func applyRelationOpened(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	doc, ok := rec.NewValue.(canon.Object)
	if !ok {
		return fmt.Errorf("relation-opened requires an object new value, got %T", rec.NewValue)
	}
	relID := docString(doc, "relation_id")
	relType := docString(doc, "relation_type")
	objectID := docString(doc, "object_id")
	if relID == "" || relType == "" || objectID == "" {
		return fmt.Errorf("relation-opened document missing relation_id, relation_type, or object_id")
	}

	evidenceJSON, err := marshalEvidence(recordEvidence(rec))
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO relations
			(id, subject_id, relation_type, object_id, valid_from, valid_to,
			 confidence_ppm, authority, evidence, created_at, seq)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
	`, relID, rec.SubjectID, relType, objectID, docInt(doc, "valid_from"),
		docInt(doc, "confidence_ppm"), string(rec.Authority), evidenceJSON,
		rec.Timestamp, rec.Seq)
	if err != nil {
		return fmt.Errorf("insert relation %s: %w", relID, err)
	}
	return nil
}

// applyRelationClosed stamps valid_to on an open relation. NewValue carries
// relation_id and valid_to.
func applyRelationClosed(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	doc, ok := rec.NewValue.(canon.Object)
	if !ok {
		return fmt.Errorf("relation-closed requires an object new value, got %T", rec.NewValue)
	}
	relID := docString(doc, "relation_id")
	validTo := docInt(doc, "valid_to")
	if relID == "" || validTo == 0 {
		return fmt.Errorf("relation-closed document missing relation_id or valid_to")
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE relations SET valid_to = ? WHERE id = ? AND valid_to = 0
	`, validTo, relID)
	if err != nil {
		return fmt.Errorf("close relation %s: %w", relID, err)
	}
	return requireOneRow(res, "open relation", relID)
}

// applyReverted restores earlier state as a forward change. The field path
// names what is restored; NewValue is the restored value:
//
//	attrs.<path>   - restored attribute value (Null unsets)
//	tags           - full restored tag array
//	canon_status   - restored status string
//	relations.<..> - edge document, open or closed per its valid_to
func applyReverted(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	switch {
	case strings.HasPrefix(rec.FieldPath, PathAttrsPrefix):
		path := strings.TrimPrefix(rec.FieldPath, PathAttrsPrefix)
		return setNodeAttr(ctx, tx, rec.SubjectID, path, rec.NewValue)

	case rec.FieldPath == PathTags:
		arr, ok := rec.NewValue.(canon.Array)
		if !ok {
			return fmt.Errorf("tag revert requires an array new value, got %T", rec.NewValue)
		}
		tags, err := tagsFromArray(arr)
		if err != nil {
			return err
		}
		return mutateNodeTags(ctx, tx, rec.SubjectID, func([]string) []string {
			return tags
		})

	case rec.FieldPath == PathCanonStatus:
		status, ok := rec.NewValue.(canon.String)
		if !ok {
			return fmt.Errorf("status revert requires a string new value, got %T", rec.NewValue)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE canonical_nodes SET canon_status = ? WHERE id = ?
		`, string(status), rec.SubjectID)
		if err != nil {
			return fmt.Errorf("revert status of node %s: %w", rec.SubjectID, err)
		}
		return requireOneRow(res, "node", rec.SubjectID)

	case strings.HasPrefix(rec.FieldPath, PathRelationsPrefix):
		return revertRelation(ctx, tx, rec)

	default:
		return fmt.Errorf("revert of unknown field path %q", rec.FieldPath)
	}
}

// revertRelation restores an edge to an earlier validity window. When the
// row exists its valid_to is restored; when it no longer should exist the
// document carries valid_to of the revert instant and the row is closed.
func revertRelation(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	doc, ok := rec.NewValue.(canon.Object)
	if !ok {
		return fmt.Errorf("relation revert requires an object new value, got %T", rec.NewValue)
	}
	relID := docString(doc, "relation_id")
	if relID == "" {
		return fmt.Errorf("relation revert document missing relation_id")
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relations WHERE id = ?
	`, relID).Scan(&count); err != nil {
		return fmt.Errorf("check relation %s: %w", relID, err)
	}

	if count > 0 {
		_, err := tx.ExecContext(ctx, `
			UPDATE relations SET valid_to = ? WHERE id = ?
		`, docInt(doc, "valid_to"), relID)
		if err != nil {
			return fmt.Errorf("revert relation %s: %w", relID, err)
		}
		return nil
	}

	// Row was never created on this store (replayed ledger); insert it in
	// its restored shape.
	err := applyRelationOpened(ctx, tx, canon.ChangeRecord{
		SubjectType: rec.SubjectType,
		SubjectID:   rec.SubjectID,
		ChangeType:  canon.ChangeRelationOpened,
		FieldPath:   rec.FieldPath,
		NewValue:    doc,
		Authority:   rec.Authority,
		Evidence:    rec.Evidence,
		Timestamp:   rec.Timestamp,
		Seq:         rec.Seq,
	})
	if err != nil {
		return err
	}
	if validTo := docInt(doc, "valid_to"); validTo != 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE relations SET valid_to = ? WHERE id = ?
		`, validTo, relID); err != nil {
			return fmt.Errorf("restore relation %s window: %w", relID, err)
		}
	}
	return nil
}

// loadNodeAttrs reads and parses a node's attrs column.
func loadNodeAttrs(ctx context.Context, tx *sql.Tx, nodeID string) (canon.Object, error) {
	var attrsJSON string
	err := tx.QueryRowContext(ctx, `
		SELECT attrs FROM canonical_nodes WHERE id = ?
	`, nodeID).Scan(&attrsJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %s not found", nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("load attrs for node %s: %w", nodeID, err)
	}
	attrs, err := unmarshalAttrs(attrsJSON)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, err)
	}
	return attrs, nil
}

// recordEvidence wraps a record's evidence for column storage. A record
// with no evidence yields an empty list, never a zero-value reference.
func recordEvidence(rec canon.ChangeRecord) []canon.EvidenceRef {
	if rec.Evidence == (canon.EvidenceRef{}) {
		return nil
	}
	return []canon.EvidenceRef{rec.Evidence}
}

// requireOneRow fails when an UPDATE matched nothing.
func requireOneRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found", what, id)
	}
	return nil
}

// docString extracts a string field from a change document, "" if absent.
func docString(doc canon.Object, key string) string {
	if s, ok := doc[key].(canon.String); ok {
		return string(s)
	}
	return ""
}

// docInt extracts an integer field from a change document, 0 if absent.
func docInt(doc canon.Object, key string) int64 {
	if n, ok := doc[key].(canon.Int); ok {
		return int64(n)
	}
	return 0
}

// docObject extracts an object field, empty object if absent.
func docObject(doc canon.Object, key string) (canon.Object, error) {
	v, present := doc[key]
	if !present || canon.IsNull(v) {
		return canon.Object{}, nil
	}
	obj, ok := v.(canon.Object)
	if !ok {
		return nil, fmt.Errorf("document field %q is not an object", key)
	}
	return obj, nil
}

// docTags extracts a string array field, empty if absent.
func docTags(doc canon.Object, key string) ([]string, error) {
	v, present := doc[key]
	if !present || canon.IsNull(v) {
		return []string{}, nil
	}
	arr, ok := v.(canon.Array)
	if !ok {
		return nil, fmt.Errorf("document field %q is not an array", key)
	}
	return tagsFromArray(arr)
}

// tagsFromArray converts a canon.Array of strings to a []string.
func tagsFromArray(arr canon.Array) ([]string, error) {
	tags := make([]string, 0, len(arr))
	for i, elem := range arr {
		s, ok := elem.(canon.String)
		if !ok {
			return nil, fmt.Errorf("tag array element %d is not a string", i)
		}
		tags = append(tags, string(s))
	}
	return tags, nil
}
