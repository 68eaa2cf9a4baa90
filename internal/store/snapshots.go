package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loomworld/canonry/internal/canon"
)

const snapshotColumns = `
	id, scope, scope_id, captured_at, payload, parent_snapshot_id`

// PutSnapshot stores an immutable snapshot. The id is content-addressed, so
// re-capturing identical state at the same instant is a no-op.
func (s *Store) PutSnapshot(ctx context.Context, snap canon.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots
			(id, scope, scope_id, captured_at, payload, parent_snapshot_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, snap.ID, snap.Scope, snap.ScopeID, snap.CapturedAt, string(snap.Payload), snap.ParentID)
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// GetSnapshot returns one snapshot by id, nil when absent.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*canon.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM snapshots
		WHERE id = ?
	`, id)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// LatestSnapshot returns the most recent snapshot for a scope, nil when the
// scope has never been captured.
func (s *Store) LatestSnapshot(ctx context.Context, scope, scopeID string) (*canon.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM snapshots
		WHERE scope = ? AND scope_id = ?
		ORDER BY captured_at DESC
		LIMIT 1
	`, scope, scopeID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot for %s/%s: %w", scope, scopeID, err)
	}
	return &snap, nil
}

// SnapshotBefore returns the most recent snapshot captured at or before t,
// nil when none exists. Reconstruction replays forward from it instead of
// reversing the whole ledger.
func (s *Store) SnapshotBefore(ctx context.Context, scope, scopeID string, t int64) (*canon.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM snapshots
		WHERE scope = ? AND scope_id = ? AND captured_at <= ?
		ORDER BY captured_at DESC
		LIMIT 1
	`, scope, scopeID, t)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot before %d for %s/%s: %w", t, scope, scopeID, err)
	}
	return &snap, nil
}

// ScopeSnapshotBefore returns the most recent snapshot of a scope captured
// at or before t regardless of scope id, nil when none exists.
func (s *Store) ScopeSnapshotBefore(ctx context.Context, scope string, t int64) (*canon.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM snapshots
		WHERE scope = ? AND captured_at <= ?
		ORDER BY captured_at DESC
		LIMIT 1
	`, scope, t)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot before %d for scope %s: %w", t, scope, err)
	}
	return &snap, nil
}

// SnapshotLineage walks the parent chain from a snapshot back to its root,
// newest first.
func (s *Store) SnapshotLineage(ctx context.Context, id string) ([]canon.Snapshot, error) {
	var lineage []canon.Snapshot
	seen := make(map[string]bool)

	for id != "" {
		if seen[id] {
			return nil, fmt.Errorf("snapshot lineage cycle at %s", id)
		}
		seen[id] = true

		snap, err := s.GetSnapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, fmt.Errorf("snapshot %s not found in lineage", id)
		}
		lineage = append(lineage, *snap)
		id = snap.ParentID
	}
	return lineage, nil
}

// scanSnapshot reads one snapshots row.
func scanSnapshot(row rowScanner) (canon.Snapshot, error) {
	var snap canon.Snapshot
	var payload string

	err := row.Scan(&snap.ID, &snap.Scope, &snap.ScopeID, &snap.CapturedAt,
		&payload, &snap.ParentID)
	if err != nil {
		return canon.Snapshot{}, err
	}
	snap.Payload = []byte(payload)
	return snap, nil
}
