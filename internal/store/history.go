package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loomworld/canonry/internal/canon"
)

const recordColumns = `
	id, subject_type, subject_id, change_type, field_path,
	old_value, new_value, author, authority, evidence,
	transaction_id, ts, seq`

// SubjectHistory returns every ledger record for one subject in a time
// range, oldest first. from and to are inclusive unix millis; to == 0 means
// unbounded.
func (s *Store) SubjectHistory(ctx context.Context, ref canon.SubjectRef, from, to int64) ([]canon.ChangeRecord, error) {
	if to == 0 {
		to = int64(1)<<62 - 1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM change_records
		WHERE subject_type = ? AND subject_id = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC, seq ASC
	`, ref.Type, ref.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query subject history: %w", err)
	}
	return collectRecords(rows)
}

// RecordsAfter returns every record for one subject strictly after t,
// newest first. This is the reverse-application order for state
// reconstruction.
func (s *Store) RecordsAfter(ctx context.Context, ref canon.SubjectRef, t int64) ([]canon.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM change_records
		WHERE subject_type = ? AND subject_id = ? AND ts > ?
		ORDER BY ts DESC, seq DESC
	`, ref.Type, ref.ID, t)
	if err != nil {
		return nil, fmt.Errorf("query records after %d: %w", t, err)
	}
	return collectRecords(rows)
}

// RecordsBetween returns every record in the ledger with from < ts <= to,
// oldest first. Used to replay forward from a snapshot.
func (s *Store) RecordsBetween(ctx context.Context, from, to int64) ([]canon.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM change_records
		WHERE ts > ? AND ts <= ?
		ORDER BY ts ASC, seq ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query records between %d and %d: %w", from, to, err)
	}
	return collectRecords(rows)
}

// TransactionRecords returns every record of one canonization decision in
// seq order.
func (s *Store) TransactionRecords(ctx context.Context, txnID string) ([]canon.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM change_records
		WHERE transaction_id = ?
		ORDER BY seq ASC
	`, txnID)
	if err != nil {
		return nil, fmt.Errorf("query transaction %s: %w", txnID, err)
	}
	return collectRecords(rows)
}

// GetRecord returns one ledger record by content-addressed id.
func (s *Store) GetRecord(ctx context.Context, id string) (*canon.ChangeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM change_records
		WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	return &rec, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanRecord.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one change_records row into a ChangeRecord.
func scanRecord(row rowScanner) (canon.ChangeRecord, error) {
	var rec canon.ChangeRecord
	var changeType, authority, oldVal, newVal, evidence string

	err := row.Scan(&rec.ID, &rec.SubjectType, &rec.SubjectID, &changeType,
		&rec.FieldPath, &oldVal, &newVal, &rec.Author, &authority, &evidence,
		&rec.TransactionID, &rec.Timestamp, &rec.Seq)
	if err != nil {
		return canon.ChangeRecord{}, err
	}

	rec.ChangeType = canon.ChangeType(changeType)
	rec.Authority = canon.Authority(authority)

	if rec.OldValue, err = unmarshalValue(oldVal); err != nil {
		return canon.ChangeRecord{}, fmt.Errorf("record %s old value: %w", rec.ID, err)
	}
	if rec.NewValue, err = unmarshalValue(newVal); err != nil {
		return canon.ChangeRecord{}, fmt.Errorf("record %s new value: %w", rec.ID, err)
	}
	if rec.Evidence, err = unmarshalEvidenceRef(evidence); err != nil {
		return canon.ChangeRecord{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	return rec, nil
}

// collectRecords drains a rows cursor into a slice.
func collectRecords(rows *sql.Rows) ([]canon.ChangeRecord, error) {
	defer rows.Close()

	var recs []canon.ChangeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}
