package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/loomworld/canonry/internal/canon"
)

// ErrVersionMismatch is returned by AppendTransaction when a subject's
// stored version differs from the expected version the caller observed.
// Callers re-read, re-validate, and retry a bounded number of times.
var ErrVersionMismatch = errors.New("subject version mismatch")

// ProposalDecision is the outcome row persisted alongside a decision's
// records by AppendDecision.
type ProposalDecision struct {
	ProposalID string
	Status     canon.ProposalStatus
	Rationale  string
	DecidedAt  int64
}

// AppendTransaction durably appends one canonization decision: every record
// in recs is inserted into the ledger, applied to the canonical tables, and
// covered by one applied_txns row, all inside a single SQLite transaction.
// Readers observe the decision entirely or not at all.
//
// expected maps each subject touched by recs to the version the caller
// observed when it validated the decision. A stale version aborts the whole
// transaction with ErrVersionMismatch and writes nothing.
//
// Re-appending an already applied transaction is a no-op: the applied_txns
// insert conflicts, and the function returns success without touching the
// canonical tables again.
func (s *Store) AppendTransaction(ctx context.Context, recs []canon.ChangeRecord, expected map[canon.SubjectRef]int64) error {
	return s.appendTxn(ctx, recs, expected, nil)
}

// AppendDecision appends a decision's records and marks its proposal
// decided in the same SQLite transaction, so a crash can never leave
// applied records beside a still-pending proposal. Re-appending an already
// applied transaction skips the records but still lands the decision row,
// which recovers proposals interrupted before their outcome was stored.
func (s *Store) AppendDecision(ctx context.Context, recs []canon.ChangeRecord, expected map[canon.SubjectRef]int64, d ProposalDecision) error {
	if d.ProposalID == "" {
		return fmt.Errorf("append decision: no proposal id")
	}
	if d.Status != canon.ProposalAccepted && d.Status != canon.ProposalRejected {
		return fmt.Errorf("append decision: invalid status %q", d.Status)
	}
	return s.appendTxn(ctx, recs, expected, &d)
}

func (s *Store) appendTxn(ctx context.Context, recs []canon.ChangeRecord, expected map[canon.SubjectRef]int64, d *ProposalDecision) error {
	if len(recs) == 0 {
		return fmt.Errorf("append transaction: no records")
	}
	txnID := recs[0].TransactionID
	if txnID == "" {
		return fmt.Errorf("append transaction: missing transaction id")
	}
	for i, rec := range recs {
		if rec.TransactionID != txnID {
			return fmt.Errorf("append transaction: record %d belongs to txn %q, want %q", i, rec.TransactionID, txnID)
		}
		if rec.ID == "" {
			return fmt.Errorf("append transaction: record %d has no id", i)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency gate: a transaction already marked applied skips straight
	// to the decision row.
	applied, err := txnApplied(ctx, tx, txnID)
	if err != nil {
		return err
	}

	if !applied {
		if err := checkVersions(ctx, tx, expected); err != nil {
			return err
		}

		for _, rec := range recs {
			if err := insertRecord(ctx, tx, rec); err != nil {
				return err
			}
			if err := applyChange(ctx, tx, rec); err != nil {
				return fmt.Errorf("apply %s to %s/%s: %w", rec.ChangeType, rec.SubjectType, rec.SubjectID, err)
			}
		}

		if err := bumpVersions(ctx, tx, recs); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO applied_txns (transaction_id, applied_at, seq)
			VALUES (?, ?, ?)
		`, txnID, recs[0].Timestamp, recs[0].Seq)
		if err != nil {
			return fmt.Errorf("mark transaction applied: %w", err)
		}
	}

	if d != nil {
		// Only a still-pending proposal takes the decision, so a replayed
		// decision never flips a stored outcome.
		_, err = tx.ExecContext(ctx, `
			UPDATE proposals
			SET status = ?, rationale = ?, decision_txn = ?, decided_at = ?
			WHERE id = ? AND status = ?
		`, string(d.Status), d.Rationale, txnID, d.DecidedAt,
			d.ProposalID, string(canon.ProposalPending))
		if err != nil {
			return fmt.Errorf("decide proposal %s: %w", d.ProposalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txnApplied reports whether a transaction id already has an applied_txns
// row.
func txnApplied(ctx context.Context, tx *sql.Tx, txnID string) (bool, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM applied_txns WHERE transaction_id = ?
	`, txnID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check applied transaction: %w", err)
	}
	return count > 0, nil
}

// checkVersions compares each expected subject version against the stored
// counter. A subject with no row has version 0.
func checkVersions(ctx context.Context, tx *sql.Tx, expected map[canon.SubjectRef]int64) error {
	for ref, want := range expected {
		var got int64
		err := tx.QueryRowContext(ctx, `
			SELECT version FROM subject_versions
			WHERE subject_type = ? AND subject_id = ?
		`, ref.Type, ref.ID).Scan(&got)
		if errors.Is(err, sql.ErrNoRows) {
			got = 0
		} else if err != nil {
			return fmt.Errorf("read version for %s/%s: %w", ref.Type, ref.ID, err)
		}
		if got != want {
			return fmt.Errorf("%s/%s: have %d, expected %d: %w", ref.Type, ref.ID, got, want, ErrVersionMismatch)
		}
	}
	return nil
}

// bumpVersions increments the version counter once per distinct subject in
// the transaction.
func bumpVersions(ctx context.Context, tx *sql.Tx, recs []canon.ChangeRecord) error {
	seen := make(map[canon.SubjectRef]bool)
	for _, rec := range recs {
		ref := canon.SubjectRef{Type: rec.SubjectType, ID: rec.SubjectID}
		if seen[ref] {
			continue
		}
		seen[ref] = true

		_, err := tx.ExecContext(ctx, `
			INSERT INTO subject_versions (subject_type, subject_id, version)
			VALUES (?, ?, 1)
			ON CONFLICT(subject_type, subject_id)
			DO UPDATE SET version = version + 1
		`, ref.Type, ref.ID)
		if err != nil {
			return fmt.Errorf("bump version for %s/%s: %w", ref.Type, ref.ID, err)
		}
	}
	return nil
}

// insertRecord writes one ledger row. The id is content-addressed, so a
// conflicting insert means the identical record is already present and the
// insert is skipped.
func insertRecord(ctx context.Context, tx *sql.Tx, rec canon.ChangeRecord) error {
	oldVal, err := marshalValue(rec.OldValue)
	if err != nil {
		return fmt.Errorf("record %s: %w", rec.ID, err)
	}
	newVal, err := marshalValue(rec.NewValue)
	if err != nil {
		return fmt.Errorf("record %s: %w", rec.ID, err)
	}
	evidence, err := marshalEvidenceRef(rec.Evidence)
	if err != nil {
		return fmt.Errorf("record %s: %w", rec.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO change_records
			(id, subject_type, subject_id, change_type, field_path,
			 old_value, new_value, author, authority, evidence,
			 transaction_id, ts, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, rec.SubjectType, rec.SubjectID, string(rec.ChangeType), rec.FieldPath,
		oldVal, newVal, rec.Author, string(rec.Authority), evidence,
		rec.TransactionID, rec.Timestamp, rec.Seq)
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	return nil
}

// SubjectVersion returns the current version counter for a subject, 0 when
// the subject has never been written.
func (s *Store) SubjectVersion(ctx context.Context, ref canon.SubjectRef) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT version FROM subject_versions
		WHERE subject_type = ? AND subject_id = ?
	`, ref.Type, ref.ID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version for %s/%s: %w", ref.Type, ref.ID, err)
	}
	return version, nil
}

// TransactionApplied reports whether a canonization decision has been fully
// applied.
func (s *Store) TransactionApplied(ctx context.Context, txnID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM applied_txns WHERE transaction_id = ?
	`, txnID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check applied transaction: %w", err)
	}
	return count > 0, nil
}

// MaxSeq returns the highest logical clock value present in the ledger, 0
// for an empty ledger. Used to restore the clock after restart.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM change_records`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	return seq.Int64, nil
}
