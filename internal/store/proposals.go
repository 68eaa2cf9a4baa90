package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loomworld/canonry/internal/canon"
)

const proposalColumns = `
	id, kind, payload, evidence, confidence_ppm, authority, scope,
	status, rationale, decision_txn, submitted_at, decided_at`

// PutProposal stores a submitted proposal. Resubmitting the same id is a
// no-op, so retried submissions stay idempotent.
func (s *Store) PutProposal(ctx context.Context, p canon.Proposal) error {
	payload, err := marshalPayload(p.Payload)
	if err != nil {
		return fmt.Errorf("proposal %s: %w", p.ID, err)
	}
	evidence, err := marshalEvidence(p.Evidence)
	if err != nil {
		return fmt.Errorf("proposal %s: %w", p.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO proposals
			(id, kind, payload, evidence, confidence_ppm, authority, scope,
			 status, rationale, decision_txn, submitted_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, p.ID, string(p.Payload.Kind), payload, evidence, p.ConfidencePPM,
		string(p.Authority), p.Scope, string(p.Status), p.Rationale,
		p.DecisionTxn, p.SubmittedAt, p.DecidedAt)
	if err != nil {
		return fmt.Errorf("insert proposal %s: %w", p.ID, err)
	}
	return nil
}

// GetProposal returns one proposal by id, nil when absent.
func (s *Store) GetProposal(ctx context.Context, id string) (*canon.Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+`
		FROM proposals
		WHERE id = ?
	`, id)
	p, err := scanProposal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return &p, nil
}

// PendingProposals returns pending proposals for a scope in submission
// order. An empty scope returns pending proposals across all scopes.
func (s *Store) PendingProposals(ctx context.Context, scope string) ([]canon.Proposal, error) {
	query := `
		SELECT ` + proposalColumns + `
		FROM proposals
		WHERE status = ?
		ORDER BY submitted_at ASC, id ASC`
	args := []any{string(canon.ProposalPending)}
	if scope != "" {
		query = `
			SELECT ` + proposalColumns + `
			FROM proposals
			WHERE status = ? AND scope = ?
			ORDER BY submitted_at ASC, id ASC`
		args = append(args, scope)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending proposals: %w", err)
	}
	return collectProposals(rows)
}

// DecideProposal records an accept or reject decision. The update only
// lands on a still-pending proposal, so a replayed decision is a no-op and
// the stored outcome never flips.
func (s *Store) DecideProposal(ctx context.Context, id string, status canon.ProposalStatus, rationale, decisionTxn string, decidedAt int64) error {
	if status != canon.ProposalAccepted && status != canon.ProposalRejected {
		return fmt.Errorf("invalid decision status %q", status)
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE proposals
		SET status = ?, rationale = ?, decision_txn = ?, decided_at = ?
		WHERE id = ? AND status = ?
	`, string(status), rationale, decisionTxn, decidedAt, id, string(canon.ProposalPending))
	if err != nil {
		return fmt.Errorf("decide proposal %s: %w", id, err)
	}
	return nil
}

// scanProposal reads one proposals row.
func scanProposal(row rowScanner) (canon.Proposal, error) {
	var p canon.Proposal
	var kind, payload, evidence, authority, status string

	err := row.Scan(&p.ID, &kind, &payload, &evidence, &p.ConfidencePPM,
		&authority, &p.Scope, &status, &p.Rationale, &p.DecisionTxn,
		&p.SubmittedAt, &p.DecidedAt)
	if err != nil {
		return canon.Proposal{}, err
	}

	p.Authority = canon.Authority(authority)
	p.Status = canon.ProposalStatus(status)

	if p.Payload, err = unmarshalPayload(payload); err != nil {
		return canon.Proposal{}, fmt.Errorf("proposal %s: %w", p.ID, err)
	}
	if p.Evidence, err = unmarshalEvidence(evidence); err != nil {
		return canon.Proposal{}, fmt.Errorf("proposal %s: %w", p.ID, err)
	}
	return p, nil
}

func collectProposals(rows *sql.Rows) ([]canon.Proposal, error) {
	defer rows.Close()

	var props []canon.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		props = append(props, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return props, nil
}
