package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/metrics"
	"github.com/loomworld/canonry/internal/rules"
	"github.com/loomworld/canonry/internal/store"
)

// DefaultDeadline bounds one canonization run. Proposals not decided when
// it expires stay pending and are retried on the next run.
const DefaultDeadline = 5 * time.Second

// versionRetries bounds optimistic-append retries before the proposal is
// parked with a ConcurrencyConflict.
const versionRetries = 3

// Gate evaluates pending proposals and commits accepted ones to the
// ledger.
type Gate struct {
	store    *store.Store
	rules    *rules.Ruleset
	detector *Detector
	clock    *Clock
	tokens   TokenGenerator
	rec      metrics.Recorder
	locks    *scopeLocks
	deadline time.Duration
	now      func() int64 // unix millis
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock sets a pre-positioned logical clock, typically restored from
// store.MaxSeq on startup.
func WithClock(c *Clock) Option {
	return func(g *Gate) { g.clock = c }
}

// WithTokens sets the transaction/relation ID generator.
func WithTokens(t TokenGenerator) Option {
	return func(g *Gate) { g.tokens = t }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(g *Gate) { g.rec = r }
}

// WithDeadline bounds each canonization run.
func WithDeadline(d time.Duration) Option {
	return func(g *Gate) { g.deadline = d }
}

// WithNow sets the wall-clock source, in unix millis. Tests use a fixed
// source for deterministic timestamps.
func WithNow(now func() int64) Option {
	return func(g *Gate) { g.now = now }
}

// New creates a Gate over a store and compiled ruleset.
func New(s *store.Store, rs *rules.Ruleset, opts ...Option) *Gate {
	g := &Gate{
		store:    s,
		rules:    rs,
		detector: NewDetector(s, rs),
		clock:    NewClock(),
		tokens:   UUIDv7Generator{},
		rec:      metrics.Noop{},
		locks:    newScopeLocks(),
		deadline: DefaultDeadline,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Decision is the recorded outcome for one proposal.
type Decision struct {
	ProposalID string               `json:"proposal_id"`
	Status     canon.ProposalStatus `json:"status"`
	Rationale  string               `json:"rationale,omitempty"`
	TxnID      string               `json:"transaction_id,omitempty"`
}

// Result is the outcome of one canonization run.
type Result struct {
	Accepted []Decision `json:"accepted"`
	Rejected []Decision `json:"rejected"`
	// Pending lists proposals left undecided: deadline expiry, retryable
	// write failures, or exhausted version retries. They are retried on
	// the next run.
	Pending []Decision `json:"pending,omitempty"`
}

// Submit validates and persists one proposal as pending. Resubmitting an
// already stored proposal is a no-op.
func (g *Gate) Submit(ctx context.Context, p canon.Proposal) error {
	if p.ID == "" {
		return NewValidationError("", fmt.Errorf("proposal has no id"))
	}
	if err := g.validate(&p); err != nil {
		return err
	}

	p.Status = canon.ProposalPending
	if p.SubmittedAt == 0 {
		p.SubmittedAt = g.now()
	}
	if err := g.store.PutProposal(ctx, p); err != nil {
		return NewWriteFailure(p.ID, err)
	}

	g.rec.ProposalSubmitted(p.Scope)
	slog.Debug("proposal submitted",
		"id", p.ID,
		"kind", p.Payload.Kind,
		"scope", p.Scope,
		"authority", p.Authority,
	)
	return nil
}

// validate checks proposal shape independent of canon state.
func (g *Gate) validate(p *canon.Proposal) error {
	if !p.Authority.Valid() {
		return NewValidationError(p.ID, fmt.Errorf("unknown authority %q", p.Authority))
	}
	if p.ConfidencePPM < 0 || p.ConfidencePPM > 1_000_000 {
		return NewValidationError(p.ID, fmt.Errorf("confidence %d outside [0, 1000000]", p.ConfidencePPM))
	}
	if err := p.Payload.Validate(); err != nil {
		return NewValidationError(p.ID, err)
	}

	// Canon is only as trustworthy as its provenance: every proposal must
	// cite at least one evidence reference with a source.
	if len(p.Evidence) == 0 {
		return NewValidationError(p.ID, fmt.Errorf("no evidence references"))
	}
	for i, ev := range p.Evidence {
		if ev.Source == "" {
			return NewValidationError(p.ID, fmt.Errorf("evidence reference %d has no source", i))
		}
	}

	// A proposal contradicting itself never reaches the detector.
	if sc := p.Payload.StateChange; sc != nil {
		for i, a := range sc.AddTags {
			for _, b := range sc.AddTags[i+1:] {
				if g.rules.StatesExclusive(a, b) {
					return NewValidationError(p.ID,
						fmt.Errorf("adds mutually exclusive states %q and %q", a, b))
				}
			}
		}
	}
	if e := p.Payload.Entity; e != nil {
		for i, a := range e.Tags {
			for _, b := range e.Tags[i+1:] {
				if g.rules.StatesExclusive(a, b) {
					return NewValidationError(p.ID,
						fmt.Errorf("declares mutually exclusive states %q and %q", a, b))
				}
			}
		}
	}
	return nil
}

// RunCanonization evaluates the scope's pending batch and returns every
// decision made. Runs over the same scope are serialized; the run is
// bounded by the gate deadline, and undecided proposals stay pending.
//
// Decisions are idempotent: proposals already decided are not in the
// pending set and keep their stored outcome; use CachedDecision to read
// it back.
func (g *Gate) RunCanonization(ctx context.Context, scope string) (*Result, error) {
	lock := g.locks.acquire(scope)
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	pending, err := g.store.PendingProposals(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("load pending proposals: %w", err)
	}

	result := &Result{}
	if len(pending) == 0 {
		return result, nil
	}
	slog.Info("canonization run starting",
		"scope", scope,
		"pending", len(pending),
	)

	now := g.now()

	// Phase 1: validate and materialize post-states. Entity proposals seen
	// so far extend the subject universe for later batch members.
	var cands []*candidate
	created := make(map[string]*candidate)
	for i := range pending {
		p := &pending[i]
		c, err := g.admit(ctx, p, created)
		if err != nil {
			var ge *GateError
			if errors.As(err, &ge) {
				g.rejectProposal(ctx, result, p, ge, now)
				continue
			}
			return nil, err
		}
		cands = append(cands, c)
		if c.creates {
			created[c.subjectID] = c
		}
	}

	// Phase 2: contradiction detection over the surviving batch.
	survivors, rejections, err := g.detector.Detect(ctx, cands)
	if err != nil {
		return nil, fmt.Errorf("detect conflicts: %w", err)
	}
	for _, rej := range rejections {
		g.rec.ConflictDetected(rej.err.ConflictClass)
		g.rejectProposal(ctx, result, rej.candidate.proposal, rej.err, now)
	}

	// Phase 3: commit winners, each in its own ledger transaction.
	for i, c := range survivors {
		if ctx.Err() != nil {
			// Deadline hit: everything undecided stays pending.
			for _, rest := range survivors[i:] {
				result.Pending = append(result.Pending, Decision{
					ProposalID: rest.proposal.ID,
					Status:     canon.ProposalPending,
					Rationale:  "canonization deadline expired",
				})
			}
			slog.Warn("canonization deadline expired",
				"scope", scope,
				"undecided", len(survivors)-i,
			)
			break
		}
		g.commit(ctx, result, c, now)
	}

	slog.Info("canonization run complete",
		"scope", scope,
		"accepted", len(result.Accepted),
		"rejected", len(result.Rejected),
		"pending", len(result.Pending),
	)
	return result, nil
}

// admit re-validates a stored proposal and materializes its post-state.
func (g *Gate) admit(ctx context.Context, p *canon.Proposal, created map[string]*candidate) (*candidate, error) {
	if err := g.validate(p); err != nil {
		return nil, err
	}

	c, err := g.detector.materialize(ctx, p, created)
	if err != nil {
		return nil, err
	}

	if !g.rules.MeetsThreshold(c.weight) {
		return nil, &GateError{
			Code:       ErrCodeBelowThreshold,
			Message:    fmt.Sprintf("effective weight %d below minimum %d", c.weight, g.rules.MinEffectiveWeight),
			ProposalID: p.ID,
		}
	}
	return c, nil
}

// commit writes one accepted proposal's records to the ledger, retrying
// bounded times on version mismatch. Store failures leave the proposal
// pending for the next run.
func (g *Gate) commit(ctx context.Context, result *Result, c *candidate, now int64) {
	p := c.proposal
	txnID := g.tokens.Generate()

	var lastErr error
	for attempt := 0; attempt < versionRetries; attempt++ {
		// Materialize against the store as it stands now, so old values
		// reflect earlier batch commits and any concurrent movement.
		fresh, err := g.detector.materialize(ctx, p, map[string]*candidate{})
		if err != nil {
			lastErr = err
			break
		}
		fresh.displacedTags = c.displacedTags
		fresh.displacedRelations = c.displacedRelations
		c = fresh

		rb := &recordBuilder{
			txnID:     txnID,
			timestamp: now,
			clock:     g.clock,
			tokens:    g.tokens,
		}
		if err := rb.buildRecords(c); err != nil {
			lastErr = err
			break
		}

		expected, err := g.expectedVersions(ctx, rb.records)
		if err != nil {
			lastErr = err
			break
		}

		// Records and the accept decision land in one store transaction, so
		// a crash mid-commit never strands applied records beside a pending
		// proposal.
		rationale := "no conflicts; effective weight above threshold"
		err = g.store.AppendDecision(ctx, rb.records, expected, store.ProposalDecision{
			ProposalID: p.ID,
			Status:     canon.ProposalAccepted,
			Rationale:  rationale,
			DecidedAt:  now,
		})
		if errors.Is(err, store.ErrVersionMismatch) {
			lastErr = err
			continue
		}
		if err != nil {
			lastErr = err
			break
		}

		g.rec.LedgerAppend(len(rb.records))
		g.rec.ProposalDecided(p.Scope, string(canon.ProposalAccepted))
		result.Accepted = append(result.Accepted, Decision{
			ProposalID: p.ID,
			Status:     canon.ProposalAccepted,
			Rationale:  rationale,
			TxnID:      txnID,
		})
		return
	}

	// Not committed: park as pending and report why.
	var ge *GateError
	switch {
	case errors.Is(lastErr, store.ErrVersionMismatch):
		ge = NewConcurrencyConflict(p.ID, versionRetries, lastErr)
	default:
		ge = NewWriteFailure(p.ID, lastErr)
	}
	slog.Error("proposal commit failed, staying pending",
		"proposal", p.ID,
		"code", ge.Code,
		"error", lastErr,
	)
	result.Pending = append(result.Pending, Decision{
		ProposalID: p.ID,
		Status:     canon.ProposalPending,
		Rationale:  ge.Error(),
	})
}

// expectedVersions reads the current version of every subject a record set
// touches, for the optimistic append check.
func (g *Gate) expectedVersions(ctx context.Context, recs []canon.ChangeRecord) (map[canon.SubjectRef]int64, error) {
	expected := make(map[canon.SubjectRef]int64)
	for _, rec := range recs {
		ref := canon.SubjectRef{Type: rec.SubjectType, ID: rec.SubjectID}
		if _, ok := expected[ref]; ok {
			continue
		}
		v, err := g.store.SubjectVersion(ctx, ref)
		if err != nil {
			return nil, err
		}
		expected[ref] = v
	}
	return expected, nil
}

// rejectProposal persists and reports one rejection.
func (g *Gate) rejectProposal(ctx context.Context, result *Result, p *canon.Proposal, ge *GateError, now int64) {
	rationale := ge.Message
	if ge.Err != nil {
		rationale = fmt.Sprintf("%s: %v", ge.Message, ge.Err)
	}
	if ge.WinnerID != "" {
		rationale = fmt.Sprintf("%s; superseded by %s", ge.Message, ge.WinnerID)
	}
	if err := g.store.DecideProposal(ctx, p.ID, canon.ProposalRejected, rationale, "", now); err != nil {
		slog.Error("rejection persist failed",
			"proposal", p.ID,
			"error", err,
		)
	}
	g.rec.ProposalDecided(p.Scope, string(canon.ProposalRejected))
	slog.Info("proposal rejected",
		"proposal", p.ID,
		"code", ge.Code,
		"rationale", rationale,
	)
	result.Rejected = append(result.Rejected, Decision{
		ProposalID: p.ID,
		Status:     canon.ProposalRejected,
		Rationale:  rationale,
	})
}

// CachedDecision returns the stored outcome of an already decided
// proposal, or nil when it is unknown or still pending.
func (g *Gate) CachedDecision(ctx context.Context, proposalID string) (*Decision, error) {
	p, err := g.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status == canon.ProposalPending {
		return nil, nil
	}
	return &Decision{
		ProposalID: p.ID,
		Status:     p.Status,
		Rationale:  p.Rationale,
		TxnID:      p.DecisionTxn,
	}, nil
}
