package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/gate"
	"github.com/loomworld/canonry/internal/metrics"
	"github.com/loomworld/canonry/internal/store"
)

// revertRetries bounds optimistic-append retries before a revert surfaces
// a concurrency conflict.
const revertRetries = 3

// SnapshotSource resolves a subject's projection from the nearest snapshot
// captured at or before an instant. A nil projection with nil error means
// no usable snapshot exists and the caller reverses the ledger instead.
type SnapshotSource interface {
	ProjectionBefore(ctx context.Context, subjectID string, t int64) (*Projection, int64, error)
}

// Reconstructor answers historical state queries and performs reverts.
// It takes no write locks while replaying; reads see the store at the last
// fully applied transaction.
type Reconstructor struct {
	store  *store.Store
	clock  *gate.Clock
	tokens gate.TokenGenerator
	rec    metrics.Recorder
	snaps  SnapshotSource
	now    func() int64
}

// Option configures a Reconstructor.
type Option func(*Reconstructor)

// WithClock sets the logical clock used to stamp revert records. Share the
// gate's clock so revert seq values interleave correctly.
func WithClock(c *gate.Clock) Option {
	return func(r *Reconstructor) { r.clock = c }
}

// WithTokens sets the transaction ID generator.
func WithTokens(t gate.TokenGenerator) Option {
	return func(r *Reconstructor) { r.tokens = t }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Reconstructor) { r.rec = rec }
}

// WithSnapshots sets the snapshot source StateAt consults before falling
// back to full ledger reversal.
func WithSnapshots(src SnapshotSource) Option {
	return func(r *Reconstructor) { r.snaps = src }
}

// WithNow sets the wall-clock source, in unix millis.
func WithNow(now func() int64) Option {
	return func(r *Reconstructor) { r.now = now }
}

// New creates a Reconstructor over a store.
func New(s *store.Store, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		store:  s,
		clock:  gate.NewClock(),
		tokens: gate.UUIDv7Generator{},
		rec:    metrics.Noop{},
		now:    func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StateAt reconstructs a subject's projection as it stood at t (unix
// millis, inclusive). When a snapshot source is configured and holds a
// capture at or before t, the projection is replayed forward from it;
// otherwise it starts from the live projection and reverse-applies every
// record newer than t. An unregistered change type fails closed.
func (r *Reconstructor) StateAt(ctx context.Context, subjectID string, t int64) (*Projection, error) {
	if r.snaps != nil {
		base, baseT, err := r.snaps.ProjectionBefore(ctx, subjectID, t)
		if err != nil {
			return nil, err
		}
		if base != nil {
			return r.ReplayForward(ctx, base, baseT, t)
		}
	}

	started := time.Now()

	p, err := liveProjection(ctx, r.store, subjectID)
	if err != nil {
		return nil, err
	}

	ref := canon.SubjectRef{Type: canon.SubjectNode, ID: subjectID}
	recs, err := r.store.RecordsAfter(ctx, ref, t)
	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fns, ok := lookup(rec.ChangeType)
		if !ok {
			return nil, gate.NewReconstructionAmbiguity(string(rec.ChangeType))
		}
		if err := fns.reverse(p, rec); err != nil {
			return nil, fmt.Errorf("reverse %s (record %s): %w", rec.ChangeType, rec.ID, err)
		}
	}

	r.rec.ReplayDuration(time.Since(started).Milliseconds())
	return p, nil
}

// ReplayForward rebuilds a subject's projection at t by starting from a
// base projection (typically decoded from a snapshot captured at baseT) and
// applying records forward through t. Used when a prior snapshot is nearer
// than the present.
func (r *Reconstructor) ReplayForward(ctx context.Context, base *Projection, baseT, t int64) (*Projection, error) {
	started := time.Now()
	p := base.Clone()

	recs, err := r.store.RecordsBetween(ctx, baseT, t)
	if err != nil {
		return nil, err
	}

	for _, rec := range recs {
		if rec.SubjectID != p.SubjectID || rec.SubjectType != canon.SubjectNode {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fns, ok := lookup(rec.ChangeType)
		if !ok {
			return nil, gate.NewReconstructionAmbiguity(string(rec.ChangeType))
		}
		if err := fns.apply(p, rec); err != nil {
			return nil, fmt.Errorf("apply %s (record %s): %w", rec.ChangeType, rec.ID, err)
		}
	}

	r.rec.ReplayDuration(time.Since(started).Milliseconds())
	return p, nil
}

// CompareAt reconstructs a subject at two instants and returns the diff
// from a to b. b == 0 means the live present.
func (r *Reconstructor) CompareAt(ctx context.Context, subjectID string, a, b int64) (*Diff, error) {
	pa, err := r.StateAt(ctx, subjectID, a)
	if err != nil {
		return nil, err
	}

	var pb *Projection
	if b == 0 {
		pb, err = liveProjection(ctx, r.store, subjectID)
	} else {
		pb, err = r.StateAt(ctx, subjectID, b)
	}
	if err != nil {
		return nil, err
	}

	return Compare(pa, pb), nil
}

// Revert restores a subject to its state at t by appending forward records
// that express the differences. History only grows; nothing is rewritten.
// Returns the transaction id, or "" when the subject is already in its
// target state.
func (r *Reconstructor) Revert(ctx context.Context, subjectID string, t int64, reason string) (string, error) {
	txnID := r.tokens.Generate()
	now := r.now()
	ref := canon.SubjectRef{Type: canon.SubjectNode, ID: subjectID}

	// A concurrent canonization can move the subject between the read and
	// the append; recompute and retry bounded times, like the gate's commit.
	var lastErr error
	for attempt := 0; attempt < revertRetries; attempt++ {
		target, err := r.StateAt(ctx, subjectID, t)
		if err != nil {
			return "", err
		}
		current, err := liveProjection(ctx, r.store, subjectID)
		if err != nil {
			return "", err
		}

		diff := Compare(current, target)
		if diff.Empty() {
			return "", nil
		}

		recs, err := r.buildRevertRecords(diff, current, target, txnID, reason, now)
		if err != nil {
			return "", err
		}
		if len(recs) == 0 {
			return "", nil
		}

		version, err := r.store.SubjectVersion(ctx, ref)
		if err != nil {
			return "", err
		}

		err = r.store.AppendTransaction(ctx, recs, map[canon.SubjectRef]int64{ref: version})
		if errors.Is(err, store.ErrVersionMismatch) {
			lastErr = err
			continue
		}
		if err != nil {
			return "", fmt.Errorf("append revert transaction: %w", err)
		}

		r.rec.LedgerAppend(len(recs))
		slog.Info("subject reverted",
			"subject", subjectID,
			"target_ts", t,
			"txn", txnID,
			"records", len(recs),
			"reason", reason,
		)
		return txnID, nil
	}

	return "", gate.NewConcurrencyConflict("", revertRetries, lastErr)
}

// buildRevertRecords converts a current→target diff into forward records
// with change type reverted. Old values carry the displaced current state
// so revert records are themselves reversible.
func (r *Reconstructor) buildRevertRecords(diff *Diff, current, target *Projection, txnID, reason string, now int64) ([]canon.ChangeRecord, error) {
	var recs []canon.ChangeRecord

	add := func(fieldPath string, oldVal, newVal canon.Value) error {
		rec := canon.ChangeRecord{
			SubjectType:   canon.SubjectNode,
			SubjectID:     current.SubjectID,
			ChangeType:    canon.ChangeReverted,
			FieldPath:     fieldPath,
			OldValue:      oldVal,
			NewValue:      newVal,
			Author:        "system",
			Authority:     canon.AuthorityGM,
			Evidence:      canon.EvidenceRef{Source: "revert", Ref: reason, Timestamp: now},
			TransactionID: txnID,
			Timestamp:     now,
			Seq:           r.clock.Next(),
		}
		id, err := canon.ChangeRecordID(rec)
		if err != nil {
			return err
		}
		rec.ID = id
		recs = append(recs, rec)
		return nil
	}

	// A subject that did not exist at the target instant is retconned,
	// not deleted: the ledger must keep explaining where it came from.
	if diff.ExistsChanged && !target.Exists {
		err := add(store.PathCanonStatus,
			canon.String(string(current.Status)),
			canon.String(string(canon.StatusRetconned)))
		if err != nil {
			return nil, err
		}
		return recs, nil
	}

	if diff.StatusFrom != diff.StatusTo && target.Status != "" {
		err := add(store.PathCanonStatus,
			canon.String(string(current.Status)),
			canon.String(string(target.Status)))
		if err != nil {
			return nil, err
		}
	}

	for _, ac := range diff.Attrs {
		if err := add(store.PathAttrsPrefix+ac.Path, ac.From, ac.To); err != nil {
			return nil, err
		}
	}

	if len(diff.TagsAdded) > 0 || len(diff.TagsRemoved) > 0 {
		err := add(store.PathTags, tagsArray(current.SortedTags()), tagsArray(target.SortedTags()))
		if err != nil {
			return nil, err
		}
	}

	for _, rc := range diff.Relations {
		oldVal := relationDoc(rc.From)
		var newVal canon.Value
		switch {
		case rc.To != nil:
			newVal = relationDoc(rc.To)
		case rc.From != nil:
			// Open now, absent at target: close it as of the revert.
			closed := *rc.From
			closed.ValidTo = now
			newVal = relationDoc(&closed)
		default:
			continue
		}
		if err := add(rc.FieldPath, oldVal, newVal); err != nil {
			return nil, err
		}
	}

	return recs, nil
}

// tagsArray converts a sorted tag slice to a canon.Array value.
func tagsArray(tags []string) canon.Array {
	sort.Strings(tags)
	arr := make(canon.Array, len(tags))
	for i, t := range tags {
		arr[i] = canon.String(t)
	}
	return arr
}

// relationDoc converts a RelationState to an edge document value; nil
// becomes Null.
func relationDoc(rel *RelationState) canon.Value {
	if rel == nil {
		return canon.Null{}
	}
	return canon.Object{
		"relation_id":   canon.String(rel.ID),
		"relation_type": canon.String(rel.Type),
		"object_id":     canon.String(rel.ObjectID),
		"valid_from":    canon.Int(rel.ValidFrom),
		"valid_to":      canon.Int(rel.ValidTo),
	}
}
