package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/gate"
	"github.com/loomworld/canonry/internal/reconstruct"
	"github.com/loomworld/canonry/internal/store"
)

// Manager captures and restores scope snapshots.
type Manager struct {
	store  *store.Store
	gate   *gate.Gate
	tokens gate.TokenGenerator
	now    func() int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokens sets the proposal ID generator used by Restore.
func WithTokens(t gate.TokenGenerator) Option {
	return func(m *Manager) { m.tokens = t }
}

// WithNow sets the wall-clock source, in unix millis.
func WithNow(now func() int64) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager. The gate may be nil when only Capture and Diff
// are needed; Restore requires it.
func New(s *store.Store, g *gate.Gate, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		gate:   g,
		tokens: gate.UUIDv7Generator{},
		now:    func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Capture reads the scope's current state and stores it as an immutable
// snapshot chained to the scope's previous one. Returns the snapshot id.
// Capturing an unchanged scope at the same instant yields the same id and
// is a no-op.
func (m *Manager) Capture(ctx context.Context, scope, scopeID string) (string, error) {
	capturedAt := m.now()

	state, err := readScopeState(ctx, m.store, scope)
	if err != nil {
		return "", fmt.Errorf("read scope %q: %w", scope, err)
	}
	payload, err := encodeState(state)
	if err != nil {
		return "", fmt.Errorf("encode scope %q: %w", scope, err)
	}

	id := canon.SnapshotID(scope, scopeID, capturedAt, payload)

	parentID := ""
	if parent, err := m.store.LatestSnapshot(ctx, scope, scopeID); err != nil {
		return "", err
	} else if parent != nil {
		parentID = parent.ID
	}

	snap := canon.Snapshot{
		ID:         id,
		Scope:      scope,
		ScopeID:    scopeID,
		CapturedAt: capturedAt,
		Payload:    payload,
		ParentID:   parentID,
	}
	if err := m.store.PutSnapshot(ctx, snap); err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}

	slog.Info("snapshot captured",
		"id", id,
		"scope", scope,
		"scope_id", scopeID,
		"nodes", len(state),
		"parent", parentID,
	)
	return id, nil
}

// NodeDiff is the per-subject portion of a snapshot diff.
type NodeDiff struct {
	SubjectID string            `json:"subject_id"`
	Change    *reconstruct.Diff `json:"change"`
}

// Diff lists the differences between two snapshots, oriented from a to b.
type Diff struct {
	Added    []string   `json:"added,omitempty"`    // node ids in b only
	Removed  []string   `json:"removed,omitempty"`  // node ids in a only
	Modified []NodeDiff `json:"modified,omitempty"` // in both, changed
}

// Empty reports whether the two snapshots describe identical state.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Diff compares snapshot a against snapshot b. An empty bID compares a
// against the scope's current live state.
func (m *Manager) Diff(ctx context.Context, aID, bID string) (*Diff, error) {
	a, err := m.loadState(ctx, aID)
	if err != nil {
		return nil, err
	}

	var b scopeState
	if bID == "" {
		snapA, err := m.store.GetSnapshot(ctx, aID)
		if err != nil {
			return nil, err
		}
		b, err = readScopeState(ctx, m.store, snapA.Scope)
		if err != nil {
			return nil, err
		}
	} else {
		b, err = m.loadState(ctx, bID)
		if err != nil {
			return nil, err
		}
	}

	return diffStates(a, b), nil
}

// Restore brings the scope back toward the snapshot's state by submitting
// each difference as a GM-authority proposal and running canonization over
// the scope. Restored changes pass through contradiction checks and land
// in the ledger like any other decision.
//
// Node removals and relation closures have no proposal form; they are
// reported by Diff but not undone here. Use the reconstructor's Revert for
// full point-in-time rollback.
func (m *Manager) Restore(ctx context.Context, id string) (*gate.Result, error) {
	if m.gate == nil {
		return nil, fmt.Errorf("restore requires a canonization gate")
	}

	snap, err := m.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot %s not found", id)
	}

	target, err := DecodeState(snap.Payload)
	if err != nil {
		return nil, err
	}
	current, err := readScopeState(ctx, m.store, snap.Scope)
	if err != nil {
		return nil, err
	}

	proposals := m.restoreProposals(target, current, snap, m.now())
	for _, p := range proposals {
		if err := m.gate.Submit(ctx, p); err != nil {
			return nil, fmt.Errorf("submit restore proposal %s: %w", p.ID, err)
		}
	}
	if len(proposals) == 0 {
		return &gate.Result{}, nil
	}

	slog.Info("snapshot restore submitted",
		"snapshot", id,
		"scope", snap.Scope,
		"proposals", len(proposals),
	)
	return m.gate.RunCanonization(ctx, snap.Scope)
}

// restoreProposals converts the target-vs-current difference into the
// proposals that move current toward target. Output order is
// deterministic: entities first so later facts find their subjects.
func (m *Manager) restoreProposals(target, current scopeState, snap *canon.Snapshot, now int64) []canon.Proposal {
	ids := make([]string, 0, len(target))
	for nodeID := range target {
		ids = append(ids, nodeID)
	}
	sort.Strings(ids)

	evidence := []canon.EvidenceRef{{
		Source:    "snapshot-restore",
		Ref:       snap.ID,
		Timestamp: snap.CapturedAt,
	}}
	propose := func(payload canon.Payload) canon.Proposal {
		return canon.Proposal{
			ID:            m.tokens.Generate(),
			Payload:       payload,
			Evidence:      evidence,
			ConfidencePPM: 1_000_000,
			Authority:     canon.AuthorityGM,
			Scope:         snap.Scope,
			SubmittedAt:   now,
		}
	}

	var proposals []canon.Proposal
	for _, nodeID := range ids {
		want := target[nodeID]
		have, exists := current[nodeID]

		if !exists {
			proposals = append(proposals, propose(canon.Payload{
				Kind: canon.KindEntity,
				Entity: &canon.EntityPayload{
					NodeID:   nodeID,
					NodeKind: want.Kind,
					Scope:    want.Scope,
					Attrs:    want.Attrs,
					Tags:     want.SortedTags(),
				},
			}))
			// Relations re-open as separate proposals below against the
			// freshly created node.
			have = &reconstruct.Projection{
				SubjectID: nodeID,
				Tags:      map[string]bool{},
				Relations: map[string]reconstruct.RelationState{},
			}
			for _, t := range want.SortedTags() {
				have.Tags[t] = true
			}
			have.Attrs = want.Attrs
		}

		diff := reconstruct.Compare(have, want)

		for _, ac := range diff.Attrs {
			proposals = append(proposals, propose(canon.Payload{
				Kind: canon.KindFact,
				Fact: &canon.FactPayload{
					SubjectID: nodeID,
					Path:      ac.Path,
					Value:     ac.To,
				},
			}))
		}

		if len(diff.TagsAdded) > 0 || len(diff.TagsRemoved) > 0 {
			proposals = append(proposals, propose(canon.Payload{
				Kind: canon.KindStateChange,
				StateChange: &canon.StateChangePayload{
					SubjectID:  nodeID,
					AddTags:    diff.TagsAdded,
					RemoveTags: diff.TagsRemoved,
				},
			}))
		}

		for _, rc := range diff.Relations {
			if rc.To == nil || rc.To.ValidTo != 0 {
				continue // closures have no proposal form
			}
			if rc.From != nil && rc.From.ValidTo == 0 {
				continue // already open
			}
			proposals = append(proposals, propose(canon.Payload{
				Kind: canon.KindRelationship,
				Relationship: &canon.RelationshipPayload{
					SubjectID: nodeID,
					Type:      rc.To.Type,
					ObjectID:  rc.To.ObjectID,
				},
			}))
		}
	}
	return proposals
}

// ProjectionBefore resolves a subject's projection from the newest snapshot
// of its scope captured at or before t, for forward replay. Subjects with
// no live node, or scopes never captured, return nil so the caller falls
// back to ledger reversal. A subject absent from the snapshot returns an
// empty projection: it did not exist yet at the capture instant.
func (m *Manager) ProjectionBefore(ctx context.Context, subjectID string, t int64) (*reconstruct.Projection, int64, error) {
	node, err := m.store.GetNode(ctx, subjectID)
	if err != nil {
		return nil, 0, err
	}
	if node == nil || node.Scope == "" {
		return nil, 0, nil
	}

	snap, err := m.store.ScopeSnapshotBefore(ctx, node.Scope, t)
	if err != nil {
		return nil, 0, err
	}
	if snap == nil {
		return nil, 0, nil
	}

	state, err := DecodeState(snap.Payload)
	if err != nil {
		return nil, 0, err
	}
	if p, ok := state[subjectID]; ok {
		return p, snap.CapturedAt, nil
	}
	return &reconstruct.Projection{
		SubjectID: subjectID,
		Attrs:     canon.Object{},
		Tags:      make(map[string]bool),
		Relations: make(map[string]reconstruct.RelationState),
	}, snap.CapturedAt, nil
}

// loadState fetches and decodes one stored snapshot.
func (m *Manager) loadState(ctx context.Context, id string) (scopeState, error) {
	snap, err := m.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot %s not found", id)
	}
	return DecodeState(snap.Payload)
}

// diffStates compares two scope states node by node.
func diffStates(a, b scopeState) *Diff {
	d := &Diff{}

	ids := make(map[string]bool, len(a)+len(b))
	for id := range a {
		ids[id] = true
	}
	for id := range b {
		ids[id] = true
	}
	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	for _, id := range sorted {
		pa, inA := a[id]
		pb, inB := b[id]
		switch {
		case !inA:
			d.Added = append(d.Added, id)
		case !inB:
			d.Removed = append(d.Removed, id)
		default:
			if change := reconstruct.Compare(pa, pb); !change.Empty() {
				d.Modified = append(d.Modified, NodeDiff{SubjectID: id, Change: change})
			}
		}
	}
	return d
}
