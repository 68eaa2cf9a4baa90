package gate

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/rules"
	"github.com/loomworld/canonry/internal/store"
)

// newTestGate builds a gate over a fresh store with deterministic tokens
// and a fixed wall clock.
func newTestGate(t *testing.T, tokens ...string) (*Gate, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	if len(tokens) == 0 {
		for i := 0; i < 32; i++ {
			tokens = append(tokens, fmt.Sprintf("txn-%02d", i))
		}
	}
	g := New(s, rules.Default(),
		WithTokens(NewFixedGenerator(tokens...)),
		WithNow(func() int64 { return 10_000 }),
	)
	return g, s
}

func entityProposal(id, nodeID string, tags []string, auth canon.Authority, confPPM int64) canon.Proposal {
	return canon.Proposal{
		ID: id,
		Payload: canon.Payload{
			Kind: canon.KindEntity,
			Entity: &canon.EntityPayload{
				NodeID:   nodeID,
				NodeKind: "character",
				Scope:    "ravenholm",
				Tags:     tags,
			},
		},
		Evidence:      []canon.EvidenceRef{{Source: "session-1", Timestamp: 100}},
		ConfidencePPM: confPPM,
		Authority:     auth,
		Scope:         "ravenholm",
		SubmittedAt:   1000,
	}
}

func stateChangeProposal(id, subjectID string, add, remove []string, auth canon.Authority, confPPM int64) canon.Proposal {
	return canon.Proposal{
		ID: id,
		Payload: canon.Payload{
			Kind: canon.KindStateChange,
			StateChange: &canon.StateChangePayload{
				SubjectID:  subjectID,
				AddTags:    add,
				RemoveTags: remove,
			},
		},
		Evidence:      []canon.EvidenceRef{{Source: "session-2", Timestamp: 200}},
		ConfidencePPM: confPPM,
		Authority:     auth,
		Scope:         "ravenholm",
		SubmittedAt:   2000,
	}
}

func TestSubmit_RejectsInvalidProposal(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	// No payload variant set.
	err := g.Submit(ctx, canon.Proposal{
		ID:        "prop-bad",
		Payload:   canon.Payload{Kind: canon.KindFact},
		Authority: canon.AuthorityGM,
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestSubmit_RejectsUnknownAuthority(t *testing.T) {
	g, _ := newTestGate(t)

	p := entityProposal("prop-1", "n-aldric", nil, canon.Authority("bard"), 900_000)
	err := g.Submit(context.Background(), p)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestSubmit_RejectsSelfContradiction(t *testing.T) {
	g, _ := newTestGate(t)

	p := stateChangeProposal("prop-1", "n-aldric", []string{"alive", "dead"}, nil, canon.AuthorityGM, 1_000_000)
	err := g.Submit(context.Background(), p)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestRunCanonization_AcceptsEntity(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-1", "n-aldric", []string{"alive"}, canon.AuthorityGM, 1_000_000)))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	assert.Empty(t, result.Rejected)
	assert.Equal(t, "prop-1", result.Accepted[0].ProposalID)
	assert.NotEmpty(t, result.Accepted[0].TxnID)

	node, err := s.GetNode(ctx, "n-aldric")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, canon.StatusCanon, node.Status)
	assert.Equal(t, []string{"alive"}, node.Tags)
}

// Entity dies at full GM weight; a later low-confidence revival is
// rejected below threshold and the entity stays dead.
func TestRunCanonization_ScenarioA(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-entity", "n-elira", []string{"alive"}, canon.AuthorityGM, 1_000_000)))
	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)

	require.NoError(t, g.Submit(ctx, stateChangeProposal("prop-dies", "n-elira", []string{"dead"}, []string{"alive"}, canon.AuthorityGM, 1_000_000)))
	result, err = g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)

	node, err := s.GetNode(ctx, "n-elira")
	require.NoError(t, err)
	assert.Equal(t, []string{"dead"}, node.Tags)

	// Revival at 0.3 confidence: effective weight 0.3 < 0.5.
	revival := stateChangeProposal("prop-revival", "n-elira", []string{"alive"}, []string{"dead"}, canon.AuthorityGM, 300_000)
	require.NoError(t, g.Submit(ctx, revival))

	result, err = g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Rationale, "below minimum")

	node, err = s.GetNode(ctx, "n-elira")
	require.NoError(t, err)
	assert.Equal(t, []string{"dead"}, node.Tags, "entity must remain dead")
}

func TestRunCanonization_IdempotentDecisions(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-1", "n-aldric", nil, canon.AuthorityGM, 1_000_000)))

	first, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, first.Accepted, 1)

	// Second run has nothing pending; the decision is cached, not redone.
	second, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	assert.Empty(t, second.Accepted)
	assert.Empty(t, second.Rejected)

	cached, err := g.CachedDecision(ctx, "prop-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, canon.ProposalAccepted, cached.Status)
	assert.Equal(t, first.Accepted[0].TxnID, cached.TxnID)
}

func TestRunCanonization_BatchEntityThenFact(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-1", "n-aldric", nil, canon.AuthorityGM, 1_000_000)))
	require.NoError(t, g.Submit(ctx, canon.Proposal{
		ID: "prop-2",
		Payload: canon.Payload{
			Kind: canon.KindFact,
			Fact: &canon.FactPayload{
				SubjectID: "n-aldric",
				Path:      "title",
				Value:     canon.String("warden"),
			},
		},
		Evidence:      []canon.EvidenceRef{{Source: "codex", Timestamp: 150}},
		ConfidencePPM: 900_000,
		Authority:     canon.AuthorityLorekeeper,
		Scope:         "ravenholm",
		SubmittedAt:   1001,
	}))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 2)

	node, err := s.GetNode(ctx, "n-aldric")
	require.NoError(t, err)
	assert.True(t, canon.Equal(node.Attrs["title"], canon.String("warden")))
}

func TestRunCanonization_FactOnMissingSubjectRejected(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, stateChangeProposal("prop-ghost", "n-nobody", []string{"wounded"}, nil, canon.AuthorityGM, 1_000_000)))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Rationale, "does not exist")
}

func TestRunCanonization_HigherWeightDisplacesCanonState(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	// Narrator-weight entity, alive.
	require.NoError(t, g.Submit(ctx, entityProposal("prop-1", "n-aldric", []string{"alive"}, canon.AuthorityNarrator, 800_000)))
	_, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)

	// GM asserts dead without explicitly removing alive. The gate retires
	// the displaced state for the heavier assertion.
	require.NoError(t, g.Submit(ctx, stateChangeProposal("prop-2", "n-aldric", []string{"dead"}, nil, canon.AuthorityGM, 1_000_000)))
	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)

	node, err := s.GetNode(ctx, "n-aldric")
	require.NoError(t, err)
	assert.Equal(t, []string{"dead"}, node.Tags)
}

func TestRunCanonization_LowerWeightLosesToCanon(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-1", "n-aldric", []string{"alive"}, canon.AuthorityGM, 1_000_000)))
	_, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)

	// Player claims dead against full-weight canon.
	require.NoError(t, g.Submit(ctx, stateChangeProposal("prop-2", "n-aldric", []string{"dead"}, nil, canon.AuthorityPlayer, 900_000)))
	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Rationale, `canon holds state "alive"`)

	node, err := s.GetNode(ctx, "n-aldric")
	require.NoError(t, err)
	assert.Equal(t, []string{"alive"}, node.Tags)
}

func TestRunCanonization_ScopesAreIndependent(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	p := entityProposal("prop-1", "n-aldric", nil, canon.AuthorityGM, 1_000_000)
	p.Scope = "blackmoor"
	p.Payload.Entity.Scope = "blackmoor"
	require.NoError(t, g.Submit(ctx, p))

	// Running the wrong scope decides nothing.
	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)

	result, err = g.RunCanonization(ctx, "blackmoor")
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 1)
}

func TestSubmit_RequiresEvidence(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	p := entityProposal("prop-1", "n-aldric", nil, canon.AuthorityGM, 1_000_000)
	p.Evidence = nil
	err := g.Submit(ctx, p)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "no evidence references")

	p = entityProposal("prop-2", "n-aldric", nil, canon.AuthorityGM, 1_000_000)
	p.Evidence = []canon.EvidenceRef{{Timestamp: 100}}
	err = g.Submit(ctx, p)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Contains(t, err.Error(), "has no source")
}

// A pending proposal written to the store without passing through Submit
// is still checked at admission, and the stored rationale names the cause
// rather than just the generic validation message.
func TestRunCanonization_EvidencelessPendingRejected(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	p := entityProposal("prop-1", "n-aldric", nil, canon.AuthorityGM, 1_000_000)
	p.Evidence = nil
	p.Status = canon.ProposalPending
	require.NoError(t, s.PutProposal(ctx, p))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Rationale, "no evidence references")

	node, err := s.GetNode(ctx, "n-aldric")
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestRunCanonization_CanonNodeCarriesEvidence(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-1", "n-aldric", []string{"alive"}, canon.AuthorityGM, 1_000_000)))

	_, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)

	node, err := s.GetNode(ctx, "n-aldric")
	require.NoError(t, err)
	require.NotNil(t, node)
	require.Len(t, node.Evidence, 1)
	assert.Equal(t, "session-1", node.Evidence[0].Source)
}

func TestRunCanonization_RecordsDecisionTxn(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-1", "n-aldric", nil, canon.AuthorityGM, 1_000_000)))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)

	stored, err := s.GetProposal(ctx, "prop-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, canon.ProposalAccepted, stored.Status)
	assert.Equal(t, result.Accepted[0].TxnID, stored.DecisionTxn)
}

func TestRunCanonization_EntitySupersedesRetconsOldNode(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-old", "n-aldric", []string{"alive"}, canon.AuthorityGM, 1_000_000)))
	_, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)

	next := entityProposal("prop-new", "n-aldric-true", []string{"alive"}, canon.AuthorityGM, 1_000_000)
	next.Payload.Entity.Supersedes = "n-aldric"
	require.NoError(t, g.Submit(ctx, next))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	assert.Empty(t, result.Rejected)

	old, err := s.GetNode(ctx, "n-aldric")
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, canon.StatusRetconned, old.Status)
	assert.Equal(t, "n-aldric-true", old.SupersededBy)

	replacement, err := s.GetNode(ctx, "n-aldric-true")
	require.NoError(t, err)
	require.NotNil(t, replacement)
	assert.Equal(t, canon.StatusCanon, replacement.Status)
	assert.Equal(t, "n-aldric", replacement.Supersedes)
}

func TestRunCanonization_SupersedeMissingNodeRejected(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	p := entityProposal("prop-1", "n-ghost-true", nil, canon.AuthorityGM, 1_000_000)
	p.Payload.Entity.Supersedes = "n-ghost"
	require.NoError(t, g.Submit(ctx, p))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	assert.Empty(t, result.Accepted)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Rationale, "does not exist")

	node, err := s.GetNode(ctx, "n-ghost-true")
	require.NoError(t, err)
	assert.Nil(t, node)
}
