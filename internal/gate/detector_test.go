package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworld/canonry/internal/canon"
)

func relationshipProposal(id, subjectID, relType, objectID string, auth canon.Authority, confPPM int64) canon.Proposal {
	return canon.Proposal{
		ID: id,
		Payload: canon.Payload{
			Kind: canon.KindRelationship,
			Relationship: &canon.RelationshipPayload{
				SubjectID: subjectID,
				Type:      relType,
				ObjectID:  objectID,
			},
		},
		Evidence:      []canon.EvidenceRef{{Source: "session-1", Timestamp: 100}},
		ConfidencePPM: confPPM,
		Authority:     auth,
		Scope:         "ravenholm",
		SubmittedAt:   1000,
	}
}

func locationProposal(id, subjectID, place string, auth canon.Authority, confPPM int64) canon.Proposal {
	return canon.Proposal{
		ID: id,
		Payload: canon.Payload{
			Kind: canon.KindFact,
			Fact: &canon.FactPayload{
				SubjectID: subjectID,
				Path:      "location",
				Value:     canon.String(place),
			},
		},
		Evidence:      []canon.EvidenceRef{{Source: "session-1", Timestamp: 100}},
		ConfidencePPM: confPPM,
		Authority:     auth,
		Scope:         "ravenholm",
		SubmittedAt:   1000,
	}
}

// Ally and enemy claims for the same ordered pair in one batch: the
// heavier proposal wins, the other is rejected citing the winner.
func TestDetect_ScenarioB(t *testing.T) {
	g, s := newTestGate(t)
	ctx := context.Background()

	for _, id := range []string{"n-faction-x", "n-faction-y"} {
		p := entityProposal("prop-"+id, id, nil, canon.AuthorityGM, 1_000_000)
		require.NoError(t, g.Submit(ctx, p))
	}
	_, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)

	require.NoError(t, g.Submit(ctx, relationshipProposal("prop-allies", "n-faction-x", "allies", "n-faction-y", canon.AuthorityLorekeeper, 900_000)))
	require.NoError(t, g.Submit(ctx, relationshipProposal("prop-enemies", "n-faction-x", "enemies", "n-faction-y", canon.AuthorityPlayer, 900_000)))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)

	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "prop-allies", result.Accepted[0].ProposalID)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "prop-enemies", result.Rejected[0].ProposalID)
	assert.Contains(t, result.Rejected[0].Rationale, "prop-allies")
	assert.Contains(t, result.Rejected[0].Rationale, "mutually exclusive")

	rels, err := s.OpenRelations(ctx, "n-faction-x", "")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "allies", rels[0].Type)
}

// Detection is symmetric: submission order of the conflicting pair never
// changes who wins.
func TestDetect_SymmetricResolution(t *testing.T) {
	run := func(t *testing.T, firstAllies bool) string {
		g, _ := newTestGate(t)
		ctx := context.Background()

		for _, id := range []string{"n-x", "n-y"} {
			require.NoError(t, g.Submit(ctx, entityProposal("prop-"+id, id, nil, canon.AuthorityGM, 1_000_000)))
		}
		_, err := g.RunCanonization(ctx, "ravenholm")
		require.NoError(t, err)

		allies := relationshipProposal("prop-allies", "n-x", "allies", "n-y", canon.AuthorityLorekeeper, 900_000)
		enemies := relationshipProposal("prop-enemies", "n-x", "enemies", "n-y", canon.AuthorityNarrator, 900_000)
		if firstAllies {
			require.NoError(t, g.Submit(ctx, allies))
			require.NoError(t, g.Submit(ctx, enemies))
		} else {
			enemies.SubmittedAt = 999 // submitted first
			require.NoError(t, g.Submit(ctx, enemies))
			require.NoError(t, g.Submit(ctx, allies))
		}

		result, err := g.RunCanonization(ctx, "ravenholm")
		require.NoError(t, err)
		require.Len(t, result.Accepted, 1)
		return result.Accepted[0].ProposalID
	}

	winnerAB := run(t, true)
	winnerBA := run(t, false)
	assert.Equal(t, winnerAB, winnerBA, "winner must not depend on submission order")
	assert.Equal(t, "prop-allies", winnerAB, "lorekeeper outweighs narrator at equal confidence")
}

func TestDetect_StateExclusivityInBatch(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-0", "n-aldric", nil, canon.AuthorityGM, 1_000_000)))
	_, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)

	require.NoError(t, g.Submit(ctx, stateChangeProposal("prop-asleep", "n-aldric", []string{"asleep"}, nil, canon.AuthorityNarrator, 900_000)))
	require.NoError(t, g.Submit(ctx, stateChangeProposal("prop-awake", "n-aldric", []string{"awake"}, nil, canon.AuthorityGM, 900_000)))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "prop-awake", result.Accepted[0].ProposalID)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Rationale, "prop-awake")
}

func TestDetect_SpatialConflictInBatch(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-0", "n-aldric", nil, canon.AuthorityGM, 1_000_000)))
	_, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)

	// Two disjoint place claims for the same entity at once.
	require.NoError(t, g.Submit(ctx, locationProposal("prop-rh", "n-aldric", "ravenholm", canon.AuthorityGM, 1_000_000)))
	require.NoError(t, g.Submit(ctx, locationProposal("prop-bm", "n-aldric", "blackmoor", canon.AuthorityPlayer, 900_000)))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	assert.Equal(t, "prop-rh", result.Accepted[0].ProposalID)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Rationale, "cannot be in both")
}

func TestDetect_CausalDependencyMissing(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	require.NoError(t, g.Submit(ctx, entityProposal("prop-0", "n-aldric", nil, canon.AuthorityGM, 1_000_000)))
	_, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)

	p := canon.Proposal{
		ID: "prop-effect",
		Payload: canon.Payload{
			Kind: canon.KindFact,
			Fact: &canon.FactPayload{
				SubjectID: "n-aldric",
				Path:      "wounded_by",
				Value:     canon.String("n-battle"),
				OccursAt:  5000,
				DependsOn: []string{"n-battle"},
			},
		},
		Evidence:      []canon.EvidenceRef{{Source: "session-4", Timestamp: 400}},
		ConfidencePPM: 1_000_000,
		Authority:     canon.AuthorityGM,
		Scope:         "ravenholm",
		SubmittedAt:   1000,
	}
	require.NoError(t, g.Submit(ctx, p))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Rationale, "unknown event")
}

func TestDetect_CausalOrderingViolation(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	battle := entityProposal("prop-battle", "n-battle", nil, canon.AuthorityGM, 1_000_000)
	battle.Payload.Entity.NodeKind = "event"
	battle.Payload.Entity.Attrs = canon.Object{"occurs_at": canon.Int(9000)}
	require.NoError(t, g.Submit(ctx, battle))
	require.NoError(t, g.Submit(ctx, entityProposal("prop-0", "n-aldric", nil, canon.AuthorityGM, 1_000_000)))
	_, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)

	// Effect claims to occur before its cause.
	p := canon.Proposal{
		ID: "prop-effect",
		Payload: canon.Payload{
			Kind: canon.KindFact,
			Fact: &canon.FactPayload{
				SubjectID: "n-aldric",
				Path:      "wounded_by",
				Value:     canon.String("n-battle"),
				OccursAt:  5000,
				DependsOn: []string{"n-battle"},
			},
		},
		Evidence:      []canon.EvidenceRef{{Source: "session-4", Timestamp: 400}},
		ConfidencePPM: 1_000_000,
		Authority:     canon.AuthorityGM,
		Scope:         "ravenholm",
		SubmittedAt:   1000,
	}
	require.NoError(t, g.Submit(ctx, p))

	result, err := g.RunCanonization(ctx, "ravenholm")
	require.NoError(t, err)
	require.Len(t, result.Rejected, 1)
	assert.Contains(t, result.Rejected[0].Rationale, "before its dependency")
}

func TestResolve_TieBreaks(t *testing.T) {
	mk := func(id string, weight int64, evidence int64, auth canon.Authority, submitted int64) *candidate {
		return &candidate{
			weight: weight,
			proposal: &canon.Proposal{
				ID:          id,
				Authority:   auth,
				SubmittedAt: submitted,
				Evidence:    []canon.EvidenceRef{{Source: "s", Timestamp: evidence}},
			},
		}
	}

	tests := []struct {
		name string
		a, b *candidate
		want string
	}{
		{
			name: "higher weight wins",
			a:    mk("a", 500_000, 100, canon.AuthorityPlayer, 1),
			b:    mk("b", 600_000, 200, canon.AuthorityPlayer, 2),
			want: "b",
		},
		{
			name: "earlier evidence breaks weight tie",
			a:    mk("a", 500_000, 300, canon.AuthorityGM, 1),
			b:    mk("b", 500_000, 100, canon.AuthorityPlayer, 2),
			want: "b",
		},
		{
			name: "authority rank breaks evidence tie",
			a:    mk("a", 500_000, 100, canon.AuthorityNarrator, 1),
			b:    mk("b", 500_000, 100, canon.AuthorityLorekeeper, 2),
			want: "b",
		},
		{
			name: "submission time breaks full tie",
			a:    mk("a", 500_000, 100, canon.AuthorityGM, 2),
			b:    mk("b", 500_000, 100, canon.AuthorityGM, 1),
			want: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			winner, _ := resolve(tt.a, tt.b)
			assert.Equal(t, tt.want, winner.proposal.ID)

			// Symmetric under argument order.
			winner2, _ := resolve(tt.b, tt.a)
			assert.Equal(t, tt.want, winner2.proposal.ID)
		})
	}
}
