package gate

import (
	"context"
	"fmt"
	"sort"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/rules"
	"github.com/loomworld/canonry/internal/store"
)

// Conflict classes reported in rationales and metrics.
const (
	ConflictStateExclusivity    = "state-exclusivity"
	ConflictCausal              = "causal"
	ConflictSpatial             = "spatial"
	ConflictRelationExclusivity = "relation-exclusivity"
)

// candidate is one proposal under evaluation, with its materialized
// post-state.
type candidate struct {
	proposal *canon.Proposal
	weight   int64 // effective weight, ppm

	// Materialized post-state for the subject.
	subjectID string
	node      *canon.Node     // current canon node, nil when the batch creates it
	tags      map[string]bool // resulting tag set
	addedTags []string        // tags this proposal introduces
	location  string          // resulting location claim, "" when none
	opens     *canon.RelationshipPayload
	occursAt   int64
	dependsOn  []string
	creates    bool        // entity proposal introducing the subject
	supersedes *canon.Node // canon node retired when this entity lands

	// displacedTags / displacedRelations are canon state this candidate
	// must retire if it wins against live canon.
	displacedTags      []string
	displacedRelations []canon.Relation
}

// rejection pairs a losing candidate with the contradiction that felled it.
type rejection struct {
	candidate *candidate
	err       *GateError
}

// Detector evaluates a batch of candidates against live canon and each
// other. It holds no state between runs.
type Detector struct {
	store *store.Store
	rules *rules.Ruleset
}

// NewDetector creates a detector over a store and ruleset.
func NewDetector(s *store.Store, rs *rules.Ruleset) *Detector {
	return &Detector{store: s, rules: rs}
}

// materialize builds a candidate's post-state from the proposal and the
// subject's current canon. created tracks node ids introduced by earlier
// batch members so later members can reference them.
func (d *Detector) materialize(ctx context.Context, p *canon.Proposal, created map[string]*candidate) (*candidate, error) {
	c := &candidate{
		proposal:  p,
		weight:    d.rules.EffectiveWeight(p.ConfidencePPM, p.Authority),
		subjectID: p.Payload.Subject().ID,
		tags:      make(map[string]bool),
	}

	node, err := d.store.GetNode(ctx, c.subjectID)
	if err != nil {
		return nil, err
	}
	c.node = node

	if node != nil {
		for _, t := range node.Tags {
			c.tags[t] = true
		}
		if loc, ok := canon.GetPath(node.Attrs, d.rules.LocationPath).(canon.String); ok {
			c.location = string(loc)
		}
	}

	switch p.Payload.Kind {
	case canon.KindEntity:
		e := p.Payload.Entity
		if node != nil {
			return nil, NewValidationError(p.ID, fmt.Errorf("node %s already exists", e.NodeID))
		}
		if e.Supersedes != "" {
			old, err := d.store.GetNode(ctx, e.Supersedes)
			if err != nil {
				return nil, err
			}
			if old == nil {
				return nil, NewValidationError(p.ID, fmt.Errorf("superseded node %s does not exist", e.Supersedes))
			}
			if old.Status != canon.StatusCanon {
				return nil, NewValidationError(p.ID, fmt.Errorf("superseded node %s is not canon", e.Supersedes))
			}
			c.supersedes = old
		}
		c.creates = true
		for _, t := range e.Tags {
			c.tags[t] = true
			c.addedTags = append(c.addedTags, t)
		}
		if loc, ok := canon.GetPath(e.Attrs, d.rules.LocationPath).(canon.String); ok {
			c.location = string(loc)
		}
		if occurs, ok := e.Attrs["occurs_at"].(canon.Int); ok {
			c.occursAt = int64(occurs)
		}

	case canon.KindFact:
		f := p.Payload.Fact
		if err := d.requireSubject(node, created, f.SubjectID, p.ID); err != nil {
			return nil, err
		}
		if f.Path == d.rules.LocationPath {
			if loc, ok := f.Value.(canon.String); ok {
				c.location = string(loc)
			}
		}
		c.occursAt = f.OccursAt
		c.dependsOn = f.DependsOn

	case canon.KindRelationship:
		r := p.Payload.Relationship
		if err := d.requireSubject(node, created, r.SubjectID, p.ID); err != nil {
			return nil, err
		}
		c.opens = r

	case canon.KindStateChange:
		sc := p.Payload.StateChange
		if err := d.requireSubject(node, created, sc.SubjectID, p.ID); err != nil {
			return nil, err
		}
		for _, t := range sc.RemoveTags {
			delete(c.tags, t)
		}
		for _, t := range sc.AddTags {
			c.tags[t] = true
			c.addedTags = append(c.addedTags, t)
		}

	default:
		return nil, NewValidationError(p.ID, fmt.Errorf("unknown proposal kind %q", p.Payload.Kind))
	}

	return c, nil
}

// requireSubject fails validation when a referenced subject neither exists
// in canon nor is created earlier in the batch.
func (d *Detector) requireSubject(node *canon.Node, created map[string]*candidate, subjectID, proposalID string) error {
	if node != nil {
		if node.Status == canon.StatusRetconned {
			return NewValidationError(proposalID, fmt.Errorf("node %s is retconned", subjectID))
		}
		return nil
	}
	if _, ok := created[subjectID]; ok {
		return nil
	}
	return NewValidationError(proposalID, fmt.Errorf("node %s does not exist", subjectID))
}

// Detect evaluates candidates pairwise and against live canon, returning
// the rejections. Winners may pick up displaced canon state (tags or
// relations to retire on commit). Surviving candidates keep batch order.
func (d *Detector) Detect(ctx context.Context, cands []*candidate) ([]*candidate, []rejection, error) {
	rejected := make(map[string]bool)
	var rejections []rejection

	reject := func(loser, winner *candidate, class, detail string) {
		if rejected[loser.proposal.ID] {
			return
		}
		rejected[loser.proposal.ID] = true
		winnerID := ""
		if winner != nil {
			winnerID = winner.proposal.ID
		}
		rejections = append(rejections, rejection{
			candidate: loser,
			err:       NewContradictionError(loser.proposal.ID, winnerID, class, detail),
		})
	}

	// Pairwise conflicts within the batch.
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			a, b := cands[i], cands[j]
			if rejected[a.proposal.ID] || rejected[b.proposal.ID] {
				continue
			}
			class, detail := d.pairConflict(a, b)
			if class == "" {
				continue
			}
			winner, loser := resolve(a, b)
			reject(loser, winner, class, detail)
		}
	}

	// Conflicts against live canon.
	for _, c := range cands {
		if rejected[c.proposal.ID] {
			continue
		}
		if err := d.canonConflict(ctx, c, reject); err != nil {
			return nil, nil, err
		}
	}

	var survivors []*candidate
	for _, c := range cands {
		if !rejected[c.proposal.ID] {
			survivors = append(survivors, c)
		}
	}
	return survivors, rejections, nil
}

// pairConflict checks two batch members for a contradiction. Returns the
// conflict class and a human-readable detail, or "" when compatible.
func (d *Detector) pairConflict(a, b *candidate) (string, string) {
	if a.subjectID != b.subjectID {
		// Cross-subject conflicts only arise through relations on the
		// same ordered pair.
		if a.opens != nil && b.opens != nil &&
			a.opens.SubjectID == b.opens.SubjectID &&
			a.opens.ObjectID == b.opens.ObjectID &&
			d.rules.RelationsExclusive(a.opens.Type, b.opens.Type) {
			return ConflictRelationExclusivity,
				fmt.Sprintf("relations %q and %q between %s and %s are mutually exclusive",
					a.opens.Type, b.opens.Type, a.opens.SubjectID, a.opens.ObjectID)
		}
		return "", ""
	}

	// State exclusivity: one proposal's added tag against the other's.
	for _, ta := range a.addedTags {
		for _, tb := range b.addedTags {
			if d.rules.StatesExclusive(ta, tb) {
				return ConflictStateExclusivity,
					fmt.Sprintf("states %q and %q are mutually exclusive on %s", ta, tb, a.subjectID)
			}
		}
	}

	// Spatial: two disjoint location claims for one subject at once.
	if a.location != "" && b.location != "" && d.rules.PlacesDisjoint(a.location, b.location) {
		return ConflictSpatial,
			fmt.Sprintf("%s cannot be in both %q and %q", a.subjectID, a.location, b.location)
	}

	// Relationship exclusivity on the same ordered pair.
	if a.opens != nil && b.opens != nil &&
		a.opens.ObjectID == b.opens.ObjectID &&
		d.rules.RelationsExclusive(a.opens.Type, b.opens.Type) {
		return ConflictRelationExclusivity,
			fmt.Sprintf("relations %q and %q between %s and %s are mutually exclusive",
				a.opens.Type, b.opens.Type, a.subjectID, a.opens.ObjectID)
	}

	return "", ""
}

// canonConflict checks one candidate against live canon. When the candidate
// outweighs the canonical fact it contradicts, the canon state is displaced
// (retired on commit) instead of rejecting the candidate.
func (d *Detector) canonConflict(ctx context.Context, c *candidate, reject func(loser, winner *candidate, class, detail string)) error {
	// Causal ordering: every dependency must exist and precede the fact.
	for _, dep := range c.dependsOn {
		depNode, err := d.store.GetNode(ctx, dep)
		if err != nil {
			return err
		}
		if depNode == nil {
			reject(c, nil, ConflictCausal,
				fmt.Sprintf("depends on unknown event %s", dep))
			return nil
		}
		if occurs, ok := depNode.Attrs["occurs_at"].(canon.Int); ok {
			if c.occursAt != 0 && int64(occurs) > c.occursAt {
				reject(c, nil, ConflictCausal,
					fmt.Sprintf("occurs at %d before its dependency %s at %d", c.occursAt, dep, int64(occurs)))
				return nil
			}
		}
	}

	if c.node == nil {
		return nil
	}
	canonWeight := d.rules.EffectiveWeight(c.node.ConfidencePPM, c.node.Authority)

	// State exclusivity against tags the proposal leaves in place.
	for _, added := range c.addedTags {
		for existing := range c.tags {
			if existing == added || !d.rules.StatesExclusive(added, existing) {
				continue
			}
			if c.weight > canonWeight {
				c.displacedTags = append(c.displacedTags, existing)
				delete(c.tags, existing)
			} else {
				reject(c, nil, ConflictStateExclusivity,
					fmt.Sprintf("canon holds state %q, exclusive with proposed %q", existing, added))
				return nil
			}
		}
	}

	// Relationship exclusivity against open canon edges on the same pair.
	if c.opens != nil {
		open, err := d.store.OpenRelations(ctx, c.opens.SubjectID, "")
		if err != nil {
			return err
		}
		for _, rel := range open {
			if rel.ObjectID != c.opens.ObjectID {
				continue
			}
			if !d.rules.RelationsExclusive(rel.Type, c.opens.Type) {
				continue
			}
			relWeight := d.rules.EffectiveWeight(rel.ConfidencePPM, rel.Authority)
			if c.weight > relWeight {
				c.displacedRelations = append(c.displacedRelations, rel)
			} else {
				reject(c, nil, ConflictRelationExclusivity,
					fmt.Sprintf("canon holds open relation %q to %s, exclusive with proposed %q",
						rel.Type, rel.ObjectID, c.opens.Type))
				return nil
			}
		}
	}

	sort.Strings(c.displacedTags)
	return nil
}

// resolve picks the winner of a pairwise conflict.
// Higher effective weight wins; tie goes to earlier evidence, then higher
// authority rank, then earlier submission, then lower id. The final rungs
// exist so resolution is total and symmetric: swapping argument order never
// changes the outcome.
func resolve(a, b *candidate) (winner, loser *candidate) {
	if a.weight != b.weight {
		if a.weight > b.weight {
			return a, b
		}
		return b, a
	}

	ea, eb := a.proposal.EarliestEvidence(), b.proposal.EarliestEvidence()
	switch {
	case ea != 0 && (eb == 0 || ea < eb):
		return a, b
	case eb != 0 && (ea == 0 || eb < ea):
		return b, a
	}

	if ra, rb := a.proposal.Authority.Rank(), b.proposal.Authority.Rank(); ra != rb {
		if ra > rb {
			return a, b
		}
		return b, a
	}

	if a.proposal.SubmittedAt != b.proposal.SubmittedAt {
		if a.proposal.SubmittedAt < b.proposal.SubmittedAt {
			return a, b
		}
		return b, a
	}

	if a.proposal.ID < b.proposal.ID {
		return a, b
	}
	return b, a
}
