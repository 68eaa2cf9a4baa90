package rules

import (
	"fmt"

	"github.com/loomworld/canonry/internal/canon"
)

// weightScale is the fixed-point scale for weights: parts-per-million,
// matching canon confidence. All weight arithmetic is integer arithmetic.
const weightScale = 1_000_000

// Ruleset is the compiled rule table the gate and detector consult.
// All weights are parts-per-million.
type Ruleset struct {
	// AuthorityWeights maps each authority to its weight multiplier.
	AuthorityWeights map[canon.Authority]int64 `json:"authority_weights"`

	// MinEffectiveWeight is the canonization floor: proposals whose
	// effective weight falls below it are rejected without conflict
	// evaluation.
	MinEffectiveWeight int64 `json:"min_effective_weight"`

	// StateExclusivity declares sets of mutually exclusive state tags.
	// Two live tags from the same set on one subject is a contradiction.
	StateExclusivity [][]string `json:"state_exclusivity"`

	// RelationExclusivity declares sets of mutually exclusive relation
	// types between the same ordered pair.
	RelationExclusivity [][]string `json:"relation_exclusivity"`

	// DisjointPlaces declares groups of places that cannot contain the
	// same entity simultaneously. Places not covered by any group never
	// produce spatial conflicts.
	DisjointPlaces [][]string `json:"disjoint_places"`

	// LocationPath is the attribute path treated as an entity's location
	// for spatial conflict detection.
	LocationPath string `json:"location_path"`
}

// Default returns the engine's built-in ruleset. The constants are fixed
// here rather than inferred: player 0.60, narrator 0.75, lorekeeper 0.90,
// gm 1.00, with a canonization floor of 0.50. The embedded defaults.cue
// mirrors this table and is kept in lockstep by tests.
func Default() *Ruleset {
	return &Ruleset{
		AuthorityWeights: map[canon.Authority]int64{
			canon.AuthorityPlayer:     600_000,
			canon.AuthorityNarrator:   750_000,
			canon.AuthorityLorekeeper: 900_000,
			canon.AuthorityGM:         1_000_000,
		},
		MinEffectiveWeight: 500_000,
		StateExclusivity: [][]string{
			{"alive", "dead", "undead"},
			{"awake", "asleep", "unconscious"},
			{"free", "imprisoned"},
		},
		RelationExclusivity: [][]string{
			{"allies", "enemies"},
			{"rules", "serves"},
		},
		DisjointPlaces: [][]string{
			{"ravenholm", "blackmoor", "thornspire"},
		},
		LocationPath: "location",
	}
}

// Validate checks internal consistency of a compiled ruleset.
func (r *Ruleset) Validate() error {
	if len(r.AuthorityWeights) == 0 {
		return fmt.Errorf("ruleset declares no authority weights")
	}
	for auth, w := range r.AuthorityWeights {
		if !auth.Valid() {
			return fmt.Errorf("unknown authority %q in weight table", auth)
		}
		if w <= 0 || w > weightScale {
			return fmt.Errorf("authority %q weight %d outside (0, %d]", auth, w, weightScale)
		}
	}
	// Every authority needs a weight; the gate cannot score without one.
	for _, auth := range []canon.Authority{canon.AuthorityPlayer, canon.AuthorityNarrator, canon.AuthorityLorekeeper, canon.AuthorityGM} {
		if _, ok := r.AuthorityWeights[auth]; !ok {
			return fmt.Errorf("authority %q missing from weight table", auth)
		}
	}
	if r.MinEffectiveWeight < 0 || r.MinEffectiveWeight > weightScale {
		return fmt.Errorf("min_effective_weight %d outside [0, %d]", r.MinEffectiveWeight, weightScale)
	}
	for i, set := range r.StateExclusivity {
		if len(set) < 2 {
			return fmt.Errorf("state exclusivity set %d needs at least two members", i)
		}
	}
	for i, set := range r.RelationExclusivity {
		if len(set) < 2 {
			return fmt.Errorf("relation exclusivity set %d needs at least two members", i)
		}
	}
	for i, group := range r.DisjointPlaces {
		if len(group) < 2 {
			return fmt.Errorf("disjoint place group %d needs at least two members", i)
		}
	}
	if r.LocationPath == "" {
		return fmt.Errorf("location_path is required")
	}
	return nil
}

// AuthorityWeight returns the weight multiplier for an authority, or 0 for
// an authority absent from the table.
func (r *Ruleset) AuthorityWeight(a canon.Authority) int64 {
	return r.AuthorityWeights[a]
}

// EffectiveWeight computes confidence x authority_weight in fixed point.
func (r *Ruleset) EffectiveWeight(confidencePPM int64, a canon.Authority) int64 {
	return confidencePPM * r.AuthorityWeights[a] / weightScale
}

// MeetsThreshold reports whether an effective weight clears the
// canonization floor.
func (r *Ruleset) MeetsThreshold(effectiveWeight int64) bool {
	return effectiveWeight >= r.MinEffectiveWeight
}

// StatesExclusive reports whether two distinct state tags belong to the
// same declared exclusivity set.
func (r *Ruleset) StatesExclusive(a, b string) bool {
	if a == b {
		return false
	}
	return sameDeclaredSet(r.StateExclusivity, a, b)
}

// RelationsExclusive reports whether two distinct relation types belong to
// the same declared exclusivity set.
func (r *Ruleset) RelationsExclusive(a, b string) bool {
	if a == b {
		return false
	}
	return sameDeclaredSet(r.RelationExclusivity, a, b)
}

// PlacesDisjoint reports whether two distinct places belong to the same
// disjoint group. Undeclared places never conflict.
func (r *Ruleset) PlacesDisjoint(a, b string) bool {
	if a == b {
		return false
	}
	return sameDeclaredSet(r.DisjointPlaces, a, b)
}

func sameDeclaredSet(sets [][]string, a, b string) bool {
	for _, set := range sets {
		foundA, foundB := false, false
		for _, member := range set {
			if member == a {
				foundA = true
			}
			if member == b {
				foundB = true
			}
		}
		if foundA && foundB {
			return true
		}
	}
	return false
}
