package canon

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProposalKind identifies the closed set of payload variants.
type ProposalKind string

const (
	KindEntity       ProposalKind = "entity"
	KindFact         ProposalKind = "fact"
	KindRelationship ProposalKind = "relationship"
	KindStateChange  ProposalKind = "state-change"
)

// Payload is a closed tagged variant: exactly one of the kind-specific
// fields is set, matching Kind. Each kind has a registered validator here
// and a registered apply/reverse pair in the reconstruction registry, so
// downstream code dispatches through lookup tables instead of scattered
// type checks.
type Payload struct {
	Kind         ProposalKind         `json:"kind"`
	Entity       *EntityPayload       `json:"entity,omitempty"`
	Fact         *FactPayload         `json:"fact,omitempty"`
	Relationship *RelationshipPayload `json:"relationship,omitempty"`
	StateChange  *StateChangePayload  `json:"state_change,omitempty"`
}

// EntityPayload introduces a new canonical node. When Supersedes names an
// existing node, acceptance retcons that node and links it to the new one.
type EntityPayload struct {
	NodeID     string   `json:"node_id"`
	NodeKind   string   `json:"node_kind"`
	Scope      string   `json:"scope,omitempty"`
	Attrs      Object   `json:"attrs,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Supersedes string   `json:"supersedes,omitempty"`
}

// FactPayload asserts an attribute value on an existing subject.
// For event facts, OccursAt carries the in-world time and DependsOn names
// prerequisite event nodes; the detector uses both for causal checks.
type FactPayload struct {
	SubjectID string   `json:"subject_id"`
	Path      string   `json:"path"`
	Value     Value    `json:"value"`
	OccursAt  int64    `json:"occurs_at,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler for FactPayload. The value
// field is interface-typed and must route through ParseValue so float
// rejection applies on the way in.
func (f *FactPayload) UnmarshalJSON(data []byte) error {
	var raw struct {
		SubjectID string          `json:"subject_id"`
		Path      string          `json:"path"`
		Value     json.RawMessage `json:"value"`
		OccursAt  int64           `json:"occurs_at"`
		DependsOn []string        `json:"depends_on"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.SubjectID = raw.SubjectID
	f.Path = raw.Path
	f.OccursAt = raw.OccursAt
	f.DependsOn = raw.DependsOn
	if len(raw.Value) > 0 {
		v, err := ParseValue(raw.Value)
		if err != nil {
			return fmt.Errorf("fact value: %w", err)
		}
		f.Value = v
	}
	return nil
}

// RelationshipPayload opens a time-scoped relation between an ordered pair.
type RelationshipPayload struct {
	SubjectID string `json:"subject_id"`
	Type      string `json:"relation_type"`
	ObjectID  string `json:"object_id"`
}

// StateChangePayload adds and/or removes state tags on a subject.
type StateChangePayload struct {
	SubjectID  string   `json:"subject_id"`
	AddTags    []string `json:"add_tags,omitempty"`
	RemoveTags []string `json:"remove_tags,omitempty"`
}

// Proposal is a candidate change awaiting a canonization decision.
// A proposal is evaluated exactly once (barring explicit retry) and becomes
// immutable after acceptance or rejection; Rationale is set on decision.
type Proposal struct {
	ID            string         `json:"id"`
	Payload       Payload        `json:"payload"`
	Evidence      []EvidenceRef  `json:"evidence"`
	ConfidencePPM int64          `json:"confidence_ppm"`
	Authority     Authority      `json:"authority"`
	Scope         string         `json:"scope,omitempty"`
	Status        ProposalStatus `json:"status"`
	Rationale     string         `json:"rationale,omitempty"`
	DecisionTxn   string         `json:"decision_txn,omitempty"`
	SubmittedAt   int64          `json:"submitted_at"`
	DecidedAt     int64          `json:"decided_at,omitempty"`
}

// payloadValidator checks the shape of one payload kind.
type payloadValidator func(p *Payload) error

// payloadValidators is the closed validator registry. An unknown kind is a
// validation failure, not a fallthrough.
var payloadValidators = map[ProposalKind]payloadValidator{
	KindEntity:       validateEntity,
	KindFact:         validateFact,
	KindRelationship: validateRelationship,
	KindStateChange:  validateStateChange,
}

// Validate checks that the payload is well-formed: exactly one variant set,
// matching Kind, with the kind's registered validator satisfied.
func (p *Payload) Validate() error {
	set := 0
	if p.Entity != nil {
		set++
	}
	if p.Fact != nil {
		set++
	}
	if p.Relationship != nil {
		set++
	}
	if p.StateChange != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("payload must set exactly one variant, got %d", set)
	}

	validator, ok := payloadValidators[p.Kind]
	if !ok {
		return fmt.Errorf("unknown proposal kind %q", p.Kind)
	}
	return validator(p)
}

func validateEntity(p *Payload) error {
	if p.Entity == nil {
		return fmt.Errorf("kind %q requires the entity variant", p.Kind)
	}
	if strings.TrimSpace(p.Entity.NodeID) == "" {
		return fmt.Errorf("entity payload requires node_id")
	}
	if strings.TrimSpace(p.Entity.NodeKind) == "" {
		return fmt.Errorf("entity payload requires node_kind")
	}
	if p.Entity.Supersedes == p.Entity.NodeID && p.Entity.Supersedes != "" {
		return fmt.Errorf("entity payload cannot supersede itself")
	}
	return nil
}

func validateFact(p *Payload) error {
	if p.Fact == nil {
		return fmt.Errorf("kind %q requires the fact variant", p.Kind)
	}
	if strings.TrimSpace(p.Fact.SubjectID) == "" {
		return fmt.Errorf("fact payload requires subject_id")
	}
	if strings.TrimSpace(p.Fact.Path) == "" {
		return fmt.Errorf("fact payload requires path")
	}
	if p.Fact.Value == nil {
		return fmt.Errorf("fact payload requires value")
	}
	return nil
}

func validateRelationship(p *Payload) error {
	if p.Relationship == nil {
		return fmt.Errorf("kind %q requires the relationship variant", p.Kind)
	}
	r := p.Relationship
	if strings.TrimSpace(r.SubjectID) == "" || strings.TrimSpace(r.ObjectID) == "" {
		return fmt.Errorf("relationship payload requires subject_id and object_id")
	}
	if strings.TrimSpace(r.Type) == "" {
		return fmt.Errorf("relationship payload requires relation_type")
	}
	if r.SubjectID == r.ObjectID {
		return fmt.Errorf("relationship payload cannot relate a subject to itself")
	}
	return nil
}

func validateStateChange(p *Payload) error {
	if p.StateChange == nil {
		return fmt.Errorf("kind %q requires the state_change variant", p.Kind)
	}
	sc := p.StateChange
	if strings.TrimSpace(sc.SubjectID) == "" {
		return fmt.Errorf("state-change payload requires subject_id")
	}
	if len(sc.AddTags) == 0 && len(sc.RemoveTags) == 0 {
		return fmt.Errorf("state-change payload requires at least one tag mutation")
	}
	for _, t := range sc.AddTags {
		for _, r := range sc.RemoveTags {
			if t == r {
				return fmt.Errorf("state-change payload both adds and removes tag %q", t)
			}
		}
	}
	return nil
}

// Subject returns the canonical subject the payload mutates.
// Entity payloads target the node they introduce.
func (p *Payload) Subject() SubjectRef {
	switch p.Kind {
	case KindEntity:
		if p.Entity != nil {
			return SubjectRef{Type: SubjectNode, ID: p.Entity.NodeID}
		}
	case KindFact:
		if p.Fact != nil {
			return SubjectRef{Type: SubjectNode, ID: p.Fact.SubjectID}
		}
	case KindRelationship:
		if p.Relationship != nil {
			return SubjectRef{Type: SubjectNode, ID: p.Relationship.SubjectID}
		}
	case KindStateChange:
		if p.StateChange != nil {
			return SubjectRef{Type: SubjectNode, ID: p.StateChange.SubjectID}
		}
	}
	return SubjectRef{}
}

// EarliestEvidence returns the smallest evidence timestamp, or 0 when the
// proposal carries no evidence. Earlier evidence wins conflict tie-breaks.
func (p *Proposal) EarliestEvidence() int64 {
	var earliest int64
	for _, ev := range p.Evidence {
		if earliest == 0 || (ev.Timestamp != 0 && ev.Timestamp < earliest) {
			earliest = ev.Timestamp
		}
	}
	return earliest
}
