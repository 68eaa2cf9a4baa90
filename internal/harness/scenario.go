package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one scripted harness run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Scope is the default canonization scope for every step.
	Scope string `yaml:"scope"`

	// Rules optionally points at a CUE ruleset file. Paths are relative
	// to the process working directory. Empty means the built-in defaults.
	Rules string `yaml:"rules,omitempty"`

	// StartTime is the initial wall-clock value in unix millis.
	// Zero means 10000.
	StartTime int64 `yaml:"start_time,omitempty"`

	// Steps run in order against a fresh store.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state after all steps.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	// Submit stores a proposal as pending.
	Submit *SubmitStep `yaml:"submit,omitempty"`

	// Canonize runs the gate over the scenario scope's pending batch.
	Canonize bool `yaml:"canonize,omitempty"`

	// AdvanceTime moves the wall clock forward by this many millis.
	AdvanceTime int64 `yaml:"advance_time,omitempty"`

	// Revert restores a subject to a past instant.
	Revert *RevertStep `yaml:"revert,omitempty"`

	// Capture takes a snapshot of the scenario scope.
	Capture *CaptureStep `yaml:"capture,omitempty"`

	// Restore resubmits a snapshot's differences through the gate.
	Restore *RestoreStep `yaml:"restore,omitempty"`
}

// SubmitStep describes one proposal. Kind selects which of the
// kind-specific fields apply.
type SubmitStep struct {
	ID            string         `yaml:"id"`
	Kind          string         `yaml:"kind"` // entity, fact, relationship, state-change
	Authority     string         `yaml:"authority"`
	ConfidencePPM int64          `yaml:"confidence_ppm"`
	Evidence      []EvidenceSpec `yaml:"evidence,omitempty"`

	// entity
	NodeID   string         `yaml:"node_id,omitempty"`
	NodeKind string         `yaml:"node_kind,omitempty"`
	Attrs    map[string]any `yaml:"attrs,omitempty"`
	Tags     []string       `yaml:"tags,omitempty"`

	// fact, relationship, state-change
	Subject string `yaml:"subject,omitempty"`

	// fact
	Path      string   `yaml:"path,omitempty"`
	Value     any      `yaml:"value,omitempty"`
	OccursAt  int64    `yaml:"occurs_at,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty"`

	// relationship
	Relation string `yaml:"relation,omitempty"`
	Object   string `yaml:"object,omitempty"`

	// state-change
	AddTags    []string `yaml:"add_tags,omitempty"`
	RemoveTags []string `yaml:"remove_tags,omitempty"`
}

// EvidenceSpec is the YAML form of an evidence reference.
type EvidenceSpec struct {
	Source    string `yaml:"source"`
	Ref       string `yaml:"ref,omitempty"`
	Timestamp int64  `yaml:"timestamp"`
}

// RevertStep restores a subject to its state at To (unix millis).
type RevertStep struct {
	Subject string `yaml:"subject"`
	To      int64  `yaml:"to"`
	Reason  string `yaml:"reason,omitempty"`
}

// CaptureStep snapshots the scenario scope under a scope id.
type CaptureStep struct {
	ScopeID string `yaml:"scope_id"`
}

// RestoreStep restores a captured snapshot. An empty Snapshot means the
// most recent capture of this run.
type RestoreStep struct {
	Snapshot string `yaml:"snapshot,omitempty"`
}

// Assertion validates final or reconstructed state.
type Assertion struct {
	// Type selects the assertion: node_state, decision, relation,
	// history_count, state_at.
	Type string `yaml:"type"`

	// node_state, history_count, state_at
	Node string `yaml:"node,omitempty"`

	// node_state: Exists defaults to true; Tags is an exact sorted
	// match; Attrs is a subset match; Status is optional.
	Exists *bool          `yaml:"exists,omitempty"`
	Status string         `yaml:"status,omitempty"`
	Tags   []string       `yaml:"tags,omitempty"`
	Attrs  map[string]any `yaml:"attrs,omitempty"`

	// decision
	Proposal          string `yaml:"proposal,omitempty"`
	Decision          string `yaml:"decision,omitempty"`
	RationaleContains string `yaml:"rationale_contains,omitempty"`

	// relation
	Subject  string `yaml:"subject,omitempty"`
	Relation string `yaml:"relation,omitempty"`
	Object   string `yaml:"object,omitempty"`
	Open     *bool  `yaml:"open,omitempty"`

	// history_count
	Count int `yaml:"count,omitempty"`

	// state_at
	At int64 `yaml:"at,omitempty"`
}

// Assertion type constants.
const (
	AssertNodeState    = "node_state"
	AssertDecision     = "decision"
	AssertRelation     = "relation"
	AssertHistoryCount = "history_count"
	AssertStateAt      = "state_at"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently skipping checks.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Scope == "" {
		return fmt.Errorf("scope is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Rules != "" {
		if _, err := os.Stat(s.Rules); err != nil {
			return fmt.Errorf("rules file not found: %s", s.Rules)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	set := 0
	if step.Submit != nil {
		set++
	}
	if step.Canonize {
		set++
	}
	if step.AdvanceTime != 0 {
		set++
	}
	if step.Revert != nil {
		set++
	}
	if step.Capture != nil {
		set++
	}
	if step.Restore != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one action per step, got %d", index, set)
	}

	if sub := step.Submit; sub != nil {
		if sub.ID == "" {
			return fmt.Errorf("steps[%d].submit: id is required", index)
		}
		if sub.Kind == "" {
			return fmt.Errorf("steps[%d].submit: kind is required", index)
		}
		if sub.Authority == "" {
			return fmt.Errorf("steps[%d].submit: authority is required", index)
		}
	}
	if step.AdvanceTime < 0 {
		return fmt.Errorf("steps[%d]: advance_time must be positive", index)
	}
	if rev := step.Revert; rev != nil {
		if rev.Subject == "" {
			return fmt.Errorf("steps[%d].revert: subject is required", index)
		}
		if rev.To <= 0 {
			return fmt.Errorf("steps[%d].revert: to is required", index)
		}
	}
	if c := step.Capture; c != nil && c.ScopeID == "" {
		return fmt.Errorf("steps[%d].capture: scope_id is required", index)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertNodeState:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for node_state", index)
		}
	case AssertDecision:
		if a.Proposal == "" {
			return fmt.Errorf("assertions[%d]: proposal is required for decision", index)
		}
		if a.Decision == "" {
			return fmt.Errorf("assertions[%d]: decision is required for decision", index)
		}
	case AssertRelation:
		if a.Subject == "" || a.Relation == "" || a.Object == "" {
			return fmt.Errorf("assertions[%d]: subject, relation, and object are required for relation", index)
		}
	case AssertHistoryCount:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for history_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertStateAt:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for state_at", index)
		}
		if a.At <= 0 {
			return fmt.Errorf("assertions[%d]: at is required for state_at", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
