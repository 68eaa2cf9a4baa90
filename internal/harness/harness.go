package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/gate"
	"github.com/loomworld/canonry/internal/reconstruct"
	"github.com/loomworld/canonry/internal/rules"
	"github.com/loomworld/canonry/internal/snapshot"
	"github.com/loomworld/canonry/internal/store"
	"github.com/loomworld/canonry/internal/testutil"
)

const defaultStartTime = 10_000

// TraceEvent is one entry in a scenario's execution trace. Fields are
// omitted when empty so canonical serialization stays compact.
type TraceEvent struct {
	Type      string `json:"type"`
	Seq       int    `json:"seq"`
	Proposal  string `json:"proposal,omitempty"`
	Status    string `json:"status,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Txn       string `json:"txn,omitempty"`
	Subject   string `json:"subject,omitempty"`
	To        int64  `json:"to,omitempty"`
	ScopeID   string `json:"scope_id,omitempty"`
}

// Result is the outcome of one scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every submission, decision, revert, capture, and
	// restore in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists assertion failures. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// AddError records an assertion failure and marks the run failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

func (r *Result) addEvent(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

// Harness wires a fresh store, gate, reconstructor, and snapshot manager
// with deterministic clocks and tokens for one scenario run.
type Harness struct {
	store  *store.Store
	gate   *gate.Gate
	rec    *reconstruct.Reconstructor
	snaps  *snapshot.Manager
	wall   *testutil.WallClock
	scope  string
	closer func()

	lastSnapshot string
}

// New builds a harness for one scenario. The caller must Close it.
func New(scenario *Scenario) (*Harness, error) {
	rs := rules.Default()
	if scenario.Rules != "" {
		var err error
		rs, err = rules.LoadFile(scenario.Rules)
		if err != nil {
			return nil, fmt.Errorf("load scenario rules: %w", err)
		}
	}

	dir, err := os.MkdirTemp("", "canonry-harness-")
	if err != nil {
		return nil, err
	}
	s, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("open scenario store: %w", err)
	}

	start := scenario.StartTime
	if start == 0 {
		start = defaultStartTime
	}
	wall := testutil.NewWallClock(start)
	clock := gate.NewClock()
	tokens := testutil.NewSeqTokenGenerator("tok")

	g := gate.New(s, rs,
		gate.WithClock(clock),
		gate.WithTokens(tokens),
		gate.WithNow(wall.Now),
	)
	rec := reconstruct.New(s,
		reconstruct.WithClock(clock),
		reconstruct.WithTokens(tokens),
		reconstruct.WithNow(wall.Now),
	)
	snaps := snapshot.New(s, g,
		snapshot.WithTokens(testutil.NewSeqTokenGenerator("prop-restore")),
		snapshot.WithNow(wall.Now),
	)

	return &Harness{
		store: s,
		gate:  g,
		rec:   rec,
		snaps: snaps,
		wall:  wall,
		scope: scenario.Scope,
		closer: func() {
			s.Close()
			os.RemoveAll(dir)
		},
	}, nil
}

// Close releases the harness's store and scratch directory.
func (h *Harness) Close() {
	h.closer()
}

// Run executes a scenario against a fresh harness and evaluates its
// assertions. A non-nil error means the scenario could not be executed;
// assertion failures are reported in the result instead.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	h, err := New(scenario)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.Run(ctx, scenario)
}

// Run executes the scenario's steps in order, then its assertions.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := &Result{Pass: true, Trace: []TraceEvent{}}

	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range scenario.Assertions {
		if err := h.assert(ctx, &a, result); err != nil {
			return nil, fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, step Step, result *Result) error {
	switch {
	case step.Submit != nil:
		p, err := proposalFromStep(step.Submit, h.scope, h.wall.Now())
		if err != nil {
			return err
		}
		if err := h.gate.Submit(ctx, *p); err != nil {
			return fmt.Errorf("submit %s: %w", p.ID, err)
		}
		result.addEvent(TraceEvent{Type: "submit", Proposal: p.ID})
		return nil

	case step.Canonize:
		res, err := h.gate.RunCanonization(ctx, h.scope)
		if err != nil {
			return fmt.Errorf("canonize: %w", err)
		}
		h.traceDecisions(result, res)
		return nil

	case step.AdvanceTime != 0:
		h.wall.Advance(step.AdvanceTime)
		return nil

	case step.Revert != nil:
		txn, err := h.rec.Revert(ctx, step.Revert.Subject, step.Revert.To, step.Revert.Reason)
		if err != nil {
			return fmt.Errorf("revert %s: %w", step.Revert.Subject, err)
		}
		result.addEvent(TraceEvent{
			Type:    "revert",
			Subject: step.Revert.Subject,
			To:      step.Revert.To,
			Txn:     txn,
		})
		return nil

	case step.Capture != nil:
		id, err := h.snaps.Capture(ctx, h.scope, step.Capture.ScopeID)
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		h.lastSnapshot = id
		// Snapshot ids are content hashes; the trace omits them so
		// goldens stay human-writable.
		result.addEvent(TraceEvent{Type: "snapshot", ScopeID: step.Capture.ScopeID})
		return nil

	case step.Restore != nil:
		id := step.Restore.Snapshot
		if id == "" {
			id = h.lastSnapshot
		}
		if id == "" {
			return fmt.Errorf("restore: no snapshot captured yet")
		}
		res, err := h.snaps.Restore(ctx, id)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		result.addEvent(TraceEvent{Type: "restore"})
		h.traceDecisions(result, res)
		return nil

	default:
		return fmt.Errorf("empty step")
	}
}

func (h *Harness) traceDecisions(result *Result, res *gate.Result) {
	emit := func(decisions []gate.Decision) {
		for _, d := range decisions {
			result.addEvent(TraceEvent{
				Type:      "decision",
				Proposal:  d.ProposalID,
				Status:    string(d.Status),
				Rationale: d.Rationale,
				Txn:       d.TxnID,
			})
		}
	}
	emit(res.Accepted)
	emit(res.Rejected)
	emit(res.Pending)
}

// proposalFromStep converts a YAML submit step into a proposal.
func proposalFromStep(sub *SubmitStep, scope string, now int64) (*canon.Proposal, error) {
	payload, err := payloadFromStep(sub, scope)
	if err != nil {
		return nil, err
	}

	evidence := make([]canon.EvidenceRef, 0, len(sub.Evidence))
	for _, e := range sub.Evidence {
		evidence = append(evidence, canon.EvidenceRef{
			Source:    e.Source,
			Ref:       e.Ref,
			Timestamp: e.Timestamp,
		})
	}

	return &canon.Proposal{
		ID:            sub.ID,
		Payload:       *payload,
		Evidence:      evidence,
		ConfidencePPM: sub.ConfidencePPM,
		Authority:     canon.Authority(sub.Authority),
		Scope:         scope,
		SubmittedAt:   now,
	}, nil
}

func payloadFromStep(sub *SubmitStep, scope string) (*canon.Payload, error) {
	switch canon.ProposalKind(sub.Kind) {
	case canon.KindEntity:
		attrs, err := objectFromYAML(sub.Attrs)
		if err != nil {
			return nil, fmt.Errorf("entity attrs: %w", err)
		}
		return &canon.Payload{
			Kind: canon.KindEntity,
			Entity: &canon.EntityPayload{
				NodeID:   sub.NodeID,
				NodeKind: sub.NodeKind,
				Scope:    scope,
				Attrs:    attrs,
				Tags:     sub.Tags,
			},
		}, nil

	case canon.KindFact:
		value, err := valueFromYAML(sub.Value)
		if err != nil {
			return nil, fmt.Errorf("fact value: %w", err)
		}
		return &canon.Payload{
			Kind: canon.KindFact,
			Fact: &canon.FactPayload{
				SubjectID: sub.Subject,
				Path:      sub.Path,
				Value:     value,
				OccursAt:  sub.OccursAt,
				DependsOn: sub.DependsOn,
			},
		}, nil

	case canon.KindRelationship:
		return &canon.Payload{
			Kind: canon.KindRelationship,
			Relationship: &canon.RelationshipPayload{
				SubjectID: sub.Subject,
				Type:      sub.Relation,
				ObjectID:  sub.Object,
			},
		}, nil

	case canon.KindStateChange:
		return &canon.Payload{
			Kind: canon.KindStateChange,
			StateChange: &canon.StateChangePayload{
				SubjectID:  sub.Subject,
				AddTags:    sub.AddTags,
				RemoveTags: sub.RemoveTags,
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown proposal kind %q", sub.Kind)
	}
}

// valueFromYAML converts a decoded YAML value into the sealed value union.
// Floats are rejected, matching canonical JSON parsing.
func valueFromYAML(v any) (canon.Value, error) {
	switch x := v.(type) {
	case nil:
		return canon.Null{}, nil
	case string:
		return canon.String(x), nil
	case bool:
		return canon.Bool(x), nil
	case int:
		return canon.Int(int64(x)), nil
	case int64:
		return canon.Int(x), nil
	case uint64:
		return canon.Int(int64(x)), nil
	case float64:
		return nil, fmt.Errorf("float values are not canonical: %v", x)
	case map[string]any:
		return objectFromYAML(x)
	case []any:
		arr := make(canon.Array, len(x))
		for i, elem := range x {
			val, err := valueFromYAML(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = val
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unsupported YAML value type %T", v)
	}
}

func objectFromYAML(m map[string]any) (canon.Object, error) {
	obj := make(canon.Object, len(m))
	for k, v := range m {
		val, err := valueFromYAML(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		obj[k] = val
	}
	return obj, nil
}
