package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/loomworld/canonry/internal/canon"
)

// assert evaluates one assertion against the harness's final state.
// Assertion failures land in the result; a non-nil error means the
// assertion itself could not be evaluated.
func (h *Harness) assert(ctx context.Context, a *Assertion, result *Result) error {
	switch a.Type {
	case AssertNodeState:
		return h.assertNodeState(ctx, a, result)
	case AssertDecision:
		return h.assertDecision(ctx, a, result)
	case AssertRelation:
		return h.assertRelation(ctx, a, result)
	case AssertHistoryCount:
		return h.assertHistoryCount(ctx, a, result)
	case AssertStateAt:
		return h.assertStateAt(ctx, a, result)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertNodeState(ctx context.Context, a *Assertion, result *Result) error {
	node, err := h.store.GetNode(ctx, a.Node)
	if err != nil {
		return err
	}

	wantExists := true
	if a.Exists != nil {
		wantExists = *a.Exists
	}
	if !wantExists {
		if node != nil {
			result.AddError("node_state %s: node exists, want absent", a.Node)
		}
		return nil
	}
	if node == nil {
		result.AddError("node_state %s: node not found", a.Node)
		return nil
	}

	if a.Status != "" && string(node.Status) != a.Status {
		result.AddError("node_state %s: status = %q, want %q", a.Node, node.Status, a.Status)
	}
	if a.Tags != nil {
		got := append([]string(nil), node.Tags...)
		sort.Strings(got)
		want := append([]string(nil), a.Tags...)
		sort.Strings(want)
		if !equalStrings(got, want) {
			result.AddError("node_state %s: tags = %v, want %v", a.Node, got, want)
		}
	}
	return h.checkAttrs(fmt.Sprintf("node_state %s", a.Node), a.Attrs, node.Attrs, result)
}

func (h *Harness) assertDecision(ctx context.Context, a *Assertion, result *Result) error {
	p, err := h.store.GetProposal(ctx, a.Proposal)
	if err != nil {
		return err
	}
	if p == nil {
		result.AddError("decision %s: proposal not found", a.Proposal)
		return nil
	}
	if string(p.Status) != a.Decision {
		result.AddError("decision %s: status = %q, want %q", a.Proposal, p.Status, a.Decision)
	}
	if a.RationaleContains != "" && !strings.Contains(p.Rationale, a.RationaleContains) {
		result.AddError("decision %s: rationale %q does not contain %q",
			a.Proposal, p.Rationale, a.RationaleContains)
	}
	return nil
}

func (h *Harness) assertRelation(ctx context.Context, a *Assertion, result *Result) error {
	open, err := h.store.OpenRelations(ctx, a.Subject, a.Relation)
	if err != nil {
		return err
	}

	found := false
	for _, rel := range open {
		if rel.ObjectID == a.Object {
			found = true
			break
		}
	}

	wantOpen := true
	if a.Open != nil {
		wantOpen = *a.Open
	}
	if found != wantOpen {
		result.AddError("relation %s -%s-> %s: open = %v, want %v",
			a.Subject, a.Relation, a.Object, found, wantOpen)
	}
	return nil
}

func (h *Harness) assertHistoryCount(ctx context.Context, a *Assertion, result *Result) error {
	ref := canon.SubjectRef{Type: canon.SubjectNode, ID: a.Node}
	recs, err := h.store.SubjectHistory(ctx, ref, 0, 0)
	if err != nil {
		return err
	}
	if len(recs) != a.Count {
		result.AddError("history_count %s: %d records, want %d", a.Node, len(recs), a.Count)
	}
	return nil
}

func (h *Harness) assertStateAt(ctx context.Context, a *Assertion, result *Result) error {
	p, err := h.rec.StateAt(ctx, a.Node, a.At)
	if err != nil {
		return err
	}

	label := fmt.Sprintf("state_at %s@%d", a.Node, a.At)

	wantExists := true
	if a.Exists != nil {
		wantExists = *a.Exists
	}
	if p.Exists != wantExists {
		result.AddError("%s: exists = %v, want %v", label, p.Exists, wantExists)
		return nil
	}
	if !wantExists {
		return nil
	}

	if a.Status != "" && string(p.Status) != a.Status {
		result.AddError("%s: status = %q, want %q", label, p.Status, a.Status)
	}
	if a.Tags != nil {
		got := p.SortedTags()
		want := append([]string(nil), a.Tags...)
		sort.Strings(want)
		if !equalStrings(got, want) {
			result.AddError("%s: tags = %v, want %v", label, got, want)
		}
	}
	return h.checkAttrs(label, a.Attrs, p.Attrs, result)
}

// checkAttrs verifies a subset match of expected attribute values against
// an attrs object, using dotted paths.
func (h *Harness) checkAttrs(label string, expect map[string]any, attrs canon.Object, result *Result) error {
	paths := make([]string, 0, len(expect))
	for path := range expect {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		want, err := valueFromYAML(expect[path])
		if err != nil {
			return fmt.Errorf("%s: attr %q: %w", label, path, err)
		}
		got := canon.GetPath(attrs, path)
		if !canon.Equal(got, want) {
			gotJSON, _ := canon.MarshalCanonical(got)
			wantJSON, _ := canon.MarshalCanonical(want)
			result.AddError("%s: attr %q = %s, want %s", label, path, gotJSON, wantJSON)
		}
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
