package reconstruct

import (
	"context"
	"sort"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/store"
)

// RelationState is one edge window inside a projection, keyed by the
// relation field path.
type RelationState struct {
	ID        string `json:"relation_id"`
	Type      string `json:"relation_type"`
	ObjectID  string `json:"object_id"`
	ValidFrom int64  `json:"valid_from"`
	ValidTo   int64  `json:"valid_to"` // 0 = open
}

// Projection is the in-memory state of one subject at some instant.
// It is a value the reconstructor mutates freely; nothing aliases the
// store.
type Projection struct {
	SubjectID string                   `json:"subject_id"`
	Exists    bool                     `json:"exists"`
	Kind      string                   `json:"kind,omitempty"`
	Scope     string                   `json:"scope,omitempty"`
	Status    canon.CanonStatus        `json:"canon_status,omitempty"`
	Attrs     canon.Object             `json:"attrs,omitempty"`
	Tags      map[string]bool          `json:"-"`
	Relations map[string]RelationState `json:"relations,omitempty"`
}

// newProjection creates an empty projection for a subject.
func newProjection(subjectID string) *Projection {
	return &Projection{
		SubjectID: subjectID,
		Attrs:     canon.Object{},
		Tags:      make(map[string]bool),
		Relations: make(map[string]RelationState),
	}
}

// SortedTags returns the tag set as a sorted slice.
func (p *Projection) SortedTags() []string {
	tags := make([]string, 0, len(p.Tags))
	for t, present := range p.Tags {
		if present {
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	return tags
}

// Clone returns a deep copy of the projection.
func (p *Projection) Clone() *Projection {
	c := newProjection(p.SubjectID)
	c.Exists = p.Exists
	c.Kind = p.Kind
	c.Scope = p.Scope
	c.Status = p.Status
	c.Attrs = cloneObject(p.Attrs)
	for t, present := range p.Tags {
		c.Tags[t] = present
	}
	for k, rel := range p.Relations {
		c.Relations[k] = rel
	}
	return c
}

// cloneObject deep-copies an attribute object. Scalar values are immutable
// and shared.
func cloneObject(obj canon.Object) canon.Object {
	out := make(canon.Object, len(obj))
	for k, v := range obj {
		if inner, ok := v.(canon.Object); ok {
			out[k] = cloneObject(inner)
			continue
		}
		if arr, ok := v.(canon.Array); ok {
			copied := make(canon.Array, len(arr))
			copy(copied, arr)
			out[k] = copied
			continue
		}
		out[k] = v
	}
	return out
}

// liveProjection loads a subject's current state from the store.
// A missing node yields a projection with Exists=false.
func liveProjection(ctx context.Context, s *store.Store, subjectID string) (*Projection, error) {
	p := newProjection(subjectID)

	node, err := s.GetNode(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return p, nil
	}

	p.Exists = true
	p.Kind = node.Kind
	p.Scope = node.Scope
	p.Status = node.Status
	p.Attrs = cloneObject(node.Attrs)
	for _, t := range node.Tags {
		p.Tags[t] = true
	}

	rels, err := s.NodeRelations(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for _, rel := range rels {
		if rel.SubjectID != subjectID {
			continue // edges pointing at the subject are the object's state
		}
		key := store.RelationFieldPath(rel.Type, rel.ObjectID)
		p.Relations[key] = RelationState{
			ID:        rel.ID,
			Type:      rel.Type,
			ObjectID:  rel.ObjectID,
			ValidFrom: rel.ValidFrom,
			ValidTo:   rel.ValidTo,
		}
	}
	return p, nil
}
