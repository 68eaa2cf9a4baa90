package reconstruct

import (
	"sort"

	"github.com/loomworld/canonry/internal/canon"
)

// AttrChange is one attribute difference between two projections.
type AttrChange struct {
	Path string      `json:"path"`
	From canon.Value `json:"from"`
	To   canon.Value `json:"to"`
}

// RelationChange is one edge difference between two projections.
type RelationChange struct {
	FieldPath string         `json:"field_path"`
	From      *RelationState `json:"from,omitempty"`
	To        *RelationState `json:"to,omitempty"`
}

// Diff is the field-level difference between two projections of the same
// subject, oriented from A to B.
type Diff struct {
	SubjectID     string            `json:"subject_id"`
	ExistsChanged bool              `json:"exists_changed,omitempty"`
	ExistsFrom    bool              `json:"exists_from,omitempty"`
	ExistsTo      bool              `json:"exists_to,omitempty"`
	StatusFrom    canon.CanonStatus `json:"status_from,omitempty"`
	StatusTo      canon.CanonStatus `json:"status_to,omitempty"`
	Attrs         []AttrChange      `json:"attrs,omitempty"`
	TagsAdded     []string          `json:"tags_added,omitempty"`
	TagsRemoved   []string          `json:"tags_removed,omitempty"`
	Relations     []RelationChange  `json:"relations,omitempty"`
}

// Empty reports whether the two projections were identical.
func (d *Diff) Empty() bool {
	return !d.ExistsChanged &&
		d.StatusFrom == d.StatusTo &&
		len(d.Attrs) == 0 &&
		len(d.TagsAdded) == 0 &&
		len(d.TagsRemoved) == 0 &&
		len(d.Relations) == 0
}

// Compare computes the field-level difference from a to b.
func Compare(a, b *Projection) *Diff {
	d := &Diff{SubjectID: a.SubjectID}

	if a.Exists != b.Exists {
		d.ExistsChanged = true
		d.ExistsFrom = a.Exists
		d.ExistsTo = b.Exists
	}
	if a.Status != b.Status {
		d.StatusFrom = a.Status
		d.StatusTo = b.Status
	}

	d.Attrs = diffAttrs("", a.Attrs, b.Attrs)
	sort.Slice(d.Attrs, func(i, j int) bool { return d.Attrs[i].Path < d.Attrs[j].Path })

	for _, t := range b.SortedTags() {
		if !a.Tags[t] {
			d.TagsAdded = append(d.TagsAdded, t)
		}
	}
	for _, t := range a.SortedTags() {
		if !b.Tags[t] {
			d.TagsRemoved = append(d.TagsRemoved, t)
		}
	}

	keys := make(map[string]bool)
	for k := range a.Relations {
		keys[k] = true
	}
	for k := range b.Relations {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		ra, inA := a.Relations[k]
		rb, inB := b.Relations[k]
		if inA && inB && ra == rb {
			continue
		}
		change := RelationChange{FieldPath: k}
		if inA {
			copied := ra
			change.From = &copied
		}
		if inB {
			copied := rb
			change.To = &copied
		}
		d.Relations = append(d.Relations, change)
	}

	return d
}

// diffAttrs walks two attribute objects producing dotted-path changes.
// Nested objects are compared key by key; any other value mismatch is one
// change at its path.
func diffAttrs(prefix string, a, b canon.Object) []AttrChange {
	var changes []AttrChange

	keys := make(map[string]bool)
	for k := range a {
		keys[k] = true
	}
	for k := range b {
		keys[k] = true
	}

	for k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		va, inA := a[k]
		vb, inB := b[k]

		switch {
		case inA && !inB:
			changes = append(changes, AttrChange{Path: path, From: va, To: canon.Null{}})
		case !inA && inB:
			changes = append(changes, AttrChange{Path: path, From: canon.Null{}, To: vb})
		case canon.Equal(va, vb):
			// unchanged
		default:
			oa, aIsObj := va.(canon.Object)
			ob, bIsObj := vb.(canon.Object)
			if aIsObj && bIsObj {
				changes = append(changes, diffAttrs(path, oa, ob)...)
			} else {
				changes = append(changes, AttrChange{Path: path, From: va, To: vb})
			}
		}
	}
	return changes
}
