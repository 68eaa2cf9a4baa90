package reconstruct

import (
	"fmt"
	"strings"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/store"
)

// changeFuncs is an apply/reverse pair for one change type. apply moves a
// projection forward through the record; reverse moves it back. Reversals
// rely on the record's old value being faithful, which the gate guarantees
// by materializing records against committed state.
type changeFuncs struct {
	apply   func(p *Projection, rec canon.ChangeRecord) error
	reverse func(p *Projection, rec canon.ChangeRecord) error
}

// registry is the closed dispatch table. Reconstruction fails closed on any
// change type absent from it.
var registry = map[canon.ChangeType]changeFuncs{
	canon.ChangeNodeCreated: {
		apply:   applyNodeCreated,
		reverse: reverseNodeCreated,
	},
	canon.ChangeNodeRetconned: {
		apply:   applyNodeRetconned,
		reverse: reverseNodeRetconned,
	},
	canon.ChangeAttrSet: {
		apply:   applyAttrSet,
		reverse: reverseAttrSet,
	},
	canon.ChangeTagAdded: {
		apply:   applyTagAdded,
		reverse: reverseTagAdded,
	},
	canon.ChangeTagRemoved: {
		apply:   applyTagRemoved,
		reverse: reverseTagRemoved,
	},
	canon.ChangeRelationOpened: {
		apply:   applyRelationOpened,
		reverse: reverseRelationOpened,
	},
	canon.ChangeRelationClosed: {
		apply:   applyRelationClosed,
		reverse: reverseRelationClosed,
	},
	canon.ChangeReverted: {
		apply:   applyReverted,
		reverse: reverseReverted,
	},
}

// lookup returns the registered pair for a change type.
func lookup(ct canon.ChangeType) (changeFuncs, bool) {
	fns, ok := registry[ct]
	return fns, ok
}

func applyNodeCreated(p *Projection, rec canon.ChangeRecord) error {
	doc, ok := rec.NewValue.(canon.Object)
	if !ok {
		return fmt.Errorf("node-created requires an object new value, got %T", rec.NewValue)
	}
	p.Exists = true
	p.Status = canon.StatusCanon
	if kind, ok := doc["kind"].(canon.String); ok {
		p.Kind = string(kind)
	}
	if scope, ok := doc["scope"].(canon.String); ok {
		p.Scope = string(scope)
	}
	if attrs, ok := doc["attrs"].(canon.Object); ok {
		p.Attrs = cloneObject(attrs)
	}
	p.Tags = make(map[string]bool)
	if tags, ok := doc["tags"].(canon.Array); ok {
		for _, t := range tags {
			if s, ok := t.(canon.String); ok {
				p.Tags[string(s)] = true
			}
		}
	}
	return nil
}

func reverseNodeCreated(p *Projection, rec canon.ChangeRecord) error {
	p.Exists = false
	p.Kind = ""
	p.Scope = ""
	p.Status = ""
	p.Attrs = canon.Object{}
	p.Tags = make(map[string]bool)
	return nil
}

func applyNodeRetconned(p *Projection, rec canon.ChangeRecord) error {
	doc, ok := rec.NewValue.(canon.Object)
	if !ok {
		return fmt.Errorf("node-retconned requires an object new value, got %T", rec.NewValue)
	}
	if status, ok := doc["canon_status"].(canon.String); ok {
		p.Status = canon.CanonStatus(status)
	}
	return nil
}

func reverseNodeRetconned(p *Projection, rec canon.ChangeRecord) error {
	doc, ok := rec.OldValue.(canon.Object)
	if !ok {
		return fmt.Errorf("node-retconned requires an object old value, got %T", rec.OldValue)
	}
	if status, ok := doc["canon_status"].(canon.String); ok {
		p.Status = canon.CanonStatus(status)
	}
	return nil
}

func applyAttrSet(p *Projection, rec canon.ChangeRecord) error {
	return setAttrPath(p, rec.FieldPath, rec.NewValue)
}

func reverseAttrSet(p *Projection, rec canon.ChangeRecord) error {
	return setAttrPath(p, rec.FieldPath, rec.OldValue)
}

func setAttrPath(p *Projection, fieldPath string, v canon.Value) error {
	path, ok := strings.CutPrefix(fieldPath, store.PathAttrsPrefix)
	if !ok || path == "" {
		return fmt.Errorf("attr change requires an attrs field path, got %q", fieldPath)
	}
	return canon.SetPath(p.Attrs, path, v)
}

func applyTagAdded(p *Projection, rec canon.ChangeRecord) error {
	tag, ok := rec.NewValue.(canon.String)
	if !ok {
		return fmt.Errorf("tag-added requires a string new value, got %T", rec.NewValue)
	}
	p.Tags[string(tag)] = true
	return nil
}

func reverseTagAdded(p *Projection, rec canon.ChangeRecord) error {
	tag, ok := rec.NewValue.(canon.String)
	if !ok {
		return fmt.Errorf("tag-added requires a string new value, got %T", rec.NewValue)
	}
	delete(p.Tags, string(tag))
	return nil
}

func applyTagRemoved(p *Projection, rec canon.ChangeRecord) error {
	tag, ok := rec.OldValue.(canon.String)
	if !ok {
		return fmt.Errorf("tag-removed requires a string old value, got %T", rec.OldValue)
	}
	delete(p.Tags, string(tag))
	return nil
}

func reverseTagRemoved(p *Projection, rec canon.ChangeRecord) error {
	tag, ok := rec.OldValue.(canon.String)
	if !ok {
		return fmt.Errorf("tag-removed requires a string old value, got %T", rec.OldValue)
	}
	p.Tags[string(tag)] = true
	return nil
}

func applyRelationOpened(p *Projection, rec canon.ChangeRecord) error {
	doc, ok := rec.NewValue.(canon.Object)
	if !ok {
		return fmt.Errorf("relation-opened requires an object new value, got %T", rec.NewValue)
	}
	rel := relationFromDoc(doc)
	if rel.ID == "" {
		return fmt.Errorf("relation-opened document missing relation_id")
	}
	p.Relations[rec.FieldPath] = rel
	return nil
}

func reverseRelationOpened(p *Projection, rec canon.ChangeRecord) error {
	delete(p.Relations, rec.FieldPath)
	return nil
}

func applyRelationClosed(p *Projection, rec canon.ChangeRecord) error {
	doc, ok := rec.NewValue.(canon.Object)
	if !ok {
		return fmt.Errorf("relation-closed requires an object new value, got %T", rec.NewValue)
	}
	rel, present := p.Relations[rec.FieldPath]
	if !present {
		return fmt.Errorf("relation %q not in projection", rec.FieldPath)
	}
	if validTo, ok := doc["valid_to"].(canon.Int); ok {
		rel.ValidTo = int64(validTo)
	}
	p.Relations[rec.FieldPath] = rel
	return nil
}

func reverseRelationClosed(p *Projection, rec canon.ChangeRecord) error {
	rel, present := p.Relations[rec.FieldPath]
	if !present {
		return fmt.Errorf("relation %q not in projection", rec.FieldPath)
	}
	old := int64(0)
	if v, ok := rec.OldValue.(canon.Int); ok {
		old = int64(v)
	}
	rel.ValidTo = old
	p.Relations[rec.FieldPath] = rel
	return nil
}

// applyReverted applies a restoration record forward: the new value is the
// restored state for the named field path.
func applyReverted(p *Projection, rec canon.ChangeRecord) error {
	return applyRevertedValue(p, rec.FieldPath, rec.NewValue)
}

// reverseReverted undoes a restoration: the old value is the state the
// revert displaced.
func reverseReverted(p *Projection, rec canon.ChangeRecord) error {
	return applyRevertedValue(p, rec.FieldPath, rec.OldValue)
}

func applyRevertedValue(p *Projection, fieldPath string, v canon.Value) error {
	switch {
	case strings.HasPrefix(fieldPath, store.PathAttrsPrefix):
		return setAttrPath(p, fieldPath, v)

	case fieldPath == store.PathTags:
		arr, ok := v.(canon.Array)
		if !ok {
			return fmt.Errorf("tag revert requires an array value, got %T", v)
		}
		p.Tags = make(map[string]bool)
		for _, elem := range arr {
			if s, ok := elem.(canon.String); ok {
				p.Tags[string(s)] = true
			}
		}
		return nil

	case fieldPath == store.PathCanonStatus:
		status, ok := v.(canon.String)
		if !ok {
			return fmt.Errorf("status revert requires a string value, got %T", v)
		}
		p.Status = canon.CanonStatus(status)
		return nil

	case strings.HasPrefix(fieldPath, store.PathRelationsPrefix):
		if canon.IsNull(v) {
			delete(p.Relations, fieldPath)
			return nil
		}
		doc, ok := v.(canon.Object)
		if !ok {
			return fmt.Errorf("relation revert requires an object value, got %T", v)
		}
		rel := relationFromDoc(doc)
		if rel.ID == "" {
			delete(p.Relations, fieldPath)
			return nil
		}
		p.Relations[fieldPath] = rel
		return nil

	default:
		return fmt.Errorf("revert of unknown field path %q", fieldPath)
	}
}

// relationFromDoc decodes an edge document into a RelationState.
func relationFromDoc(doc canon.Object) RelationState {
	var rel RelationState
	if id, ok := doc["relation_id"].(canon.String); ok {
		rel.ID = string(id)
	}
	if t, ok := doc["relation_type"].(canon.String); ok {
		rel.Type = string(t)
	}
	if obj, ok := doc["object_id"].(canon.String); ok {
		rel.ObjectID = string(obj)
	}
	if from, ok := doc["valid_from"].(canon.Int); ok {
		rel.ValidFrom = int64(from)
	}
	if to, ok := doc["valid_to"].(canon.Int); ok {
		rel.ValidTo = int64(to)
	}
	return rel
}
