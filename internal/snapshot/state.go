package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/reconstruct"
	"github.com/loomworld/canonry/internal/store"
)

// scopeState is the decoded form of a snapshot payload: one projection per
// node, keyed by node id.
type scopeState map[string]*reconstruct.Projection

// readScopeState loads the live state of every node in a scope.
func readScopeState(ctx context.Context, s *store.Store, scope string) (scopeState, error) {
	nodes, err := s.ScopeNodes(ctx, scope)
	if err != nil {
		return nil, err
	}

	state := make(scopeState, len(nodes))
	for _, node := range nodes {
		p := &reconstruct.Projection{
			SubjectID: node.ID,
			Exists:    true,
			Kind:      node.Kind,
			Scope:     node.Scope,
			Status:    node.Status,
			Attrs:     node.Attrs,
			Tags:      make(map[string]bool, len(node.Tags)),
			Relations: make(map[string]reconstruct.RelationState),
		}
		for _, t := range node.Tags {
			p.Tags[t] = true
		}

		rels, err := s.NodeRelations(ctx, node.ID)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			if rel.SubjectID != node.ID {
				continue
			}
			p.Relations[store.RelationFieldPath(rel.Type, rel.ObjectID)] = reconstruct.RelationState{
				ID:        rel.ID,
				Type:      rel.Type,
				ObjectID:  rel.ObjectID,
				ValidFrom: rel.ValidFrom,
				ValidTo:   rel.ValidTo,
			}
		}
		state[node.ID] = p
	}
	return state, nil
}

// encodeState serializes a scope state as canonical JSON. Node order and
// object key order are deterministic, so identical states produce
// byte-identical payloads and therefore identical snapshot ids.
func encodeState(state scopeState) ([]byte, error) {
	ids := make([]string, 0, len(state))
	for id := range state {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make(canon.Array, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, encodeProjection(state[id]))
	}

	return canon.MarshalCanonical(canon.Object{"nodes": nodes})
}

func encodeProjection(p *reconstruct.Projection) canon.Object {
	tags := p.SortedTags()
	tagArr := make(canon.Array, len(tags))
	for i, t := range tags {
		tagArr[i] = canon.String(t)
	}

	rels := make(canon.Object, len(p.Relations))
	for key, rel := range p.Relations {
		rels[key] = canon.Object{
			"relation_id":   canon.String(rel.ID),
			"relation_type": canon.String(rel.Type),
			"object_id":     canon.String(rel.ObjectID),
			"valid_from":    canon.Int(rel.ValidFrom),
			"valid_to":      canon.Int(rel.ValidTo),
		}
	}

	return canon.Object{
		"id":           canon.String(p.SubjectID),
		"kind":         canon.String(p.Kind),
		"scope":        canon.String(p.Scope),
		"canon_status": canon.String(p.Status),
		"attrs":        p.Attrs,
		"tags":         tagArr,
		"relations":    rels,
	}
}

// DecodeState parses a stored snapshot payload back into per-node
// projections, keyed by node id.
func DecodeState(payload []byte) (map[string]*reconstruct.Projection, error) {
	v, err := canon.ParseValue(payload)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot payload: %w", err)
	}
	root, ok := v.(canon.Object)
	if !ok {
		return nil, fmt.Errorf("snapshot payload is not an object")
	}
	nodes, ok := root["nodes"].(canon.Array)
	if !ok {
		return nil, fmt.Errorf("snapshot payload missing nodes array")
	}

	state := make(scopeState, len(nodes))
	for i, elem := range nodes {
		doc, ok := elem.(canon.Object)
		if !ok {
			return nil, fmt.Errorf("snapshot node %d is not an object", i)
		}
		p, err := decodeProjection(doc)
		if err != nil {
			return nil, fmt.Errorf("snapshot node %d: %w", i, err)
		}
		state[p.SubjectID] = p
	}
	return state, nil
}

func decodeProjection(doc canon.Object) (*reconstruct.Projection, error) {
	id, ok := doc["id"].(canon.String)
	if !ok || id == "" {
		return nil, fmt.Errorf("missing node id")
	}

	p := &reconstruct.Projection{
		SubjectID: string(id),
		Exists:    true,
		Attrs:     canon.Object{},
		Tags:      make(map[string]bool),
		Relations: make(map[string]reconstruct.RelationState),
	}
	if kind, ok := doc["kind"].(canon.String); ok {
		p.Kind = string(kind)
	}
	if scope, ok := doc["scope"].(canon.String); ok {
		p.Scope = string(scope)
	}
	if status, ok := doc["canon_status"].(canon.String); ok {
		p.Status = canon.CanonStatus(status)
	}
	if attrs, ok := doc["attrs"].(canon.Object); ok {
		p.Attrs = attrs
	}
	if tags, ok := doc["tags"].(canon.Array); ok {
		for _, t := range tags {
			if s, ok := t.(canon.String); ok {
				p.Tags[string(s)] = true
			}
		}
	}
	if rels, ok := doc["relations"].(canon.Object); ok {
		for key, v := range rels {
			relDoc, ok := v.(canon.Object)
			if !ok {
				return nil, fmt.Errorf("relation %q is not an object", key)
			}
			rel := reconstruct.RelationState{}
			if s, ok := relDoc["relation_id"].(canon.String); ok {
				rel.ID = string(s)
			}
			if s, ok := relDoc["relation_type"].(canon.String); ok {
				rel.Type = string(s)
			}
			if s, ok := relDoc["object_id"].(canon.String); ok {
				rel.ObjectID = string(s)
			}
			if n, ok := relDoc["valid_from"].(canon.Int); ok {
				rel.ValidFrom = int64(n)
			}
			if n, ok := relDoc["valid_to"].(canon.Int); ok {
				rel.ValidTo = int64(n)
			}
			p.Relations[key] = rel
		}
	}
	return p, nil
}
