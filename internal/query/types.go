package query

import "github.com/loomworld/canonry/internal/canon"

// Filter represents one condition on canonical nodes.
//
// This is a sealed interface: only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in the SQL compiler.
//
// Filter types:
//   - ScopeIs: node belongs to a scope
//   - KindIs: node has a kind
//   - StatusIs: node has a canon status
//   - HasTag: node carries a state tag
//   - AttrEquals: a dotted attribute path equals a scalar value
//   - RelatedTo: node has an open relation of a type, optionally to a
//     specific object
//
// Filters in a Query are conjunctive: every filter must hold. OR
// semantics are out of the portable fragment; run separate queries and
// merge.
type Filter interface {
	filterNode() // marker method, seals the interface to this package
}

// ScopeIs matches nodes in one scope.
type ScopeIs struct {
	Scope string
}

func (ScopeIs) filterNode() {}

// KindIs matches nodes of one kind.
type KindIs struct {
	Kind string
}

func (KindIs) filterNode() {}

// StatusIs matches nodes with one canon status.
type StatusIs struct {
	Status canon.CanonStatus
}

func (StatusIs) filterNode() {}

// HasTag matches nodes carrying a state tag.
type HasTag struct {
	Tag string
}

func (HasTag) filterNode() {}

// AttrEquals matches nodes whose attribute at a dotted path equals a
// scalar value. A Null value matches nodes where the path is absent.
//
// Arrays and objects are excluded from the portable fragment: their
// serialized forms are not comparable across backends.
type AttrEquals struct {
	Path  string
	Value canon.Value
}

func (AttrEquals) filterNode() {}

// RelatedTo matches nodes with an open relation of the given type. An
// empty ObjectID matches any object.
type RelatedTo struct {
	Type     string
	ObjectID string
}

func (RelatedTo) filterNode() {}

// Query selects canonical nodes matching every filter. Results are
// ordered by node id so repeated runs are byte-identical.
type Query struct {
	Filters []Filter
	Limit   int // 0 = no limit
}
