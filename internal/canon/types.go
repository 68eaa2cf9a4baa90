package canon

// Authority identifies the rank of the actor asserting a change.
// The set is closed and totally ordered: player < narrator < lorekeeper < gm.
// Weighting and tie-breaks rely on this order.
type Authority string

const (
	AuthorityPlayer     Authority = "player"
	AuthorityNarrator   Authority = "narrator"
	AuthorityLorekeeper Authority = "lorekeeper"
	AuthorityGM         Authority = "gm"
)

// authorityRank maps each authority to its position in the total order.
// Higher rank wins tie-breaks.
var authorityRank = map[Authority]int{
	AuthorityPlayer:     1,
	AuthorityNarrator:   2,
	AuthorityLorekeeper: 3,
	AuthorityGM:         4,
}

// Rank returns the authority's position in the total order, or 0 for an
// unknown authority.
func (a Authority) Rank() int {
	return authorityRank[a]
}

// Valid reports whether the authority is a member of the closed set.
func (a Authority) Valid() bool {
	_, ok := authorityRank[a]
	return ok
}

// CanonStatus is the lifecycle status of a canonical node or relation.
type CanonStatus string

const (
	StatusProposed  CanonStatus = "proposed"
	StatusCanon     CanonStatus = "canon"
	StatusRetconned CanonStatus = "retconned"
)

// ProposalStatus is the decision state of a proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// ChangeType identifies the kind of mutation a ChangeRecord carries.
// Every change type has a registered apply function; reversible types also
// have a registered reverse function. Reconstruction fails closed on any
// type without a reversal.
type ChangeType string

const (
	ChangeNodeCreated    ChangeType = "node-created"
	ChangeNodeRetconned  ChangeType = "node-retconned"
	ChangeAttrSet        ChangeType = "attr-set"
	ChangeTagAdded       ChangeType = "tag-added"
	ChangeTagRemoved     ChangeType = "tag-removed"
	ChangeRelationOpened ChangeType = "relation-opened"
	ChangeRelationClosed ChangeType = "relation-closed"
	ChangeReverted       ChangeType = "reverted"
)

// Subject types for change records and history queries.
const (
	SubjectNode     = "node"
	SubjectRelation = "relation"
)

// ConfidencePPM converts a [0,1] confidence to parts-per-million, clamping
// out-of-range inputs. Integers keep hashing and replay deterministic.
func ConfidencePPM(confidence float64) int64 {
	if confidence <= 0 {
		return 0
	}
	if confidence >= 1 {
		return 1_000_000
	}
	return int64(confidence * 1_000_000)
}

// ConfidenceFromPPM converts parts-per-million back to a [0,1] float for
// display and weighting.
func ConfidenceFromPPM(ppm int64) float64 {
	return float64(ppm) / 1_000_000
}

// EvidenceRef points at the material justifying a proposal or canonical
// fact. Timestamp is unix milliseconds of the evidence itself (not of the
// reference) and participates in conflict tie-breaks.
type EvidenceRef struct {
	Source    string `json:"source"`
	Ref       string `json:"ref,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// SubjectRef names a mutable subject in the canonical store.
type SubjectRef struct {
	Type string `json:"type"` // SubjectNode or SubjectRelation
	ID   string `json:"id"`
}

// Node is a canonical entity, fact, or event in the world graph.
// Nodes are never physically deleted: retiring one sets canon_status to
// retconned and links a replacement via supersedes.
type Node struct {
	ID            string        `json:"id"`
	Kind          string        `json:"kind"`
	Scope         string        `json:"scope,omitempty"`
	Attrs         Object        `json:"attrs"`
	Tags          []string      `json:"tags"`
	ConfidencePPM int64         `json:"confidence_ppm"`
	Authority     Authority     `json:"authority"`
	Status        CanonStatus   `json:"canon_status"`
	Supersedes    string        `json:"supersedes,omitempty"`
	SupersededBy  string        `json:"superseded_by,omitempty"`
	Evidence      []EvidenceRef `json:"evidence"`
	CreatedAt     int64         `json:"created_at"` // unix millis
	Seq           int64         `json:"seq"`        // logical clock
}

// Relation is a time-scoped edge in the adjacency table. Relations are
// stored as rows, never as in-memory pointer graphs; graph cycles are just
// data. ValidTo == 0 means the relation is still open.
type Relation struct {
	ID            string        `json:"id"`
	SubjectID     string        `json:"subject_id"`
	Type          string        `json:"relation_type"`
	ObjectID      string        `json:"object_id"`
	ValidFrom     int64         `json:"valid_from"`
	ValidTo       int64         `json:"valid_to,omitempty"`
	ConfidencePPM int64         `json:"confidence_ppm"`
	Authority     Authority     `json:"authority"`
	Evidence      []EvidenceRef `json:"evidence"`
	CreatedAt     int64         `json:"created_at"`
	Seq           int64         `json:"seq"`
}

// ChangeRecord is one immutable entry in the change ledger. Once written it
// is never updated or deleted; the schema enforces this with triggers.
// All records sharing a TransactionID come from one canonization decision
// and are visible atomically.
type ChangeRecord struct {
	ID            string      `json:"id"` // content-addressed
	SubjectType   string      `json:"subject_type"`
	SubjectID     string      `json:"subject_id"`
	ChangeType    ChangeType  `json:"change_type"`
	FieldPath     string      `json:"field_path,omitempty"`
	OldValue      Value       `json:"old_value"`
	NewValue      Value       `json:"new_value"`
	Author        string      `json:"author"`
	Authority     Authority   `json:"authority"`
	Evidence      EvidenceRef `json:"evidence"`
	TransactionID string      `json:"transaction_id"`
	Timestamp     int64       `json:"timestamp"` // unix millis
	Seq           int64       `json:"seq"`       // logical clock
}

// Snapshot is an immutable, point-in-time copy of canonical state for one
// scope, chained to its predecessor via ParentID.
type Snapshot struct {
	ID         string `json:"id"`
	Scope      string `json:"scope"`
	ScopeID    string `json:"scope_id"`
	CapturedAt int64  `json:"captured_at"`
	Payload    []byte `json:"-"` // canonical JSON
	ParentID   string `json:"parent_snapshot_id,omitempty"`
}
