package gate

import (
	"fmt"
	"sort"

	"github.com/loomworld/canonry/internal/canon"
	"github.com/loomworld/canonry/internal/store"
)

// recordBuilder assembles the change records of one canonization decision.
// All records share one transaction id and consecutive seq values.
type recordBuilder struct {
	txnID     string
	timestamp int64
	clock     *Clock
	tokens    TokenGenerator
	records   []canon.ChangeRecord
}

// add stamps, hashes, and appends one record.
func (rb *recordBuilder) add(rec canon.ChangeRecord) error {
	rec.TransactionID = rb.txnID
	rec.Timestamp = rb.timestamp
	rec.Seq = rb.clock.Next()

	id, err := canon.ChangeRecordID(rec)
	if err != nil {
		return fmt.Errorf("hash record: %w", err)
	}
	rec.ID = id
	rb.records = append(rb.records, rec)
	return nil
}

// buildRecords converts a winning candidate into its ledger records:
// the payload's own mutation plus retirement of any canon state the
// candidate displaced.
func (rb *recordBuilder) buildRecords(c *candidate) error {
	p := c.proposal
	evidence := primaryEvidence(p)

	switch p.Payload.Kind {
	case canon.KindEntity:
		e := p.Payload.Entity
		tags := make([]string, len(e.Tags))
		copy(tags, e.Tags)
		sort.Strings(tags)

		tagValues := make(canon.Array, len(tags))
		for i, t := range tags {
			tagValues[i] = canon.String(t)
		}
		attrs := e.Attrs
		if attrs == nil {
			attrs = canon.Object{}
		}

		// Retire the node this entity replaces before introducing it.
		if old := c.supersedes; old != nil {
			err := rb.add(canon.ChangeRecord{
				SubjectType: canon.SubjectNode,
				SubjectID:   old.ID,
				ChangeType:  canon.ChangeNodeRetconned,
				FieldPath:   store.PathCanonStatus,
				OldValue: canon.Object{
					"canon_status":  canon.String(string(old.Status)),
					"superseded_by": canon.String(old.SupersededBy),
				},
				NewValue: canon.Object{
					"canon_status":  canon.String(string(canon.StatusRetconned)),
					"superseded_by": canon.String(e.NodeID),
				},
				Author:    p.ID,
				Authority: p.Authority,
				Evidence:  evidence,
			})
			if err != nil {
				return err
			}
		}

		doc := canon.Object{
			"kind":           canon.String(e.NodeKind),
			"scope":          canon.String(e.Scope),
			"attrs":          attrs,
			"tags":           tagValues,
			"confidence_ppm": canon.Int(p.ConfidencePPM),
		}
		if e.Supersedes != "" {
			doc["supersedes"] = canon.String(e.Supersedes)
		}
		return rb.add(canon.ChangeRecord{
			SubjectType: canon.SubjectNode,
			SubjectID:   e.NodeID,
			ChangeType:  canon.ChangeNodeCreated,
			OldValue:    canon.Null{},
			NewValue:    doc,
			Author:      p.ID,
			Authority:   p.Authority,
			Evidence:    evidence,
		})

	case canon.KindFact:
		f := p.Payload.Fact
		var old canon.Value = canon.Null{}
		if c.node != nil {
			old = canon.GetPath(c.node.Attrs, f.Path)
		}
		return rb.add(canon.ChangeRecord{
			SubjectType: canon.SubjectNode,
			SubjectID:   f.SubjectID,
			ChangeType:  canon.ChangeAttrSet,
			FieldPath:   store.PathAttrsPrefix + f.Path,
			OldValue:    old,
			NewValue:    f.Value,
			Author:      p.ID,
			Authority:   p.Authority,
			Evidence:    evidence,
		})

	case canon.KindRelationship:
		r := p.Payload.Relationship

		// Close canon edges this relation displaces before opening it.
		for _, rel := range c.displacedRelations {
			err := rb.add(canon.ChangeRecord{
				SubjectType: canon.SubjectNode,
				SubjectID:   rel.SubjectID,
				ChangeType:  canon.ChangeRelationClosed,
				FieldPath:   store.RelationFieldPath(rel.Type, rel.ObjectID),
				OldValue:    canon.Int(0),
				NewValue: canon.Object{
					"relation_id": canon.String(rel.ID),
					"valid_to":    canon.Int(rb.timestamp),
				},
				Author:    p.ID,
				Authority: p.Authority,
				Evidence:  evidence,
			})
			if err != nil {
				return err
			}
		}

		return rb.add(canon.ChangeRecord{
			SubjectType: canon.SubjectNode,
			SubjectID:   r.SubjectID,
			ChangeType:  canon.ChangeRelationOpened,
			FieldPath:   store.RelationFieldPath(r.Type, r.ObjectID),
			OldValue:    canon.Null{},
			NewValue: canon.Object{
				"relation_id":    canon.String(rb.tokens.Generate()),
				"relation_type":  canon.String(r.Type),
				"object_id":      canon.String(r.ObjectID),
				"valid_from":     canon.Int(rb.timestamp),
				"confidence_ppm": canon.Int(p.ConfidencePPM),
			},
			Author:    p.ID,
			Authority: p.Authority,
			Evidence:  evidence,
		})

	case canon.KindStateChange:
		sc := p.Payload.StateChange

		current := make(map[string]bool)
		if c.node != nil {
			for _, t := range c.node.Tags {
				current[t] = true
			}
		}

		removals := append([]string{}, c.displacedTags...)
		for _, t := range sc.RemoveTags {
			removals = append(removals, t)
		}
		sort.Strings(removals)
		for _, t := range removals {
			if !current[t] {
				continue // already absent, nothing to record
			}
			current[t] = false
			err := rb.add(canon.ChangeRecord{
				SubjectType: canon.SubjectNode,
				SubjectID:   sc.SubjectID,
				ChangeType:  canon.ChangeTagRemoved,
				FieldPath:   store.PathTags,
				OldValue:    canon.String(t),
				NewValue:    canon.Null{},
				Author:      p.ID,
				Authority:   p.Authority,
				Evidence:    evidence,
			})
			if err != nil {
				return err
			}
		}

		additions := append([]string{}, sc.AddTags...)
		sort.Strings(additions)
		for _, t := range additions {
			if current[t] {
				continue // already present
			}
			err := rb.add(canon.ChangeRecord{
				SubjectType: canon.SubjectNode,
				SubjectID:   sc.SubjectID,
				ChangeType:  canon.ChangeTagAdded,
				FieldPath:   store.PathTags,
				OldValue:    canon.Null{},
				NewValue:    canon.String(t),
				Author:      p.ID,
				Authority:   p.Authority,
				Evidence:    evidence,
			})
			if err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown proposal kind %q", p.Payload.Kind)
	}
}

// primaryEvidence picks the proposal's earliest evidence reference for
// stamping onto records.
func primaryEvidence(p *canon.Proposal) canon.EvidenceRef {
	var best canon.EvidenceRef
	for _, ev := range p.Evidence {
		if best.Source == "" || (ev.Timestamp != 0 && (best.Timestamp == 0 || ev.Timestamp < best.Timestamp)) {
			best = ev
		}
	}
	return best
}
