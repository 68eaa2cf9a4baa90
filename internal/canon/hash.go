package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm migration.
const (
	DomainChange   = "canonry/change/v1"
	DomainSnapshot = "canonry/snapshot/v1"
	DomainState    = "canonry/state/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte separator prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ChangeRecordID computes the content-addressed ID for a change record.
// The ID is stable across restarts and replays given the same inputs.
// Identity covers "what changed" plus its transaction and position; the
// author is excluded so the same logical mutation replayed under a
// different operator account keeps its identity.
func ChangeRecordID(rec ChangeRecord) (string, error) {
	old := rec.OldValue
	if old == nil {
		old = Null{}
	}
	nv := rec.NewValue
	if nv == nil {
		nv = Null{}
	}

	obj := Object{
		"subject_type":   String(rec.SubjectType),
		"subject_id":     String(rec.SubjectID),
		"change_type":    String(rec.ChangeType),
		"field_path":     String(rec.FieldPath),
		"old_value":      old,
		"new_value":      nv,
		"transaction_id": String(rec.TransactionID),
		"seq":            Int(rec.Seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ChangeRecordID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainChange, canonical), nil
}

// SnapshotID computes the content-addressed ID for a snapshot from its
// scope, capture time, and canonical payload.
func SnapshotID(scope, scopeID string, capturedAt int64, payload []byte) string {
	header := fmt.Sprintf("%s\x00%s\x00%d\x00", scope, scopeID, capturedAt)
	return hashWithDomain(DomainSnapshot, append([]byte(header), payload...))
}

// StateHash computes a digest of a canonical JSON projection payload.
// Used by tests and snapshot diffing to compare states cheaply.
func StateHash(payload []byte) string {
	return hashWithDomain(DomainState, payload)
}

// MustChangeRecordID is like ChangeRecordID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustChangeRecordID(rec ChangeRecord) string {
	id, err := ChangeRecordID(rec)
	if err != nil {
		panic(err)
	}
	return id
}
