package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/loomworld/canonry/internal/canon"
)

// marshalValue converts a canon.Value to canonical JSON TEXT for storage.
// A nil value is stored as explicit null so old/new columns round-trip.
func marshalValue(v canon.Value) (string, error) {
	if v == nil {
		v = canon.Null{}
	}
	data, err := canon.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses canonical JSON TEXT back to a canon.Value.
func unmarshalValue(data string) (canon.Value, error) {
	if data == "" {
		return canon.Null{}, nil
	}
	v, err := canon.ParseValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

// marshalAttrs converts an attribute object to canonical JSON TEXT.
func marshalAttrs(attrs canon.Object) (string, error) {
	if attrs == nil {
		attrs = canon.Object{}
	}
	data, err := canon.MarshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	return string(data), nil
}

// unmarshalAttrs parses stored attrs TEXT to an Object.
func unmarshalAttrs(data string) (canon.Object, error) {
	if data == "" || data == "{}" {
		return canon.Object{}, nil
	}
	var obj canon.Object
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	return obj, nil
}

// marshalTags converts a tag set to a sorted JSON array for deterministic
// storage and diffing.
func marshalTags(tags []string) (string, error) {
	sorted := make([]string, len(tags))
	copy(sorted, tags)
	sort.Strings(sorted)

	data, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(data), nil
}

// unmarshalTags parses stored tags TEXT to a string slice.
// Returns an empty slice (not nil) for empty input.
func unmarshalTags(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return []string{}, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(data), &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return tags, nil
}

// marshalEvidence converts an evidence list to JSON TEXT.
// Struct field order gives deterministic output for a fixed list.
func marshalEvidence(evidence []canon.EvidenceRef) (string, error) {
	if evidence == nil {
		evidence = []canon.EvidenceRef{}
	}
	data, err := json.Marshal(evidence)
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}
	return string(data), nil
}

// unmarshalEvidence parses stored evidence TEXT to a list.
func unmarshalEvidence(data string) ([]canon.EvidenceRef, error) {
	if data == "" || data == "[]" {
		return []canon.EvidenceRef{}, nil
	}
	var evidence []canon.EvidenceRef
	if err := json.Unmarshal([]byte(data), &evidence); err != nil {
		return nil, fmt.Errorf("unmarshal evidence: %w", err)
	}
	return evidence, nil
}

// marshalEvidenceRef converts a single evidence reference to JSON TEXT.
func marshalEvidenceRef(ev canon.EvidenceRef) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal evidence ref: %w", err)
	}
	return string(data), nil
}

// unmarshalEvidenceRef parses a single stored evidence reference.
func unmarshalEvidenceRef(data string) (canon.EvidenceRef, error) {
	var ev canon.EvidenceRef
	if data == "" || data == "{}" {
		return ev, nil
	}
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return canon.EvidenceRef{}, fmt.Errorf("unmarshal evidence ref: %w", err)
	}
	return ev, nil
}

// marshalPayload converts a proposal payload document to JSON TEXT.
func marshalPayload(p canon.Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses a stored payload document.
func unmarshalPayload(data string) (canon.Payload, error) {
	var p canon.Payload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return canon.Payload{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}
