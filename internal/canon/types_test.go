package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorityTotalOrder(t *testing.T) {
	assert.Less(t, AuthorityPlayer.Rank(), AuthorityNarrator.Rank())
	assert.Less(t, AuthorityNarrator.Rank(), AuthorityLorekeeper.Rank())
	assert.Less(t, AuthorityLorekeeper.Rank(), AuthorityGM.Rank())
}

func TestAuthorityValid(t *testing.T) {
	assert.True(t, AuthorityGM.Valid())
	assert.True(t, AuthorityPlayer.Valid())
	assert.False(t, Authority("deity").Valid())
	assert.Zero(t, Authority("deity").Rank())
}

func TestConfidencePPMClamps(t *testing.T) {
	assert.Equal(t, int64(0), ConfidencePPM(-0.5))
	assert.Equal(t, int64(0), ConfidencePPM(0))
	assert.Equal(t, int64(1_000_000), ConfidencePPM(1))
	assert.Equal(t, int64(1_000_000), ConfidencePPM(2.5))
	assert.Equal(t, int64(300_000), ConfidencePPM(0.3))
}

func TestConfidenceRoundTrip(t *testing.T) {
	assert.InDelta(t, 0.75, ConfidenceFromPPM(ConfidencePPM(0.75)), 0.000001)
}

func TestChangeRecordIDDeterminism(t *testing.T) {
	rec := ChangeRecord{
		SubjectType:   SubjectNode,
		SubjectID:     "elara",
		ChangeType:    ChangeTagAdded,
		FieldPath:     "tags",
		NewValue:      String("dead"),
		TransactionID: "txn-1",
		Seq:           7,
	}

	id1, err := ChangeRecordID(rec)
	require.NoError(t, err)
	id2, err := ChangeRecordID(rec)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "ChangeRecordID must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestChangeRecordIDChangesWithInput(t *testing.T) {
	base := ChangeRecord{
		SubjectType:   SubjectNode,
		SubjectID:     "elara",
		ChangeType:    ChangeTagAdded,
		FieldPath:     "tags",
		NewValue:      String("dead"),
		TransactionID: "txn-1",
		Seq:           7,
	}

	other := base
	other.SubjectID = "kael"
	assert.NotEqual(t, MustChangeRecordID(base), MustChangeRecordID(other))

	other = base
	other.Seq = 8
	assert.NotEqual(t, MustChangeRecordID(base), MustChangeRecordID(other))

	other = base
	other.TransactionID = "txn-2"
	assert.NotEqual(t, MustChangeRecordID(base), MustChangeRecordID(other))
}

func TestChangeRecordIDExcludesAuthor(t *testing.T) {
	base := ChangeRecord{
		SubjectType:   SubjectNode,
		SubjectID:     "elara",
		ChangeType:    ChangeAttrSet,
		FieldPath:     "attrs.location",
		OldValue:      String("ravenholm"),
		NewValue:      String("blackmoor"),
		TransactionID: "txn-1",
		Seq:           3,
		Author:        "gm-console",
	}

	other := base
	other.Author = "import-job"

	assert.Equal(t, MustChangeRecordID(base), MustChangeRecordID(other),
		"author must not participate in record identity")
}

func TestSnapshotIDDependsOnPayload(t *testing.T) {
	a := SnapshotID("scope", "realm-1", 100, []byte(`{"nodes":{}}`))
	b := SnapshotID("scope", "realm-1", 100, []byte(`{"nodes":{"x":{}}}`))
	c := SnapshotID("scope", "realm-2", 100, []byte(`{"nodes":{}}`))

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, SnapshotID("scope", "realm-1", 100, []byte(`{"nodes":{}}`)))
}
