package store

import (
	"context"
	"testing"

	"github.com/loomworld/canonry/internal/canon"
)

func sampleSnapshot(scopeID string, capturedAt int64, parent string) canon.Snapshot {
	payload := []byte(`{"nodes":{}}`)
	return canon.Snapshot{
		ID:         canon.SnapshotID("region", scopeID, capturedAt, payload),
		Scope:      "region",
		ScopeID:    scopeID,
		CapturedAt: capturedAt,
		Payload:    payload,
		ParentID:   parent,
	}
}

func TestSnapshots_PutAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := sampleSnapshot("ravenholm", 1000, "")
	if err := s.PutSnapshot(ctx, snap); err != nil {
		t.Fatalf("PutSnapshot() failed: %v", err)
	}

	got, err := s.GetSnapshot(ctx, snap.ID)
	if err != nil {
		t.Fatalf("GetSnapshot() failed: %v", err)
	}
	if got == nil {
		t.Fatal("snapshot not found")
	}
	if string(got.Payload) != string(snap.Payload) {
		t.Errorf("payload = %q, want %q", got.Payload, snap.Payload)
	}
	if got.CapturedAt != 1000 {
		t.Errorf("captured_at = %d, want 1000", got.CapturedAt)
	}
}

func TestSnapshots_RecaptureIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	snap := sampleSnapshot("ravenholm", 1000, "")
	if err := s.PutSnapshot(ctx, snap); err != nil {
		t.Fatalf("first put failed: %v", err)
	}
	if err := s.PutSnapshot(ctx, snap); err != nil {
		t.Fatalf("identical recapture failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("snapshot count = %d, want 1", count)
	}
}

func TestSnapshots_LatestAndBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := sampleSnapshot("ravenholm", 1000, "")
	second := sampleSnapshot("ravenholm", 2000, first.ID)
	other := sampleSnapshot("blackmoor", 1500, "")

	for _, snap := range []canon.Snapshot{first, second, other} {
		if err := s.PutSnapshot(ctx, snap); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	latest, err := s.LatestSnapshot(ctx, "region", "ravenholm")
	if err != nil {
		t.Fatalf("LatestSnapshot() failed: %v", err)
	}
	if latest == nil || latest.ID != second.ID {
		t.Errorf("latest = %+v, want the 2000 capture", latest)
	}

	before, err := s.SnapshotBefore(ctx, "region", "ravenholm", 1500)
	if err != nil {
		t.Fatalf("SnapshotBefore() failed: %v", err)
	}
	if before == nil || before.ID != first.ID {
		t.Errorf("before 1500 = %+v, want the 1000 capture", before)
	}

	none, err := s.SnapshotBefore(ctx, "region", "ravenholm", 500)
	if err != nil {
		t.Fatalf("SnapshotBefore() failed: %v", err)
	}
	if none != nil {
		t.Errorf("before 500 = %+v, want nil", none)
	}
}

func TestSnapshots_Lineage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	root := sampleSnapshot("ravenholm", 1000, "")
	mid := sampleSnapshot("ravenholm", 2000, root.ID)
	tip := sampleSnapshot("ravenholm", 3000, mid.ID)

	for _, snap := range []canon.Snapshot{root, mid, tip} {
		if err := s.PutSnapshot(ctx, snap); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	lineage, err := s.SnapshotLineage(ctx, tip.ID)
	if err != nil {
		t.Fatalf("SnapshotLineage() failed: %v", err)
	}
	if len(lineage) != 3 {
		t.Fatalf("lineage length = %d, want 3", len(lineage))
	}
	if lineage[0].ID != tip.ID || lineage[2].ID != root.ID {
		t.Error("lineage not ordered newest to root")
	}
}

func TestSnapshots_ScopeSnapshotBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Two branches of the same scope; the lookup ignores scope id.
	early := sampleSnapshot("main", 1000, "")
	late := sampleSnapshot("side", 3000, "")
	for _, snap := range []canon.Snapshot{early, late} {
		if err := s.PutSnapshot(ctx, snap); err != nil {
			t.Fatalf("PutSnapshot() failed: %v", err)
		}
	}

	got, err := s.ScopeSnapshotBefore(ctx, "region", 2000)
	if err != nil {
		t.Fatalf("ScopeSnapshotBefore() failed: %v", err)
	}
	if got == nil || got.ID != early.ID {
		t.Errorf("at 2000 got %+v, want the capture at 1000", got)
	}

	// The boundary is inclusive.
	got, err = s.ScopeSnapshotBefore(ctx, "region", 3000)
	if err != nil {
		t.Fatalf("ScopeSnapshotBefore() failed: %v", err)
	}
	if got == nil || got.ID != late.ID {
		t.Errorf("at 3000 got %+v, want the capture at 3000", got)
	}

	got, err = s.ScopeSnapshotBefore(ctx, "region", 500)
	if err != nil {
		t.Fatalf("ScopeSnapshotBefore() failed: %v", err)
	}
	if got != nil {
		t.Errorf("before any capture got %+v, want nil", got)
	}

	got, err = s.ScopeSnapshotBefore(ctx, "elsewhere", 5000)
	if err != nil {
		t.Fatalf("ScopeSnapshotBefore() failed: %v", err)
	}
	if got != nil {
		t.Errorf("unknown scope got %+v, want nil", got)
	}
}
