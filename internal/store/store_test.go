package store

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{
		"change_records", "applied_txns", "subject_versions",
		"canonical_nodes", "relations", "proposals", "snapshots",
	}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragma_JournalMode(t *testing.T) {
	s := openTestStore(t)

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestPragma_ForeignKeys(t *testing.T) {
	s := openTestStore(t)

	var on int
	if err := s.db.QueryRow("PRAGMA foreign_keys").Scan(&on); err != nil {
		t.Fatalf("query foreign_keys: %v", err)
	}
	if on != 1 {
		t.Errorf("foreign_keys = %d, want 1", on)
	}
}

func TestMigration_SchemaVersion(t *testing.T) {
	s := openTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

func TestMigration_RelationsIdentityIndex(t *testing.T) {
	s := openTestStore(t)

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_relations_identity'",
	).Scan(&name)
	if err != nil {
		t.Errorf("idx_relations_identity not found: %v", err)
	}
}

func TestConstraint_ChangeRecordsImmutable(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO change_records
			(id, subject_type, subject_id, change_type, authority, transaction_id, ts, seq)
		VALUES ('rec-1', 'node', 'n-1', 'attr-set', 'gm', 'txn-1', 1000, 1)
	`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = s.db.Exec("UPDATE change_records SET author = 'x' WHERE id = 'rec-1'")
	if err == nil {
		t.Error("expected update on change_records to be rejected")
	}

	_, err = s.db.Exec("DELETE FROM change_records WHERE id = 'rec-1'")
	if err == nil {
		t.Error("expected delete on change_records to be rejected")
	}
}

func TestConstraint_SnapshotsImmutable(t *testing.T) {
	s := openTestStore(t)

	_, err := s.db.Exec(`
		INSERT INTO snapshots (id, scope, scope_id, captured_at, payload)
		VALUES ('snap-1', 'region', 'ravenholm', 1000, '{}')
	`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	_, err = s.db.Exec("UPDATE snapshots SET payload = 'x' WHERE id = 'snap-1'")
	if err == nil {
		t.Error("expected update on snapshots to be rejected")
	}
}

func TestConstraint_RelationIdentityUnique(t *testing.T) {
	s := openTestStore(t)

	insert := `
		INSERT INTO relations
			(id, subject_id, relation_type, object_id, valid_from, valid_to,
			 confidence_ppm, authority, created_at, seq)
		VALUES (?, 'n-1', 'allies', 'n-2', 100, 0, 900000, 'gm', 1000, ?)
	`
	if _, err := s.db.Exec(insert, "rel-1", 1); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.db.Exec(insert, "rel-2", 2); err == nil {
		t.Error("expected duplicate relation identity to be rejected")
	}
}
