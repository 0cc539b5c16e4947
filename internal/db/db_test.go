package db

import (
	"path/filepath"
	"testing"
)

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"projects", "sequences", "captures", "jobs", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var journalMode string
	err = database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}

	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	err = db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count)
	if err != nil {
		t.Fatalf("count migrations error = %v", err)
	}

	if count != 3 {
		t.Errorf("migration count = %d, want 3", count)
	}
}

func TestMarkInterruptedJobs(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = db1.Conn().Exec(`
		INSERT INTO jobs (id, type, status, progress, created_at, updated_at)
		VALUES ('test-job', 'export', 'running', 50, datetime('now'), datetime('now'))
	`)
	if err != nil {
		t.Fatalf("insert job error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var status, errMsg string
	err = db2.Conn().QueryRow("SELECT status, error FROM jobs WHERE id = 'test-job'").Scan(&status, &errMsg)
	if err != nil {
		t.Fatalf("query job error = %v", err)
	}

	if status != "failed" {
		t.Errorf("job status = %s, want failed", status)
	}
	if errMsg != "interrupted by restart" {
		t.Errorf("job error = %s, want 'interrupted by restart'", errMsg)
	}
}

func TestForeignKeysCascade(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	stmts := []string{
		`INSERT INTO projects (id, title, created_at) VALUES ('p1', 'Project 1', datetime('now'))`,
		`INSERT INTO sequences (id, project_id, position, created_at) VALUES ('s1', 'p1', 0, datetime('now'))`,
		`INSERT INTO captures (id, sequence_id, idx, created_at) VALUES ('c1', 's1', 0, datetime('now'))`,
		`INSERT INTO jobs (id, type, project_id, created_at, updated_at) VALUES ('j1', 'export', 'p1', datetime('now'), datetime('now'))`,
		`DELETE FROM projects WHERE id = 'p1'`,
	}
	for _, stmt := range stmts {
		if _, err := database.Conn().Exec(stmt); err != nil {
			t.Fatalf("exec %q error = %v", stmt, err)
		}
	}

	for _, table := range []string{"sequences", "captures"} {
		var count int
		if err := database.Conn().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Fatalf("count %s error = %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s count after project delete = %d, want 0", table, count)
		}
	}

	var projectID *string
	if err := database.Conn().QueryRow("SELECT project_id FROM jobs WHERE id = 'j1'").Scan(&projectID); err != nil {
		t.Fatalf("query job error = %v", err)
	}
	if projectID != nil {
		t.Errorf("job project_id = %v, want NULL", *projectID)
	}
}

func TestRotationConstraint(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	if _, err := database.Conn().Exec(`INSERT INTO projects (id, title, created_at) VALUES ('p1', 'Project 1', datetime('now'))`); err != nil {
		t.Fatalf("insert project error = %v", err)
	}
	_, err = database.Conn().Exec(`INSERT INTO sequences (id, project_id, rotation, created_at) VALUES ('s1', 'p1', 45, datetime('now'))`)
	if err == nil {
		t.Error("insert with rotation 45 succeeded, want constraint error")
	}
}

func TestCaptureIndexUnique(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	stmts := []string{
		`INSERT INTO projects (id, title, created_at) VALUES ('p1', 'Project 1', datetime('now'))`,
		`INSERT INTO sequences (id, project_id, created_at) VALUES ('s1', 'p1', datetime('now'))`,
		`INSERT INTO sequences (id, project_id, created_at) VALUES ('s2', 'p1', datetime('now'))`,
		`INSERT INTO captures (id, sequence_id, idx, created_at) VALUES ('c1', 's1', 0, datetime('now'))`,
		`INSERT INTO captures (id, sequence_id, idx, created_at) VALUES ('c2', 's2', 0, datetime('now'))`,
	}
	for _, stmt := range stmts {
		if _, err := database.Conn().Exec(stmt); err != nil {
			t.Fatalf("exec %q error = %v", stmt, err)
		}
	}

	_, err = database.Conn().Exec(`INSERT INTO captures (id, sequence_id, idx, created_at) VALUES ('c3', 's1', 0, datetime('now'))`)
	if err == nil {
		t.Error("duplicate (sequence_id, idx) insert succeeded, want constraint error")
	}
}
