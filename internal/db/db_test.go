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

	tables := []string{"export_runs", "export_jobs", "config", "_migrations"}
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

	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
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
		INSERT INTO export_runs (id, project_root, job_count, started_at)
		VALUES ('test-run', '/tmp/demo', 2, datetime('now'))
	`)
	if err != nil {
		t.Fatalf("insert run error = %v", err)
	}
	_, err = db1.Conn().Exec(`
		INSERT INTO export_jobs (id, run_id, video_id, export_dir, status)
		VALUES ('test-job', 'test-run', 'a.mp4', '/tmp/demo/labels/a.mp4', 'running'),
		       ('done-job', 'test-run', 'b.mp4', '/tmp/demo/labels/b.mp4', 'completed')
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
	err = db2.Conn().QueryRow("SELECT status, error FROM export_jobs WHERE id = 'test-job'").Scan(&status, &errMsg)
	if err != nil {
		t.Fatalf("query job error = %v", err)
	}

	if status != "failed" {
		t.Errorf("job status = %s, want failed", status)
	}
	if errMsg != "interrupted by restart" {
		t.Errorf("job error = %s, want 'interrupted by restart'", errMsg)
	}

	var doneStatus string
	if err := db2.Conn().QueryRow("SELECT status FROM export_jobs WHERE id = 'done-job'").Scan(&doneStatus); err != nil {
		t.Fatalf("query job error = %v", err)
	}
	if doneStatus != "completed" {
		t.Errorf("finished job status = %s, want completed", doneStatus)
	}
	if got := db2.InterruptedJobs(); got != 1 {
		t.Errorf("InterruptedJobs() = %d, want 1", got)
	}
}

func TestNew_ForeignKeysCascadeJobs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	if database.Path() != dbPath {
		t.Errorf("Path() = %s, want %s", database.Path(), dbPath)
	}
	if database.InterruptedJobs() != 0 {
		t.Errorf("fresh database InterruptedJobs() = %d", database.InterruptedJobs())
	}

	conn := database.Conn()
	if _, err := conn.Exec(`INSERT INTO export_runs (id, project_root, job_count, started_at) VALUES ('r', '/p', 1, datetime('now'))`); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(`INSERT INTO export_jobs (id, run_id, video_id, export_dir, status) VALUES ('j', 'r', 'a.mp4', '/p/labels/a.mp4', 'completed')`); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(`DELETE FROM export_runs WHERE id = 'r'`); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM export_jobs").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("jobs after run delete = %d, want 0 (foreign_keys pragma not applied)", count)
	}

	if _, err := conn.Exec(`INSERT INTO export_jobs (id, run_id, video_id, export_dir, status) VALUES ('orphan', 'missing', 'a.mp4', '/p', 'completed')`); err == nil {
		t.Error("insert of job without run should violate the foreign key")
	}
}
