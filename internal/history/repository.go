package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/framelabel/framelabel/internal/export"
)

type Repository interface {
	export.Recorder

	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	ListJobs(ctx context.Context, runID string) ([]*Job, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RunStarted records a run and its jobs as pending.
func (r *SQLiteRepository) RunStarted(ctx context.Context, run *export.Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO export_runs (id, project_root, job_count, started_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.ProjectRoot, len(run.Jobs), formatTime(run.StartedAt)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, j := range run.Jobs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO export_jobs (id, run_id, video_id, export_dir, status)
			VALUES (?, ?, ?, ?, ?)
		`, j.ID, run.ID, j.VideoID, j.ExportDir, export.JobStatusPending); err != nil {
			return fmt.Errorf("insert job %s: %w", j.VideoID, err)
		}
	}
	return tx.Commit()
}

// JobFinished stores a job's terminal status.
func (r *SQLiteRepository) JobFinished(ctx context.Context, st export.JobStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs SET status = ?, row_count = ?, error = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`, st.Status, st.Rows, nullString(st.Error), nullTime(st.StartedAt), nullTime(st.FinishedAt), st.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("export job %s not recorded", st.ID)
	}
	return nil
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_root, job_count, started_at
		FROM export_runs WHERE id = ?
	`, id)

	var run Run
	var startedAt string
	err := row.Scan(&run.ID, &run.ProjectRoot, &run.JobCount, &startedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.StartedAt = parseTime(startedAt)

	run.Jobs, err = r.ListJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_root, job_count, started_at
		FROM export_runs ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var startedAt string
		if err := rows.Scan(&run.ID, &run.ProjectRoot, &run.JobCount, &startedAt); err != nil {
			return nil, err
		}
		run.StartedAt = parseTime(startedAt)
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, runID string) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, video_id, export_dir, status, row_count, error, started_at, finished_at
		FROM export_jobs WHERE run_id = ? ORDER BY video_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var j Job
		var errMsg, startedAt, finishedAt sql.NullString
		if err := rows.Scan(&j.ID, &j.RunID, &j.VideoID, &j.ExportDir, &j.Status, &j.Rows, &errMsg, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		j.Error = errMsg.String
		j.StartedAt = parseTime(startedAt.String)
		j.FinishedAt = parseTime(finishedAt.String)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
