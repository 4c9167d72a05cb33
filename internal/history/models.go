// Package history stores finished export runs and API settings in SQLite.
package history

import "time"

type Run struct {
	ID          string    `json:"id"`
	ProjectRoot string    `json:"project_root"`
	JobCount    int       `json:"job_count"`
	StartedAt   time.Time `json:"started_at"`
	Jobs        []*Job    `json:"jobs,omitempty"`
}

type Job struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	VideoID    string    `json:"video_id"`
	ExportDir  string    `json:"export_dir"`
	Status     string    `json:"status"`
	Rows       int       `json:"rows"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Config keys.
const (
	ConfigAuthToken = "auth_token"
)
