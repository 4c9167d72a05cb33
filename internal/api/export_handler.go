package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/framelabel/framelabel/internal/export"
	"github.com/framelabel/framelabel/internal/history"
)

type ExportsResponse struct {
	Runs []*history.Run `json:"runs"`
}

// startExportHandler launches an export of the current project and returns
// at once; clients poll GET /exports/{id} for progress.
func startExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}

		// Workers outlive the request.
		run, err := cfg.Engine.Start(context.WithoutCancel(r.Context()), p)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, run.Status())
	}
}

func listExportsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}

		runs, err := cfg.History.ListRuns(r.Context(), limit)
		if err != nil {
			cfg.Logger.Error("failed to list export runs", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to list exports", "INTERNAL_ERROR")
			return
		}
		if runs == nil {
			runs = []*history.Run{}
		}
		WriteJSON(w, http.StatusOK, ExportsResponse{Runs: runs})
	}
}

// getExportHandler reports live progress for runs this process started and
// falls back to recorded history for older ones.
func getExportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if run, ok := cfg.Engine.Run(id); ok {
			WriteJSON(w, http.StatusOK, run.Status())
			return
		}

		stored, err := cfg.History.GetRun(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if stored == nil {
			WriteError(w, http.StatusNotFound, "export not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, historyToStatus(stored))
	}
}

// historyToStatus renders a recorded run in the live status shape. Jobs
// that never recorded a finish were interrupted and count as done.
func historyToStatus(run *history.Run) export.RunStatus {
	st := export.RunStatus{
		ID:          run.ID,
		ProjectRoot: run.ProjectRoot,
		StartedAt:   run.StartedAt,
		Done:        true,
		Progress:    1,
		Jobs:        make([]export.JobStatus, 0, len(run.Jobs)),
	}
	for _, j := range run.Jobs {
		st.Jobs = append(st.Jobs, export.JobStatus{
			ID:         j.ID,
			RunID:      j.RunID,
			VideoID:    j.VideoID,
			ExportDir:  j.ExportDir,
			Status:     j.Status,
			Progress:   1,
			Rows:       j.Rows,
			Error:      j.Error,
			StartedAt:  j.StartedAt,
			FinishedAt: j.FinishedAt,
		})
	}
	return st
}
