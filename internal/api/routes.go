package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/framelabel/framelabel/internal/annotation"
	"github.com/framelabel/framelabel/internal/export"
	"github.com/framelabel/framelabel/internal/project"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())

		r.Get("/videos/{video}/file", videoFileHandler(cfg))
		r.Head("/videos/{video}/file", videoFileHandler(cfg))
		r.Get("/videos/{video}/frames/{frame}", frameHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.History, cfg.Logger))

		r.Get("/project", getProjectHandler(cfg))
		r.Post("/project/open", openProjectHandler(cfg))
		r.Post("/project/create", createProjectHandler(cfg))
		r.Post("/project/save", saveProjectHandler(cfg))

		r.Get("/videos", listVideosHandler(cfg))
		r.Get("/videos/{video}/info", videoInfoHandler(cfg))
		r.Get("/videos/{video}/frames/{frame}/labels", frameLabelsHandler(cfg))
		r.Get("/videos/{video}/annotations", listAnnotationsHandler(cfg))
		r.Post("/videos/{video}/annotations", addAnnotationHandler(cfg))
		r.Post("/videos/{video}/annotations/delete", deleteAnnotationsHandler(cfg))
		r.Put("/videos/{video}/annotations/{index}", replaceAnnotationHandler(cfg))
		r.Delete("/videos/{video}/annotations/{index}", deleteAnnotationHandler(cfg))

		r.Get("/labels", labelsHandler(cfg))
		r.Get("/labels/suggest", suggestLabelsHandler(cfg))

		r.Post("/exports", startExportHandler(cfg))
		r.Get("/exports", listExportsHandler(cfg))
		r.Get("/exports/{id}", getExportHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, err := cfg.Session.Current()
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:        "ok",
			Version:       cfg.Version,
			UptimeS:       int64(time.Since(cfg.StartTime).Seconds()),
			ProjectLoaded: err == nil,
			ExportActive:  cfg.Engine != nil && cfg.Engine.Active(),
		})
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func openProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		p, err := cfg.Session.Open(req.Path)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if err := project.ValidateDir(req.Parent); err != nil {
			WriteError(w, http.StatusBadRequest, "parent: "+err.Error(), "BAD_REQUEST")
			return
		}
		if err := project.ValidateName(req.Name); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		p, err := cfg.Session.Create(req.Parent, req.Name)
		if err != nil {
			cfg.Logger.Error("failed to create project", "error", err)
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectToResponse(p))
	}
}

func saveProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}
		if err := p.Save(); err != nil {
			cfg.Logger.Error("failed to save project", "error", err)
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, SaveProjectResponse{Path: p.ManifestPath()})
	}
}

// currentProject writes a 409 and returns false when no project is open.
func currentProject(w http.ResponseWriter, cfg ServerConfig) (*project.Project, bool) {
	p, err := cfg.Session.Current()
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return p, true
}

// writeDomainError maps errors of the core packages to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var loadErr *project.LoadError
	switch {
	case errors.Is(err, project.ErrNoProjectLoaded):
		WriteError(w, http.StatusConflict, err.Error(), "NO_PROJECT")
	case errors.As(err, &loadErr):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "PROJECT_LOAD_ERROR")
	case errors.Is(err, project.ErrInvalidVideoID):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, annotation.ErrInvalidRange), errors.Is(err, annotation.ErrEmptyLabel):
		WriteError(w, http.StatusBadRequest, err.Error(), "INVALID_ANNOTATION")
	case errors.Is(err, annotation.ErrIndexOutOfRange):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, export.ErrExportInProgress):
		WriteError(w, http.StatusConflict, err.Error(), "EXPORT_IN_PROGRESS")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
