package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/framelabel/framelabel/internal/annotation"
	"github.com/framelabel/framelabel/internal/playback"
	"github.com/framelabel/framelabel/internal/project"
)

const defaultSuggestLimit = 10

// videoParam returns the validated {video} path parameter. It writes the
// error response itself and returns ok=false on failure.
func videoParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "video")
	id, err := url.PathUnescape(raw)
	if err != nil {
		id = raw
	}
	if err := project.ValidateVideoID(id); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return "", false
	}
	return id, true
}

func frameParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	frame, err := strconv.ParseUint(chi.URLParam(r, "frame"), 10, 32)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "frame must be a non-negative integer", "BAD_REQUEST")
		return 0, false
	}
	return uint32(frame), true
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		WriteError(w, http.StatusBadRequest, "index must be a non-negative integer", "BAD_REQUEST")
		return 0, false
	}
	return index, true
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}

		files, err := p.ListVideos()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		present := make(map[string]bool, len(files))
		resp := VideosResponse{Videos: make([]VideoResponse, 0, len(files))}
		for _, f := range files {
			present[f] = true
			resp.Videos = append(resp.Videos, VideoResponse{
				ID:          f,
				Annotations: len(p.Store.Annotations(f)),
				Present:     true,
			})
		}
		for _, id := range p.Store.Videos() {
			if present[id] {
				continue
			}
			resp.Videos = append(resp.Videos, VideoResponse{
				ID:          id,
				Annotations: len(p.Store.Annotations(id)),
			})
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func videoFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := videoParam(w, r)
		if !ok {
			return
		}
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}
		if err := cfg.Playback.ServeVideo(w, r, p.VideoPath(id)); err != nil {
			cfg.Logger.Error("playback error", "error", err, "video_id", id)
		}
	}
}

// videoInfoHandler probes a video. Opening a video for labeling registers
// it in the store.
func videoInfoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := videoParam(w, r)
		if !ok {
			return
		}
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}

		info, err := cfg.Playback.Info(r.Context(), p.VideoPath(id))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
				return
			}
			cfg.Logger.Error("failed to probe video", "error", err, "video_id", id)
			WriteError(w, http.StatusBadGateway, err.Error(), "VIDEO_ERROR")
			return
		}
		p.Store.EnsureVideo(id)
		WriteJSON(w, http.StatusOK, info)
	}
}

func frameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := videoParam(w, r)
		if !ok {
			return
		}
		frame, ok := frameParam(w, r)
		if !ok {
			return
		}
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}

		err := cfg.Playback.ServeFrame(w, r, p.VideoPath(id), frame)
		switch {
		case err == nil:
		case errors.Is(err, playback.ErrFrameNotFound):
			WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
		case errors.Is(err, os.ErrNotExist):
			WriteError(w, http.StatusNotFound, "video not found", "NOT_FOUND")
		default:
			cfg.Logger.Error("failed to serve frame", "error", err, "video_id", id, "frame", frame)
			WriteError(w, http.StatusBadGateway, err.Error(), "VIDEO_ERROR")
		}
	}
}

func frameLabelsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := videoParam(w, r)
		if !ok {
			return
		}
		frame, ok := frameParam(w, r)
		if !ok {
			return
		}
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, FrameLabelsResponse{
			Video:  id,
			Frame:  frame,
			Labels: nonNil(p.Store.LabelsFor(id, frame)),
		})
	}
}

func listAnnotationsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := videoParam(w, r)
		if !ok {
			return
		}
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, AnnotationsToResponse(id, p.Store.Annotations(id)))
	}
}

func addAnnotationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := videoParam(w, r)
		if !ok {
			return
		}
		var req AnnotationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}

		a := annotation.FrameAnnotation{StartFrame: req.StartFrame, EndFrame: req.EndFrame, Label: req.Label}
		if err := p.Store.Add(id, a); err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, AnnotationsToResponse(id, p.Store.Annotations(id)))
	}
}

func replaceAnnotationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := videoParam(w, r)
		if !ok {
			return
		}
		index, ok := indexParam(w, r)
		if !ok {
			return
		}
		var req AnnotationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}

		a := annotation.FrameAnnotation{StartFrame: req.StartFrame, EndFrame: req.EndFrame, Label: req.Label}
		if err := p.Store.Replace(id, index, a); err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, AnnotationsToResponse(id, p.Store.Annotations(id)))
	}
}

func deleteAnnotationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := videoParam(w, r)
		if !ok {
			return
		}
		index, ok := indexParam(w, r)
		if !ok {
			return
		}
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}

		if !p.Store.Remove(id, index) {
			WriteError(w, http.StatusNotFound, "annotation not found", "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteAnnotationsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := videoParam(w, r)
		if !ok {
			return
		}
		var req DeleteAnnotationsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, DeleteAnnotationsResponse{Removed: p.Store.RemoveMany(id, req.Indices)})
	}
}

func labelsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}

		var labels []string
		if reload, _ := strconv.ParseBool(r.URL.Query().Get("reload")); reload {
			labels = p.Store.ReloadLabels()
		} else {
			labels = p.Store.UsedLabels()
		}
		WriteJSON(w, http.StatusOK, LabelsResponse{Labels: nonNil(labels)})
	}
}

func suggestLabelsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := currentProject(w, cfg)
		if !ok {
			return
		}

		limit := defaultSuggestLimit
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = n
		}
		labels := p.Store.Suggest(r.URL.Query().Get("prefix"), limit)
		WriteJSON(w, http.StatusOK, LabelsResponse{Labels: nonNil(labels)})
	}
}
