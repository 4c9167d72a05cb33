package api

import (
	"github.com/framelabel/framelabel/internal/annotation"
	"github.com/framelabel/framelabel/internal/project"
)

type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeS       int64  `json:"uptime_s"`
	ProjectLoaded bool   `json:"project_loaded"`
	ExportActive  bool   `json:"export_active"`
}

type OpenProjectRequest struct {
	Path string `json:"path"`
}

type CreateProjectRequest struct {
	Parent string `json:"parent"`
	Name   string `json:"name"`
}

type ProjectResponse struct {
	Root         string   `json:"root"`
	VideoFolder  string   `json:"video_folder"`
	LabelsFolder string   `json:"labels_folder"`
	Videos       int      `json:"videos"`
	UsedLabels   []string `json:"used_labels"`
}

type SaveProjectResponse struct {
	Path string `json:"path"`
}

type VideoResponse struct {
	ID          string `json:"id"`
	Annotations int    `json:"annotations"`
	// Present is false for videos that have annotations but whose file is
	// no longer in the video folder.
	Present bool `json:"present"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type AnnotationRequest struct {
	StartFrame uint32 `json:"start_frame"`
	EndFrame   uint32 `json:"end_frame"`
	Label      string `json:"label"`
}

type AnnotationResponse struct {
	Index      int    `json:"index"`
	StartFrame uint32 `json:"start_frame"`
	EndFrame   uint32 `json:"end_frame"`
	Label      string `json:"label"`
}

type AnnotationsResponse struct {
	Video       string               `json:"video"`
	Annotations []AnnotationResponse `json:"annotations"`
}

type DeleteAnnotationsRequest struct {
	Indices []int `json:"indices"`
}

type DeleteAnnotationsResponse struct {
	Removed int `json:"removed"`
}

type FrameLabelsResponse struct {
	Video  string   `json:"video"`
	Frame  uint32   `json:"frame"`
	Labels []string `json:"labels"`
}

type LabelsResponse struct {
	Labels []string `json:"labels"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ProjectToResponse(p *project.Project) ProjectResponse {
	return ProjectResponse{
		Root:         p.Root,
		VideoFolder:  p.VideoFolder,
		LabelsFolder: p.LabelsFolder,
		Videos:       len(p.Store.Videos()),
		UsedLabels:   nonNil(p.Store.UsedLabels()),
	}
}

func AnnotationsToResponse(videoID string, list []annotation.FrameAnnotation) AnnotationsResponse {
	resp := AnnotationsResponse{Video: videoID, Annotations: make([]AnnotationResponse, len(list))}
	for i, a := range list {
		resp.Annotations[i] = AnnotationResponse{
			Index:      i,
			StartFrame: a.StartFrame,
			EndFrame:   a.EndFrame,
			Label:      a.Label,
		}
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
