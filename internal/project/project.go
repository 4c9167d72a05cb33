// Package project persists a labeling project: its folder layout and the
// annotation store, serialized to a JSON manifest in the project root.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/framelabel/framelabel/internal/annotation"
)

const (
	ManifestFilename = "project.json"

	DefaultVideoFolder  = "video"
	DefaultLabelsFolder = "labels"
)

// VideoExtensions lists the file extensions offered for labeling.
var VideoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

// Project is a labeling project rooted at Root. It exclusively owns Store.
type Project struct {
	Root         string
	VideoFolder  string
	LabelsFolder string
	Store        *annotation.Store
}

// Manifest is the on-disk shape of a project.
type Manifest struct {
	VideoFolder  string                                  `json:"video_folder"`
	LabelsFolder string                                  `json:"labels_folder"`
	UsedLabels   []string                                `json:"used_labels"`
	Annotations  map[string][]annotation.FrameAnnotation `json:"annotations"`
}

// LoadError reports a missing or malformed manifest.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load project %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Init returns an in-memory project rooted at root with the default layout
// and an empty store. Nothing is written.
func Init(root string) *Project {
	return &Project{
		Root:         root,
		VideoFolder:  DefaultVideoFolder,
		LabelsFolder: DefaultLabelsFolder,
		Store:        annotation.NewStore(),
	}
}

// Create makes parent/name with its video and labels folders and writes an
// empty manifest.
func Create(parent, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("invalid project name: %w", err)
	}

	absParent, err := filepath.Abs(parent)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	p := Init(filepath.Join(absParent, name))
	for _, dir := range []string{p.Root, p.VideoDir(), p.LabelsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := p.Save(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load reads root/project.json. A missing or malformed manifest is a
// *LoadError; nothing is recovered from a broken file.
func Load(root string) (*Project, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &LoadError{Path: root, Err: err}
	}
	path := filepath.Join(absRoot, ManifestFilename)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	for field, folder := range map[string]string{"video_folder": m.VideoFolder, "labels_folder": m.LabelsFolder} {
		if err := validateFolder(folder); err != nil {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("%s: %w", field, err)}
		}
	}

	for video, list := range m.Annotations {
		if err := ValidateVideoID(video); err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
		for i, a := range list {
			if err := a.Validate(); err != nil {
				return nil, &LoadError{Path: path, Err: fmt.Errorf("annotation %d of %q: %w", i, video, err)}
			}
		}
	}

	p := &Project{
		Root:         absRoot,
		VideoFolder:  m.VideoFolder,
		LabelsFolder: m.LabelsFolder,
		Store:        annotation.NewStoreFrom(m.Annotations, m.UsedLabels),
	}
	if p.VideoFolder == "" {
		p.VideoFolder = DefaultVideoFolder
	}
	if p.LabelsFolder == "" {
		p.LabelsFolder = DefaultLabelsFolder
	}
	return p, nil
}

// Manifest captures the current project state in its persisted shape.
func (p *Project) Manifest() Manifest {
	annotations := p.Store.Snapshot()
	for video, list := range annotations {
		if list == nil {
			annotations[video] = []annotation.FrameAnnotation{}
		}
	}
	return Manifest{
		VideoFolder:  p.VideoFolder,
		LabelsFolder: p.LabelsFolder,
		UsedLabels:   p.Store.UsedLabels(),
		Annotations:  annotations,
	}
}

// Save overwrites the manifest. The file is written next to the target and
// renamed over it while holding an advisory lock on project.json.lock.
func (p *Project) Save() error {
	data, err := json.MarshalIndent(p.Manifest(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	path := p.ManifestPath()
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock manifest: %w", err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(p.Root, ".project-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace manifest: %w", err)
	}
	return nil
}

func (p *Project) ManifestPath() string {
	return filepath.Join(p.Root, ManifestFilename)
}

func (p *Project) VideoDir() string {
	return filepath.Join(p.Root, p.VideoFolder)
}

func (p *Project) LabelsDir() string {
	return filepath.Join(p.Root, p.LabelsFolder)
}

// VideoPath returns the file path of a video id inside the video folder.
func (p *Project) VideoPath(videoID string) string {
	return filepath.Join(p.VideoDir(), videoID)
}

// ExportDir returns the directory a video's labeled frames are exported to.
func (p *Project) ExportDir(videoID string) string {
	return filepath.Join(p.LabelsDir(), videoID)
}

// ListVideos returns the video files directly inside the video folder,
// sorted by name.
func (p *Project) ListVideos() ([]string, error) {
	entries, err := os.ReadDir(p.VideoDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read video folder: %w", err)
	}

	var videos []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if IsVideoFile(e.Name()) {
			videos = append(videos, e.Name())
		}
	}
	sort.Strings(videos)
	return videos, nil
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
