package annotation

import (
	"sort"
	"strings"
	"sync"
)

// Store maps video ids to their annotations in insertion order and tracks the
// labels used across the project.
//
// The used-label set is cumulative: Add grows it, removals never shrink it.
// ReloadLabels recomputes it from the annotations that exist right now.
type Store struct {
	mu          sync.RWMutex
	annotations map[string][]FrameAnnotation
	usedLabels  map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		annotations: make(map[string][]FrameAnnotation),
		usedLabels:  make(map[string]struct{}),
	}
}

// NewStoreFrom builds a store from persisted state. usedLabels is taken as-is,
// stale entries included.
func NewStoreFrom(annotations map[string][]FrameAnnotation, usedLabels []string) *Store {
	s := NewStore()
	for video, list := range annotations {
		s.annotations[video] = append([]FrameAnnotation(nil), list...)
	}
	for _, l := range usedLabels {
		s.usedLabels[l] = struct{}{}
	}
	return s
}

// EnsureVideo registers an empty entry for videoID if none exists.
func (s *Store) EnsureVideo(videoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.annotations[videoID]; !ok {
		s.annotations[videoID] = nil
	}
}

// Add appends a to the video's annotations. The caller has already finalized
// both ends of the range.
func (s *Store) Add(videoID string, a FrameAnnotation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations[videoID] = append(s.annotations[videoID], a)
	s.usedLabels[a.Label] = struct{}{}
	return nil
}

// Replace overwrites the annotation at index.
func (s *Store) Replace(videoID string, index int, a FrameAnnotation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.annotations[videoID]
	if index < 0 || index >= len(list) {
		return ErrIndexOutOfRange
	}
	list[index] = a
	s.usedLabels[a.Label] = struct{}{}
	return nil
}

// Remove deletes the annotation at index. Out-of-range indices are ignored.
func (s *Store) Remove(videoID string, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(videoID, index)
}

// RemoveMany deletes several indices collected against the same view of the
// list. Indices are applied in strictly decreasing order so earlier removals
// never shift later ones. Returns how many annotations were removed.
func (s *Store) RemoveMany(videoID string, indices []int) int {
	ordered := append([]int(nil), indices...)
	sort.Sort(sort.Reverse(sort.IntSlice(ordered)))

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	last := -1
	for i, idx := range ordered {
		if i > 0 && idx == last {
			continue
		}
		last = idx
		if s.removeLocked(videoID, idx) {
			removed++
		}
	}
	return removed
}

func (s *Store) removeLocked(videoID string, index int) bool {
	list, ok := s.annotations[videoID]
	if !ok || index < 0 || index >= len(list) {
		return false
	}
	s.annotations[videoID] = append(list[:index], list[index+1:]...)
	return true
}

// Annotations returns a copy of the video's annotations.
func (s *Store) Annotations(videoID string) []FrameAnnotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]FrameAnnotation(nil), s.annotations[videoID]...)
}

// Videos returns every video id with an entry, empty ones included, sorted.
func (s *Store) Videos() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	videos := make([]string, 0, len(s.annotations))
	for v := range s.annotations {
		videos = append(videos, v)
	}
	sort.Strings(videos)
	return videos
}

// Snapshot returns a deep copy of the whole mapping.
func (s *Store) Snapshot() map[string][]FrameAnnotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]FrameAnnotation, len(s.annotations))
	for v, list := range s.annotations {
		out[v] = append([]FrameAnnotation(nil), list...)
	}
	return out
}

// LabelsFor returns the labels of every annotation of videoID containing
// frame, in stored order. Duplicates are preserved.
func (s *Store) LabelsFor(videoID string, frame uint32) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var labels []string
	for _, a := range s.annotations[videoID] {
		if a.Contains(frame) {
			labels = append(labels, a.Label)
		}
	}
	return labels
}

// UsedLabels returns the cumulative label set, sorted. It may still hold
// labels whose annotations were deleted since the last reload.
func (s *Store) UsedLabels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.usedLabels)
}

// ReloadLabels recomputes the used-label set from the current annotations and
// replaces the cumulative set with it.
func (s *Store) ReloadLabels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fresh := make(map[string]struct{})
	for _, list := range s.annotations {
		for _, a := range list {
			fresh[a.Label] = struct{}{}
		}
	}
	s.usedLabels = fresh
	return sortedKeys(fresh)
}

// Suggest returns used labels starting with prefix, sorted, at most limit of
// them (limit <= 0 means no limit).
func (s *Store) Suggest(prefix string, limit int) []string {
	var out []string
	for _, l := range s.UsedLabels() {
		if !strings.HasPrefix(l, prefix) {
			continue
		}
		out = append(out, l)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
