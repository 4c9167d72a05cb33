// Package annotation holds the labeled frame ranges of a project and answers
// per-frame label queries.
package annotation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRange    = errors.New("start frame is after end frame")
	ErrEmptyLabel      = errors.New("label must not be empty")
	ErrIndexOutOfRange = errors.New("annotation index out of range")
)

// FrameAnnotation is one labeled, inclusive frame range.
type FrameAnnotation struct {
	StartFrame uint32 `json:"start_frame"`
	EndFrame   uint32 `json:"end_frame"`
	Label      string `json:"label"`
}

// New validates and builds a FrameAnnotation. The label is kept verbatim.
func New(start, end uint32, label string) (FrameAnnotation, error) {
	a := FrameAnnotation{StartFrame: start, EndFrame: end, Label: label}
	if err := a.Validate(); err != nil {
		return FrameAnnotation{}, err
	}
	return a, nil
}

// Validate reports whether the annotation satisfies start <= end and a
// non-empty label.
func (a FrameAnnotation) Validate() error {
	if a.StartFrame > a.EndFrame {
		return fmt.Errorf("%w: %d > %d", ErrInvalidRange, a.StartFrame, a.EndFrame)
	}
	if a.Label == "" {
		return ErrEmptyLabel
	}
	return nil
}

// Contains reports whether frame lies within [StartFrame, EndFrame].
func (a FrameAnnotation) Contains(frame uint32) bool {
	return frame >= a.StartFrame && frame <= a.EndFrame
}
