// Package video defines the frame-accurate video access used by export and
// scrubbing, and an implementation backed by the ffmpeg and ffprobe binaries.
package video

import (
	"context"
	"errors"
	"image"
)

// ErrEndOfStream is returned by ReadNext once the position is past the last frame.
var ErrEndOfStream = errors.New("end of stream")

// Source is an open video positioned at a frame index.
type Source interface {
	FrameCount() uint32
	FPS() float64
	// Seek positions the source so the next ReadNext returns frame.
	Seek(frame uint32) error
	// ReadNext decodes the frame at the current position and advances by one.
	ReadNext() (image.Image, error)
	Close() error
}

// Opener opens video files as Sources.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}

// Info is the metadata a client needs to drive a scrubber.
type Info struct {
	FrameCount uint32  `json:"frame_count"`
	FPS        float64 `json:"fps"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// FrameAt opens path, seeks to frame and reads it.
func FrameAt(ctx context.Context, opener Opener, path string, frame uint32) (image.Image, error) {
	src, err := opener.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if err := src.Seek(frame); err != nil {
		return nil, err
	}
	return src.ReadNext()
}

// Describe opens path and reports its metadata. Width and height are only
// known when the source exposes them.
func Describe(ctx context.Context, opener Opener, path string) (Info, error) {
	src, err := opener.Open(ctx, path)
	if err != nil {
		return Info{}, err
	}
	defer src.Close()

	if d, ok := src.(interface{ Info() Info }); ok {
		return d.Info(), nil
	}
	return Info{FrameCount: src.FrameCount(), FPS: src.FPS()}, nil
}
