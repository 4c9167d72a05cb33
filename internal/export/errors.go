package export

import (
	"errors"
	"fmt"
)

var ErrExportInProgress = errors.New("an export is already running")

// DirectoryCreateError means the job's export directory could not be made.
type DirectoryCreateError struct {
	Dir string
	Err error
}

func (e *DirectoryCreateError) Error() string {
	return fmt.Sprintf("create export directory %s: %v", e.Dir, e.Err)
}

func (e *DirectoryCreateError) Unwrap() error { return e.Err }

// FrameReadError means the video could not be opened, seeked or decoded.
type FrameReadError struct {
	VideoID string
	Frame   uint32
	Op      string
	Err     error
}

func (e *FrameReadError) Error() string {
	if e.Op == "open" {
		return fmt.Sprintf("open %s: %v", e.VideoID, e.Err)
	}
	return fmt.Sprintf("%s frame %d of %s: %v", e.Op, e.Frame, e.VideoID, e.Err)
}

func (e *FrameReadError) Unwrap() error { return e.Err }

// FrameWriteError means a frame image could not be encoded or written.
type FrameWriteError struct {
	Path string
	Err  error
}

func (e *FrameWriteError) Error() string {
	return fmt.Sprintf("write frame image %s: %v", e.Path, e.Err)
}

func (e *FrameWriteError) Unwrap() error { return e.Err }

// CSVWriteError means labels.csv could not be written. Frame images already
// on disk are left in place.
type CSVWriteError struct {
	Path string
	Err  error
}

func (e *CSVWriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *CSVWriteError) Unwrap() error { return e.Err }
