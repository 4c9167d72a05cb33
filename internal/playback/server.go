// Package playback serves project videos to a scrubbing client: raw file
// bytes with HTTP range support, and single decoded frames as PNG.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/framelabel/framelabel/internal/video"
)

// videoTypes covers the project video extensions, which the host mime table
// may not know.
var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".mkv": "video/x-matroska",
	".avi": "video/x-msvideo",
}

// ErrFrameNotFound means the requested frame is past the end of the video.
var ErrFrameNotFound = errors.New("frame not found")

type Server struct {
	opener video.Opener
	logger *slog.Logger
}

func NewServer(opener video.Opener, logger *slog.Logger) *Server {
	return &Server{opener: opener, logger: logger}
}

// ServeVideo streams a video file, honoring a single-range Range header.
func (s *Server) ServeVideo(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	size := stat.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType(filePath))

	br, ok, err := ParseByteRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// Malformed ranges are ignored and the whole file is sent.
		ok = false
	}

	if !ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			io.Copy(w, file)
		}
		return nil
	}

	if _, err := file.Seek(br.Start, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(br.Length(), 10))
	w.Header().Set("Content-Range", br.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		io.CopyN(w, file, br.Length())
	}
	return nil
}

// ServeFrame decodes one frame and writes it as image/png.
func (s *Server) ServeFrame(w http.ResponseWriter, r *http.Request, filePath string, frame uint32) error {
	data, err := s.FramePNG(r.Context(), filePath, frame)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
	return nil
}

// FramePNG returns frame of the video at filePath encoded as PNG.
func (s *Server) FramePNG(ctx context.Context, filePath string, frame uint32) ([]byte, error) {
	img, err := video.FrameAt(ctx, s.opener, filePath, frame)
	if err != nil {
		if errors.Is(err, video.ErrEndOfStream) {
			return nil, fmt.Errorf("frame %d: %w", frame, ErrFrameNotFound)
		}
		return nil, fmt.Errorf("failed to read frame %d: %w", frame, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode frame %d: %w", frame, err)
	}
	if s.logger != nil {
		s.logger.Debug("frame served", "path", filepath.Base(filePath), "frame", frame, "bytes", buf.Len())
	}
	return buf.Bytes(), nil
}

// Info reports frame count, rate and size of the video at filePath.
func (s *Server) Info(ctx context.Context, filePath string) (video.Info, error) {
	return video.Describe(ctx, s.opener, filePath)
}

func contentType(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
