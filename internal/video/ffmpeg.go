package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const maxStderrBytes = 4 * 1024

// FFmpegOpener opens videos by probing them with ffprobe. Frames are decoded
// one at a time by an ffmpeg subprocess that seeks to the frame's timestamp
// and pipes a single PNG back.
type FFmpegOpener struct {
	FFmpegPath  string
	FFprobePath string
	Logger      *slog.Logger
}

func NewFFmpegOpener(ffmpegPath, ffprobePath string, logger *slog.Logger) *FFmpegOpener {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegOpener{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Logger: logger}
}

func (o *FFmpegOpener) Open(ctx context.Context, path string) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	info, err := Probe(ctx, o.FFprobePath, path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if o.Logger != nil {
		o.Logger.Debug("video opened",
			"path", path,
			"frames", info.FrameCount,
			"fps", info.FPS,
		)
	}
	return &ffmpegSource{ctx: ctx, opener: o, path: path, info: info}, nil
}

type ffmpegSource struct {
	ctx    context.Context
	opener *FFmpegOpener
	path   string
	info   Info
	pos    uint32
}

func (s *ffmpegSource) FrameCount() uint32 { return s.info.FrameCount }

func (s *ffmpegSource) FPS() float64 { return s.info.FPS }

func (s *ffmpegSource) Info() Info { return s.info }

func (s *ffmpegSource) Seek(frame uint32) error {
	if s.info.FrameCount > 0 && frame >= s.info.FrameCount {
		return fmt.Errorf("seek to frame %d: %w", frame, ErrEndOfStream)
	}
	s.pos = frame
	return nil
}

func (s *ffmpegSource) ReadNext() (image.Image, error) {
	if s.info.FrameCount > 0 && s.pos >= s.info.FrameCount {
		return nil, ErrEndOfStream
	}

	timestamp := strconv.FormatFloat(float64(s.pos)/s.info.FPS, 'f', 6, 64)
	cmd := exec.CommandContext(s.ctx, s.opener.FFmpegPath,
		"-v", "error",
		"-nostdin",
		"-ss", timestamp,
		"-i", s.path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)

	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg read frame %d: %w: %s", s.pos, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, ErrEndOfStream
	}

	img, err := png.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", s.pos, err)
	}
	s.pos++
	return img, nil
}

// Close is a no-op: no subprocess outlives a ReadNext call.
func (s *ffmpegSource) Close() error {
	return nil
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		b := t.buf.Bytes()
		tail := append([]byte(nil), b[len(b)-t.limit:]...)
		t.buf.Reset()
		t.buf.Write(tail)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
