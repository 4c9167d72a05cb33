package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe's stream report used here.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

type ProbeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	NbFrames     string `json:"nb_frames"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	Duration     string `json:"duration"`
}

// Probe runs ffprobe on path and returns the first video stream's metadata.
func Probe(ctx context.Context, binary, path string) (Info, error) {
	if strings.TrimSpace(path) == "" {
		return Info{}, errors.New("ffprobe: empty path")
	}
	cmd := exec.CommandContext(ctx, binary,
		"-v", "error",
		"-hide_banner",
		"-select_streams", "v:0",
		"-show_streams",
		"-show_format",
		"-of", "json",
		"--", path,
	)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Info{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Info{}, fmt.Errorf("ffprobe: %w", err)
	}
	return ParseProbe(output)
}

// ParseProbe extracts frame count, fps and dimensions from ffprobe JSON.
// When the container does not report nb_frames the count is derived from
// duration and frame rate.
func ParseProbe(data []byte) (Info, error) {
	var res ProbeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return Info{}, fmt.Errorf("ffprobe parse: %w", err)
	}

	for _, s := range res.Streams {
		if !strings.EqualFold(s.CodecType, "video") {
			continue
		}

		fps := parseRate(s.AvgFrameRate)
		if fps <= 0 {
			fps = parseRate(s.RFrameRate)
		}
		if fps <= 0 {
			return Info{}, errors.New("ffprobe parse: video stream has no frame rate")
		}

		info := Info{FPS: fps, Width: s.Width, Height: s.Height}
		if n, err := strconv.ParseUint(s.NbFrames, 10, 32); err == nil && n > 0 {
			info.FrameCount = uint32(n)
			return info, nil
		}

		duration := parseFloat(s.Duration)
		if duration <= 0 {
			duration = parseFloat(res.Format.Duration)
		}
		if duration > 0 {
			info.FrameCount = uint32(math.Round(duration * fps))
		}
		return info, nil
	}

	return Info{}, errors.New("ffprobe parse: no video stream")
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	num, den, found := strings.Cut(value, "/")
	if !found {
		return parseFloat(num)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
