package video

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"
)

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		wantCount uint32
		wantFPS   float64
		wantErr   bool
	}{
		{
			name:      "nb_frames reported",
			json:      `{"streams":[{"codec_type":"video","width":640,"height":360,"nb_frames":"300","avg_frame_rate":"30/1"}]}`,
			wantCount: 300,
			wantFPS:   30,
		},
		{
			name:      "ntsc rate from duration",
			json:      `{"streams":[{"codec_type":"video","avg_frame_rate":"30000/1001","duration":"10.010000"}]}`,
			wantCount: 300,
			wantFPS:   30000.0 / 1001.0,
		},
		{
			name:      "falls back to r_frame_rate and format duration",
			json:      `{"streams":[{"codec_type":"video","avg_frame_rate":"0/0","r_frame_rate":"25/1"}],"format":{"duration":"2.0"}}`,
			wantCount: 50,
			wantFPS:   25,
		},
		{
			name:      "skips audio stream",
			json:      `{"streams":[{"codec_type":"audio"},{"codec_type":"video","nb_frames":"12","avg_frame_rate":"24"}]}`,
			wantCount: 12,
			wantFPS:   24,
		},
		{name: "no video stream", json: `{"streams":[{"codec_type":"audio"}]}`, wantErr: true},
		{name: "no frame rate", json: `{"streams":[{"codec_type":"video","nb_frames":"3"}]}`, wantErr: true},
		{name: "invalid json", json: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseProbe([]byte(tt.json))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseProbe() = %+v, want error", info)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProbe() error = %v", err)
			}
			if info.FrameCount != tt.wantCount {
				t.Errorf("FrameCount = %d, want %d", info.FrameCount, tt.wantCount)
			}
			if math.Abs(info.FPS-tt.wantFPS) > 1e-9 {
				t.Errorf("FPS = %f, want %f", info.FPS, tt.wantFPS)
			}
		})
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
	}
	for _, tt := range tests {
		if got := parseRate(tt.in); got != tt.want {
			t.Errorf("parseRate(%q) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{limit: 4}
	tb.Write([]byte("abc"))
	tb.Write([]byte("defgh"))
	if got := tb.String(); got != "efgh" {
		t.Errorf("tail = %q, want efgh", got)
	}
}

type stubSource struct {
	frames uint32
	pos    uint32
	closed bool
}

func (s *stubSource) FrameCount() uint32 { return s.frames }
func (s *stubSource) FPS() float64       { return 30 }
func (s *stubSource) Seek(frame uint32) error {
	if frame >= s.frames {
		return ErrEndOfStream
	}
	s.pos = frame
	return nil
}
func (s *stubSource) ReadNext() (image.Image, error) {
	if s.pos >= s.frames {
		return nil, ErrEndOfStream
	}
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.SetGray(0, 0, color.Gray{Y: uint8(s.pos)})
	s.pos++
	return img, nil
}
func (s *stubSource) Close() error { s.closed = true; return nil }

type stubOpener struct{ src *stubSource }

func (o stubOpener) Open(ctx context.Context, path string) (Source, error) {
	if strings.HasSuffix(path, "missing.mp4") {
		return nil, errors.New("not found")
	}
	return o.src, nil
}

func TestFrameAt(t *testing.T) {
	src := &stubSource{frames: 10}
	img, err := FrameAt(context.Background(), stubOpener{src: src}, "/v/a.mp4", 7)
	if err != nil {
		t.Fatalf("FrameAt() error = %v", err)
	}
	if got := img.(*image.Gray).GrayAt(0, 0).Y; got != 7 {
		t.Errorf("frame value = %d, want 7", got)
	}
	if !src.closed {
		t.Error("source not closed")
	}

	if _, err := FrameAt(context.Background(), stubOpener{src: &stubSource{frames: 3}}, "/v/a.mp4", 3); !errors.Is(err, ErrEndOfStream) {
		t.Errorf("FrameAt past end error = %v, want ErrEndOfStream", err)
	}
	if _, err := FrameAt(context.Background(), stubOpener{}, "/v/missing.mp4", 0); err == nil {
		t.Error("FrameAt on missing video should fail")
	}
}

func TestDescribe(t *testing.T) {
	info, err := Describe(context.Background(), stubOpener{src: &stubSource{frames: 42}}, "/v/a.mp4")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if info.FrameCount != 42 || info.FPS != 30 {
		t.Errorf("Describe() = %+v", info)
	}
}
