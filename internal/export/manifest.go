package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/framelabel/framelabel/internal/annotation"
)

const ManifestFilename = "labels.csv"

// Classes is the column order of a video's CSV: distinct labels in the order
// they are first seen while scanning the annotations.
type Classes struct {
	Names []string
	index map[string]int
}

func BuildClasses(annotations []annotation.FrameAnnotation) *Classes {
	c := &Classes{index: make(map[string]int)}
	for _, a := range annotations {
		if _, ok := c.index[a.Label]; ok {
			continue
		}
		c.index[a.Label] = len(c.Names)
		c.Names = append(c.Names, a.Label)
	}
	return c
}

// Index returns the column index of label.
func (c *Classes) Index(label string) (int, bool) {
	i, ok := c.index[label]
	return i, ok
}

// FrameClasses marks which classes apply to frame. The second result is
// false when no annotation contains the frame.
func (c *Classes) FrameClasses(annotations []annotation.FrameAnnotation, frame uint32) ([]bool, bool) {
	hot := make([]bool, len(c.Names))
	labeled := false
	for _, a := range annotations {
		if !a.Contains(frame) {
			continue
		}
		hot[c.index[a.Label]] = true
		labeled = true
	}
	return hot, labeled
}

// FrameFilename names the exported image of frame i.
func FrameFilename(videoStem string, frame uint32) string {
	return fmt.Sprintf("%s_frame_%05d.png", videoStem, frame)
}

// VideoStem is the video file name without its extension.
func VideoStem(videoPath string) string {
	base := filepath.Base(videoPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// manifestWriter accumulates the CSV body in memory; it is written to disk
// once, after all frames.
type manifestWriter struct {
	buf  bytes.Buffer
	w    *csv.Writer
	rows int
}

func newManifestWriter(classes *Classes) (*manifestWriter, error) {
	m := &manifestWriter{}
	m.w = csv.NewWriter(&m.buf)
	header := append([]string{"filename"}, classes.Names...)
	if err := m.w.Write(header); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *manifestWriter) AddRow(filename string, hot []bool) error {
	record := make([]string, 0, len(hot)+1)
	record = append(record, filename)
	for _, h := range hot {
		if h {
			record = append(record, "1")
		} else {
			record = append(record, "0")
		}
	}
	if err := m.w.Write(record); err != nil {
		return err
	}
	m.rows++
	return nil
}

func (m *manifestWriter) Bytes() ([]byte, error) {
	m.w.Flush()
	if err := m.w.Error(); err != nil {
		return nil, err
	}
	return m.buf.Bytes(), nil
}
