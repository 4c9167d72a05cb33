package export

import (
	"context"
	"encoding/csv"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/framelabel/framelabel/internal/annotation"
	"github.com/framelabel/framelabel/internal/project"
	"github.com/framelabel/framelabel/internal/video"
)

// fakeSource yields 1x1 gray frames whose value is the frame index.
type fakeSource struct {
	frames  uint32
	failAt  int
	pos     uint32
	onClose func()
}

func (s *fakeSource) FrameCount() uint32 { return s.frames }
func (s *fakeSource) FPS() float64       { return 25 }

func (s *fakeSource) Seek(frame uint32) error {
	if frame >= s.frames {
		return video.ErrEndOfStream
	}
	s.pos = frame
	return nil
}

func (s *fakeSource) ReadNext() (image.Image, error) {
	if s.failAt >= 0 && s.pos == uint32(s.failAt) {
		return nil, errors.New("corrupt packet")
	}
	if s.pos >= s.frames {
		return nil, video.ErrEndOfStream
	}
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.SetGray(0, 0, color.Gray{Y: uint8(s.pos)})
	s.pos++
	return img, nil
}

func (s *fakeSource) Close() error {
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

// fakeOpener opens a fakeSource per path; failAt maps a video file name to a
// frame whose read fails, missing names a file that cannot be opened.
type fakeOpener struct {
	frames  uint32
	failAt  map[string]int
	missing map[string]bool
	gate    chan struct{}

	mu     sync.Mutex
	closed int
}

func (o *fakeOpener) Open(ctx context.Context, path string) (video.Source, error) {
	if o.gate != nil {
		<-o.gate
	}
	name := filepath.Base(path)
	if o.missing[name] {
		return nil, os.ErrNotExist
	}
	failAt := -1
	if f, ok := o.failAt[name]; ok {
		failAt = f
	}
	return &fakeSource{frames: o.frames, failAt: failAt, onClose: func() {
		o.mu.Lock()
		o.closed++
		o.mu.Unlock()
	}}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProject(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.Create(t.TempDir(), "demo")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return p
}

func add(t *testing.T, p *project.Project, videoID string, start, end uint32, label string) {
	t.Helper()
	if err := p.Store.Add(videoID, annotation.FrameAnnotation{StartFrame: start, EndFrame: end, Label: label}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func pngFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names
}

func runExport(t *testing.T, engine *Engine, p *project.Project) *Run {
	t.Helper()
	run, err := engine.Start(context.Background(), p)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := run.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return run
}

func TestBuildClasses_FirstSeenOrder(t *testing.T) {
	classes := BuildClasses([]annotation.FrameAnnotation{
		{StartFrame: 0, EndFrame: 1, Label: "B"},
		{StartFrame: 0, EndFrame: 1, Label: "A"},
		{StartFrame: 0, EndFrame: 1, Label: "B"},
	})

	if want := []string{"B", "A"}; !reflect.DeepEqual(classes.Names, want) {
		t.Fatalf("Names = %v, want %v", classes.Names, want)
	}
	if i, ok := classes.Index("B"); !ok || i != 0 {
		t.Errorf("Index(B) = %d, %v; want 0, true", i, ok)
	}
	if i, ok := classes.Index("A"); !ok || i != 1 {
		t.Errorf("Index(A) = %d, %v; want 1, true", i, ok)
	}
	if _, ok := classes.Index("C"); ok {
		t.Error("Index(C) should not exist")
	}
}

func TestFrameClasses_MultiHot(t *testing.T) {
	annotations := []annotation.FrameAnnotation{
		{StartFrame: 1, EndFrame: 5, Label: "dog"},
		{StartFrame: 3, EndFrame: 7, Label: "run"},
	}
	classes := BuildClasses(annotations)

	tests := []struct {
		frame       uint32
		wantHot     []bool
		wantLabeled bool
	}{
		{0, []bool{false, false}, false},
		{2, []bool{true, false}, true},
		{4, []bool{true, true}, true},
		{6, []bool{false, true}, true},
		{8, []bool{false, false}, false},
	}
	for _, tt := range tests {
		hot, labeled := classes.FrameClasses(annotations, tt.frame)
		if labeled != tt.wantLabeled || !reflect.DeepEqual(hot, tt.wantHot) {
			t.Errorf("frame %d: got %v %v, want %v %v", tt.frame, hot, labeled, tt.wantHot, tt.wantLabeled)
		}
	}
}

func TestFrameFilename(t *testing.T) {
	if got := FrameFilename("clip", 42); got != "clip_frame_00042.png" {
		t.Errorf("FrameFilename() = %q", got)
	}
	if got := FrameFilename("clip", 123456); got != "clip_frame_123456.png" {
		t.Errorf("FrameFilename() = %q", got)
	}
	if got := VideoStem("/p/video/my.clip.mp4"); got != "my.clip" {
		t.Errorf("VideoStem() = %q", got)
	}
}

func TestProgress_Clamps(t *testing.T) {
	var p Progress
	if p.Value() != 0 || p.IsDone() {
		t.Fatal("zero progress should be 0 and not done")
	}
	p.Set(1.7)
	if p.Value() != 1 {
		t.Errorf("Set(1.7) -> %f, want 1", p.Value())
	}
	p.Set(-2)
	if p.Value() != 0 {
		t.Errorf("Set(-2) -> %f, want 0", p.Value())
	}
	p.Finish()
	if !p.IsDone() {
		t.Error("Finish() should mark done")
	}
}

func TestExport_Sparsity(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "clip.mp4", 2, 4, "x")

	engine := NewEngine(&fakeOpener{frames: 100}, nil, testLogger())
	run := runExport(t, engine, p)
	if err := run.Err(); err != nil {
		t.Fatalf("run error = %v", err)
	}

	dir := p.ExportDir("clip.mp4")
	want := []string{"clip_frame_00002.png", "clip_frame_00003.png"}
	if got := pngFiles(t, dir); !reflect.DeepEqual(got, want) {
		t.Errorf("images = %v, want %v", got, want)
	}

	records := readCSV(t, filepath.Join(dir, ManifestFilename))
	wantRecords := [][]string{
		{"filename", "x"},
		{"clip_frame_00002.png", "1"},
		{"clip_frame_00003.png", "1"},
	}
	if !reflect.DeepEqual(records, wantRecords) {
		t.Errorf("csv = %v, want %v", records, wantRecords)
	}

	st := run.Jobs[0].Status()
	if st.Status != JobStatusCompleted || st.Rows != 2 || st.Progress != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestExport_WritesFramePixels(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "clip.mp4", 7, 9, "x")

	runExport(t, NewEngine(&fakeOpener{frames: 100}, nil, testLogger()), p)

	f, err := os.Open(filepath.Join(p.ExportDir("clip.mp4"), "clip_frame_00008.png"))
	if err != nil {
		t.Fatalf("open frame: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got := color.GrayModel.Convert(img.At(0, 0)).(color.Gray).Y; got != 8 {
		t.Errorf("pixel = %d, want 8", got)
	}
}

func TestExport_MultiHotRows(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "walk.mp4", 1, 5, "dog")
	add(t, p, "walk.mp4", 3, 7, "run")

	run := runExport(t, NewEngine(&fakeOpener{frames: 100}, nil, testLogger()), p)
	if err := run.Err(); err != nil {
		t.Fatalf("run error = %v", err)
	}

	records := readCSV(t, filepath.Join(p.ExportDir("walk.mp4"), ManifestFilename))
	want := [][]string{
		{"filename", "dog", "run"},
		{"walk_frame_00001.png", "1", "0"},
		{"walk_frame_00002.png", "1", "0"},
		{"walk_frame_00003.png", "1", "1"},
		{"walk_frame_00004.png", "1", "1"},
		{"walk_frame_00005.png", "1", "1"},
		{"walk_frame_00006.png", "0", "1"},
	}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("csv = %v, want %v", records, want)
	}
}

func TestExport_LabelWithComma(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "a.mp4", 0, 1, "left, right")

	runExport(t, NewEngine(&fakeOpener{frames: 10}, nil, testLogger()), p)

	records := readCSV(t, filepath.Join(p.ExportDir("a.mp4"), ManifestFilename))
	if records[0][1] != "left, right" {
		t.Errorf("header = %v", records[0])
	}
}

func TestExport_ConcurrentJobsAreIndependent(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "good.mp4", 0, 4, "a")
	add(t, p, "bad.mp4", 0, 6, "b")
	add(t, p, "gone.mp4", 0, 2, "c")
	p.Store.EnsureVideo("empty.mp4")

	opener := &fakeOpener{
		frames:  100,
		failAt:  map[string]int{"bad.mp4": 3},
		missing: map[string]bool{"gone.mp4": true},
	}
	run := runExport(t, NewEngine(opener, nil, testLogger()), p)

	if len(run.Jobs) != 3 {
		t.Fatalf("jobs = %d, want 3 (empty video skipped)", len(run.Jobs))
	}
	if run.Job("empty.mp4") != nil {
		t.Error("video without annotations should not get a job")
	}

	good := run.Job("good.mp4").Status()
	if good.Status != JobStatusCompleted || good.Rows != 4 {
		t.Errorf("good = %+v", good)
	}

	bad := run.Job("bad.mp4")
	var readErr *FrameReadError
	if !errors.As(bad.Err(), &readErr) || readErr.Frame != 3 || readErr.Op != "read" {
		t.Errorf("bad err = %v, want FrameReadError at frame 3", bad.Err())
	}
	if bad.Progress.Value() != 1 {
		t.Errorf("failed job progress = %f, want 1", bad.Progress.Value())
	}
	if _, err := os.Stat(filepath.Join(p.ExportDir("bad.mp4"), ManifestFilename)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("aborted job should not write csv, stat err = %v", err)
	}
	if got := pngFiles(t, p.ExportDir("bad.mp4")); len(got) != 3 {
		t.Errorf("aborted job images = %v, want frames 0-2 kept", got)
	}

	gone := run.Job("gone.mp4")
	if !errors.As(gone.Err(), &readErr) || readErr.Op != "open" {
		t.Errorf("gone err = %v, want open FrameReadError", gone.Err())
	}
	if gone.Status().Status != JobStatusFailed {
		t.Errorf("gone status = %s", gone.Status().Status)
	}

	if !errors.Is(run.Err(), os.ErrNotExist) {
		t.Errorf("run.Err() = %v, want joined errors", run.Err())
	}
	if run.Progress() != 1 || !run.Done() {
		t.Errorf("run progress = %f done = %v", run.Progress(), run.Done())
	}
	if opener.closed != 2 {
		t.Errorf("closed sources = %d, want 2", opener.closed)
	}
}

func TestExport_DirectoryCreateError(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "a.mp4", 0, 2, "x")
	add(t, p, "b.mp4", 0, 2, "y")

	// A regular file where the export directory should go.
	if err := os.WriteFile(p.ExportDir("a.mp4"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	run := runExport(t, NewEngine(&fakeOpener{frames: 10}, nil, testLogger()), p)

	var dirErr *DirectoryCreateError
	if !errors.As(run.Job("a.mp4").Err(), &dirErr) {
		t.Errorf("a err = %v, want DirectoryCreateError", run.Job("a.mp4").Err())
	}
	if run.Job("a.mp4").Progress.Value() != 1 {
		t.Error("failed job should finish progress")
	}
	if err := run.Job("b.mp4").Err(); err != nil {
		t.Errorf("sibling job error = %v", err)
	}
}

func TestExport_CSVWriteError(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "a.mp4", 0, 3, "x")

	// A directory where labels.csv should be written.
	csvPath := filepath.Join(p.ExportDir("a.mp4"), ManifestFilename)
	if err := os.MkdirAll(csvPath, 0755); err != nil {
		t.Fatal(err)
	}

	run := runExport(t, NewEngine(&fakeOpener{frames: 10}, nil, testLogger()), p)
	job := run.Job("a.mp4")

	var csvErr *CSVWriteError
	if !errors.As(job.Err(), &csvErr) {
		t.Fatalf("err = %v, want CSVWriteError", job.Err())
	}
	if csvErr.Path != csvPath {
		t.Errorf("CSVWriteError.Path = %s, want %s", csvErr.Path, csvPath)
	}
	if got := pngFiles(t, p.ExportDir("a.mp4")); len(got) != 3 {
		t.Errorf("frames left on disk = %v, want 3", got)
	}
	if job.Progress.Value() != 1 {
		t.Errorf("progress = %v, want 1", job.Progress.Value())
	}
	if st := job.Status(); st.Status != JobStatusFailed || st.Rows != 3 {
		t.Errorf("status = %s rows = %d, want failed with 3 rows", st.Status, st.Rows)
	}
}

func TestExport_ProgressMonotonic(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "a.mp4", 0, 40, "x")
	add(t, p, "a.mp4", 60, 200, "y")

	engine := NewEngine(&fakeOpener{frames: 500}, nil, testLogger())
	run, err := engine.Start(context.Background(), p)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	job := run.Jobs[0]

	var observed []float64
	for done := false; !done; {
		select {
		case <-job.Done():
			done = true
		default:
		}
		observed = append(observed, job.Progress.Value())
	}
	for i := 1; i < len(observed); i++ {
		if observed[i] < observed[i-1] {
			t.Fatalf("progress decreased at %d: %f -> %f", i, observed[i-1], observed[i])
		}
	}
	if last := observed[len(observed)-1]; last != 1 {
		t.Errorf("last progress = %f, want 1", last)
	}
}

func TestExport_SnapshotIsolation(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "a.mp4", 0, 3, "x")

	gate := make(chan struct{})
	engine := NewEngine(&fakeOpener{frames: 10, gate: gate}, nil, testLogger())
	run, err := engine.Start(context.Background(), p)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	add(t, p, "a.mp4", 0, 3, "late")
	p.Store.Remove("a.mp4", 0)
	close(gate)

	if err := run.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	records := readCSV(t, filepath.Join(p.ExportDir("a.mp4"), ManifestFilename))
	if want := []string{"filename", "x"}; !reflect.DeepEqual(records[0], want) {
		t.Errorf("header = %v, want %v", records[0], want)
	}
}

func TestEngine_RejectsConcurrentStart(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "a.mp4", 0, 3, "x")

	gate := make(chan struct{})
	engine := NewEngine(&fakeOpener{frames: 10, gate: gate}, nil, testLogger())
	first, err := engine.Start(context.Background(), p)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !engine.Active() {
		t.Error("engine should be active")
	}
	if _, err := engine.Start(context.Background(), p); !errors.Is(err, ErrExportInProgress) {
		t.Errorf("second Start() error = %v, want ErrExportInProgress", err)
	}

	close(gate)
	if err := first.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, err := engine.Start(context.Background(), p)
	if err != nil {
		t.Fatalf("Start() after finish error = %v", err)
	}
	second.Wait(context.Background())

	if got, ok := engine.Run(first.ID); !ok || got != first {
		t.Error("first run should be retained")
	}
	if engine.Latest() != second {
		t.Error("Latest() should be the second run")
	}
	if runs := engine.Runs(); len(runs) != 2 || runs[0] != second {
		t.Errorf("Runs() = %d runs, newest first expected", len(runs))
	}
}

func TestEngine_NoProject(t *testing.T) {
	engine := NewEngine(&fakeOpener{}, nil, testLogger())
	if _, err := engine.Start(context.Background(), nil); !errors.Is(err, project.ErrNoProjectLoaded) {
		t.Errorf("Start(nil) error = %v", err)
	}
}

func TestEngine_EmptyProject(t *testing.T) {
	p := newTestProject(t)
	run := runExport(t, NewEngine(&fakeOpener{}, nil, testLogger()), p)
	if len(run.Jobs) != 0 || !run.Done() || run.Progress() != 1 {
		t.Errorf("empty run = %+v", run.Status())
	}
}

func TestEngine_RetainsBoundedRuns(t *testing.T) {
	p := newTestProject(t)
	engine := NewEngine(&fakeOpener{}, nil, testLogger())
	first := runExport(t, engine, p)
	for i := 0; i < maxRetainedRuns; i++ {
		runExport(t, engine, p)
	}
	if _, ok := engine.Run(first.ID); ok {
		t.Error("oldest run should have been evicted")
	}
	if got := len(engine.Runs()); got != maxRetainedRuns {
		t.Errorf("retained = %d, want %d", got, maxRetainedRuns)
	}
}

type recordingRecorder struct {
	mu       sync.Mutex
	runs     []string
	finished []JobStatus
}

func (r *recordingRecorder) RunStarted(ctx context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run.ID)
	return nil
}

func (r *recordingRecorder) JobFinished(ctx context.Context, st JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, st)
	return errors.New("disk full")
}

func TestEngine_Recorder(t *testing.T) {
	p := newTestProject(t)
	add(t, p, "a.mp4", 0, 2, "x")
	add(t, p, "b.mp4", 0, 2, "y")

	rec := &recordingRecorder{}
	engine := NewEngine(&fakeOpener{frames: 10}, rec, testLogger())
	run := runExport(t, engine, p)

	// JobFinished runs after Done is closed; Drain waits for it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.runs) != 1 || rec.runs[0] != run.ID {
		t.Errorf("runs = %v", rec.runs)
	}
	if len(rec.finished) != 2 {
		t.Fatalf("finished = %d, want 2", len(rec.finished))
	}
	for _, st := range rec.finished {
		if st.Status != JobStatusCompleted || st.RunID != run.ID {
			t.Errorf("finished status = %+v", st)
		}
	}
}
