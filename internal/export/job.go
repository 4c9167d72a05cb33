package export

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/framelabel/framelabel/internal/annotation"
	"github.com/framelabel/framelabel/internal/video"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job exports the labeled frames of one video. Annotations is a snapshot
// taken when the job was created.
type Job struct {
	ID          string
	RunID       string
	VideoID     string
	VideoPath   string
	ExportDir   string
	Annotations []annotation.FrameAnnotation
	Progress    *Progress

	mu         sync.Mutex
	status     string
	err        error
	rows       int
	startedAt  time.Time
	finishedAt time.Time
	done       chan struct{}
}

// JobStatus is a point-in-time view of a Job.
type JobStatus struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	VideoID    string    `json:"video_id"`
	ExportDir  string    `json:"export_dir"`
	Status     string    `json:"status"`
	Progress   float64   `json:"progress"`
	Rows       int       `json:"rows"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

func newJob(id, runID, videoID, videoPath, exportDir string, annotations []annotation.FrameAnnotation) *Job {
	return &Job{
		ID:          id,
		RunID:       runID,
		VideoID:     videoID,
		VideoPath:   videoPath,
		ExportDir:   exportDir,
		Annotations: annotations,
		Progress:    &Progress{},
		status:      JobStatusPending,
		done:        make(chan struct{}),
	}
}

// Done is closed once the job has finished and its progress reads 1.0.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the error that ended the job, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := JobStatus{
		ID:         j.ID,
		RunID:      j.RunID,
		VideoID:    j.VideoID,
		ExportDir:  j.ExportDir,
		Status:     j.status,
		Progress:   j.Progress.Value(),
		Rows:       j.rows,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	return st
}

func (j *Job) markRunning() {
	j.mu.Lock()
	j.status = JobStatusRunning
	j.startedAt = time.Now()
	j.mu.Unlock()
}

func (j *Job) addRow() {
	j.mu.Lock()
	j.rows++
	j.mu.Unlock()
}

// finish records the outcome, publishes progress 1.0 and releases waiters.
func (j *Job) finish(err error) {
	j.mu.Lock()
	j.err = err
	j.finishedAt = time.Now()
	if err != nil {
		j.status = JobStatusFailed
	} else {
		j.status = JobStatusCompleted
	}
	j.mu.Unlock()

	j.Progress.Finish()
	close(j.done)
}

// exportFrames runs the export of one video: it writes one PNG per labeled
// frame in [0, max end frame) and a multi-hot labels.csv. The last end frame
// itself is never exported. Frames no annotation covers produce neither an
// image nor a row.
func exportFrames(ctx context.Context, opener video.Opener, job *Job, logger *slog.Logger) error {
	classes := BuildClasses(job.Annotations)
	csvPath := filepath.Join(job.ExportDir, ManifestFilename)
	manifest, err := newManifestWriter(classes)
	if err != nil {
		return &CSVWriteError{Path: csvPath, Err: err}
	}

	if err := os.MkdirAll(job.ExportDir, 0755); err != nil {
		return &DirectoryCreateError{Dir: job.ExportDir, Err: err}
	}

	var endFrame uint32
	for _, a := range job.Annotations {
		endFrame = max(endFrame, a.EndFrame)
	}

	src, err := opener.Open(ctx, job.VideoPath)
	if err != nil {
		return &FrameReadError{VideoID: job.VideoID, Op: "open", Err: err}
	}
	defer src.Close()

	logger.Info("exporting labels",
		"export_dir", job.ExportDir,
		"classes", len(classes.Names),
		"end_frame", endFrame,
	)

	stem := VideoStem(job.VideoPath)
	for i := uint32(0); i < endFrame; i++ {
		job.Progress.Set(float64(i) / float64(endFrame))

		hot, labeled := classes.FrameClasses(job.Annotations, i)
		if !labeled {
			continue
		}

		if err := src.Seek(i); err != nil {
			return &FrameReadError{VideoID: job.VideoID, Frame: i, Op: "seek", Err: err}
		}
		frame, err := src.ReadNext()
		if err != nil {
			return &FrameReadError{VideoID: job.VideoID, Frame: i, Op: "read", Err: err}
		}

		filename := FrameFilename(stem, i)
		if err := writePNG(filepath.Join(job.ExportDir, filename), frame); err != nil {
			return err
		}
		if err := manifest.AddRow(filename, hot); err != nil {
			return &CSVWriteError{Path: csvPath, Err: err}
		}
		job.addRow()
	}

	body, err := manifest.Bytes()
	if err == nil {
		err = os.WriteFile(csvPath, body, 0644)
	}
	if err != nil {
		return &CSVWriteError{Path: csvPath, Err: err}
	}

	logger.Info("labels exported", "rows", manifest.rows, "csv", csvPath)
	return nil
}

func writePNG(path string, frame image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return &FrameWriteError{Path: path, Err: err}
	}
	if err := png.Encode(f, frame); err != nil {
		f.Close()
		return &FrameWriteError{Path: path, Err: fmt.Errorf("encode: %w", err)}
	}
	if err := f.Close(); err != nil {
		return &FrameWriteError{Path: path, Err: err}
	}
	return nil
}
