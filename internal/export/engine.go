// Package export writes the labeled frames of every annotated video in a
// project to PNG files plus a multi-hot labels.csv, one concurrent job per
// video.
package export

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/framelabel/framelabel/internal/logging"
	"github.com/framelabel/framelabel/internal/project"
	"github.com/framelabel/framelabel/internal/video"
)

// maxRetainedRuns bounds how many finished runs Run(id) can still find.
const maxRetainedRuns = 32

// Recorder persists export history. Failures are logged and never affect the
// export itself.
type Recorder interface {
	RunStarted(ctx context.Context, run *Run) error
	JobFinished(ctx context.Context, status JobStatus) error
}

// Run is one export trigger: a job per video that had annotations when the
// run started.
type Run struct {
	ID          string
	ProjectRoot string
	StartedAt   time.Time
	Jobs        []*Job
}

// RunStatus is a point-in-time view of a Run.
type RunStatus struct {
	ID          string      `json:"id"`
	ProjectRoot string      `json:"project_root"`
	StartedAt   time.Time   `json:"started_at"`
	Done        bool        `json:"done"`
	Progress    float64     `json:"progress"`
	Jobs        []JobStatus `json:"jobs"`
}

// Done reports whether every job has finished.
func (r *Run) Done() bool {
	for _, j := range r.Jobs {
		select {
		case <-j.Done():
		default:
			return false
		}
	}
	return true
}

// Progress is the mean progress of all jobs; 1 for a run with no jobs.
func (r *Run) Progress() float64 {
	if len(r.Jobs) == 0 {
		return 1
	}
	var sum float64
	for _, j := range r.Jobs {
		sum += j.Progress.Value()
	}
	return sum / float64(len(r.Jobs))
}

// Wait blocks until every job has finished or ctx is done.
func (r *Run) Wait(ctx context.Context) error {
	for _, j := range r.Jobs {
		select {
		case <-j.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Err joins the errors of every failed job.
func (r *Run) Err() error {
	var errs []error
	for _, j := range r.Jobs {
		if err := j.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Run) Status() RunStatus {
	st := RunStatus{
		ID:          r.ID,
		ProjectRoot: r.ProjectRoot,
		StartedAt:   r.StartedAt,
		Done:        r.Done(),
		Progress:    r.Progress(),
		Jobs:        make([]JobStatus, 0, len(r.Jobs)),
	}
	for _, j := range r.Jobs {
		st.Jobs = append(st.Jobs, j.Status())
	}
	return st
}

// Job returns the job exporting videoID, or nil.
func (r *Run) Job(videoID string) *Job {
	for _, j := range r.Jobs {
		if j.VideoID == videoID {
			return j
		}
	}
	return nil
}

type Engine struct {
	opener   video.Opener
	recorder Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	runs   map[string]*Run
	order  []string
	latest *Run

	workers sync.WaitGroup
}

// NewEngine creates an export engine. recorder may be nil.
func NewEngine(opener video.Opener, recorder Recorder, logger *slog.Logger) *Engine {
	return &Engine{
		opener:   opener,
		recorder: recorder,
		logger:   logging.WithComponent(logger, "export"),
		runs:     make(map[string]*Run),
	}
}

// Start snapshots the project's annotations and launches one worker per
// video with at least one annotation. It returns immediately; poll the
// returned run's jobs for progress. Start fails with ErrExportInProgress while
// a previous run still has unfinished jobs.
func (e *Engine) Start(ctx context.Context, p *project.Project) (*Run, error) {
	if p == nil {
		return nil, project.ErrNoProjectLoaded
	}

	e.mu.Lock()
	if e.latest != nil && !e.latest.Done() {
		e.mu.Unlock()
		return nil, ErrExportInProgress
	}

	run := &Run{
		ID:          uuid.NewString(),
		ProjectRoot: p.Root,
		StartedAt:   time.Now().UTC(),
	}
	snapshot := p.Store.Snapshot()
	for _, videoID := range p.Store.Videos() {
		annotations := snapshot[videoID]
		if len(annotations) == 0 {
			continue
		}
		run.Jobs = append(run.Jobs, newJob(
			uuid.NewString(),
			run.ID,
			videoID,
			p.VideoPath(videoID),
			p.ExportDir(videoID),
			annotations,
		))
	}
	e.remember(run)
	e.workers.Add(len(run.Jobs))
	e.mu.Unlock()

	logger := logging.WithExportID(e.logger, run.ID)
	logger.Info("export started", "project", logging.SanitizePath(p.Root), "jobs", len(run.Jobs))

	if e.recorder != nil {
		if err := e.recorder.RunStarted(ctx, run); err != nil {
			logger.Warn("failed to record export run", "error", err)
		}
	}

	for _, job := range run.Jobs {
		go e.work(ctx, job, logging.WithVideoID(logger, job.VideoID))
	}
	return run, nil
}

func (e *Engine) work(ctx context.Context, job *Job, logger *slog.Logger) {
	defer e.workers.Done()
	job.markRunning()
	err := exportFrames(ctx, e.opener, job, logger)
	if err != nil {
		logger.Error("export job failed", "export_dir", filepath.Base(job.ExportDir), "error", err)
	}
	job.finish(err)

	if e.recorder != nil {
		if rerr := e.recorder.JobFinished(context.WithoutCancel(ctx), job.Status()); rerr != nil {
			logger.Warn("failed to record export job", "error", rerr)
		}
	}
}

// remember must be called with e.mu held.
func (e *Engine) remember(run *Run) {
	e.runs[run.ID] = run
	e.order = append(e.order, run.ID)
	e.latest = run
	for len(e.order) > maxRetainedRuns {
		delete(e.runs, e.order[0])
		e.order = e.order[1:]
	}
}

// Run returns a retained run by id.
func (e *Engine) Run(id string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[id]
	return r, ok
}

// Latest returns the most recently started run, or nil.
func (e *Engine) Latest() *Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// Runs returns retained runs, newest first.
func (e *Engine) Runs() []*Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Run, 0, len(e.order))
	for i := len(e.order) - 1; i >= 0; i-- {
		out = append(out, e.runs[e.order[i]])
	}
	return out
}

// Active reports whether the latest run still has unfinished jobs.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest != nil && !e.latest.Done()
}

// Drain blocks until every worker has returned, history writes included, or
// ctx is done. A job's Done channel closes before its history write.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
