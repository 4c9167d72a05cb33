package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/spf13/cobra"

	"github.com/framelabel/framelabel/internal/export"
)

const (
	progressPollInterval = 100 * time.Millisecond
	trackerTotal         = 1000
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export labeled frames and labels.csv for every annotated video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := ctx.logger(cmd.ErrOrStderr())

			p, err := ctx.loadProject()
			if err != nil {
				return err
			}
			opener, err := ctx.videoOpener(logger)
			if err != nil {
				return err
			}

			var recorder export.Recorder
			if !noHistory {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				database, repo, err := openHistory(cfg, logger)
				if err != nil {
					return err
				}
				defer database.Close()
				recorder = repo
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine := export.NewEngine(opener, recorder, logger)
			run, err := engine.Start(sigCtx, p)
			if err != nil {
				return err
			}
			if len(run.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to export: no video has annotations")
				return nil
			}

			out := cmd.OutOrStdout()
			if isTerminal(out) {
				err = watchWithProgress(sigCtx, out, run)
			} else {
				err = watchWithLogs(sigCtx, logger, run)
			}
			if err != nil {
				return err
			}
			if err := engine.Drain(sigCtx); err != nil {
				return err
			}

			fmt.Fprintln(out, runTable(run))
			if failed := countFailed(run); failed > 0 {
				return fmt.Errorf("%d of %d export job(s) failed", failed, len(run.Jobs))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record the run in the export history")
	return cmd
}

// watchWithProgress draws one progress bar per job until the run is done.
func watchWithProgress(ctx context.Context, out io.Writer, run *export.Run) error {
	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetAutoStop(false)
	pw.SetTrackerLength(30)
	pw.SetUpdateFrequency(progressPollInterval)
	pw.SetStyle(progress.StyleDefault)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Value = false

	trackers := make(map[string]*progress.Tracker, len(run.Jobs))
	for _, j := range run.Jobs {
		t := &progress.Tracker{Message: j.VideoID, Total: trackerTotal, Units: progress.UnitsDefault}
		trackers[j.ID] = t
		pw.AppendTracker(t)
	}
	go pw.Render()
	defer func() {
		pw.Stop()
		for pw.IsRenderInProgress() {
			time.Sleep(10 * time.Millisecond)
		}
	}()

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()
	for {
		for _, j := range run.Jobs {
			t := trackers[j.ID]
			if t.IsDone() {
				continue
			}
			st := j.Status()
			t.SetValue(int64(st.Progress * trackerTotal))
			switch st.Status {
			case export.JobStatusCompleted:
				t.MarkAsDone()
			case export.JobStatusFailed:
				t.MarkAsErrored()
			}
		}
		if run.Done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// watchWithLogs logs each job as it finishes.
func watchWithLogs(ctx context.Context, logger *slog.Logger, run *export.Run) error {
	for _, j := range run.Jobs {
		select {
		case <-j.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		st := j.Status()
		if st.Error != "" {
			logger.Error("video export failed", "video_id", st.VideoID, "error", st.Error)
			continue
		}
		logger.Info("video exported", "video_id", st.VideoID, "rows", st.Rows, "export_dir", st.ExportDir)
	}
	return nil
}

func runTable(run *export.Run) string {
	rows := make([][]string, 0, len(run.Jobs))
	for _, j := range run.Jobs {
		st := j.Status()
		rows = append(rows, []string{st.VideoID, st.Status, strconv.Itoa(st.Rows), st.ExportDir, st.Error})
	}
	return renderTable(
		[]string{"Video", "Status", "Frames", "Output", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func countFailed(run *export.Run) int {
	n := 0
	for _, j := range run.Jobs {
		if j.Status().Status == export.JobStatusFailed {
			n++
		}
	}
	return n
}
