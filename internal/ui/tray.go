// Package ui is the system tray front end of the agent.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/framelabel/framelabel/internal/export"
	"github.com/framelabel/framelabel/internal/project"
)

const statusPollInterval = 500 * time.Millisecond

type Tray struct {
	session *project.Session
	engine  *export.Engine
	logger  *slog.Logger

	statusItem  *systray.MenuItem
	projectItem *systray.MenuItem

	mu sync.Mutex

	onQuit func()
	stop   chan struct{}
}

type TrayConfig struct {
	Session *project.Session
	Engine  *export.Engine
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		session: cfg.Session,
		engine:  cfg.Engine,
		logger:  cfg.Logger,
		onQuit:  cfg.OnQuit,
		stop:    make(chan struct{}),
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes())
	systray.SetTitle("Framelabel")
	systray.SetTooltip("Framelabel")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Export status")
	t.statusItem.Disable()

	t.projectItem = systray.AddMenuItem(projectText(nil), "Open project")
	t.projectItem.Disable()

	systray.AddSeparator()

	exportItem := systray.AddMenuItem("Export Labels", "Export labeled frames of every video")
	reloadItem := systray.AddMenuItem("Reload Labels", "Recompute the used label list")
	saveItem := systray.AddMenuItem("Save Project", "Write the project manifest")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Framelabel")

	go func() {
		for {
			select {
			case <-exportItem.ClickedCh:
				t.handleExport()
			case <-reloadItem.ClickedCh:
				t.handleReload()
			case <-saveItem.ClickedCh:
				t.handleSave()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	go t.pollStatus()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

// pollStatus mirrors the latest export run and the open project into the
// menu until the tray exits.
func (t *Tray) pollStatus() {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

func (t *Tray) refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, _ := t.session.Current()
	t.projectItem.SetTitle(projectText(p))
	t.statusItem.SetTitle("Status: " + statusText(t.engine.Latest()))
}

func (t *Tray) handleExport() {
	p, err := t.session.Current()
	if err != nil {
		t.logger.Warn("export requested with no project open")
		return
	}
	run, err := t.engine.Start(context.Background(), p)
	if err != nil {
		t.logger.Error("failed to start export", "error", err)
		return
	}
	t.logger.Info("export started from tray", "export_id", run.ID, "jobs", len(run.Jobs))
}

func (t *Tray) handleReload() {
	p, err := t.session.Current()
	if err != nil {
		return
	}
	labels := p.Store.ReloadLabels()
	t.logger.Info("labels reloaded", "count", len(labels))
}

func (t *Tray) handleSave() {
	p, err := t.session.Current()
	if err != nil {
		return
	}
	if err := p.Save(); err != nil {
		t.logger.Error("failed to save project", "error", err)
		return
	}
	t.logger.Info("project saved", "path", p.ManifestPath())
}

func (t *Tray) Quit() {
	systray.Quit()
}

// statusText summarizes an export run for the status menu item.
func statusText(run *export.Run) string {
	if run == nil {
		return "Idle"
	}
	if !run.Done() {
		return fmt.Sprintf("Exporting %d%%", int(run.Progress()*100))
	}
	failed := 0
	for _, j := range run.Jobs {
		if j.Status().Status == export.JobStatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Sprintf("Export finished, %d of %d failed", failed, len(run.Jobs))
	}
	return "Export finished"
}

func projectText(p *project.Project) string {
	if p == nil {
		return "Project: none"
	}
	return "Project: " + p.Root
}
