package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/framelabel/framelabel/internal/api"
	"github.com/framelabel/framelabel/internal/config"
	"github.com/framelabel/framelabel/internal/db"
	"github.com/framelabel/framelabel/internal/export"
	"github.com/framelabel/framelabel/internal/history"
	"github.com/framelabel/framelabel/internal/logging"
	"github.com/framelabel/framelabel/internal/playback"
	"github.com/framelabel/framelabel/internal/project"
	"github.com/framelabel/framelabel/internal/ui"
)

const lockFilename = "framelabel.lock"

func newServeCommand(ctx *commandContext) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local labeling agent: HTTP API and system tray",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, headless)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "Do not show the system tray (also "+config.EnvHeadless+")")
	return cmd
}

func runServe(ctx *commandContext, headless bool) error {
	startTime := time.Now()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLoggerTo(os.Stderr, cfg.LogLevel())
	logger.Info("starting framelabel agent", "version", config.Version, "data_dir", cfg.DataDir())

	lock, err := acquireInstanceLock(cfg.DataDir())
	if err != nil {
		return err
	}
	defer lock.Unlock()

	database, repo, err := openHistory(cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	authToken, err := history.EnsureAuthToken(context.Background(), repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	session := project.NewSession(logger)
	root, err := ctx.projectRoot()
	switch {
	case err == nil:
		if _, err := session.Open(root); err != nil {
			logger.Warn("starting without a project", "error", err)
		}
	case !errors.Is(err, errNoProject):
		return err
	}

	opener, err := ctx.videoOpener(logger)
	if err != nil {
		return err
	}
	engine := export.NewEngine(opener, repo, logger)

	printBanner(cfg.Port(), authToken, session)

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Session:   session,
		Engine:    engine,
		Playback:  playback.NewServer(opener, logging.WithComponent(logger, "playback")),
		History:   repo,
		Logger:    logger,
		StartTime: startTime,
		Version:   config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if headless || cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Session: session,
			Engine:  engine,
			Logger:  logging.WithComponent(logger, "tray"),
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	if engine.Active() {
		logger.Info("waiting for running export")
	}
	if err := engine.Drain(shutdownCtx); err != nil {
		logger.Warn("export still running at shutdown", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// acquireInstanceLock keeps a second agent from serving the same data dir.
func acquireInstanceLock(dataDir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dataDir, lockFilename))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data dir: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another framelabel agent is using %s", dataDir)
	}
	return lock, nil
}

func openHistory(cfg config.Config, logger *slog.Logger) (*db.DB, *history.SQLiteRepository, error) {
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, history.NewRepository(database.Conn()), nil
}

func printBanner(port int, authToken string, session *project.Session) {
	projectRoot := "(none)"
	if p, err := session.Current(); err == nil {
		projectRoot = p.Root
	}
	fmt.Println(renderTable(
		[]string{"FRAMELABEL " + config.Version, ""},
		[][]string{
			{"API URL", fmt.Sprintf("http://127.0.0.1:%d", port)},
			{"Auth Token", authToken},
			{"Project", projectRoot},
		},
		nil,
	))
}
