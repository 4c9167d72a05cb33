package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/framelabel/framelabel/internal/config"
	"github.com/framelabel/framelabel/internal/logging"
	"github.com/framelabel/framelabel/internal/project"
	"github.com/framelabel/framelabel/internal/video"
)

var errNoProject = errors.New("no project: pass --project or set " + config.EnvProject)

// commandContext carries what every subcommand shares: flags, the lazily
// loaded configuration and the video backend.
type commandContext struct {
	projectFlag string

	configOnce sync.Once
	config     config.Config
	configErr  error

	// opener replaces the ffmpeg backend when set.
	opener video.Opener
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.New()
		if err != nil {
			c.configErr = fmt.Errorf("failed to load config: %w", err)
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(w io.Writer) *slog.Logger {
	level := config.DefaultLogLevel
	if cfg, err := c.ensureConfig(); err == nil {
		level = cfg.LogLevel()
	}
	return logging.NewLoggerTo(w, level)
}

// projectRoot resolves the project from --project, then the configuration.
func (c *commandContext) projectRoot() (string, error) {
	if root := strings.TrimSpace(c.projectFlag); root != "" {
		return root, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	if cfg.ProjectRoot() == "" {
		return "", errNoProject
	}
	return cfg.ProjectRoot(), nil
}

func (c *commandContext) loadProject() (*project.Project, error) {
	root, err := c.projectRoot()
	if err != nil {
		return nil, err
	}
	return project.Load(root)
}

func (c *commandContext) videoOpener(logger *slog.Logger) (video.Opener, error) {
	if c.opener != nil {
		return c.opener, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return video.NewFFmpegOpener(cfg.FFmpegPath(), cfg.FFprobePath(), logger), nil
}
