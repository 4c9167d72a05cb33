// Package config provides configuration management for framelabel.
// Values come from defaults, an optional TOML file, a .env file and
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort        = 8788
	DefaultLogLevel    = "info"
	DefaultDataDir     = ".framelabel"
	DefaultFFmpegPath  = "ffmpeg"
	DefaultFFprobePath = "ffprobe"

	// Environment variable names
	EnvPort        = "FRAMELABEL_PORT"
	EnvLogLevel    = "FRAMELABEL_LOG_LEVEL"
	EnvDataDir     = "FRAMELABEL_DATA_DIR"
	EnvProject     = "FRAMELABEL_PROJECT"
	EnvFFmpegPath  = "FRAMELABEL_FFMPEG"
	EnvFFprobePath = "FRAMELABEL_FFPROBE"
	EnvHeadless    = "FRAMELABEL_HEADLESS"
	EnvConfigPath  = "FRAMELABEL_CONFIG"

	// Database filename
	DBFilename = "framelabel.db"

	// ConfigFilename is looked up inside the data directory when
	// FRAMELABEL_CONFIG is unset.
	ConfigFilename = "config.toml"

	// DotEnvFilename is read from the working directory if present.
	DotEnvFilename = ".env"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ProjectRoot() string
	FFmpegPath() string
	FFprobePath() string
	Headless() bool
	ConfigPath() string
}

// fileConfig mirrors config.toml. Empty fields keep the default.
type fileConfig struct {
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
	DataDir  string `toml:"data_dir"`
	Project  string `toml:"project"`
	FFmpeg   string `toml:"ffmpeg"`
	FFprobe  string `toml:"ffprobe"`
	Headless *bool  `toml:"headless"`
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port        int
	logLevel    string
	dataDir     string
	projectRoot string
	ffmpegPath  string
	ffprobePath string
	headless    bool
	configPath  string
}

// New creates a new EnvConfig with defaults, the config file and environment
// variable overrides
func New() (*EnvConfig, error) {
	if err := godotenv.Load(DotEnvFilename); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", DotEnvFilename, err)
	}

	cfg := &EnvConfig{
		port:        DefaultPort,
		logLevel:    DefaultLogLevel,
		dataDir:     defaultDataDir(),
		ffmpegPath:  DefaultFFmpegPath,
		ffprobePath: DefaultFFprobePath,
	}

	// Data directory first: it locates the default config file
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	explicit := os.Getenv(EnvConfigPath)
	cfg.configPath = explicit
	if cfg.configPath == "" {
		cfg.configPath = filepath.Join(cfg.dataDir, ConfigFilename)
	}
	if err := cfg.loadFile(cfg.configPath, explicit != ""); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		if err := validatePort(fc.Port); err != nil {
			return fmt.Errorf("invalid port in %s: %w", path, err)
		}
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	// data_dir in the file moves the database, not the file itself
	if fc.DataDir != "" && os.Getenv(EnvDataDir) == "" {
		c.dataDir = fc.DataDir
	}
	if fc.Project != "" {
		c.projectRoot = fc.Project
	}
	if fc.FFmpeg != "" {
		c.ffmpegPath = fc.FFmpeg
	}
	if fc.FFprobe != "" {
		c.ffprobePath = fc.FFprobe
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if err := validatePort(port); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}
	if pr := os.Getenv(EnvProject); pr != "" {
		c.projectRoot = pr
	}
	if ff := os.Getenv(EnvFFmpegPath); ff != "" {
		c.ffmpegPath = ff
	}
	if fp := os.Getenv(EnvFFprobePath); fp != "" {
		c.ffprobePath = fp
	}
	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = headless
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ProjectRoot returns the project opened at startup, or "".
func (c *EnvConfig) ProjectRoot() string {
	return c.projectRoot
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// ConfigPath returns the config file consulted, whether or not it exists.
func (c *EnvConfig) ConfigPath() string {
	return c.configPath
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
