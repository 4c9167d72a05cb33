package config

import (
	"os"
	"path/filepath"
	"testing"
)

// isolate points the data dir at a temp dir, runs from an empty directory and
// clears every FRAMELABEL_ variable for the test.
func isolate(t *testing.T) string {
	t.Helper()
	for _, key := range []string{EnvPort, EnvLogLevel, EnvProject, EnvFFmpegPath, EnvFFprobePath, EnvHeadless, EnvConfigPath} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	dataDir := t.TempDir()
	t.Setenv(EnvDataDir, dataDir)
	t.Chdir(t.TempDir())
	return dataDir
}

func TestNew_Defaults(t *testing.T) {
	dataDir := isolate(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.LogLevel() != DefaultLogLevel {
		t.Errorf("LogLevel = %q", cfg.LogLevel())
	}
	if cfg.DBPath() != filepath.Join(dataDir, DBFilename) {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
	if cfg.ConfigPath() != filepath.Join(dataDir, ConfigFilename) {
		t.Errorf("ConfigPath = %q", cfg.ConfigPath())
	}
	if cfg.FFmpegPath() != "ffmpeg" || cfg.FFprobePath() != "ffprobe" {
		t.Errorf("ffmpeg = %q, ffprobe = %q", cfg.FFmpegPath(), cfg.FFprobePath())
	}
	if cfg.ProjectRoot() != "" || cfg.Headless() {
		t.Errorf("ProjectRoot = %q, Headless = %v", cfg.ProjectRoot(), cfg.Headless())
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(EnvPort, "9100")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvProject, "/data/demo")
	t.Setenv(EnvFFmpegPath, "/opt/ffmpeg")
	t.Setenv(EnvFFprobePath, "/opt/ffprobe")
	t.Setenv(EnvHeadless, "true")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9100 || cfg.LogLevel() != "debug" || cfg.ProjectRoot() != "/data/demo" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.FFmpegPath() != "/opt/ffmpeg" || cfg.FFprobePath() != "/opt/ffprobe" || !cfg.Headless() {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestNew_InvalidEnv(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"port zero", EnvPort, "0"},
		{"headless not bool", EnvHeadless, "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			t.Setenv(tt.key, tt.value)
			if _, err := New(); err == nil {
				t.Errorf("New() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestNew_ConfigFile(t *testing.T) {
	dataDir := isolate(t)
	content := `
port = 9200
log_level = "warn"
project = "/data/from-file"
ffmpeg = "/usr/local/bin/ffmpeg"
headless = true
`
	if err := os.WriteFile(filepath.Join(dataDir, ConfigFilename), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvLogLevel, "error")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9200 || cfg.ProjectRoot() != "/data/from-file" || !cfg.Headless() {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.FFmpegPath() != "/usr/local/bin/ffmpeg" || cfg.FFprobePath() != DefaultFFprobePath {
		t.Errorf("ffmpeg = %q, ffprobe = %q", cfg.FFmpegPath(), cfg.FFprobePath())
	}
	if cfg.LogLevel() != "error" {
		t.Errorf("LogLevel = %q, env should win over file", cfg.LogLevel())
	}
}

func TestNew_ConfigFileErrors(t *testing.T) {
	t.Run("malformed", func(t *testing.T) {
		dataDir := isolate(t)
		os.WriteFile(filepath.Join(dataDir, ConfigFilename), []byte("port = ["), 0644)
		if _, err := New(); err == nil {
			t.Error("New() should fail on malformed TOML")
		}
	})
	t.Run("bad port", func(t *testing.T) {
		dataDir := isolate(t)
		os.WriteFile(filepath.Join(dataDir, ConfigFilename), []byte("port = 99999"), 0644)
		if _, err := New(); err == nil {
			t.Error("New() should fail on out of range port")
		}
	})
	t.Run("explicit path missing", func(t *testing.T) {
		isolate(t)
		t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "nope.toml"))
		if _, err := New(); err == nil {
			t.Error("New() should fail when FRAMELABEL_CONFIG does not exist")
		}
	})
}

func TestNew_DotEnv(t *testing.T) {
	isolate(t)
	if err := os.WriteFile(DotEnvFilename, []byte("FRAMELABEL_PORT=9300\nFRAMELABEL_LOG_LEVEL=debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// .env never overrides variables already set
	t.Setenv(EnvLogLevel, "warn")
	t.Cleanup(func() { os.Unsetenv(EnvPort) })

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9300 {
		t.Errorf("Port = %d, want 9300 from .env", cfg.Port())
	}
	if cfg.LogLevel() != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel())
	}
}
