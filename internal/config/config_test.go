package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(EnvConfigFile, "")
	return dir
}

func TestNewManagerDefaults(t *testing.T) {
	isolate(t)

	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.Capture.Backend != BackendAuto {
		t.Fatalf("expected auto backend, got %q", cfg.Capture.Backend)
	}
	if cfg.Capture.Timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cfg.Capture.Timeout)
	}
	if !cfg.Permission.Prompt {
		t.Fatalf("expected prompt enabled by default")
	}
	if cfg.Encoding.Format != "png" {
		t.Fatalf("expected png, got %q", cfg.Encoding.Format)
	}
	if _, err := os.Stat(m.GetConfigPath()); !os.IsNotExist(err) {
		t.Fatalf("loading defaults must not create a config file")
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("SCREENBRIDGE_CAPTURE_TIMEOUT", "1500ms")
	t.Setenv("SCREENBRIDGE_CAPTURE_BACKEND", "x11")
	t.Setenv("SCREENBRIDGE_PERMISSION_PROMPT", "false")

	m, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.Capture.Timeout != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s, got %s", cfg.Capture.Timeout)
	}
	if cfg.Capture.Backend != BackendX11 {
		t.Fatalf("expected x11, got %q", cfg.Capture.Backend)
	}
	if cfg.Permission.Prompt {
		t.Fatalf("expected prompt disabled via env")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bridge.yaml")
	content := strings.Join([]string{
		"log_level: debug",
		"capture:",
		"  backend: portal",
		"  timeout: 10s",
		"encoding:",
		"  format: tiff",
		"  compression: best",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.LogLevel != "debug" || cfg.Capture.Backend != BackendPortal || cfg.Capture.Timeout != 10*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Encoding.Format != "tiff" || cfg.Encoding.Compression != "best" {
		t.Fatalf("encoding values not applied: %+v", cfg.Encoding)
	}
	// untouched keys keep their defaults
	if cfg.ServerPort != Defaults().ServerPort {
		t.Fatalf("expected default port, got %d", cfg.ServerPort)
	}
}

func TestEnvConfigFileIsExplicit(t *testing.T) {
	dir := isolate(t)
	t.Setenv(EnvConfigFile, filepath.Join(dir, "missing.yaml"))

	if _, err := NewManager(""); err == nil {
		t.Fatalf("expected error for missing file named by %s", EnvConfigFile)
	}
}

func TestExplicitMissingFileFails(t *testing.T) {
	dir := isolate(t)
	if _, err := NewManager(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"log level":    func(c *Config) { c.LogLevel = "loud" },
		"port":         func(c *Config) { c.ServerPort = 70000 },
		"backend":      func(c *Config) { c.Capture.Backend = "gdi" },
		"zero timeout": func(c *Config) { c.Capture.Timeout = 0 },
		"long timeout": func(c *Config) { c.Capture.Timeout = time.Hour },
		"display":      func(c *Config) { c.Capture.Display = -1 },
		"format":       func(c *Config) { c.Encoding.Format = "jpeg" },
		"compression":  func(c *Config) { c.Encoding.Compression = "ultra" },
		"preview fps":  func(c *Config) { c.Preview.FPS = 0 },
		"quality":      func(c *Config) { c.Preview.Quality = 101 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Defaults()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestSetRejectsInvalidAndKeepsPrevious(t *testing.T) {
	isolate(t)
	m, err := NewManager("")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.SetLogLevel("loud"); err == nil {
		t.Fatalf("expected invalid level to be rejected")
	}
	if got := m.Get().LogLevel; got != "warn" {
		t.Fatalf("expected previous level to survive, got %q", got)
	}

	if err := m.Set("capture.timeout", "3s"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := m.Get().Capture.Timeout; got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
}

func TestSaveThenReload(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "screenbridge", "config.yaml")

	m, err := NewManager("")
	if err != nil {
		t.Fatal(err)
	}
	if m.GetConfigPath() != path {
		t.Fatalf("expected default path %s, got %s", path, m.GetConfigPath())
	}
	if err := m.Set("capture.backend", "native"); err != nil {
		t.Fatal(err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := NewManager("")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Get().Capture.Backend; got != BackendNative {
		t.Fatalf("expected saved backend native, got %q", got)
	}
	if got := reloaded.Get().Capture.Timeout; got != 5*time.Second {
		t.Fatalf("expected timeout to survive yaml round trip, got %s", got)
	}
}

func TestWriteFileDefaultsLoadsBack(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "nested", "dir", "config.yaml")

	if err := WriteFile(path, Defaults()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got, want := *m.Get(), *Defaults(); got != want {
		t.Fatalf("loaded %+v, want %+v", got, want)
	}
}
