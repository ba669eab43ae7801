package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override (SCREENBRIDGE_CAPTURE_TIMEOUT, ...).
const EnvPrefix = "SCREENBRIDGE"

// EnvConfigFile names the environment variable holding an explicit config path.
// The shared library has no flags, so this is how a host points it at a file.
const EnvConfigFile = EnvPrefix + "_CONFIG"

// Capture backends
const (
	BackendAuto   = "auto"
	BackendX11    = "x11"
	BackendPortal = "portal"
	BackendNative = "native"
)

// MaxCaptureTimeout caps the configurable capture wait.
const MaxCaptureTimeout = 2 * time.Minute

// Config represents the bridge configuration
type Config struct {
	LogLevel   string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	ServerPort int    `json:"server_port" yaml:"server_port" mapstructure:"server_port"`

	Capture    CaptureConfig    `json:"capture" yaml:"capture" mapstructure:"capture"`
	Permission PermissionConfig `json:"permission" yaml:"permission" mapstructure:"permission"`
	Probe      ProbeConfig      `json:"probe" yaml:"probe" mapstructure:"probe"`
	Encoding   EncodingConfig   `json:"encoding" yaml:"encoding" mapstructure:"encoding"`
	Preview    PreviewConfig    `json:"preview" yaml:"preview" mapstructure:"preview"`
}

// CaptureConfig selects and tunes the capture backend
type CaptureConfig struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	// Timeout bounds how long a single capture call may block the caller.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	// Display is the display index used by the native backend (0 = primary).
	Display int `json:"display" yaml:"display" mapstructure:"display"`
}

// PermissionConfig controls the screen-recording authorization check
type PermissionConfig struct {
	// Prompt allows an undetermined authorization state to trigger the OS prompt.
	Prompt bool `json:"prompt" yaml:"prompt" mapstructure:"prompt"`
}

// ProbeConfig controls the capability probe
type ProbeConfig struct {
	// MinOSVersion overrides the built-in per-OS minimum when non-empty.
	MinOSVersion string `json:"min_os_version" yaml:"min_os_version" mapstructure:"min_os_version"`
}

// EncodingConfig selects the output container
type EncodingConfig struct {
	Format      string `json:"format" yaml:"format" mapstructure:"format"`
	Compression string `json:"compression" yaml:"compression" mapstructure:"compression"`
}

// PreviewConfig tunes the MJPEG live preview served by the API
type PreviewConfig struct {
	FPS     int `json:"fps" yaml:"fps" mapstructure:"fps"`
	Quality int `json:"quality" yaml:"quality" mapstructure:"quality"`
}

// Defaults returns the default configuration
func Defaults() *Config {
	return &Config{
		LogLevel:   "warn",
		LogPretty:  false,
		ServerPort: 8765,
		Capture: CaptureConfig{
			Backend: BackendAuto,
			Timeout: 5 * time.Second,
			Display: 0,
		},
		Permission: PermissionConfig{
			Prompt: true,
		},
		Encoding: EncodingConfig{
			Format:      "png",
			Compression: "default",
		},
		Preview: PreviewConfig{
			FPS:     2,
			Quality: 80,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("capture.backend", d.Capture.Backend)
	v.SetDefault("capture.timeout", d.Capture.Timeout)
	v.SetDefault("capture.display", d.Capture.Display)
	v.SetDefault("permission.prompt", d.Permission.Prompt)
	v.SetDefault("probe.min_os_version", d.Probe.MinOSVersion)
	v.SetDefault("encoding.format", d.Encoding.Format)
	v.SetDefault("encoding.compression", d.Encoding.Compression)
	v.SetDefault("preview.fps", d.Preview.FPS)
	v.SetDefault("preview.quality", d.Preview.Quality)
}

// Validate checks that every value is usable
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error", "disabled", "off":
	default:
		return fmt.Errorf("invalid log_level %q (use: debug, info, warn, error, off)", c.LogLevel)
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", c.ServerPort)
	}
	switch c.Capture.Backend {
	case BackendAuto, BackendX11, BackendPortal, BackendNative:
	default:
		return fmt.Errorf("invalid capture.backend %q (use: auto, x11, portal, native)", c.Capture.Backend)
	}
	if c.Capture.Timeout <= 0 || c.Capture.Timeout > MaxCaptureTimeout {
		return fmt.Errorf("capture.timeout must be in (0, %s], got %s", MaxCaptureTimeout, c.Capture.Timeout)
	}
	if c.Capture.Display < 0 {
		return fmt.Errorf("capture.display must be >= 0, got %d", c.Capture.Display)
	}
	switch c.Encoding.Format {
	case "png", "bmp", "tiff":
	default:
		return fmt.Errorf("invalid encoding.format %q (use: png, bmp, tiff)", c.Encoding.Format)
	}
	switch c.Encoding.Compression {
	case "default", "none", "speed", "best":
	default:
		return fmt.Errorf("invalid encoding.compression %q (use: default, none, speed, best)", c.Encoding.Compression)
	}
	if c.Preview.FPS < 1 || c.Preview.FPS > 30 {
		return fmt.Errorf("preview.fps must be between 1 and 30, got %d", c.Preview.FPS)
	}
	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		return fmt.Errorf("preview.quality must be between 1 and 100, got %d", c.Preview.Quality)
	}
	return nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	config     *Config
	mu         sync.RWMutex
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/screenbridge/config.yaml (or the OS equivalent).
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "screenbridge", "config.yaml")
}

// NewManager loads configuration from defaults, the config file and the environment.
// An explicitly named file must exist; a missing default file just means defaults.
func NewManager(configFile string) (*Manager, error) {
	explicit := configFile != ""
	if !explicit {
		if env := os.Getenv(EnvConfigFile); env != "" {
			configFile = env
			explicit = true
		}
	}
	if configFile == "" {
		configFile = DefaultConfigPath()
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: configFile,
		v:          v,
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
			if !missing || explicit {
				return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
			}
			logger.WithComponent("config").Debug().
				Str("path", configFile).
				Msg("Config file not found, using defaults")
		}
	}

	if err := m.reload(); err != nil {
		return nil, err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Str("backend", m.config.Capture.Backend).
		Dur("timeout", m.config.Capture.Timeout).
		Msg("Config loaded")

	return m, nil
}

// reload decodes the viper state into a fresh Config and validates it
func (m *Manager) reload() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Set updates a single key and re-validates. The previous value is restored on failure.
func (m *Manager) Set(key string, value interface{}) error {
	prev := m.v.Get(key)
	m.v.Set(key, value)
	if err := m.reload(); err != nil {
		m.v.Set(key, prev)
		return err
	}
	return nil
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.Set("log_level", level)
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.Set("server_port", port)
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	if m.configPath == "" {
		return fmt.Errorf("no config path available")
	}
	return WriteFile(m.configPath, m.Get())
}

// WriteFile writes cfg as YAML to path, creating parent directories
func WriteFile(path string, cfg *Config) error {
	logger.WithComponent("config").Debug().
		Str("path", path).
		Msg("Saving config")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.WithComponent("config").Info().
		Str("path", path).
		Msg("Config saved successfully")
	return nil
}

// GetViper exposes the underlying viper instance for key-level access
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// GetConfigPath returns the configuration file path
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
