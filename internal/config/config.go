// Package config loads the TimePulse configuration file and applies
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"github.com/timepulse/timepulse/common"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file name inside the config directory.
const FileName = "config.yaml"

// Config holds agent and foreground settings.
type Config struct {
	// ConfigDir holds every file TimePulse writes: the local store, the
	// cache database, the pid file and the credential key fallback.
	ConfigDir string `yaml:"-"`

	HTTPPort   int    `yaml:"http_port"`
	SocketPath string `yaml:"socket_path"`
	// BusSecret is the bearer token required on /jsonrpc/ws.
	// Empty disables the websocket bus; the unix socket is always on.
	BusSecret string `yaml:"bus_secret"`

	// Manifest is the asset manifest path, relative to ConfigDir if not absolute.
	Manifest string `yaml:"manifest"`

	// Notifier selects the display backend: "dbus" or "log".
	Notifier string `yaml:"notifier"`

	Remote  RemoteConfig  `yaml:"remote"`
	Tracing TracingConfig `yaml:"tracing"`

	Debug bool `yaml:"debug"`
}

// RemoteConfig configures the remote key-value store used by sync.
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	// Exporter is "none" or "stdout".
	Exporter string `yaml:"exporter"`
}

// Default returns the configuration used when no file exists.
func Default(configDir string) *Config {
	return &Config{
		ConfigDir:  configDir,
		HTTPPort:   common.DefaultHTTPPort,
		SocketPath: common.SocketPath(),
		Manifest:   "manifest.yaml",
		Notifier:   "dbus",
		Tracing:    TracingConfig{Exporter: "none"},
	}
}

// DefaultDir returns the config directory: $TIMEPULSE_CONFIG_DIR or
// <user config dir>/timepulse.
func DefaultDir() (string, error) {
	if dir := os.Getenv(common.ConfigDirEnv); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(base, "timepulse"), nil
}

// Load reads <configDir>/config.yaml from fsys, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(fsys afero.Fs, configDir string) (*Config, error) {
	cfg := Default(configDir)
	data, err := afero.ReadFile(fsys, filepath.Join(configDir, FileName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(common.HTTPPortEnv); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s: %q", common.HTTPPortEnv, v)
		}
		cfg.HTTPPort = port
	}
	if v := os.Getenv(common.SocketPathEnv); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv(common.RemoteURLEnv); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv(common.BusSecretEnv); v != "" {
		cfg.BusSecret = v
	}
	if v := os.Getenv(common.DebugEnv); v != "" {
		cfg.Debug = v != "0" && v != "false"
	}
	return nil
}

// ManifestPath resolves Manifest against ConfigDir.
func (c *Config) ManifestPath() string {
	if filepath.IsAbs(c.Manifest) {
		return c.Manifest
	}
	return filepath.Join(c.ConfigDir, c.Manifest)
}

// Path joins name onto ConfigDir.
func (c *Config) Path(name string) string {
	return filepath.Join(c.ConfigDir, name)
}
