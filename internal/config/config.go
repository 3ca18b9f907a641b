// Package config loads the server configuration from a JSON file, merged
// over built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// BuilderConfig describes one registered builder backend.
type BuilderConfig struct {
	// BuildCommand is the command run for one-shot and dev builds
	BuildCommand []string `json:"build_command"`
	// OutputDir is the artifact directory relative to the project root
	// (default "dist")
	OutputDir string `json:"output_dir,omitempty"`
}

// Config represents the devsync server configuration.
type Config struct {
	// ListenAddr is the TCP address the supervisor binds
	ListenAddr string `json:"listen_addr"`
	// DataDir is where per-client project roots live
	DataDir string `json:"data_dir"`
	// Workers is the number of worker processes; 0 means one per CPU core
	Workers int `json:"workers"`
	// MaxConnections caps concurrent connections per worker
	MaxConnections int `json:"max_connections"`
	// ManifestFile is the dependency-descriptor file name whose write
	// triggers a dependency install
	ManifestFile string `json:"manifest_file"`
	// InstallCommand overrides the dependency install command
	InstallCommand []string `json:"install_command,omitempty"`
	// Builders maps builder identifiers to their backend configuration
	Builders map[string]BuilderConfig `json:"builders,omitempty"`
	// MetricsAddr, when set, serves Prometheus metrics over HTTP
	MetricsAddr string `json:"metrics_addr,omitempty"`
	// LogLevel is one of debug, info, warn, error, none
	LogLevel string `json:"log_level"`
	// LogPath is the log file; empty logs to stderr
	LogPath string `json:"log_path,omitempty"`
	// PidPath is where the supervisor writes its PID file
	PidPath string `json:"pid_path,omitempty"`
}

func defaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "devsync")
		}
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "devsync")
	}
	return filepath.Join(homeDir, ".local", "share", "devsync")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     "127.0.0.1:8686",
		DataDir:        defaultDataDir(),
		Workers:        0,
		MaxConnections: 64,
		ManifestFile:   "package.json",
		LogLevel:       "info",
	}
}

// Load reads the configuration file at path over the defaults. An empty
// path or a missing file yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.ManifestFile == "" {
		return fmt.Errorf("manifest_file must not be empty")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive")
	}
	for name, b := range c.Builders {
		if len(b.BuildCommand) == 0 {
			return fmt.Errorf("builder %q: build_command must not be empty", name)
		}
	}
	return nil
}

// Save writes the configuration to path as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
