// Package config loads the engine configuration from yaml, with flag
// values taking precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration.
type Config struct {
	// PythonHome is the root of the bundled interpreter tree. Empty
	// means "python" next to the broker executable.
	PythonHome string `yaml:"python_home"`
	// SiteDir overrides the package target directory. Empty means
	// Lib/site-packages under PythonHome.
	SiteDir string `yaml:"site_dir"`

	LogLevel string `yaml:"log_level"`
	LogPath  string `yaml:"log_path"`

	// HistoryPath is the sqlite database recording terminal results.
	// Empty means history.db beside the log file.
	HistoryPath string `yaml:"history_db"`

	// MonitorListen enables the loopback debug endpoint when set, e.g.
	// "127.0.0.1:7979".
	MonitorListen string `yaml:"monitor_listen"`

	PipTimeoutSec    int `yaml:"pip_timeout_sec"`
	ScriptTimeoutSec int `yaml:"script_timeout_sec"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:      "DEBUG",
		PipTimeoutSec: 300,
	}
}

// PipTimeout returns the pip operation timeout as a duration.
func (c Config) PipTimeout() time.Duration {
	if c.PipTimeoutSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.PipTimeoutSec) * time.Second
}

// SearchPaths returns the config file locations probed in order.
func SearchPaths() []string {
	return []string{
		"/etc/pyengine/config.yaml",
		"/etc/pyengine/config.yml",
		filepath.Join(os.Getenv("HOME"), ".pyengine/config.yaml"),
	}
}

// Load reads the first readable config file from paths. A missing file
// is not an error; defaults are returned.
func Load(paths ...string) (Config, error) {
	if len(paths) == 0 {
		paths = SearchPaths()
	}

	cfg := Default()
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		return cfg, nil
	}
	return cfg, nil
}
