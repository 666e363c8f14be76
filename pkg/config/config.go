// Package config loads the shared configuration file for the mtpt tools.
//
// The file supplies defaults that individual command-line flags override:
// worker count, exclude patterns applied by every tool, and logging
// options. It lives at ~/.config/mtpt/config.json unless a path is given.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds tool defaults.
type Config struct {
	// Threads is the default worker count for all tools (-j overrides).
	Threads int `json:"threads"`

	// Exclude patterns applied by every tool, before per-invocation -e
	// patterns.
	Exclude []string `json:"exclude,omitempty"`

	Logging LoggingConfig `json:"logging"`
}

// LoggingConfig holds logging defaults.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Threads: 4,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns the per-user configuration file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "mtpt", "config.json"), nil
}

// Load reads the configuration file at path, or the default location when
// path is empty. A missing file yields the built-in defaults. Environment
// variable MTPT_THREADS overrides the file's thread count.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			cfg.applyEnv()
			return cfg, nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MTPT_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Threads = n
		}
	}
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.Threads <= 0 {
		return fmt.Errorf("threads must be positive, got %d", c.Threads)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}
	return nil
}
