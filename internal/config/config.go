// Package config loads watchpatch settings.
//
// Settings are layered, later layers winning:
//
//  1. Built-in defaults
//  2. Config file (watchpatch.yaml)
//  3. Environment variables (WATCHPATCH_*)
//  4. Command-line flags, applied by the CLI
//
// Environment Variables:
//   - WATCHPATCH_DATABASE="./watchpatch.db"
//   - WATCHPATCH_SPECS_DIR="./specs"
//   - WATCHPATCH_LOG_LEVEL="info"
//   - WATCHPATCH_LOG_FORMAT="text" or "json"
//   - WATCHPATCH_TRUNCATE_TO_LIMIT=true
//   - WATCHPATCH_IMPORT_BATCH_SIZE=200
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WATCHPATCH_"

// Config holds all settings.
type Config struct {
	// Database is the SQLite file for documents, the mutation log and
	// persisted cache entries.
	Database string `yaml:"database"`

	// SpecsDir holds the CUE collection specs.
	SpecsDir string `yaml:"specs_dir"`

	Log       LogConfig       `yaml:"log"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Import    ImportConfig    `yaml:"import"`
}

// LogConfig controls the slog handler installed by the CLI.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ReconcileConfig tunes the reconciler.
type ReconcileConfig struct {
	// TruncateToLimit cuts pages back to the view limit after an add.
	TruncateToLimit bool `yaml:"truncate_to_limit"`
}

// ImportConfig tunes document import.
type ImportConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// LoadDefaults returns the built-in settings.
func LoadDefaults() *Config {
	return &Config{
		Database: "watchpatch.db",
		SpecsDir: "specs",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Reconcile: ReconcileConfig{
			TruncateToLimit: true,
		},
		Import: ImportConfig{
			BatchSize: 200,
		},
	}
}

// Load reads defaults, then path (when non-empty), then the environment.
func Load(path string) (*Config, error) {
	cfg := LoadDefaults()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnvVars(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile layers the YAML file at path over the defaults. A missing
// file yields the defaults. Unknown keys are rejected so typos surface.
func LoadFromFile(path string) (*Config, error) {
	cfg := LoadDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnvVars applies WATCHPATCH_* overrides from the process environment.
func ApplyEnvVars(cfg *Config) error {
	return applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv(EnvPrefix + "DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := getenv(EnvPrefix + "SPECS_DIR"); v != "" {
		cfg.SpecsDir = v
	}
	if v := getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v := getenv(EnvPrefix + "TRUNCATE_TO_LIMIT"); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("%sTRUNCATE_TO_LIMIT: %w", EnvPrefix, err)
		}
		cfg.Reconcile.TruncateToLimit = b
	}
	if v := getenv(EnvPrefix + "IMPORT_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sIMPORT_BATCH_SIZE: %w", EnvPrefix, err)
		}
		cfg.Import.BatchSize = n
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.Log.Format)
	}
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import batch size must be positive, got %d", c.Import.BatchSize)
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q", name)
}

// NewLogger builds the slog logger described by c, writing to w. verbose
// forces debug level.
func (c *Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// FindConfigFile returns the first existing config file, or "".
//
// Search order:
//  1. ./watchpatch.yaml
//  2. $HOME/.config/watchpatch/config.yaml
func FindConfigFile() string {
	candidates := []string{"watchpatch.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "watchpatch", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
