// ABOUTME: Configuration loading and parsing for coven-store
// ABOUTME: Supports YAML and TOML files with .env loading, env var expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-store/internal/store"
)

// Config represents the complete coven-store configuration
type Config struct {
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Migration MigrationConfig `yaml:"migration" toml:"migration"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// StorageConfig selects the authoritative backend and where each backend lives
type StorageConfig struct {
	Backend  string         `yaml:"backend" toml:"backend"`
	Document DocumentConfig `yaml:"document" toml:"document"`
	SQLite   SQLiteConfig   `yaml:"sqlite" toml:"sqlite"`
}

// DocumentConfig holds the JSON document backend settings
type DocumentConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// SQLiteConfig holds the relational backend settings
type SQLiteConfig struct {
	Path        string        `yaml:"path" toml:"path"`
	Driver      string        `yaml:"driver" toml:"driver"`
	BusyTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string value for YAML/TOML unmarshaling
	BusyTimeoutRaw string `yaml:"busy_timeout" toml:"busy_timeout"`
}

// MigrationConfig controls the one-time document to SQLite migration
type MigrationConfig struct {
	Enabled     bool     `yaml:"enabled" toml:"enabled"`
	BackupDir   string   `yaml:"backup_dir" toml:"backup_dir"`
	Collections []string `yaml:"collections" toml:"collections"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Kind returns the configured backend as a store.Kind
func (s StorageConfig) Kind() store.Kind {
	return store.Kind(s.Backend)
}

// DataDir returns the coven-store data directory.
// Priority: XDG_DATA_HOME/coven-store > ~/.local/share/coven-store
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "coven-store")
}

// DefaultPath returns the path to the config file.
// Priority: COVEN_STORE_CONFIG env var > XDG_CONFIG_HOME/coven/store.yaml > ~/.config/coven/store.yaml
func DefaultPath() string {
	if envPath := os.Getenv("COVEN_STORE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "store.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "store.yaml")
}

// Default returns a configuration rooted at dataDir: SQLite authoritative,
// migration from the legacy JSON file enabled.
func Default(dataDir string) *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:  string(store.KindSQLite),
			Document: DocumentConfig{Path: filepath.Join(dataDir, "store.json")},
			SQLite: SQLiteConfig{
				Path:        filepath.Join(dataDir, "store.db"),
				Driver:      store.DriverModernc,
				BusyTimeout: 5 * time.Second,
			},
		},
		Migration: MigrationConfig{
			Enabled:   true,
			BackupDir: filepath.Join(dataDir, "backups"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// A .env file next to the config is loaded first without overriding set variables.
// Environment variables in the format ${VAR_NAME} are expanded.
// Unset values keep the defaults from Default(DataDir()).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default(DataDir())

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads path into the environment when it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Storage.Kind() {
	case store.KindDocument:
		if c.Storage.Document.Path == "" {
			return fmt.Errorf("storage.document.path is required for the document backend")
		}
	case store.KindSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", store.KindDocument, store.KindSQLite, c.Storage.Backend)
	}

	if d := c.Storage.SQLite.Driver; d != "" && d != store.DriverModernc && d != store.DriverMattn {
		return fmt.Errorf("storage.sqlite.driver must be %q or %q, got %q", store.DriverModernc, store.DriverMattn, d)
	}

	if c.Migration.Enabled && c.Storage.Kind() == store.KindSQLite {
		if c.Storage.Document.Path == "" {
			return fmt.Errorf("storage.document.path is required when migration is enabled")
		}
		if c.Migration.BackupDir == "" {
			return fmt.Errorf("migration.backup_dir is required when migration is enabled")
		}
	}

	for i, name := range c.Migration.Collections {
		if name == "" {
			return fmt.Errorf("migration.collections[%d] is empty", i)
		}
	}

	return nil
}

// MigrationCollections returns the configured collections, or every known collection.
func (c *Config) MigrationCollections() []string {
	if len(c.Migration.Collections) > 0 {
		return c.Migration.Collections
	}
	return store.KnownCollections
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if raw := cfg.Storage.SQLite.BusyTimeoutRaw; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing busy_timeout %q: %w", raw, err)
		}
		cfg.Storage.SQLite.BusyTimeout = d
	}
	return nil
}
