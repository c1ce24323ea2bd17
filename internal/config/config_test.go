// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, defaults, .env and env var expansion, validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/coven-store/internal/store"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "store.yaml", `
storage:
  backend: sqlite
  document:
    path: "/data/store.json"
  sqlite:
    path: "/data/store.db"
    driver: sqlite3
    busy_timeout: "2s"

migration:
  enabled: true
  backup_dir: "/data/backups"
  collections:
    - channel
    - tools

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Kind() != store.KindSQLite {
		t.Errorf("Storage.Kind() = %q, want %q", cfg.Storage.Kind(), store.KindSQLite)
	}
	if cfg.Storage.Document.Path != "/data/store.json" {
		t.Errorf("Storage.Document.Path = %q, want %q", cfg.Storage.Document.Path, "/data/store.json")
	}
	if cfg.Storage.SQLite.Path != "/data/store.db" {
		t.Errorf("Storage.SQLite.Path = %q, want %q", cfg.Storage.SQLite.Path, "/data/store.db")
	}
	if cfg.Storage.SQLite.Driver != store.DriverMattn {
		t.Errorf("Storage.SQLite.Driver = %q, want %q", cfg.Storage.SQLite.Driver, store.DriverMattn)
	}
	if cfg.Storage.SQLite.BusyTimeout != 2*time.Second {
		t.Errorf("Storage.SQLite.BusyTimeout = %v, want %v", cfg.Storage.SQLite.BusyTimeout, 2*time.Second)
	}
	if !cfg.Migration.Enabled {
		t.Error("Migration.Enabled = false, want true")
	}
	if got := cfg.MigrationCollections(); len(got) != 2 || got[0] != "channel" || got[1] != "tools" {
		t.Errorf("MigrationCollections() = %v, want [channel tools]", got)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "store.toml", `
[storage]
backend = "document"

[storage.document]
path = "/data/store.json"

[migration]
enabled = false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Kind() != store.KindDocument {
		t.Errorf("Storage.Kind() = %q, want %q", cfg.Storage.Kind(), store.KindDocument)
	}
	if cfg.Storage.Document.Path != "/data/store.json" {
		t.Errorf("Storage.Document.Path = %q, want %q", cfg.Storage.Document.Path, "/data/store.json")
	}
	if cfg.Migration.Enabled {
		t.Error("Migration.Enabled = true, want false")
	}
}

func TestLoad_Defaults(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)

	path := writeConfig(t, "store.yaml", "logging:\n  level: warn\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	dataDir := filepath.Join(dataHome, "coven-store")
	if cfg.Storage.Kind() != store.KindSQLite {
		t.Errorf("default backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Storage.SQLite.Path != filepath.Join(dataDir, "store.db") {
		t.Errorf("default sqlite path = %q", cfg.Storage.SQLite.Path)
	}
	if cfg.Storage.Document.Path != filepath.Join(dataDir, "store.json") {
		t.Errorf("default document path = %q", cfg.Storage.Document.Path)
	}
	if cfg.Storage.SQLite.BusyTimeout != 5*time.Second {
		t.Errorf("default busy timeout = %v, want 5s", cfg.Storage.SQLite.BusyTimeout)
	}
	if !cfg.Migration.Enabled {
		t.Error("migration should be enabled by default")
	}
	if cfg.Migration.BackupDir != filepath.Join(dataDir, "backups") {
		t.Errorf("default backup dir = %q", cfg.Migration.BackupDir)
	}
	if got := cfg.MigrationCollections(); len(got) != len(store.KnownCollections) {
		t.Errorf("MigrationCollections() = %v, want all known collections", got)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_STORE_DIR", "/srv/bot")

	path := writeConfig(t, "store.yaml", `
storage:
  backend: sqlite
  document:
    path: "${TEST_STORE_DIR}/store.json"
  sqlite:
    path: "${TEST_STORE_DIR}/store.db"
migration:
  backup_dir: "${TEST_STORE_DIR}/backups"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.SQLite.Path != "/srv/bot/store.db" {
		t.Errorf("Storage.SQLite.Path = %q, want %q", cfg.Storage.SQLite.Path, "/srv/bot/store.db")
	}
	if cfg.Migration.BackupDir != "/srv/bot/backups" {
		t.Errorf("Migration.BackupDir = %q, want %q", cfg.Migration.BackupDir, "/srv/bot/backups")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	const key = "COVEN_STORE_TEST_DOTENV_DIR"
	t.Cleanup(func() { os.Unsetenv(key) })

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(key+"=/from/dotenv\n"), 0644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	path := filepath.Join(dir, "store.yaml")
	content := "storage:\n  sqlite:\n    path: \"${" + key + "}/store.db\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.SQLite.Path != "/from/dotenv/store.db" {
		t.Errorf("Storage.SQLite.Path = %q, want %q", cfg.Storage.SQLite.Path, "/from/dotenv/store.db")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/store.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "store.yaml", `
storage:
  backend: sqlite
  sqlite "missing colon"
`)

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "store.yaml", `
storage:
  sqlite:
    busy_timeout: "soon"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "busy_timeout") {
		t.Errorf("error %q should mention busy_timeout", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: "storage.backend",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Storage.SQLite.Path = "" },
			wantErr: "storage.sqlite.path",
		},
		{
			name: "document without path",
			mutate: func(c *Config) {
				c.Storage.Backend = "document"
				c.Storage.Document.Path = ""
			},
			wantErr: "storage.document.path",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.SQLite.Driver = "pgx" },
			wantErr: "storage.sqlite.driver",
		},
		{
			name:    "migration without backup dir",
			mutate:  func(c *Config) { c.Migration.BackupDir = "" },
			wantErr: "migration.backup_dir",
		},
		{
			name: "migration disabled needs no backup dir",
			mutate: func(c *Config) {
				c.Migration.Enabled = false
				c.Migration.BackupDir = ""
			},
		},
		{
			name:    "empty collection name",
			mutate:  func(c *Config) { c.Migration.Collections = []string{"channel", ""} },
			wantErr: "migration.collections[1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath_EnvOverride(t *testing.T) {
	t.Setenv("COVEN_STORE_CONFIG", "/etc/coven/store.toml")
	if got := DefaultPath(); got != "/etc/coven/store.toml" {
		t.Errorf("DefaultPath() = %q, want %q", got, "/etc/coven/store.toml")
	}
}
