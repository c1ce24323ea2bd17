// Package config handles configuration loading for coven-store.
//
// # Configuration File
//
// Default location (in order):
//
//  1. Path from COVEN_STORE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/store.yaml
//  3. ~/.config/coven/store.yaml
//
// Files ending in .toml are parsed as TOML; anything else is YAML.
//
// # Environment
//
// A .env file in the config file's directory is loaded before parsing.
// Variables already set in the process environment win.
// Values can reference environment variables with ${VAR_NAME}.
//
// # Sections
//
//	storage:
//	  backend: sqlite            # sqlite or document
//	  document:
//	    path: ~/.local/share/coven-store/store.json
//	  sqlite:
//	    path: ~/.local/share/coven-store/store.db
//	    driver: sqlite           # sqlite (pure Go) or sqlite3 (cgo)
//	    busy_timeout: 5s
//
//	migration:
//	  enabled: true              # copy the JSON file into SQLite at startup
//	  backup_dir: ~/.local/share/coven-store/backups
//	  collections: []            # empty means every known collection
//
//	logging:
//	  level: info                # debug, info, warn, error
//	  format: text               # text, json
//
// Omitted values keep the defaults from Default(DataDir()).
package config
