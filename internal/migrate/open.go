// ABOUTME: Startup factory that opens the configured backend and runs pending migrations
// ABOUTME: Migration failures are logged and reported but never stop the store from opening

package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/2389/coven-store/internal/config"
	"github.com/2389/coven-store/internal/store"
)

// Open opens the authoritative backend described by cfg. When SQLite is
// authoritative, migration is enabled and the legacy document file exists,
// its records are migrated first. The returned Result is nil when no
// migration was attempted. Only failures to open the authoritative backend
// are returned as errors.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Backend, *Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	storeLogger := logger.With("component", "store")

	backend, err := store.OpenBackend(cfg.Storage.Kind(), backendPath(cfg), store.BackendOptions{
		Logger:      storeLogger.With("backend", cfg.Storage.Kind()),
		Driver:      cfg.Storage.SQLite.Driver,
		BusyTimeout: cfg.Storage.SQLite.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Kind(), err)
	}

	if backend.Kind() != store.KindSQLite || !cfg.Migration.Enabled {
		return backend, nil, nil
	}

	docPath := cfg.Storage.Document.Path
	if _, err := os.Stat(docPath); errors.Is(err, fs.ErrNotExist) {
		logger.Debug("no document file to migrate", "path", docPath)
		return backend, nil, nil
	}

	source, err := store.OpenDocumentStore(docPath,
		store.WithDocumentLogger(storeLogger.With("backend", store.KindDocument)))
	if err != nil {
		// The legacy file is unreadable; SQLite is still usable.
		logger.Error("migration failed", "error", err, "path", docPath)
		return backend, &Result{State: StateFailed, Err: err}, nil
	}
	defer source.Close()

	m := New(source, backend, cfg.Migration.BackupDir,
		WithCollections(cfg.MigrationCollections()...),
		WithLogger(logger.With("component", "migrate")),
	)
	// Errors are already logged by Run and carried in the result.
	res, _ := m.Run(ctx)
	return backend, res, nil
}

func backendPath(cfg *config.Config) string {
	if cfg.Storage.Kind() == store.KindDocument {
		return cfg.Storage.Document.Path
	}
	return cfg.Storage.SQLite.Path
}
