// ABOUTME: Backend factory selecting the document or SQLite implementation by kind

package store

import (
	"fmt"
	"log/slog"
	"time"
)

// BackendOptions carries the settings OpenBackend passes to the chosen backend
type BackendOptions struct {
	Logger      *slog.Logger
	Driver      string        // SQLite only
	BusyTimeout time.Duration // SQLite only
}

// OpenBackend opens the backend of the given kind at path.
func OpenBackend(kind Kind, path string, opts BackendOptions) (Backend, error) {
	switch kind {
	case KindDocument:
		var docOpts []DocumentOption
		if opts.Logger != nil {
			docOpts = append(docOpts, WithDocumentLogger(opts.Logger))
		}
		return OpenDocumentStore(path, docOpts...)
	case KindSQLite:
		var sqlOpts []SQLiteOption
		if opts.Logger != nil {
			sqlOpts = append(sqlOpts, WithSQLiteLogger(opts.Logger))
		}
		if opts.Driver != "" {
			sqlOpts = append(sqlOpts, WithDriver(opts.Driver))
		}
		if opts.BusyTimeout > 0 {
			sqlOpts = append(sqlOpts, WithBusyTimeout(opts.BusyTimeout))
		}
		return OpenSQLiteStore(path, sqlOpts...)
	default:
		return nil, fmt.Errorf("%w: %q (supported: %s, %s)", ErrUnknownBackend, kind, KindDocument, KindSQLite)
	}
}
