// ABOUTME: Storage contract shared by every backend: Record, Collection, Backend
// ABOUTME: Defines the sentinel errors and optional Importer/Snapshotter capabilities

package store

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCollection is returned when a collection name is empty
var ErrInvalidCollection = errors.New("invalid collection name")

// ErrClosed is returned by operations on a backend after Close
var ErrClosed = errors.New("store is closed")

// ErrUnknownBackend is returned when the configured backend kind is not recognized
var ErrUnknownBackend = errors.New("unknown storage backend")

// ErrUnknownDriver is returned when the configured SQL driver is not supported
var ErrUnknownDriver = errors.New("unknown sqlite driver")

// ErrSnapshotMismatch is returned when a written backup does not match its source bytes
var ErrSnapshotMismatch = errors.New("backup snapshot does not match source")

// Kind identifies a storage technology
type Kind string

// Backend kinds
const (
	KindDocument Kind = "document" // single JSON file
	KindSQLite   Kind = "sqlite"   // embedded relational engine
)

// IDField is the pseudo-field that filters use to address Record.ID
const IDField = "id"

// Record is the store's atomic unit: an identified map of JSON-compatible fields.
// Fields never contains the "id" key; the identifier lives in ID.
type Record struct {
	ID     string
	Fields map[string]any
}

// Get returns the value of a field, resolving "id" to the record ID.
// A missing field reports ok=false.
func (r *Record) Get(field string) (any, bool) {
	if field == IDField {
		return r.ID, true
	}
	v, ok := r.Fields[field]
	return v, ok
}

// InPredicate matches records whose Field value is one of Values
type InPredicate struct {
	Field  string
	Values []any
}

// Collection is a named partition of Records with a uniform CRUD + query surface.
// Absence is never an error: GetItem returns nil, RemoveItem of a missing id is a no-op.
type Collection interface {
	// Name returns the collection name as given by the caller
	Name() string

	// GetItem returns the record with the given id, or nil when it does not exist.
	GetItem(ctx context.Context, id string) (*Record, error)

	// SetItem upserts a record. An empty id creates a record with a generated id.
	// A non-empty id replaces the existing field set, or inserts with that id.
	// Returns the id actually used.
	SetItem(ctx context.Context, id string, fields map[string]any) (string, error)

	// RemoveItem deletes a record by id. Missing ids are ignored.
	RemoveItem(ctx context.Context, id string) error

	// ListItems returns every record in insertion order.
	ListItems(ctx context.Context) ([]*Record, error)

	// ListItemsByEqFilter returns records whose fields equal every entry of filter.
	// An empty filter returns all records.
	ListItemsByEqFilter(ctx context.Context, filter map[string]any) ([]*Record, error)

	// ListItemsByInQuery returns records where, for every predicate, the field value
	// is a member of the predicate's values. A predicate with no values matches nothing.
	ListItemsByInQuery(ctx context.Context, query []InPredicate) ([]*Record, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context) (int, error)

	// Clear deletes every record in the collection.
	Clear(ctx context.Context) error
}

// Backend owns a set of collections backed by one storage technology
type Backend interface {
	Kind() Kind

	// Collection returns the named collection, initializing its storage on first use.
	Collection(ctx context.Context, name string) (Collection, error)

	// Close releases the file or connection held by the backend
	Close() error
}

// Importer is implemented by collections that can write a batch of records atomically.
// Record ids are preserved.
type Importer interface {
	ImportItems(ctx context.Context, records []*Record) error
}

// Snapshotter is implemented by backends that can write a point-in-time copy of
// their on-disk state into dir. It returns the path of the snapshot file.
type Snapshotter interface {
	Snapshot(ctx context.Context, dir string, now time.Time) (string, error)
}
