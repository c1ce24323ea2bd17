// ABOUTME: Document backend: every collection held in memory and mirrored to one JSON file
// ABOUTME: Each mutation rewrites the whole file atomically before it is committed in memory

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// DocumentStore implements Backend on top of a single JSON file.
// An empty path keeps everything in memory, which tests use as a fast backend.
type DocumentStore struct {
	mu          sync.RWMutex
	path        string
	logger      *slog.Logger
	collections map[string]*docData
	closed      bool
}

// docData is one collection's records in insertion order plus an id index.
type docData struct {
	records []*Record
	index   map[string]int
}

func newDocData() *docData {
	return &docData{index: make(map[string]int)}
}

func (d *docData) clone() *docData {
	out := &docData{
		records: make([]*Record, len(d.records)),
		index:   make(map[string]int, len(d.index)),
	}
	copy(out.records, d.records)
	for k, v := range d.index {
		out.index[k] = v
	}
	return out
}

func (d *docData) put(r *Record) {
	if i, ok := d.index[r.ID]; ok {
		d.records[i] = r
		return
	}
	d.index[r.ID] = len(d.records)
	d.records = append(d.records, r)
}

func (d *docData) remove(id string) bool {
	i, ok := d.index[id]
	if !ok {
		return false
	}
	d.records = append(d.records[:i:i], d.records[i+1:]...)
	delete(d.index, id)
	for j := i; j < len(d.records); j++ {
		d.index[d.records[j].ID] = j
	}
	return true
}

// DocumentOption configures a DocumentStore
type DocumentOption func(*DocumentStore)

// WithDocumentLogger sets the logger used by the document store
func WithDocumentLogger(l *slog.Logger) DocumentOption {
	return func(s *DocumentStore) { s.logger = l }
}

// OpenDocumentStore loads the JSON file at path, creating parent directories if needed.
// A missing file is an empty store. A file that is not valid JSON is an error.
func OpenDocumentStore(path string, opts ...DocumentOption) (*DocumentStore, error) {
	s := &DocumentStore{
		path:        path,
		logger:      slog.Default().With("component", "store", "backend", KindDocument),
		collections: make(map[string]*docData),
	}
	for _, o := range opts {
		o(s)
	}

	if path == "" {
		s.logger.Debug("document store opened in memory")
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating document directory: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	s.logger.Info("document store initialized", "path", path, "collections", len(s.collections))
	return s, nil
}

// NewMemoryStore returns a DocumentStore that never touches disk.
func NewMemoryStore() *DocumentStore {
	s, _ := OpenDocumentStore("")
	return s
}

func (s *DocumentStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading document file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var raw map[string][]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing document file %s: %w", s.path, err)
	}

	for name, items := range raw {
		d := newDocData()
		for i, item := range items {
			id, ok := item[IDField].(string)
			if !ok || id == "" {
				s.logger.Warn("skipping document record without id", "collection", name, "position", i)
				continue
			}
			delete(item, IDField)
			d.put(&Record{ID: id, Fields: item})
		}
		s.collections[name] = d
	}
	return nil
}

// Kind reports KindDocument
func (s *DocumentStore) Kind() Kind { return KindDocument }

// Path returns the backing file path, empty for memory-only stores
func (s *DocumentStore) Path() string { return s.path }

// Collection returns a handle to the named collection
func (s *DocumentStore) Collection(ctx context.Context, name string) (Collection, error) {
	if name == "" {
		return nil, ErrInvalidCollection
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &documentCollection{store: s, name: name}, nil
}

// Close marks the store closed. All writes are already on disk.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.logger.Info("closing document store")
	}
	s.closed = true
	return nil
}

// encode serializes every collection, substituting override for the named collection.
// The caller must hold s.mu.
func (s *DocumentStore) encode(name string, override *docData) ([]byte, error) {
	out := make(map[string][]map[string]any, len(s.collections)+1)
	flatten := func(d *docData) []map[string]any {
		items := make([]map[string]any, 0, len(d.records))
		for _, r := range d.records {
			item := make(map[string]any, len(r.Fields)+1)
			for k, v := range r.Fields {
				item[k] = v
			}
			item[IDField] = r.ID
			items = append(items, item)
		}
		return items
	}
	for n, d := range s.collections {
		if n == name {
			continue
		}
		out[n] = flatten(d)
	}
	if override != nil {
		out[name] = flatten(override)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding document file: %w", err)
	}
	return data, nil
}

// mutate applies fn to a copy of the named collection, writes the whole file,
// then commits the copy. fn returns false when nothing changed.
func (s *DocumentStore) mutate(name string, fn func(d *docData) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	current, ok := s.collections[name]
	if !ok {
		current = newDocData()
	}
	next := current.clone()
	if !fn(next) {
		return nil
	}

	if s.path != "" {
		data, err := s.encode(name, next)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(s.path, data); err != nil {
			return fmt.Errorf("writing document file: %w", err)
		}
	}

	s.collections[name] = next
	return nil
}

// read runs fn under the read lock against the named collection (possibly empty).
func (s *DocumentStore) read(name string, fn func(d *docData)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	d, ok := s.collections[name]
	if !ok {
		d = newDocData()
	}
	fn(d)
	return nil
}

// documentCollection implements Collection for one key of the document file
type documentCollection struct {
	store *DocumentStore
	name  string
}

func (c *documentCollection) Name() string { return c.name }

func (c *documentCollection) GetItem(ctx context.Context, id string) (*Record, error) {
	var rec *Record
	err := c.store.read(c.name, func(d *docData) {
		if i, ok := d.index[id]; ok {
			rec = cloneRecord(d.records[i])
		}
	})
	return rec, err
}

func (c *documentCollection) SetItem(ctx context.Context, id string, fields map[string]any) (string, error) {
	normalized, err := normalizeFields(fields)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.New().String()
	}

	err = c.store.mutate(c.name, func(d *docData) bool {
		d.put(&Record{ID: id, Fields: normalized})
		return true
	})
	if err != nil {
		return "", err
	}

	c.store.logger.Debug("set item", "collection", c.name, "id", id)
	return id, nil
}

func (c *documentCollection) RemoveItem(ctx context.Context, id string) error {
	removed := false
	err := c.store.mutate(c.name, func(d *docData) bool {
		removed = d.remove(id)
		return removed
	})
	if err != nil {
		return err
	}
	if removed {
		c.store.logger.Debug("removed item", "collection", c.name, "id", id)
	}
	return nil
}

func (c *documentCollection) ListItems(ctx context.Context) ([]*Record, error) {
	return c.scan(func(*Record) bool { return true })
}

func (c *documentCollection) ListItemsByEqFilter(ctx context.Context, filter map[string]any) ([]*Record, error) {
	normalized, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	return c.scan(func(r *Record) bool { return matchEq(r, normalized) })
}

func (c *documentCollection) ListItemsByInQuery(ctx context.Context, query []InPredicate) ([]*Record, error) {
	normalized, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	return c.scan(func(r *Record) bool { return matchIn(r, normalized) })
}

func (c *documentCollection) scan(keep func(*Record) bool) ([]*Record, error) {
	out := []*Record{}
	err := c.store.read(c.name, func(d *docData) {
		for _, r := range d.records {
			if keep(r) {
				out = append(out, cloneRecord(r))
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *documentCollection) Count(ctx context.Context) (int, error) {
	n := 0
	err := c.store.read(c.name, func(d *docData) { n = len(d.records) })
	return n, err
}

func (c *documentCollection) Clear(ctx context.Context) error {
	cleared := 0
	err := c.store.mutate(c.name, func(d *docData) bool {
		cleared = len(d.records)
		d.records = nil
		d.index = make(map[string]int)
		return cleared > 0
	})
	if err != nil {
		return err
	}
	if cleared > 0 {
		c.store.logger.Info("cleared collection", "collection", c.name, "count", cleared)
	}
	return nil
}

// ImportItems writes a batch of records with a single file rewrite.
func (c *documentCollection) ImportItems(ctx context.Context, records []*Record) error {
	prepared := make([]*Record, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("importing into %s: record without id", c.name)
		}
		fields, err := normalizeFields(r.Fields)
		if err != nil {
			return fmt.Errorf("importing %s/%s: %w", c.name, r.ID, err)
		}
		prepared = append(prepared, &Record{ID: r.ID, Fields: fields})
	}
	return c.store.mutate(c.name, func(d *docData) bool {
		for _, r := range prepared {
			d.put(r)
		}
		return len(prepared) > 0
	})
}

var (
	_ Backend     = (*DocumentStore)(nil)
	_ Snapshotter = (*DocumentStore)(nil)
	_ Importer    = (*documentCollection)(nil)
)
