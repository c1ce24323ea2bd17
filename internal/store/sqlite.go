// ABOUTME: SQLite implementation of Backend using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: One table per collection with native columns plus a JSON data blob

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names
const (
	DriverModernc = "sqlite"  // pure Go, default
	DriverMattn   = "sqlite3" // cgo
)

const defaultBusyTimeout = 5 * time.Second

// SQLiteStore implements Backend using SQLite.
// Tables are created lazily the first time a collection is requested.
type SQLiteStore struct {
	mu          sync.Mutex
	db          *sql.DB
	path        string
	driver      string
	busyTimeout time.Duration
	logger      *slog.Logger
	tables      map[string]*sqliteCollection
	closed      bool
}

// SQLiteOption configures a SQLiteStore
type SQLiteOption func(*SQLiteStore)

// WithSQLiteLogger sets the logger used by the SQLite store
func WithSQLiteLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLiteStore) { s.logger = l }
}

// WithDriver selects the database/sql driver (DriverModernc or DriverMattn)
func WithDriver(name string) SQLiteOption {
	return func(s *SQLiteStore) { s.driver = name }
}

// WithBusyTimeout sets how long SQLite waits on a locked database
func WithBusyTimeout(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) { s.busyTimeout = d }
}

// OpenSQLiteStore opens (or creates) the SQLite database at path.
// Parent directories are created if needed. ":memory:" opens a private in-memory database.
func OpenSQLiteStore(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	s := &SQLiteStore{
		path:        path,
		driver:      DriverModernc,
		busyTimeout: defaultBusyTimeout,
		logger:      slog.Default().With("component", "store", "backend", KindSQLite),
		tables:      make(map[string]*sqliteCollection),
	}
	for _, o := range opts {
		o(s)
	}

	if s.driver != DriverModernc && s.driver != DriverMattn {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, s.driver)
	}

	inMemory := path == ":memory:"
	if !inMemory && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(s.driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// The engine processes one statement at a time; a single connection also keeps
	// ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)

	if !inMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", s.busyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s.db = db
	s.logger.Info("SQLite store initialized", "path", path, "driver", s.driver)
	return s, nil
}

// Kind reports KindSQLite
func (s *SQLiteStore) Kind() Kind { return KindSQLite }

// DB exposes the underlying connection for tests and maintenance tooling
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Collection returns the named collection, creating its table if it does not exist.
func (s *SQLiteStore) Collection(ctx context.Context, name string) (Collection, error) {
	if name == "" {
		return nil, ErrInvalidCollection
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if c, ok := s.tables[name]; ok {
		return c, nil
	}

	schema := SchemaFor(name)
	if err := s.ensureTable(ctx, schema); err != nil {
		return nil, fmt.Errorf("initializing table for %s: %w", name, err)
	}

	c := newSQLiteCollection(s, name, schema)
	s.tables[name] = c
	return c, nil
}

// ensureTable creates the collection table and its native-column indexes.
// Tables created by an older schema get missing native columns added.
func (s *SQLiteStore) ensureTable(ctx context.Context, schema Schema) error {
	table := schema.TableName()

	cols := []string{"id TEXT PRIMARY KEY"}
	for _, n := range schema.Native {
		cols = append(cols, quoteIdent(n)+" TEXT")
	}
	cols = append(cols,
		"created_at TEXT NOT NULL",
		"updated_at TEXT NOT NULL",
		"data TEXT NOT NULL DEFAULT '{}'",
	)

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quoteIdent(table), strings.Join(cols, ",\n\t"))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating table: %w", err)
	}

	for _, n := range schema.Native {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, table, n).Scan(&exists)
		if err == sql.ErrNoRows {
			alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", quoteIdent(table), quoteIdent(n))
			if _, err := s.db.ExecContext(ctx, alter); err != nil {
				return fmt.Errorf("adding %s column: %w", n, err)
			}
			// Move existing string values out of the blob so column filters see them.
			path := "$." + n
			backfill := fmt.Sprintf(
				"UPDATE %s SET %s = json_extract(data, ?), data = json_remove(data, ?) WHERE json_valid(data) AND json_type(data, ?) = 'text'",
				quoteIdent(table), quoteIdent(n))
			if _, err := s.db.ExecContext(ctx, backfill, path, path, path); err != nil {
				return fmt.Errorf("backfilling %s column: %w", n, err)
			}
			s.logger.Info("applied migration", "column", n, "table", table)
		} else if err != nil {
			return fmt.Errorf("checking %s column: %w", n, err)
		}

		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
			quoteIdent("idx_"+table+"_"+sanitizeIdentifier(n)), quoteIdent(table), quoteIdent(n))
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("creating index on %s: %w", n, err)
		}
	}

	s.logger.Debug("table ready", "table", table, "entity", schema.Entity)
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sqliteCollection implements Collection for one table
type sqliteCollection struct {
	store     *SQLiteStore
	name      string
	schema    Schema
	table     string
	selectSQL string
	upsertSQL string
}

func newSQLiteCollection(s *SQLiteStore, name string, schema Schema) *sqliteCollection {
	table := quoteIdent(schema.TableName())

	selectCols := []string{"id"}
	insertCols := []string{"id"}
	updates := make([]string, 0, len(schema.Native)+2)
	for _, n := range schema.Native {
		q := quoteIdent(n)
		selectCols = append(selectCols, q)
		insertCols = append(insertCols, q)
		updates = append(updates, q+" = excluded."+q)
	}
	selectCols = append(selectCols, "data")
	insertCols = append(insertCols, "created_at", "updated_at", "data")
	updates = append(updates, "updated_at = excluded.updated_at", "data = excluded.data")

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(insertCols)), ", ")

	return &sqliteCollection{
		store:     s,
		name:      name,
		schema:    schema,
		table:     table,
		selectSQL: fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectCols, ", "), table),
		upsertSQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
			table, strings.Join(insertCols, ", "), placeholders, strings.Join(updates, ", ")),
	}
}

func (c *sqliteCollection) Name() string { return c.name }

func (c *sqliteCollection) GetItem(ctx context.Context, id string) (*Record, error) {
	records, err := c.query(ctx, " WHERE id = ?", []any{id}, nil)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func (c *sqliteCollection) SetItem(ctx context.Context, id string, fields map[string]any) (string, error) {
	if err := c.store.checkOpen(); err != nil {
		return "", err
	}
	normalized, err := normalizeFields(fields)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = uuid.New().String()
	}
	if err := c.upsert(ctx, c.store.db, id, normalized); err != nil {
		return "", err
	}
	c.store.logger.Debug("set item", "collection", c.name, "id", id)
	return id, nil
}

// upsert splits normalized fields into native columns and the blob, then writes the row.
func (c *sqliteCollection) upsert(ctx context.Context, ex execer, id string, fields map[string]any) error {
	args, err := c.rowArgs(id, fields)
	if err != nil {
		return err
	}
	if _, err := ex.ExecContext(ctx, c.upsertSQL, args...); err != nil {
		return fmt.Errorf("upserting %s/%s: %w", c.name, id, err)
	}
	return nil
}

func (c *sqliteCollection) rowArgs(id string, fields map[string]any) ([]any, error) {
	blob := make(map[string]any, len(fields))
	for k, v := range fields {
		blob[k] = v
	}

	args := make([]any, 0, len(c.schema.Native)+4)
	args = append(args, id)
	for _, n := range c.schema.Native {
		if s, ok := fields[n].(string); ok {
			args = append(args, s)
			delete(blob, n)
		} else {
			args = append(args, nil)
		}
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("encoding %s/%s data: %w", c.name, id, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	args = append(args, now, now, string(data))
	return args, nil
}

func (c *sqliteCollection) RemoveItem(ctx context.Context, id string) error {
	if err := c.store.checkOpen(); err != nil {
		return err
	}
	result, err := c.store.db.ExecContext(ctx, "DELETE FROM "+c.table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", c.name, id, err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		c.store.logger.Debug("removed item", "collection", c.name, "id", id)
	}
	return nil
}

func (c *sqliteCollection) ListItems(ctx context.Context) ([]*Record, error) {
	return c.query(ctx, "", nil, nil)
}

func (c *sqliteCollection) ListItemsByEqFilter(ctx context.Context, filter map[string]any) ([]*Record, error) {
	normalized, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, planEqFilter(c.schema, normalized))
}

func (c *sqliteCollection) ListItemsByInQuery(ctx context.Context, query []InPredicate) ([]*Record, error) {
	normalized, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, planInQuery(c.schema, normalized))
}

func (c *sqliteCollection) run(ctx context.Context, plan queryPlan) ([]*Record, error) {
	if plan.empty {
		return []*Record{}, c.store.checkOpen()
	}
	var keep func(*Record) bool
	if plan.hasResidual() {
		keep = plan.matches
	}
	return c.query(ctx, plan.where(), plan.args, keep)
}

// query selects rows in insertion order, decodes them and applies keep when set.
func (c *sqliteCollection) query(ctx context.Context, where string, args []any, keep func(*Record) bool) ([]*Record, error) {
	if err := c.store.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := c.store.db.QueryContext(ctx, c.selectSQL+where+" ORDER BY rowid", args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", c.name, err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := c.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if keep != nil && !keep(rec) {
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s rows: %w", c.name, err)
	}
	return records, nil
}

// scanRecord decodes one row. A corrupt blob is handled by the schema's policy:
// the row is either dropped (nil record) or returned with native fields only.
func (c *sqliteCollection) scanRecord(rows *sql.Rows) (*Record, error) {
	var id string
	var data sql.NullString
	native := make([]sql.NullString, len(c.schema.Native))

	dest := make([]any, 0, len(native)+2)
	dest = append(dest, &id)
	for i := range native {
		dest = append(dest, &native[i])
	}
	dest = append(dest, &data)

	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning %s row: %w", c.name, err)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(data.String), &fields); err != nil || fields == nil {
		c.store.logger.Warn("corrupt record data",
			"collection", c.name,
			"id", id,
			"policy", c.schema.OnCorrupt.String(),
			"error", err,
		)
		if c.schema.OnCorrupt == CorruptSkipRow {
			return nil, nil
		}
		fields = make(map[string]any)
	}
	delete(fields, IDField)

	for i, n := range c.schema.Native {
		if native[i].Valid {
			fields[n] = native[i].String
		}
	}
	return &Record{ID: id, Fields: fields}, nil
}

func (c *sqliteCollection) Count(ctx context.Context) (int, error) {
	if err := c.store.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := c.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", c.name, err)
	}
	return n, nil
}

func (c *sqliteCollection) Clear(ctx context.Context) error {
	if err := c.store.checkOpen(); err != nil {
		return err
	}
	result, err := c.store.db.ExecContext(ctx, "DELETE FROM "+c.table)
	if err != nil {
		return fmt.Errorf("clearing %s: %w", c.name, err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		c.store.logger.Info("cleared collection", "collection", c.name, "count", n)
	}
	return nil
}

// ImportItems upserts a batch of records in one transaction, preserving ids.
func (c *sqliteCollection) ImportItems(ctx context.Context, records []*Record) error {
	if err := c.store.checkOpen(); err != nil {
		return err
	}
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning import into %s: %w", c.name, err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("importing into %s: record without id", c.name)
		}
		fields, err := normalizeFields(r.Fields)
		if err != nil {
			return fmt.Errorf("importing %s/%s: %w", c.name, r.ID, err)
		}
		if err := c.upsert(ctx, tx, r.ID, fields); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import into %s: %w", c.name, err)
	}
	c.store.logger.Debug("imported items", "collection", c.name, "count", len(records))
	return nil
}

var (
	_ Backend  = (*SQLiteStore)(nil)
	_ Importer = (*sqliteCollection)(nil)
)
