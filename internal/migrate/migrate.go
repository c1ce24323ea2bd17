// ABOUTME: One-shot migration of every collection from the document file into SQLite
// ABOUTME: Per-collection destination gate, verified copy, then backup before the source is cleared

package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-store/internal/store"
)

// State is a step of the migration state machine
type State string

// Migration states. DONE, SKIPPED and FAILED are terminal.
const (
	StateCheckSource      State = "CHECK_SOURCE"
	StateCheckDestination State = "CHECK_DESTINATION"
	StateCopy             State = "COPY"
	StateBackupAndClear   State = "BACKUP_AND_CLEAR"
	StateDone             State = "DONE"
	StateSkipped          State = "SKIPPED"
	StateFailed           State = "FAILED"
)

// CollectionStatus describes what happened to one collection
type CollectionStatus string

const (
	StatusEmpty     CollectionStatus = "empty"     // nothing in the source
	StatusPopulated CollectionStatus = "populated" // destination already had data
	StatusPending   CollectionStatus = "pending"   // waiting to be copied
	StatusCopied    CollectionStatus = "copied"
	StatusMigrated  CollectionStatus = "migrated" // copied by an earlier run, not yet cleared
	StatusCleared   CollectionStatus = "cleared"  // copied and removed from the source
	StatusFailed    CollectionStatus = "failed"
)

// ErrCountMismatch is returned when the destination does not hold every copied record
var ErrCountMismatch = errors.New("destination count does not match copied records")

// Source is the legacy backend being migrated away from. It must be able to
// snapshot itself before anything is cleared.
type Source interface {
	store.Backend
	store.Snapshotter
}

// CollectionResult is the per-collection outcome of a run
type CollectionResult struct {
	Name             string
	SourceCount      int
	DestinationCount int
	Copied           int
	Status           CollectionStatus
}

// Result reports how far a run got. Err mirrors the error returned by Run.
type Result struct {
	State       State
	Collections []CollectionResult
	BackupPath  string
	Err         error
}

// Copied returns the total number of records copied in this run
func (r *Result) Copied() int {
	n := 0
	for _, c := range r.Collections {
		n += c.Copied
	}
	return n
}

// Migrator moves records from a document Source into a destination Backend.
// Every Run re-derives its state from the stores, so an interrupted migration
// resumes with whatever collections are still pending.
type Migrator struct {
	source      Source
	dest        store.Backend
	backupDir   string
	collections []string
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Migrator
type Option func(*Migrator)

// WithCollections limits the migration to the named collections, in order
func WithCollections(names ...string) Option {
	return func(m *Migrator) { m.collections = names }
}

// WithLogger sets the logger used for progress and failures
func WithLogger(l *slog.Logger) Option {
	return func(m *Migrator) { m.logger = l }
}

// WithClock overrides the time source used to name backups
func WithClock(now func() time.Time) Option {
	return func(m *Migrator) { m.now = now }
}

// New creates a Migrator. Backups are written to backupDir.
func New(source Source, dest store.Backend, backupDir string, opts ...Option) *Migrator {
	m := &Migrator{
		source:      source,
		dest:        dest,
		backupDir:   backupDir,
		collections: store.KnownCollections,
		logger:      slog.Default().With("component", "migrate"),
		now:         time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run executes the migration. On failure the returned Result carries the state
// reached, the per-collection progress and the error. Nothing is rolled back:
// collections already copied stay in the destination and are skipped next time.
func (m *Migrator) Run(ctx context.Context) (*Result, error) {
	res := &Result{State: StateCheckSource}
	fail := func(err error) (*Result, error) {
		res.State = StateFailed
		res.Err = err
		m.logger.Error("migration failed", "error", err, "collections", len(res.Collections))
		return res, err
	}

	// CHECK_SOURCE
	counts, err := m.countAll(ctx, m.source)
	if err != nil {
		return fail(fmt.Errorf("checking source: %w", err))
	}
	res.Collections = make([]CollectionResult, len(m.collections))
	total := 0
	for i, name := range m.collections {
		res.Collections[i] = CollectionResult{Name: name, SourceCount: counts[i], Status: StatusEmpty}
		total += counts[i]
	}
	if total == 0 {
		res.State = StateSkipped
		m.logger.Info("migration skipped: source is empty")
		return res, nil
	}

	// CHECK_DESTINATION
	res.State = StateCheckDestination
	pending, resumed := 0, 0
	for i := range res.Collections {
		cr := &res.Collections[i]
		if cr.SourceCount == 0 {
			continue
		}
		n, err := m.count(ctx, m.dest, cr.Name)
		if err != nil {
			return fail(fmt.Errorf("checking destination %s: %w", cr.Name, err))
		}
		cr.DestinationCount = n
		if n > 0 {
			earlier, err := m.copiedEarlier(ctx, cr.Name)
			if err != nil {
				return fail(fmt.Errorf("checking destination %s: %w", cr.Name, err))
			}
			if earlier {
				cr.Status = StatusMigrated
				resumed++
				m.logger.Info("collection copied by an earlier run, clearing source",
					"collection", cr.Name, "destination_count", n)
				continue
			}
			cr.Status = StatusPopulated
			m.logger.Info("destination already populated, skipping collection",
				"collection", cr.Name, "destination_count", n)
			continue
		}
		cr.Status = StatusPending
		pending++
	}
	if pending == 0 && resumed == 0 {
		res.State = StateSkipped
		m.logger.Info("migration skipped: destination already populated")
		return res, nil
	}

	// COPY
	res.State = StateCopy
	for i := range res.Collections {
		cr := &res.Collections[i]
		if cr.Status != StatusPending {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("copying %s: %w", cr.Name, err))
		}
		// A started collection is finished even if ctx is cancelled meanwhile.
		if err := m.copyCollection(context.WithoutCancel(ctx), cr); err != nil {
			cr.Status = StatusFailed
			return fail(fmt.Errorf("copying %s: %w", cr.Name, err))
		}
	}

	// BACKUP_AND_CLEAR
	res.State = StateBackupAndClear
	backup, err := m.source.Snapshot(ctx, m.backupDir, m.now())
	if err != nil {
		return fail(fmt.Errorf("backing up source: %w", err))
	}
	res.BackupPath = backup

	for i := range res.Collections {
		cr := &res.Collections[i]
		if cr.Status != StatusCopied && cr.Status != StatusMigrated {
			continue
		}
		coll, err := m.source.Collection(ctx, cr.Name)
		if err != nil {
			return fail(fmt.Errorf("clearing source %s: %w", cr.Name, err))
		}
		if err := coll.Clear(ctx); err != nil {
			return fail(fmt.Errorf("clearing source %s: %w", cr.Name, err))
		}
		cr.Status = StatusCleared
	}

	res.State = StateDone
	m.logger.Info("migration complete", "records", res.Copied(), "backup", backup)
	return res, nil
}

// countAll probes every configured collection of b concurrently.
func (m *Migrator) countAll(ctx context.Context, b store.Backend) ([]int, error) {
	counts := make([]int, len(m.collections))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range m.collections {
		i, name := i, name
		g.Go(func() error {
			n, err := m.count(gctx, b, name)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

// copiedEarlier reports whether every source id of the collection is already
// in the destination, which is what an interrupted run leaves behind.
func (m *Migrator) copiedEarlier(ctx context.Context, name string) (bool, error) {
	src, err := m.source.Collection(ctx, name)
	if err != nil {
		return false, err
	}
	records, err := src.ListItems(ctx)
	if err != nil {
		return false, fmt.Errorf("reading source: %w", err)
	}

	dst, err := m.dest.Collection(ctx, name)
	if err != nil {
		return false, err
	}
	existing, err := dst.ListItems(ctx)
	if err != nil {
		return false, fmt.Errorf("reading destination: %w", err)
	}
	ids := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		ids[r.ID] = struct{}{}
	}

	for _, r := range records {
		if _, ok := ids[r.ID]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (m *Migrator) count(ctx context.Context, b store.Backend, name string) (int, error) {
	coll, err := b.Collection(ctx, name)
	if err != nil {
		return 0, err
	}
	return coll.Count(ctx)
}

// copyCollection copies every source record into the destination, preserving ids,
// then checks that the destination holds exactly that many records.
func (m *Migrator) copyCollection(ctx context.Context, cr *CollectionResult) error {
	src, err := m.source.Collection(ctx, cr.Name)
	if err != nil {
		return err
	}
	records, err := src.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	dst, err := m.dest.Collection(ctx, cr.Name)
	if err != nil {
		return err
	}
	if imp, ok := dst.(store.Importer); ok {
		if err := imp.ImportItems(ctx, records); err != nil {
			return err
		}
	} else {
		for _, r := range records {
			if _, err := dst.SetItem(ctx, r.ID, r.Fields); err != nil {
				return err
			}
		}
	}

	n, err := dst.Count(ctx)
	if err != nil {
		return fmt.Errorf("verifying destination: %w", err)
	}
	cr.DestinationCount = n
	if n != len(records) {
		return fmt.Errorf("%w: copied %d, destination has %d", ErrCountMismatch, len(records), n)
	}

	cr.Copied = len(records)
	cr.Status = StatusCopied
	m.logger.Info("migrated collection", "collection", cr.Name, "records", cr.Copied)
	return nil
}
