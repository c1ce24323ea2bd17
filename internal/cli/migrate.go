// ABOUTME: migrate command: copies the legacy JSON document file into SQLite on demand
// ABOUTME: Runs regardless of migration.enabled and prints a per-collection report

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389/coven-store/internal/migrate"
	"github.com/2389/coven-store/internal/store"
)

func newMigrateCmd(a *app) *cobra.Command {
	var collections []string
	var backupDir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the JSON document store into SQLite",
		Long: `Copy every collection from the JSON document file into SQLite.

A collection is copied only when the SQLite table is empty, so the
command is safe to re-run after an interruption. The document file is
backed up and verified before copied collections are cleared from it.

Examples:
  coven-store migrate
  coven-store migrate --collections channel,tools
  coven-store migrate --backup-dir /var/backups/coven --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := a.cfg

			docPath := cfg.Storage.Document.Path
			if _, err := os.Stat(docPath); errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("document file %s does not exist", docPath)
			}
			if backupDir == "" {
				backupDir = cfg.Migration.BackupDir
			}
			if len(collections) == 0 {
				collections = cfg.MigrationCollections()
			}

			source, err := store.OpenDocumentStore(docPath,
				store.WithDocumentLogger(a.logger.With("component", "store", "backend", store.KindDocument)))
			if err != nil {
				return err
			}
			defer source.Close()

			dest, err := store.OpenBackend(store.KindSQLite, cfg.Storage.SQLite.Path, store.BackendOptions{
				Logger:      a.logger.With("component", "store", "backend", store.KindSQLite),
				Driver:      cfg.Storage.SQLite.Driver,
				BusyTimeout: cfg.Storage.SQLite.BusyTimeout,
			})
			if err != nil {
				return err
			}
			defer dest.Close()

			m := migrate.New(source, dest, backupDir,
				migrate.WithCollections(collections...),
				migrate.WithLogger(a.logger.With("component", "migrate")),
			)
			res, runErr := m.Run(ctx)
			if err := printMigration(cmd, a.jsonMode, res); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringSliceVar(&collections, "collections", nil, "collections to migrate (default: migration.collections or all)")
	cmd.Flags().StringVar(&backupDir, "backup-dir", "", "backup directory (default: migration.backup_dir)")
	return cmd
}

type migrationReport struct {
	State       migrate.State              `json:"state"`
	BackupPath  string                     `json:"backup_path,omitempty"`
	Error       string                     `json:"error,omitempty"`
	Collections []migrationCollectionEntry `json:"collections"`
}

type migrationCollectionEntry struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Source      int    `json:"source"`
	Destination int    `json:"destination"`
	Copied      int    `json:"copied"`
}

func printMigration(cmd *cobra.Command, jsonMode bool, res *migrate.Result) error {
	out := cmd.OutOrStdout()
	if jsonMode {
		report := migrationReport{
			State:       res.State,
			BackupPath:  res.BackupPath,
			Collections: make([]migrationCollectionEntry, 0, len(res.Collections)),
		}
		if res.Err != nil {
			report.Error = res.Err.Error()
		}
		for _, c := range res.Collections {
			report.Collections = append(report.Collections, migrationCollectionEntry{
				Name:        c.Name,
				Status:      string(c.Status),
				Source:      c.SourceCount,
				Destination: c.DestinationCount,
				Copied:      c.Copied,
			})
		}
		return writeJSON(out, report)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "COLLECTION\tSTATUS\tSOURCE\tDESTINATION\tCOPIED\n")
	for _, c := range res.Collections {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", c.Name, c.Status, c.SourceCount, c.DestinationCount, c.Copied)
	}
	w.Flush()

	fmt.Fprintln(out)
	switch res.State {
	case migrate.StateDone:
		fmt.Fprintf(out, "%s %d record(s) migrated\n", okColor.Sprint(string(res.State)), res.Copied())
	case migrate.StateSkipped:
		fmt.Fprintf(out, "%s nothing to migrate\n", warnColor.Sprint(string(res.State)))
	default:
		fmt.Fprintf(out, "%s\n", errorColor.Sprint(string(res.State)))
	}
	if res.BackupPath != "" {
		fmt.Fprintf(out, "Backup: %s\n", res.BackupPath)
	}
	return nil
}
