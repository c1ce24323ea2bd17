// ABOUTME: Root cobra command for coven-store with global flags and shared setup
// ABOUTME: Loads config, builds the logger and opens the authoritative backend for subcommands

package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/2389/coven-store/internal/config"
	"github.com/2389/coven-store/internal/logging"
	"github.com/2389/coven-store/internal/migrate"
	"github.com/2389/coven-store/internal/store"
)

// app holds state shared by every subcommand of one root command.
type app struct {
	configPath string
	jsonMode   bool
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd creates the top-level "coven-store" command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "coven-store",
		Short: "Inspect and migrate the coven bot record store",
		Long: `coven-store manages the records behind the coven chat bot: channels,
presets, tools, processors, triggers, user state and history.

Records live either in a single JSON document file or in SQLite.
Starting any command against a SQLite store migrates a legacy JSON file
first when migration is enabled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: $COVEN_STORE_CONFIG or ~/.config/coven/store.yaml)")
	root.PersistentFlags().BoolVar(&a.jsonMode, "json", false, "output in JSON format")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newVersionCmd(),
		newMigrateCmd(a),
		newCollectionsCmd(a),
		newGetCmd(a),
		newSetCmd(a),
		newRmCmd(a),
		newListCmd(a),
		newFindCmd(a),
		newClearCmd(a),
	)

	return root
}

// Execute runs the root command with ctx, printing any error to stderr.
func Execute(ctx context.Context) error {
	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		printError(root.ErrOrStderr(), err)
		return err
	}
	return nil
}

// setup loads the configuration and installs the logger. A missing config
// file is only an error when it was named explicitly.
func (a *app) setup(cmd *cobra.Command) error {
	path := a.configPath
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		cfg = config.Default(config.DataDir())
	default:
		return err
	}

	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	a.cfg = cfg
	a.logger = logging.Setup(cfg.Logging, cmd.ErrOrStderr())
	slog.SetDefault(a.logger)
	return nil
}

// openBackend opens the configured backend, migrating legacy data first when enabled.
func (a *app) openBackend(ctx context.Context) (store.Backend, error) {
	backend, res, err := migrate.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	if res != nil && res.State == migrate.StateDone {
		a.logger.Info("migrated legacy document store", "records", res.Copied(), "backup", res.BackupPath)
	}
	return backend, nil
}

// withCollection opens the backend and runs fn against the named collection.
func (a *app) withCollection(ctx context.Context, name string, fn func(store.Collection) error) error {
	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	coll, err := backend.Collection(ctx, name)
	if err != nil {
		return fmt.Errorf("opening collection %q: %w", name, err)
	}
	return fn(coll)
}
