package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/calsync/internal/conduit"
	"github.com/roach88/calsync/internal/config"
	"github.com/roach88/calsync/internal/datastore"
	"github.com/roach88/calsync/internal/store"
)

// environment is what a command runs against: configuration, logger and
// an open datastore.
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *store.Store
	data   *datastore.Store
	out    *OutputFormatter
}

// openEnvironment loads the configuration and opens the database. The
// caller closes it.
func openEnvironment(cmd *cobra.Command, opts *RootOptions) (*environment, error) {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := newLogger(cmd, cfg, opts.Verbose)

	var db *store.Store
	switch cfg.Database.Driver {
	case "mysql":
		db, err = store.OpenMySQL(cfg.Database.DSN, store.WithLogger(logger))
	default:
		db, err = store.Open(cfg.Database.DSN, store.WithLogger(logger))
	}
	if err != nil {
		_ = out.Error(ErrCodeDatabase, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("database ready", "driver", cfg.Database.Driver)

	dsOpts := []datastore.Option{
		datastore.WithDirectory(cfg.PrincipalDirectory()),
		datastore.WithLogger(logger),
	}
	if len(cfg.RemotePods()) > 0 {
		client := conduit.NewClient(cfg.Pod.ID, []byte(cfg.Pod.Secret), cfg.Pod.Peers,
			conduit.WithClientLogger(logger))
		dsOpts = append(dsOpts, datastore.WithConduit(client))
	}
	return &environment{
		cfg:    cfg,
		logger: logger,
		db:     db,
		data:   datastore.New(db, dsOpts...),
		out:    out,
	}, nil
}

func (e *environment) close() {
	if err := e.db.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}

// newLogger writes text logs to the command's stderr. --verbose wins over
// the configured level.
func newLogger(cmd *cobra.Command, cfg *config.Config, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
