package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recordkit/internal/browse"
	"github.com/roach88/recordkit/internal/config"
	"github.com/roach88/recordkit/internal/model"
	"github.com/roach88/recordkit/internal/orm"
	"github.com/roach88/recordkit/internal/store"
	"github.com/roach88/recordkit/internal/translation"
)

// session is an open database transaction with an Env bound to it.
type session struct {
	db     *store.DB
	env    *orm.Env
	logger *slog.Logger
}

// loadConfig reads --config and the RECORDKIT_* environment. A non-empty
// dsn overrides the configured database.
func loadConfig(opts *RootOptions, dsn string) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, &LoadError{Code: ErrCodeConfig, Message: "loading configuration", Err: err}
	}
	if dsn != "" {
		cfg.Database.DSN = dsn
	}
	return cfg, nil
}

// newLogger logs to w at the configured level; --verbose forces debug.
func newLogger(opts *RootOptions, cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openSession opens the configured database, begins a transaction and
// binds reg to it. Callers must close the session.
func openSession(ctx context.Context, cmd *cobra.Command, opts *RootOptions, cfg config.Config, reg *model.Registry) (*session, error) {
	logger := newLogger(opts, cfg, cmd.ErrOrStderr())

	mode, err := browse.ParseMode(cfg.Prefetch.Mode)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: "prefetch mode", Err: err}
	}

	logger.Debug("opening database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
	db, err := store.Open(ctx, store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, InMax: cfg.InMax})
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDatabase, Message: "opening database", Err: err}
	}
	env, err := orm.Begin(ctx, db, reg, orm.Options{
		Lang:         cfg.Lang,
		Translations: translation.NewSQLStore(),
		Prefetch:     browse.Policy{Mode: mode, TopK: cfg.Prefetch.TopK, Fraction: cfg.Prefetch.Fraction},
		Stats:        browse.NewStats(),
		Logger:       logger,
	})
	if err != nil {
		db.Close()
		return nil, &LoadError{Code: ErrCodeDatabase, Message: "beginning transaction", Err: err}
	}
	return &session{db: db, env: env, logger: logger}, nil
}

// close rolls back unless the session was committed, then closes the
// database.
func (s *session) close() {
	if err := s.env.Rollback(); err != nil {
		s.logger.Debug("rollback", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}
