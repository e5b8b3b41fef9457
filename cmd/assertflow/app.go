package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rendis/assertflow/internal/actions"
	"github.com/rendis/assertflow/internal/engine"
	"github.com/rendis/assertflow/internal/expressions"
	"github.com/rendis/assertflow/internal/loader"
	"github.com/rendis/assertflow/internal/logging"
	"github.com/rendis/assertflow/internal/store"
	"github.com/rendis/assertflow/internal/validation"
)

// app is the wired dependency graph behind every subcommand.
type app struct {
	cfg       Config
	logger    *zap.Logger
	registry  *actions.Registry
	dialects  *expressions.Dialects
	validator *validation.WorkflowValidator
	loader    *loader.Loader
	history   *store.LibSQLStore // nil when history is disabled
	events    *store.EventLog
	engine    *engine.Engine
}

func newApp(ctx context.Context, cfg Config, withHistory bool) (*app, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	registry, err := actions.NewDefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("register actions: %w", err)
	}
	dialects, err := expressions.NewDialects()
	if err != nil {
		return nil, fmt.Errorf("build expression dialects: %w", err)
	}
	validator, err := validation.NewWorkflowValidator(registry, dialects)
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}
	validator = validator.WithDefaultDialect(cfg.Dialect)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		dialects:  dialects,
		validator: validator,
		loader:    loader.New(validator),
	}

	engCfg := engine.Config{Logger: logger, DefaultDialect: cfg.Dialect}
	if withHistory && cfg.DBPath != "" {
		st, err := openHistory(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.history = st
		a.events = store.NewEventLog(st)
		engCfg.Appender = a.events
		engCfg.Recorder = st
	}
	a.engine = engine.New(actions.NewExecutor(registry), dialects, engCfg)
	return a, nil
}

func openHistory(ctx context.Context, path string) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	st, err := store.NewLibSQLStore(path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return st, nil
}

func (a *app) Close() error {
	_ = a.logger.Sync()
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}

func (a *app) requireHistory() error {
	if a.history == nil {
		return errors.New("run history is disabled (set --db-path)")
	}
	return nil
}

// withApp builds the app for cmd, runs fn and closes the app.
func (c *cli) withApp(cmd *cobra.Command, withHistory bool, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, c.cfg, withHistory)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
