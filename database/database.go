// Package database opens the primary PostgreSQL connection of a runtime process.
// The connection is the first component started and the last one closed.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/orbas1/edulure/errors"
	"github.com/orbas1/edulure/pkg/clock"
	"github.com/orbas1/edulure/pkg/retry"
	"github.com/orbas1/edulure/readiness"
)

// Component is the readiness component name of the database
const Component = "database"

// Config describes the database connection
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
	MigrationsTable string
	Attempts        int
	Delay           time.Duration
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.DSN == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "database", "Validate", "dsn")
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "database", "Validate", "pool size")
	}
	return nil
}

// OpenFunc opens a database without connecting
type OpenFunc func(ctx context.Context, dsn string) (*sqlx.DB, error)

// MigrateFunc applies pending schema migrations and returns the resulting version
type MigrateFunc func(ctx context.Context, db *sqlx.DB, table string) (uint, error)

type options struct {
	tracker *readiness.Tracker
	logger  *slog.Logger
	clock   clock.Clock
	open    OpenFunc
	migrate MigrateFunc
	runMig  bool
}

// Option configures Connect
type Option func(*options)

// WithTracker reports the database component to tracker
func WithTracker(tracker *readiness.Tracker) Option {
	return func(o *options) {
		o.tracker = tracker
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used for retry backoff
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithOpener replaces the postgres opener
func WithOpener(fn OpenFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.open = fn
		}
	}
}

// WithMigrations applies the embedded migrations after connecting
func WithMigrations(enabled bool) Option {
	return func(o *options) {
		o.runMig = enabled
	}
}

// WithMigrator replaces the migration routine
func WithMigrator(fn MigrateFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.migrate = fn
		}
	}
}

func openPostgres(_ context.Context, dsn string) (*sqlx.DB, error) {
	return sqlx.Open("postgres", dsn)
}

// Handle owns the open connection pool
type Handle struct {
	db      *sqlx.DB
	tracker *readiness.Tracker
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Connect opens the pool and probes it, retrying with linear backoff.
// When migrations are enabled they run once the connection is established.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Handle, error) {
	o := options{
		logger:  slog.Default(),
		clock:   clock.Real(),
		open:    openPostgres,
		migrate: Migrate,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracker == nil {
		o.tracker = readiness.NewTracker("database", nil, readiness.WithClock(o.clock))
	}
	logger := o.logger.With("component", Component)

	if err := cfg.Validate(); err != nil {
		o.tracker.MarkFailed(Component, "Database configuration invalid", err, nil)
		return nil, err
	}

	o.tracker.MarkPending(Component, "Connecting to database", nil)

	db, err := retry.Execute(ctx, Component, func(ctx context.Context, attempt, _ int) (*sqlx.DB, error) {
		return open(ctx, cfg, o.open, logger, attempt)
	}, retry.Options{
		Attempts: cfg.Attempts,
		Delay:    cfg.Delay,
		Clock:    o.clock,
		Logger:   logger,
		Progress: func(component, message string) {
			o.tracker.MarkPending(component, message, nil)
		},
	})
	if err != nil {
		o.tracker.MarkFailed(Component, err.Error(), err, nil)
		return nil, err
	}

	details := readiness.Details{"maxOpenConns": cfg.MaxOpenConns}
	if o.runMig {
		o.tracker.MarkPending(Component, "Applying database migrations", nil)
		version, err := o.migrate(ctx, db, cfg.MigrationsTable)
		if err != nil {
			_ = db.Close()
			o.tracker.MarkFailed(Component, "Database migrations failed", err, nil)
			return nil, err
		}
		details["schemaVersion"] = version
		logger.Info("Database migrations applied", "version", version)
	}

	o.tracker.MarkReady(Component, "Database connection established", details)
	return &Handle{db: db, tracker: o.tracker, logger: logger}, nil
}

func open(ctx context.Context, cfg Config, openFn OpenFunc, logger *slog.Logger, attempt int) (*sqlx.DB, error) {
	db, err := openFn(ctx, cfg.DSN)
	if err != nil {
		return nil, errors.WrapTransient(err, "database", "Connect", "open pool")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(err, "database", "Connect", fmt.Sprintf("ping (attempt %d)", attempt))
	}

	logger.Debug("Database ping succeeded", "attempt", attempt)
	return db, nil
}

// DB returns the connection pool
func (h *Handle) DB() *sqlx.DB {
	return h.db
}

// Ping probes the connection
func (h *Handle) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Close closes the pool. Subsequent calls return the first result.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.db.Close()
		if h.closeErr != nil {
			h.logger.Warn("Failed to close database", "error", h.closeErr)
			h.tracker.MarkDegraded(Component, "Database close failed", readiness.Details{"stopped": false})
			return
		}
		h.logger.Info("Database connection closed")
		h.tracker.MarkDegraded(Component, "Database connection closed", readiness.Details{"stopped": true})
	})
	return h.closeErr
}
