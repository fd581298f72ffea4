// Package app wires configuration, logging, metrics and infrastructure into a
// service runtime. Every entry point under cmd/ starts through Start.
package app

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/orbas1/edulure/config"
	"github.com/orbas1/edulure/database"
	"github.com/orbas1/edulure/infra"
	"github.com/orbas1/edulure/metric"
	"github.com/orbas1/edulure/pkg/retry"
	"github.com/orbas1/edulure/readiness"
	"github.com/orbas1/edulure/service"
	"github.com/orbas1/edulure/signals"
)

// Version is the build version reported in logs
var Version = "0.1.0"

// ErrExit is returned by Start when the process should exit successfully
// without running, as after -version, -help or -validate.
var ErrExit = stderrors.New("exit requested")

// Process describes one runtime entry point
type Process struct {
	// Name selects the infrastructure set: web, worker, realtime or migrate
	Name          string
	ReadinessKeys []string
	// Jobs are scheduled by the worker. They run after the database is connected.
	Jobs func(a *App) []infra.Job
	// Migrate applies schema migrations while connecting
	Migrate bool
	// NoInfra skips every infrastructure component
	NoInfra bool
	// NoProbe skips the probe server
	NoProbe bool

	// Output receives logs and help text. Defaults to stdout.
	Output io.Writer
	// Exit and SignalSource are passed to the runtime
	Exit         func(code int)
	SignalSource signals.Source
}

// App is a started runtime process
type App struct {
	Process Process
	CLI     *CLIConfig
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metric.MetricsRegistry
	Infra   *infra.Set
	Runtime *service.Runtime

	database *database.Handle
}

// ServiceName returns the runtime service name
func (p Process) ServiceName() string {
	return "edulure-" + p.Name
}

// Start parses args, loads configuration and constructs the runtime
func Start(ctx context.Context, p Process, args []string) (*App, error) {
	out := p.Output
	if out == nil {
		out = os.Stdout
	}
	name := p.ServiceName()

	cli, err := ParseFlags(name, args, out)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil, ErrExit
		}
		return nil, err
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(out, "%s %s\n", name, Version)
		return nil, ErrExit
	}
	if err := validateFlags(cli); err != nil {
		return nil, err
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	applyOverrides(cfg, cli)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("apply flag overrides: %w", err)
	}

	logger := SetupLogger(out, cfg.Log.Level, cfg.Log.Format, name)
	slog.SetDefault(logger)
	if cli.Validate {
		logger.Info("Configuration is valid", "config", cfg.Redacted())
		return nil, ErrExit
	}

	retry.SetDefaults(cfg.Retry.Attempts, cfg.Retry.Delay)

	a := &App{
		Process: p,
		CLI:     cli,
		Config:  cfg,
		Logger:  logger,
		Metrics: metric.NewMetricsRegistry(),
	}

	var infraOpts []infra.Option
	infraOpts = append(infraOpts, infra.WithLogger(logger), infra.WithMetrics(a.Metrics.CoreMetrics()))
	if p.Jobs != nil {
		infraOpts = append(infraOpts, infra.WithJobs(p.Jobs(a)...))
	}
	a.Infra = infra.New(InfraConfig(cfg, name), infraOpts...)

	opts := service.Options{
		ServiceName:        name,
		ReadinessKeys:      append(append([]string(nil), p.ReadinessKeys...), cfg.ReadinessKeysFor(p.Name)...),
		WithSignalHandlers: true,
		LivenessCheck:      Liveness(cfg.Service.MaxRSSMB),
		Logger:             logger,
		Database:           a.connectDatabase,
		Metrics:            a.Metrics,
		Exit:               p.Exit,
		SignalSource:       p.SignalSource,
	}
	if !p.NoInfra {
		opts.Infrastructure = a.Infra.Descriptors()
		opts.InfraNames = cfg.InfraFor(p.Name)
		if opts.InfraNames == nil {
			opts.InfraNames = infra.DefaultSet(p.Name)
		}
		if opts.InfraNames == nil {
			opts.InfraNames = []string{}
		}
	}

	logger.Info("Starting runtime", "environment", cfg.Service.Environment, "infra", opts.InfraNames)
	rt, err := service.New(ctx, opts)
	if err != nil {
		return nil, err
	}
	a.Runtime = rt
	a.Infra.BindTracker(rt.Readiness())

	if !p.NoProbe {
		if err := rt.StartProbeServer(ctx, cfg.Probe.Addr()); err != nil {
			a.Shutdown("probe-bind-failed")
			return nil, err
		}
	}
	return a, nil
}

func applyOverrides(cfg *config.Config, cli *CLIConfig) {
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.ProbePort >= 0 {
		cfg.Probe.Port = cli.ProbePort
	}
}

func (a *App) connectDatabase(ctx context.Context, tracker *readiness.Tracker) (service.CleanupFunc, error) {
	handle, err := database.Connect(ctx, DatabaseConfig(a.Config),
		database.WithTracker(tracker),
		database.WithLogger(a.Logger),
		database.WithMigrations(a.Process.Migrate))
	if err != nil {
		return nil, err
	}
	a.database = handle
	return func(context.Context) error { return handle.Close() }, nil
}

// Database returns the connected database handle
func (a *App) Database() *database.Handle {
	return a.database
}

// Wait blocks until the runtime has shut down
func (a *App) Wait() {
	<-a.Runtime.Done()
}

// Shutdown shuts the runtime down without exiting the process, bounded by the
// shutdown timeout.
func (a *App) Shutdown(reason string) {
	timeout := 30 * time.Second
	if a.CLI != nil && a.CLI.ShutdownTimeout > 0 {
		timeout = a.CLI.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	a.Runtime.Shutdown(ctx, reason, service.ShutdownOptions{})
}

// DatabaseConfig maps the configuration onto the database routine
func DatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		PingTimeout:     cfg.Database.PingTimeout,
		MigrationsTable: cfg.Database.MigrationsTable,
		Attempts:        cfg.Retry.Attempts,
		Delay:           cfg.Retry.Delay,
	}
}

// InfraConfig maps the configuration onto the infrastructure set
func InfraConfig(cfg *config.Config, clientName string) infra.Config {
	return infra.Config{
		NATS: infra.NATSConfig{
			URL:           cfg.NATS.URL,
			Name:          clientName,
			Token:         cfg.NATS.Token,
			User:          cfg.NATS.User,
			Password:      cfg.NATS.Password,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			DrainTimeout:  cfg.NATS.DrainTimeout,
		},
		Redis: infra.RedisConfig{
			URL:         cfg.Redis.URL,
			DialTimeout: cfg.Redis.DialTimeout,
			PoolSize:    cfg.Redis.PoolSize,
		},
		GraphQL: infra.GraphQLConfig{
			SchemaPath: cfg.GraphQL.SchemaPath,
			QueriesDir: cfg.GraphQL.QueriesDir,
			CacheSize:  cfg.GraphQL.CacheSize,
		},
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
	}
}
