package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/orbas1/edulure/bootstrap"
	"github.com/orbas1/edulure/errors"
	"github.com/orbas1/edulure/metric"
	"github.com/orbas1/edulure/pkg/clock"
	"github.com/orbas1/edulure/probe"
	"github.com/orbas1/edulure/readiness"
	"github.com/orbas1/edulure/signals"
)

// Component names registered by the harness itself
const (
	DatabaseComponent       = "database"
	InfrastructureComponent = "infrastructure"
	ProbeComponent          = "probe-server"
)

// State is the lifecycle state of a Runtime
type State int32

// Runtime states
const (
	StateConstructing State = iota
	StateReady
	StateShuttingDown
	StateStopped
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting-down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CleanupFunc releases a resource during shutdown
type CleanupFunc func(ctx context.Context) error

// DatabaseConnector connects the database, reporting progress to tracker, and
// returns the function that closes it.
type DatabaseConnector func(ctx context.Context, tracker *readiness.Tracker) (CleanupFunc, error)

// Options configures New
type Options struct {
	ServiceName string
	// ReadinessKeys seeds the tracker in addition to the components the harness starts.
	ReadinessKeys      []string
	WithSignalHandlers bool
	LivenessCheck      probe.LivenessFunc
	Logger             *slog.Logger

	// Database is optional. When nil the database step is skipped.
	Database DatabaseConnector

	Infrastructure []bootstrap.Descriptor
	// InfraNames selects and orders the descriptors to start. Nil starts all of them.
	InfraNames []string

	Metrics *metric.MetricsRegistry

	// Exit terminates the process. Defaults to os.Exit.
	Exit         func(code int)
	SignalSource signals.Source
	Clock        clock.Clock
}

// ShutdownOptions controls the end of Shutdown
type ShutdownOptions struct {
	ExitProcess bool
	ExitCode    int
}

type cleanupTask struct {
	name string
	fn   CleanupFunc
}

// Runtime is a fully constructed runtime process
type Runtime struct {
	name     string
	logger   *slog.Logger
	tracker  *readiness.Tracker
	registry *signals.Registry
	probe    *probe.Server
	metrics  *metric.Metrics
	clock    clock.Clock
	exit     func(int)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cleanups []cleanupTask

	state        atomic.Int32
	shuttingDown atomic.Bool
	done         chan struct{}
}

// New constructs the runtime. On error every cleanup registered so far has
// already run and no Runtime is returned.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.ServiceName == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Runtime", "New", "service name")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	r := &Runtime{
		name:   opts.ServiceName,
		logger: opts.Logger.With("service", opts.ServiceName),
		clock:  opts.Clock,
		exit:   opts.Exit,
		done:   make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.state.Store(int32(StateConstructing))

	// 1. Readiness tracker
	r.tracker = readiness.NewTracker(opts.ServiceName, readinessKeys(opts),
		readiness.WithLogger(r.logger), readiness.WithClock(r.clock))
	if opts.Metrics != nil {
		r.metrics = opts.Metrics.CoreMetrics()
		r.metrics.ObserveReadiness(r.tracker.Snapshot())
		r.tracker.OnChange(r.metrics.ObserveReadiness)
	}

	// 2. Signal registry
	r.registry = signals.NewRegistry(signals.WithSource(opts.SignalSource), signals.WithLogger(r.logger))
	if opts.WithSignalHandlers {
		r.installSignalHandlers()
	}

	// 3. Database
	if opts.Database != nil {
		closeDB, err := opts.Database(ctx, r.tracker)
		if err != nil {
			return nil, r.abort(ctx, "database", err)
		}
		if closeDB != nil {
			r.RegisterCleanup(DatabaseComponent, closeDB)
		}
	}

	// 4. Infrastructure
	if len(opts.Infrastructure) > 0 {
		orch := bootstrap.New(opts.Infrastructure,
			bootstrap.WithTracker(r.tracker),
			bootstrap.WithLogger(r.logger),
			bootstrap.WithMetrics(r.metrics),
			bootstrap.WithClock(r.clock))
		handle, err := orch.Start(ctx, opts.InfraNames)
		if err != nil {
			return nil, r.abort(ctx, "infrastructure", err)
		}
		r.RegisterCleanup(InfrastructureComponent, func(ctx context.Context) error {
			handle.Stop(ctx)
			return nil
		})
	}

	// 5. Probe server
	probeOpts := []probe.Option{
		probe.WithLiveness(opts.LivenessCheck),
		probe.WithLogger(r.logger),
		probe.WithClock(r.clock),
	}
	if opts.Metrics != nil {
		probeOpts = append(probeOpts, probe.WithMetrics(opts.Metrics.Handler()))
	}
	r.probe = probe.NewServer(opts.ServiceName, r.tracker, probeOpts...)
	r.RegisterCleanup(ProbeComponent, r.probe.Close)

	r.state.Store(int32(StateReady))
	r.logger.Info("Service runtime constructed", "components", len(r.tracker.Snapshot().Components))
	return r, nil
}

func readinessKeys(opts Options) []string {
	keys := append([]string(nil), opts.ReadinessKeys...)
	if opts.Database != nil {
		keys = append(keys, DatabaseComponent)
	}
	if opts.InfraNames != nil {
		known := make(map[string]bool, len(opts.Infrastructure))
		for _, d := range opts.Infrastructure {
			known[d.Name] = true
		}
		// Unknown names are skipped by the orchestrator and never leave pending
		for _, name := range opts.InfraNames {
			if known[name] {
				keys = append(keys, name)
			}
		}
	} else {
		for _, d := range opts.Infrastructure {
			keys = append(keys, d.Name)
		}
	}
	return append(keys, ProbeComponent)
}

// abort unwinds a failed construction and returns err unchanged
func (r *Runtime) abort(ctx context.Context, step string, err error) error {
	r.logger.Error("Service runtime construction failed", "step", step, "error", err)
	r.runCleanups(ctx)
	r.registry.Cleanup()
	r.cancel()
	r.state.Store(int32(StateStopped))
	close(r.done)
	return err
}

// Logger returns the service-scoped logger
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Readiness returns the tracker backing /ready
func (r *Runtime) Readiness() *readiness.Tracker { return r.tracker }

// Registry returns the signal registry
func (r *Runtime) Registry() *signals.Registry { return r.registry }

// Probe returns the probe server
func (r *Runtime) Probe() *probe.Server { return r.probe }

// State returns the lifecycle state
func (r *Runtime) State() State { return State(r.state.Load()) }

// Done is closed when Shutdown has finished. When the shutdown requested a
// process exit, the exit function has already been called.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Context is cancelled when Shutdown starts
func (r *Runtime) Context() context.Context { return r.ctx }

// RegisterCleanup appends a cleanup task. Tasks run in reverse order on Shutdown.
func (r *Runtime) RegisterCleanup(name string, fn CleanupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanups = append(r.cleanups, cleanupTask{name: name, fn: fn})
}

// StartProbeServer binds the probe endpoints on addr
func (r *Runtime) StartProbeServer(ctx context.Context, addr string) error {
	r.tracker.MarkPending(ProbeComponent, "Starting probe server", nil)
	if err := r.probe.Start(ctx, addr); err != nil {
		r.tracker.MarkFailed(ProbeComponent, "Probe server failed to bind", err, readiness.Details{"address": addr})
		return err
	}
	bound := r.probe.Addr()
	r.tracker.MarkReady(ProbeComponent, fmt.Sprintf("Probe server listening on %s", bound),
		readiness.Details{"address": bound})
	return nil
}

// Shutdown runs every cleanup task in reverse order, releases the signal
// registry and closes Done. Only the first call does anything.
func (r *Runtime) Shutdown(ctx context.Context, reason string, opts ShutdownOptions) {
	if !r.shuttingDown.CompareAndSwap(false, true) {
		r.logger.Debug("Shutdown already in progress", "reason", reason)
		return
	}

	r.state.Store(int32(StateShuttingDown))
	r.logger.Info("Shutting down", "reason", reason)
	if r.metrics != nil {
		r.metrics.RecordShutdown(r.name, reason)
	}
	r.cancel()

	r.runCleanups(ctx)
	r.registry.Cleanup()

	r.state.Store(int32(StateStopped))
	r.logger.Info("Shutdown complete", "reason", reason, "exit", opts.ExitProcess, "code", opts.ExitCode)

	// exit must run before Done closes
	if opts.ExitProcess {
		r.exit(opts.ExitCode)
	}
	close(r.done)
}

func (r *Runtime) runCleanups(ctx context.Context) {
	r.mu.Lock()
	tasks := r.cleanups
	r.cleanups = nil
	r.mu.Unlock()

	for i := len(tasks) - 1; i >= 0; i-- {
		task := tasks[i]
		if err := runCleanup(ctx, task); err != nil {
			r.logger.Warn("Cleanup task failed", "task", task.name, "error", err)
			r.tracker.MarkDegraded(task.name, fmt.Sprintf("Cleanup failed: %v", err),
				readiness.Details{"stopped": false})
			if r.metrics != nil {
				r.metrics.RecordCleanupFailure(r.name, task.name)
			}
			continue
		}
		r.logger.Debug("Cleanup task completed", "task", task.name)
	}
}

func runCleanup(ctx context.Context, task cleanupTask) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("cleanup %s panicked: %v", task.name, rec)
		}
	}()
	if task.fn == nil {
		return nil
	}
	return task.fn(ctx)
}

func (r *Runtime) installSignalHandlers() {
	graceful := func(event signals.Event, _ any) {
		r.Shutdown(context.Background(), string(event), ShutdownOptions{ExitProcess: true, ExitCode: 0})
	}
	r.registry.Add(signals.Terminate, graceful)
	r.registry.Add(signals.Interrupt, graceful)

	r.registry.Add(signals.AsyncFailure, func(_ signals.Event, payload any) {
		r.logger.Error("Unhandled asynchronous error", "error", payload)
	})

	r.registry.Add(signals.Fatal, func(_ signals.Event, payload any) {
		r.logger.Error("Fatal error, shutting down", "fatal", true, "error", payload)
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("Shutdown after fatal error failed", "panic", fmt.Sprint(rec))
				r.exit(1)
			}
		}()
		r.Shutdown(context.Background(), string(signals.Fatal), ShutdownOptions{ExitProcess: true, ExitCode: 1})
	})
}

// ReportAsyncError reports an error raised outside the control flow of any caller
func (r *Runtime) ReportAsyncError(err error) {
	if err == nil {
		return
	}
	if r.metrics != nil {
		r.metrics.RecordAsyncError(r.name, string(signals.AsyncFailure))
	}
	if r.registry.Emit(signals.AsyncFailure, err) == 0 {
		r.logger.Error("Unhandled asynchronous error", "error", err)
	}
}

// ReportFatal reports an unrecoverable fault
func (r *Runtime) ReportFatal(fault any) {
	if r.metrics != nil {
		r.metrics.RecordAsyncError(r.name, string(signals.Fatal))
	}
	if r.registry.Emit(signals.Fatal, fault) == 0 {
		r.logger.Error("Fatal error with no handler installed", "error", fault)
	}
}

// RecoverFatal reports a panic of the calling goroutine as fatal. Use it with defer.
func (r *Runtime) RecoverFatal() {
	if rec := recover(); rec != nil {
		r.ReportFatal(panicError(rec))
	}
}

// Go runs fn in a goroutine bound to the runtime context. A returned error is
// reported as asynchronous, a panic as fatal.
func (r *Runtime) Go(name string, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.ReportFatal(fmt.Errorf("%s: %w", name, panicError(rec)))
			}
		}()
		if err := fn(r.ctx); err != nil && !stderrors.Is(err, context.Canceled) {
			r.ReportAsyncError(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", rec)
}
