// Package bootstrap starts the infrastructure a runtime process depends on,
// in a fixed order, and unwinds it in reverse when a later start fails or
// when the process shuts down.
package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orbas1/edulure/metric"
	"github.com/orbas1/edulure/pkg/clock"
	"github.com/orbas1/edulure/pkg/retry"
	"github.com/orbas1/edulure/readiness"
)

// StartFunc starts a component and describes the result
type StartFunc func(ctx context.Context) (readiness.Outcome, error)

// Descriptor declares one infrastructure component
type Descriptor struct {
	Name  string
	Start StartFunc
	// Stop releases the component. An Outcome carrying its own Stop takes precedence.
	Stop         readiness.StopFunc
	ReadyMessage string
	// Attempts and Delay override the retry defaults for this component.
	Attempts int
	Delay    time.Duration
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithTracker reports component states to tracker
func WithTracker(tracker *readiness.Tracker) Option {
	return func(o *Orchestrator) {
		o.tracker = tracker
	}
}

// WithLogger sets the orchestrator logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records start attempts and durations
func WithMetrics(m *metric.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock sets the clock used for retry backoff
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// Orchestrator starts an ordered set of descriptors
type Orchestrator struct {
	descriptors []Descriptor
	byName      map[string]Descriptor
	tracker     *readiness.Tracker
	logger      *slog.Logger
	metrics     *metric.Metrics
	clock       clock.Clock
}

// New creates an orchestrator. The order of descriptors is the default start order.
func New(descriptors []Descriptor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		descriptors: descriptors,
		byName:      make(map[string]Descriptor, len(descriptors)),
		logger:      slog.Default(),
		clock:       clock.Real(),
	}
	for _, d := range descriptors {
		o.byName[d.Name] = d
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracker == nil {
		o.tracker = readiness.NewTracker("bootstrap", nil, readiness.WithClock(o.clock))
	}
	o.logger = o.logger.With("component", "bootstrap")
	return o
}

// Names returns the default start order
func (o *Orchestrator) Names() []string {
	names := make([]string, 0, len(o.descriptors))
	for _, d := range o.descriptors {
		names = append(names, d.Name)
	}
	return names
}

// Start brings up the named components in the given order, or every descriptor
// when names is nil. Unknown names are skipped. When a component exhausts its
// retries, everything started before it is stopped in reverse order and the
// component's error is returned unchanged.
func (o *Orchestrator) Start(ctx context.Context, names []string) (*Handle, error) {
	if names == nil {
		names = o.Names()
	}

	handle := &Handle{tracker: o.tracker, logger: o.logger, metrics: o.metrics}

	for _, name := range names {
		d, ok := o.byName[name]
		if !ok {
			o.logger.Debug("Skipping unknown infrastructure component", "name", name)
			continue
		}

		outcome, err := o.startOne(ctx, d)
		if err != nil {
			o.tracker.MarkFailed(d.Name, err.Error(), err, nil)
			o.logger.Error("Infrastructure component failed to start, rolling back",
				"name", d.Name,
				"started", handle.Started(),
				"error", err)
			handle.unwind(ctx, "Stopped after rollback")
			return nil, err
		}

		o.tracker.Apply(d.Name, outcome, d.ReadyMessage)

		stop := outcome.Stop
		if stop == nil && outcome.Kind != readiness.KindDisabled {
			stop = d.Stop
		}
		handle.push(record{name: d.Name, stop: stop, status: outcome.Kind})
		o.logger.Info("Infrastructure component started", "name", d.Name, "outcome", outcome.Kind.String())
	}

	return handle, nil
}

func (o *Orchestrator) startOne(ctx context.Context, d Descriptor) (readiness.Outcome, error) {
	o.tracker.MarkPending(d.Name, fmt.Sprintf("Starting %s", d.Name), nil)
	began := o.clock.Now()

	outcome, err := retry.Execute(ctx, d.Name, func(ctx context.Context, _, _ int) (readiness.Outcome, error) {
		out, err := callStart(ctx, d.Start)
		if err == nil && out.IsFailure() {
			err = out.Err
			if err == nil {
				err = stderrors.New(out.Message)
			}
		}
		if o.metrics != nil {
			o.metrics.RecordStartAttempt(d.Name, err == nil)
		}
		return out, err
	}, retry.Options{
		Attempts: d.Attempts,
		Delay:    d.Delay,
		Clock:    o.clock,
		Logger:   o.logger,
		Progress: func(component, message string) {
			o.tracker.MarkPending(component, message, nil)
		},
	})

	if o.metrics != nil {
		o.metrics.RecordStartDuration(d.Name, o.clock.Now().Sub(began))
	}
	return outcome, err
}

func callStart(ctx context.Context, start StartFunc) (out readiness.Outcome, err error) {
	if start == nil {
		return readiness.Outcome{}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start panicked: %v", r)
		}
	}()
	return start(ctx)
}

type record struct {
	name   string
	stop   readiness.StopFunc
	status readiness.Kind
}

// Handle stops the components started by one Start call
type Handle struct {
	tracker *readiness.Tracker
	logger  *slog.Logger
	metrics *metric.Metrics

	mu      sync.Mutex
	records []record
}

func (h *Handle) push(r record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
}

// Started returns the names still held by the handle, in start order
func (h *Handle) Started() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.records))
	for _, r := range h.records {
		names = append(names, r.name)
	}
	return names
}

// Stop releases every started component in reverse start order.
// Stop failures are logged and the component is marked degraded.
// Calling Stop again, or concurrently, is a no-op.
func (h *Handle) Stop(ctx context.Context) {
	h.unwind(ctx, "Stopped")
}

func (h *Handle) unwind(ctx context.Context, message string) {
	h.mu.Lock()
	records := h.records
	h.records = nil
	h.mu.Unlock()

	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if err := callStop(ctx, r.stop); err != nil {
			h.logger.Warn("Failed to stop infrastructure component",
				"name", r.name,
				"outcome", r.status.String(),
				"error", err)
			if h.metrics != nil {
				h.metrics.RecordCleanupFailure(h.tracker.Service(), r.name)
			}
			h.tracker.MarkDegraded(r.name, fmt.Sprintf("Stop failed: %v", err), readiness.Details{"stopped": false})
			continue
		}
		h.tracker.MarkDegraded(r.name, message, readiness.Details{"stopped": true})
	}
}

func callStop(ctx context.Context, stop readiness.StopFunc) (err error) {
	if stop == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stop panicked: %v", r)
		}
	}()
	return stop(ctx)
}
