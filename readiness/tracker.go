package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/orbas1/edulure/pkg/clock"
)

// Listener receives the full snapshot after every state change.
type Listener func(Snapshot)

// Option configures a Tracker
type Option func(*Tracker)

// WithLogger sets the logger used to report listener failures
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock sets the clock used to stamp UpdatedAt and snapshot timestamps
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

type listenerEntry struct {
	id int
	fn Listener
}

// Tracker holds the readiness state machine of every component of a service.
// Components are created lazily as pending on first reference and keep their
// registration order in snapshots.
type Tracker struct {
	service string
	logger  *slog.Logger
	clock   clock.Clock

	mu        sync.RWMutex
	order     []string
	states    map[string]ComponentState
	listeners []listenerEntry
	nextID    int
}

// NewTracker creates a tracker for service with the given components seeded as pending
func NewTracker(service string, components []string, opts ...Option) *Tracker {
	t := &Tracker{
		service: service,
		logger:  slog.Default(),
		clock:   clock.Real(),
		states:  make(map[string]ComponentState),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "readiness")

	now := t.clock.Now()
	for _, name := range components {
		if _, exists := t.states[name]; exists {
			continue
		}
		t.order = append(t.order, name)
		t.states[name] = ComponentState{
			Name:      name,
			Status:    StatusPending,
			Message:   "Waiting for initialisation",
			UpdatedAt: now,
		}
	}
	return t
}

// Service returns the service name the tracker reports for
func (t *Tracker) Service() string {
	return t.service
}

// MarkPending records that a component is starting or retrying
func (t *Tracker) MarkPending(name, message string, details Details) {
	t.set(name, StatusPending, message, details, nil)
}

// MarkReady records that a component is fully operational
func (t *Tracker) MarkReady(name, message string, details Details) {
	t.set(name, StatusReady, message, details, nil)
}

// MarkDegraded records that a component works with reduced capability
func (t *Tracker) MarkDegraded(name, message string, details Details) {
	t.set(name, StatusDegraded, message, details, nil)
}

// MarkMaintenance records that a component is deliberately out of service
func (t *Tracker) MarkMaintenance(name, message string, details Details) {
	t.set(name, StatusMaintenance, message, details, nil)
}

// MarkFailed records that a component could not start or has stopped working
func (t *Tracker) MarkFailed(name, message string, err error, details Details) {
	if message == "" && err != nil {
		message = err.Error()
	}
	t.set(name, StatusFailed, message, details, err)
}

func (t *Tracker) set(name string, status Status, message string, details Details, err error) {
	t.mu.Lock()
	if _, exists := t.states[name]; !exists {
		t.order = append(t.order, name)
	}
	t.states[name] = ComponentState{
		Name:      name,
		Status:    status,
		Ready:     status.IsReady(),
		Message:   message,
		Details:   details,
		Error:     newErrorInfo(err),
		UpdatedAt: t.clock.Now(),
	}
	snapshot := t.snapshotLocked()
	listeners := make([]listenerEntry, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()

	for _, l := range listeners {
		t.notify(l, snapshot)
	}
}

func (t *Tracker) notify(l listenerEntry, snapshot Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("Readiness listener failed", "listener", l.id, "error", fmt.Sprint(r))
		}
	}()
	l.fn(snapshot)
}

// Component returns the state of the named component, if it is tracked
func (t *Tracker) Component(name string) (ComponentState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state, exists := t.states[name]
	if !exists {
		return ComponentState{}, false
	}
	return state.clone(), true
}

// Snapshot returns the current aggregated readiness view
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	components := make([]ComponentState, 0, len(t.order))
	for _, name := range t.order {
		components = append(components, t.states[name].clone())
	}
	return Snapshot{
		Service:    t.service,
		Ready:      aggregateReady(components),
		Components: components,
		Timestamp:  t.clock.Now(),
	}
}

// OnChange registers a listener and returns a function that removes it.
// Calling the returned function more than once is safe.
func (t *Tracker) OnChange(listener Listener) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.listeners = append(t.listeners, listenerEntry{id: id, fn: listener})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, l := range t.listeners {
			if l.id == id {
				t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

// Apply records the state an Outcome describes.
// readyMessage is used when a ready outcome carries no message of its own.
func (t *Tracker) Apply(name string, outcome Outcome, readyMessage string) {
	switch outcome.Kind {
	case KindUnset, KindReady:
		message := outcome.Message
		if message == "" {
			message = readyMessage
		}
		if message == "" {
			message = fmt.Sprintf("%s ready", name)
		}
		t.MarkReady(name, message, outcome.Details)
	case KindDegraded:
		t.MarkDegraded(name, outcome.Message, outcome.Details)
	case KindDisabled:
		details := make(Details, len(outcome.Details)+1)
		for k, v := range outcome.Details {
			details[k] = v
		}
		details["disabled"] = true
		message := outcome.Message
		if message == "" {
			message = fmt.Sprintf("%s disabled", name)
		}
		t.MarkDegraded(name, message, details)
	case KindFailed:
		t.MarkFailed(name, outcome.Message, outcome.Err, outcome.Details)
	default:
		t.MarkFailed(name, fmt.Sprintf("unknown outcome kind %d", outcome.Kind), nil, outcome.Details)
	}
}

type componentOptions struct {
	pendingMessage string
	readyMessage   string
}

// ComponentOption configures WithComponent
type ComponentOption func(*componentOptions)

// WithPendingMessage sets the message recorded while the operation runs
func WithPendingMessage(message string) ComponentOption {
	return func(o *componentOptions) {
		o.pendingMessage = message
	}
}

// WithReadyMessage sets the message recorded when the operation reports no message
func WithReadyMessage(message string) ComponentOption {
	return func(o *componentOptions) {
		o.readyMessage = message
	}
}

// WithComponent marks name pending, runs op and records the result.
// A returned error marks the component failed and is returned unchanged.
// A panic marks the component failed and is re-raised.
func (t *Tracker) WithComponent(
	ctx context.Context,
	name string,
	op func(ctx context.Context) (Outcome, error),
	opts ...ComponentOption,
) (outcome Outcome, err error) {
	o := componentOptions{pendingMessage: fmt.Sprintf("Starting %s", name)}
	for _, opt := range opts {
		opt(&o)
	}

	t.MarkPending(name, o.pendingMessage, nil)

	defer func() {
		if r := recover(); r != nil {
			t.MarkFailed(name, fmt.Sprintf("%s panicked: %v", name, r), fmt.Errorf("panic: %v", r), nil)
			panic(r)
		}
	}()

	outcome, err = op(ctx)
	if err != nil {
		t.MarkFailed(name, err.Error(), err, nil)
		return outcome, err
	}

	t.Apply(name, outcome, o.readyMessage)
	return outcome, nil
}
