// Package signals centralizes subscription to process-level termination and
// fault events so every handler can be removed in one call on shutdown.
package signals

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Event names a process-level signal or fault
type Event string

// Process events
const (
	Terminate    Event = "terminate"
	Interrupt    Event = "interrupt"
	AsyncFailure Event = "async-failure"
	Fatal        Event = "fatal"
)

// Handler is invoked with the event and its payload (an os.Signal, error or recovered value)
type Handler func(event Event, payload any)

// Token identifies a subscription for removal
type Token uint64

// Source delivers OS signals. The default implementation wraps os/signal.
type Source interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osSource struct{}

func (osSource) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }

func (osSource) Stop(c chan<- os.Signal) { signal.Stop(c) }

// OSSource returns the Source backed by os/signal
func OSSource() Source {
	return osSource{}
}

// AddOption configures a subscription
type AddOption func(*subscription)

// Once removes the subscription after its first delivery
func Once() AddOption {
	return func(s *subscription) {
		s.once = true
	}
}

type subscription struct {
	token   Token
	event   Event
	handler Handler
	once    bool
}

// Option configures a Registry
type Option func(*Registry)

// WithSource replaces the OS signal source
func WithSource(src Source) Option {
	return func(r *Registry) {
		if src != nil {
			r.source = src
		}
	}
}

// WithLogger sets the logger used to report handler panics
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Registry tracks every subscription it hands out
type Registry struct {
	source Source
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*subscription
	nextID Token

	// Handlers may call Cleanup from the relay goroutine, so Cleanup never waits for it.
	relayCh   chan os.Signal
	relayStop chan struct{}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		source: OSSource(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "signals")
	return r
}

// Add subscribes handler to event. Multiple handlers per event are allowed and all fire.
func (r *Registry) Add(event Event, handler Handler, opts ...AddOption) Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &subscription{token: r.nextID, event: event, handler: handler}
	for _, opt := range opts {
		opt(sub)
	}
	r.subs = append(r.subs, sub)

	if (event == Terminate || event == Interrupt) && r.relayCh == nil {
		r.startRelayLocked()
	}
	return sub.token
}

// Remove unsubscribes a single handler. Unknown tokens are ignored.
func (r *Registry) Remove(token Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub.token == token {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of tracked subscriptions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Emit delivers event to every subscribed handler and returns how many ran.
// Handler panics are logged and do not stop delivery to the others.
func (r *Registry) Emit(event Event, payload any) int {
	r.mu.Lock()
	var targets []*subscription
	kept := r.subs[:0]
	for _, sub := range r.subs {
		if sub.event == event {
			targets = append(targets, sub)
			if sub.once {
				continue
			}
		}
		kept = append(kept, sub)
	}
	for i := len(kept); i < len(r.subs); i++ {
		r.subs[i] = nil
	}
	r.subs = kept
	r.mu.Unlock()

	for _, sub := range targets {
		r.dispatch(sub, payload)
	}
	return len(targets)
}

func (r *Registry) dispatch(sub *subscription, payload any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Signal handler panicked", "event", string(sub.event), "panic", fmt.Sprint(rec))
		}
	}()
	sub.handler(sub.event, payload)
}

// Cleanup removes every subscription and stops OS signal delivery.
// It is safe to call repeatedly.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	r.subs = nil
	ch, stop := r.relayCh, r.relayStop
	r.relayCh, r.relayStop = nil, nil
	r.mu.Unlock()

	if ch == nil {
		return
	}
	r.source.Stop(ch)
	close(stop)
}

func (r *Registry) startRelayLocked() {
	ch := make(chan os.Signal, 1)
	stop := make(chan struct{})
	r.relayCh, r.relayStop = ch, stop

	r.source.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for {
			select {
			case <-stop:
				return
			case sig := <-ch:
				r.logger.Info("Received signal", "signal", sig.String())
				r.Emit(eventFor(sig), sig)
			}
		}
	}()
}

func eventFor(sig os.Signal) Event {
	if sig == syscall.SIGINT || sig == os.Interrupt {
		return Interrupt
	}
	return Terminate
}
