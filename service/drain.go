package service

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/orbas1/edulure/metric"
	"github.com/orbas1/edulure/pkg/clock"
)

// Drain timing
const (
	DrainDeadline     = 5 * time.Second
	DrainPollInterval = 100 * time.Millisecond
)

// DrainOption configures a Drainer
type DrainOption func(*Drainer)

// WithDrainClock sets the clock driving the poll interval and the deadline
func WithDrainClock(c clock.Clock) DrainOption {
	return func(d *Drainer) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithDrainLogger sets the drainer logger
func WithDrainLogger(logger *slog.Logger) DrainOption {
	return func(d *Drainer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDrainMetrics counts connections that had to be force-closed
func WithDrainMetrics(service string, m *metric.Metrics) DrainOption {
	return func(d *Drainer) {
		d.service = service
		d.metrics = m
	}
}

// Drainer tracks the connections of an http.Server so they can be ended with a
// bounded deadline on shutdown.
type Drainer struct {
	server  *http.Server
	clock   clock.Clock
	logger  *slog.Logger
	service string
	metrics *metric.Metrics

	mu       sync.Mutex
	conns    map[net.Conn]http.ConnState
	listener net.Listener
	draining bool
}

// NewDrainer installs a ConnState hook on server. An existing hook keeps running.
// A nil server tracks connections without an HTTP server.
func NewDrainer(server *http.Server, opts ...DrainOption) *Drainer {
	d := &Drainer{
		server: server,
		clock:  clock.Real(),
		logger: slog.Default(),
		conns:  make(map[net.Conn]http.ConnState),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "drain")

	if server != nil {
		previous := server.ConnState
		server.ConnState = func(c net.Conn, state http.ConnState) {
			d.Track(c, state)
			if previous != nil {
				previous(c, state)
			}
		}
	}
	return d
}

// Listener wraps ln so accepted connections are tracked from the moment they
// are accepted. Serve the HTTP server on the returned listener.
func (d *Drainer) Listener(ln net.Listener) net.Listener {
	d.mu.Lock()
	d.listener = ln
	d.mu.Unlock()
	return &drainListener{Listener: ln, d: d}
}

// Track records the state of a connection. Closed and hijacked connections are forgotten.
func (d *Drainer) Track(c net.Conn, state http.ConnState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch state {
	case http.StateClosed, http.StateHijacked:
		delete(d.conns, c)
	default:
		d.conns[c] = state
	}
}

// Open returns the number of tracked connections
func (d *Drainer) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// Drain stops accepting, ends every tracked connection and waits for them to
// close, polling every DrainPollInterval. Connections still open DrainDeadline
// after the call started are force-closed. Drain returns the number of
// connections it had to force-close.
func (d *Drainer) Drain(ctx context.Context) int {
	deadline := d.clock.Now().Add(DrainDeadline)

	d.mu.Lock()
	d.draining = true
	ln := d.listener
	d.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if d.server != nil {
		d.server.SetKeepAlivesEnabled(false)
	}

	d.endConnections()

	forced := 0
	for {
		open := d.Open()
		if open == 0 {
			break
		}
		if !d.clock.Now().Before(deadline) {
			forced = d.forceClose()
			break
		}
		select {
		case <-ctx.Done():
			forced = d.forceClose()
		case <-d.clock.After(DrainPollInterval):
			continue
		}
		break
	}

	if forced > 0 {
		d.logger.Warn("Force-closed connections after drain deadline", "count", forced, "deadline", DrainDeadline)
		if d.metrics != nil {
			d.metrics.RecordForcedCloses(d.service, forced)
		}
	}
	if d.server != nil {
		_ = d.server.Close()
	}
	d.logger.Info("Connections drained", "forced", forced)
	return forced
}

// endConnections closes idle connections and half-closes the read side of
// active ones so they finish their current response and then close.
func (d *Drainer) endConnections() {
	d.mu.Lock()
	var idle, active []net.Conn
	for c, state := range d.conns {
		if state == http.StateIdle || state == http.StateNew {
			idle = append(idle, c)
		} else {
			active = append(active, c)
		}
	}
	d.mu.Unlock()

	for _, c := range idle {
		_ = c.Close()
		d.Track(c, http.StateClosed)
	}
	for _, c := range active {
		if hc, ok := c.(interface{ CloseRead() error }); ok {
			_ = hc.CloseRead()
		}
	}
}

func (d *Drainer) forceClose() int {
	d.mu.Lock()
	conns := make([]net.Conn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.conns = make(map[net.Conn]http.ConnState)
	d.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}

type drainListener struct {
	net.Listener
	d *Drainer
}

func (l *drainListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		l.d.mu.Lock()
		draining := l.d.draining
		l.d.mu.Unlock()
		if draining {
			return nil, http.ErrServerClosed
		}
		return nil, err
	}

	tracked := &drainConn{Conn: c, d: l.d}
	l.d.Track(tracked, http.StateNew)
	return tracked, nil
}

type drainConn struct {
	net.Conn
	d    *Drainer
	once sync.Once
}

func (c *drainConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { c.d.Track(c, http.StateClosed) })
	return err
}

func (c *drainConn) CloseRead() error {
	if hc, ok := c.Conn.(interface{ CloseRead() error }); ok {
		return hc.CloseRead()
	}
	return nil
}

// RegisterHTTPServer tracks server connections and registers a cleanup that
// drains them. The returned listener must be passed to server.Serve.
func (r *Runtime) RegisterHTTPServer(name string, server *http.Server, ln net.Listener) net.Listener {
	d := NewDrainer(server,
		WithDrainClock(r.clock),
		WithDrainLogger(r.logger.With("server", name)),
		WithDrainMetrics(r.name, r.metrics))
	wrapped := d.Listener(ln)
	r.RegisterCleanup(name, func(ctx context.Context) error {
		d.Drain(ctx)
		return nil
	})
	return wrapped
}
