// Package probe serves the liveness and readiness endpoints polled by process supervisors.
package probe

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/orbas1/edulure/errors"
	"github.com/orbas1/edulure/pkg/clock"
	"github.com/orbas1/edulure/readiness"
)

// DefaultLivenessTimeout bounds a single liveness check
const DefaultLivenessTimeout = 2 * time.Second

// LivenessFunc reports whether the process is alive.
// The returned fields are merged into the /live response.
type LivenessFunc func(ctx context.Context) (map[string]any, error)

// SnapshotSource provides the readiness snapshot served on /ready
type SnapshotSource interface {
	Snapshot() readiness.Snapshot
}

// AlwaysAlive is the default liveness check
func AlwaysAlive(context.Context) (map[string]any, error) {
	return nil, nil
}

// Option configures a Server
type Option func(*Server)

// WithLiveness replaces the default always-alive check
func WithLiveness(fn LivenessFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.liveness = fn
		}
	}
}

// WithLivenessTimeout bounds each liveness check. Non-positive values are ignored.
func WithLivenessTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.livenessTimeout = d
		}
	}
}

// WithMetrics mounts a Prometheus handler at /metrics
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithLogger sets the server logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for checkedAt
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// Server is the probe HTTP surface of a runtime process
type Server struct {
	service         string
	readiness       SnapshotSource
	liveness        LivenessFunc
	livenessTimeout time.Duration
	metrics         http.Handler
	logger          *slog.Logger
	clock           clock.Clock
	router          *mux.Router

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	serveErr chan error
}

// NewServer builds the probe routes. Nothing is bound until Start.
func NewServer(service string, source SnapshotSource, opts ...Option) *Server {
	s := &Server{
		service:         service,
		readiness:       source,
		liveness:        AlwaysAlive,
		livenessTimeout: DefaultLivenessTimeout,
		logger:          slog.Default(),
		clock:           clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "probe-server")

	s.router = mux.NewRouter()
	s.router.HandleFunc("/live", s.handleLive).Methods(http.MethodGet, http.MethodHead)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return s
}

// Handler returns the probe router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds addr and serves in the background. Bind errors are returned.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "ProbeServer", "Start", "start probe server")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.WrapFatal(err, "ProbeServer", "Start", "bind "+addr)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.serveErr = make(chan error, 1)

	server, errCh := s.server, s.serveErr
	go func() {
		defer close(errCh)
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Probe server error", "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("Probe server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down. Calling it on a server that is not running is a no-op.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	server, errCh := s.server, s.serveErr
	s.server, s.listener, s.serveErr = nil, nil, nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	if err := server.Shutdown(ctx); err != nil {
		_ = server.Close()
		return errors.WrapTransient(err, "ProbeServer", "Close", "graceful shutdown")
	}
	<-errCh
	s.logger.Info("Probe server stopped")
	return nil
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.livenessTimeout)
	defer cancel()

	extra, err := s.liveness(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"service": s.service,
			"alive":   false,
			"status":  "down",
			"error":   err.Error(),
		})
		return
	}

	body := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		body[k] = v
	}
	body["service"] = s.service
	body["alive"] = true
	body["status"] = "alive"
	body["checkedAt"] = s.clock.Now().UTC()
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.readiness.Snapshot()

	body := map[string]any{
		"service":    s.service,
		"ready":      snapshot.Ready,
		"checkedAt":  s.clock.Now().UTC(),
		"components": snapshot.Components,
	}
	if snapshot.Ready {
		body["status"] = "ready"
		writeJSON(w, http.StatusOK, body)
		return
	}
	body["status"] = "not_ready"
	writeJSON(w, http.StatusServiceUnavailable, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
