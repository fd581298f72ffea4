// Package main implements the Edulure web process: the public HTTP API served
// behind the readiness gate and drained on shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/orbas1/edulure/app"
)

const httpComponent = "http-server"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	a, err := app.Start(ctx, app.Process{
		Name:          "web",
		ReadinessKeys: []string{httpComponent},
	}, os.Args[1:])
	if errors.Is(err, app.ErrExit) {
		return nil
	}
	if err != nil {
		return err
	}
	defer a.Runtime.RecoverFatal()

	cfg := a.Config.HTTP
	tracker := a.Runtime.Readiness()

	srv := &http.Server{
		Handler:      newRouter(a.Runtime.Readiness(), a.Infra, a.Logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}

	tracker.MarkPending(httpComponent, "Binding HTTP server", nil)
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		tracker.MarkFailed(httpComponent, "HTTP server failed to bind", err, nil)
		a.Shutdown("http-bind-failed")
		return fmt.Errorf("bind %s: %w", cfg.Addr, err)
	}
	wrapped := a.Runtime.RegisterHTTPServer(httpComponent, srv, ln)
	tracker.MarkReady(httpComponent, fmt.Sprintf("HTTP server listening on %s", ln.Addr()), nil)
	a.Logger.Info("HTTP server listening", "address", ln.Addr().String())

	var g errgroup.Group
	g.Go(func() error {
		if err := srv.Serve(wrapped); err != nil && !errors.Is(err, http.ErrServerClosed) {
			tracker.MarkFailed(httpComponent, "HTTP server stopped unexpectedly", err, nil)
			a.Shutdown("http-server-failed")
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.Wait()
		return nil
	})
	return g.Wait()
}
