// Package main implements the Edulure realtime gateway: a websocket hub fed by
// NATS domain events.
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
	"github.com/orbas1/edulure/natsclient"
	"github.com/orbas1/edulure/realtime"
)

const (
	hubComponent = "realtime-hub"
	// InboundSubject receives messages sent by websocket clients
	InboundSubject = "edulure.realtime.inbound"
)

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
		Name:          "realtime",
		ReadinessKeys: []string{hubComponent},
	}, os.Args[1:])
	if errors.Is(err, app.ErrExit) {
		return nil
	}
	if err != nil {
		return err
	}
	defer a.Runtime.RecoverFatal()

	cfg := a.Config.Realtime
	tracker := a.Runtime.Readiness()
	nc := a.Infra.NATS()

	var inbound realtime.InboundFunc
	if nc != nil {
		inbound = func(ctx context.Context, clientID string, data []byte) error {
			return nc.Publish(ctx, InboundSubject+"."+clientID, data)
		}
	}
	hub := realtime.NewHub(realtime.Config{
		MessagesPerSecond: cfg.MessagesPerSecond,
		Burst:             cfg.Burst,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		WriteTimeout:      cfg.WriteTimeout,
	}, a.Logger, inbound)
	if err := hub.Instrument(a.Metrics, a.Process.ServiceName()); err != nil {
		a.Logger.Warn("Realtime metrics unavailable", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{
		Handler:  mux,
		ErrorLog: slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}

	tracker.MarkPending(hubComponent, "Binding realtime gateway", nil)
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		tracker.MarkFailed(hubComponent, "Realtime gateway failed to bind", err, nil)
		a.Shutdown("realtime-bind-failed")
		return fmt.Errorf("bind %s: %w", cfg.Addr, err)
	}
	wrapped := a.Runtime.RegisterHTTPServer("realtime-server", srv, ln)
	// Registered after the server so clients get a going-away frame before the drain
	a.Runtime.RegisterCleanup(hubComponent, hub.Close)

	if err := relayEvents(a.Runtime.Context(), nc, cfg.Subject, hub); err != nil {
		tracker.MarkFailed(hubComponent, "Failed to subscribe to events", err, nil)
		a.Shutdown("realtime-subscribe-failed")
		return err
	}
	if nc == nil {
		tracker.MarkDegraded(hubComponent, "Realtime gateway running without NATS", nil)
	} else {
		tracker.MarkReady(hubComponent, fmt.Sprintf("Relaying %s on %s", cfg.Subject, ln.Addr()), nil)
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := srv.Serve(wrapped); err != nil && !errors.Is(err, http.ErrServerClosed) {
			tracker.MarkFailed(hubComponent, "Realtime gateway stopped unexpectedly", err, nil)
			a.Shutdown("realtime-server-failed")
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

// relayEvents broadcasts every message on subject to the hub
func relayEvents(ctx context.Context, nc *natsclient.Client, subject string, hub *realtime.Hub) error {
	if nc == nil {
		return nil
	}
	_, err := nc.Subscribe(ctx, subject, func(_ context.Context, subj string, data []byte) {
		hub.Broadcast(subj, data)
	})
	return err
}
