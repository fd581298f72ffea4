// Package main implements the Edulure background worker: scheduled jobs run on
// cron once the database and infrastructure are ready.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/orbas1/edulure/app"
	"github.com/orbas1/edulure/infra"
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
	a, err := app.Start(context.Background(), app.Process{
		Name: "worker",
		Jobs: workerJobs,
	}, os.Args[1:])
	if errors.Is(err, app.ErrExit) {
		return nil
	}
	if err != nil {
		return err
	}
	defer a.Runtime.RecoverFatal()

	a.Logger.Info("Worker running", "scheduler", a.Infra.SchedulerRunning())
	a.Wait()
	return nil
}

func workerJobs(a *app.App) []infra.Job {
	cfg := a.Config.Worker
	instance := a.Process.ServiceName()

	var jobs []infra.Job
	if cfg.SessionCleanup.Enabled {
		jobs = append(jobs, infra.Job{
			Name:     "session-cleanup",
			Schedule: cfg.SessionCleanup.Schedule,
			Timeout:  cfg.SessionCleanup.Timeout,
			Run: func(ctx context.Context) error {
				handle := a.Database()
				if handle == nil {
					return errDatabaseUnavailable
				}
				_, err := CleanupSessions(ctx, handle.DB(), a.Logger)
				return err
			},
		})
	}
	if cfg.Heartbeat.Enabled {
		jobs = append(jobs, infra.Job{
			Name:     "heartbeat",
			Schedule: cfg.Heartbeat.Schedule,
			Timeout:  cfg.Heartbeat.Timeout,
			Run: func(ctx context.Context) error {
				client, tracker := a.Infra.NATS(), a.Infra.Tracker()
				if client == nil || tracker == nil {
					return nil
				}
				return PublishHeartbeat(ctx, client, cfg.HeartbeatSubject, instance, tracker.Snapshot())
			},
		})
	}
	return jobs
}
