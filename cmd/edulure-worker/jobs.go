package main

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/orbas1/edulure/errors"
	"github.com/orbas1/edulure/readiness"
)

// RevokedRetention is how long revoked sessions are kept before cleanup
const RevokedRetention = 30 * 24 * time.Hour

var errDatabaseUnavailable = stderrors.New("database not connected")

const deleteExpiredSessions = `
DELETE FROM user_sessions
WHERE expires_at < $1
   OR (revoked_at IS NOT NULL AND revoked_at < $2)`

const insertJobRun = `
INSERT INTO job_runs (job, started_at, finished_at, affected, error)
VALUES (:job, :started_at, :finished_at, :affected, :error)`

// jobRun is one row of job_runs
type jobRun struct {
	Job        string    `db:"job"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
	Affected   int64     `db:"affected"`
	Error      *string   `db:"error"`
}

// CleanupSessions deletes expired sessions and sessions revoked longer ago
// than RevokedRetention, then records the run in job_runs.
func CleanupSessions(ctx context.Context, db *sqlx.DB, logger *slog.Logger) (int64, error) {
	started := time.Now().UTC()

	var affected int64
	res, err := db.ExecContext(ctx, deleteExpiredSessions, started, started.Add(-RevokedRetention))
	if err == nil {
		affected, err = res.RowsAffected()
	}

	run := jobRun{
		Job:        "session-cleanup",
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Affected:   affected,
	}
	if err != nil {
		msg := err.Error()
		run.Error = &msg
	}
	if _, recErr := db.NamedExecContext(ctx, insertJobRun, run); recErr != nil {
		logger.Warn("Failed to record job run", "job", run.Job, "error", recErr)
	}

	if err != nil {
		return 0, errors.WrapTransient(err, "worker", "CleanupSessions", "delete expired sessions")
	}
	logger.Info("Session cleanup complete", "deleted", affected)
	return affected, nil
}

// Heartbeat is published by the worker on every heartbeat tick
type Heartbeat struct {
	Service string                      `json:"service"`
	Ready   bool                        `json:"ready"`
	Health  map[string]readiness.Status `json:"health"`
	At      time.Time                   `json:"at"`
}

// publisher is satisfied by natsclient.Client
type publisher interface {
	PublishJSON(ctx context.Context, subject string, v any) error
}

// PublishHeartbeat publishes the readiness summary of the worker
func PublishHeartbeat(ctx context.Context, pub publisher, subject, service string, snapshot readiness.Snapshot) error {
	hb := Heartbeat{
		Service: service,
		Ready:   snapshot.Ready,
		Health:  make(map[string]readiness.Status, len(snapshot.Components)),
		At:      time.Now().UTC(),
	}
	for _, c := range snapshot.Components {
		hb.Health[c.Name] = c.Status
	}
	if err := pub.PublishJSON(ctx, subject, hb); err != nil {
		return errors.WrapTransient(err, "worker", "PublishHeartbeat", "publish "+subject)
	}
	return nil
}
