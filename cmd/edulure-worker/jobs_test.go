package main

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbas1/edulure/errors"
	"github.com/orbas1/edulure/readiness"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCleanupSessions(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("DELETE FROM user_sessions").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO job_runs").
		WithArgs("session-cleanup", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	deleted, err := CleanupSessions(context.Background(), db, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupSessions_RecordsFailure(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("DELETE FROM user_sessions").
		WillReturnError(stderrors.New("relation does not exist"))
	mock.ExpectExec("INSERT INTO job_runs").
		WithArgs("session-cleanup", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	_, err := CleanupSessions(context.Background(), db, discardLogger())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Contains(t, err.Error(), "relation does not exist")
	assert.NoError(t, mock.ExpectationsWereMet())
}

type recordingPublisher struct {
	subject string
	payload any
	err     error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, subject string, v any) error {
	p.subject, p.payload = subject, v
	return p.err
}

func TestPublishHeartbeat(t *testing.T) {
	tracker := readiness.NewTracker("edulure-worker", []string{"database", "scheduler"})
	tracker.MarkReady("database", "Database connected", nil)
	tracker.MarkDegraded("scheduler", "Scheduler lagging", nil)

	pub := &recordingPublisher{}
	err := PublishHeartbeat(context.Background(), pub, "edulure.worker.heartbeat", "edulure-worker", tracker.Snapshot())
	require.NoError(t, err)

	assert.Equal(t, "edulure.worker.heartbeat", pub.subject)
	hb, ok := pub.payload.(Heartbeat)
	require.True(t, ok)
	assert.Equal(t, "edulure-worker", hb.Service)
	assert.True(t, hb.Ready)
	assert.Equal(t, readiness.StatusReady, hb.Health["database"])
	assert.Equal(t, readiness.StatusDegraded, hb.Health["scheduler"])
	assert.False(t, hb.At.IsZero())
}

func TestPublishHeartbeat_Error(t *testing.T) {
	pub := &recordingPublisher{err: stderrors.New("not connected")}
	err := PublishHeartbeat(context.Background(), pub, "hb", "edulure-worker", readiness.Snapshot{})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
