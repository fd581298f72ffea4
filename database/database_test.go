package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbas1/edulure/pkg/clock"
	"github.com/orbas1/edulure/readiness"
)

func testConfig() Config {
	return Config{
		DSN:          "postgres://edulure@localhost/edulure?sslmode=disable",
		MaxOpenConns: 4,
		Attempts:     3,
		Delay:        50 * time.Millisecond,
	}
}

func fakeClock() *clock.Fake {
	return clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func mockOpener(t *testing.T) (OpenFunc, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return func(context.Context, string) (*sqlx.DB, error) {
		return sqlx.NewDb(db, "postgres"), nil
	}, mock
}

func TestConnect_Success(t *testing.T) {
	opener, mock := mockOpener(t)
	mock.ExpectPing()

	tracker := readiness.NewTracker("edulure-web", []string{Component})
	handle, err := Connect(context.Background(), testConfig(),
		WithOpener(opener), WithTracker(tracker), WithClock(fakeClock()))
	require.NoError(t, err)
	require.NotNil(t, handle.DB())

	state, _ := tracker.Component(Component)
	assert.Equal(t, readiness.StatusReady, state.Status)
	assert.Equal(t, "Database connection established", state.Message)
	_, hasVersion := state.Details["schemaVersion"]
	assert.False(t, hasVersion)

	mock.ExpectClose()
	require.NoError(t, handle.Close())
	require.NoError(t, handle.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	state, _ = tracker.Component(Component)
	assert.Equal(t, readiness.StatusDegraded, state.Status)
}

func TestConnect_RetriesFailedPing(t *testing.T) {
	fake := fakeClock()
	tracker := readiness.NewTracker("edulure-web", nil)

	var mocks []sqlmock.Sqlmock
	calls := 0
	opener := func(context.Context, string) (*sqlx.DB, error) {
		calls++
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		if calls < 3 {
			mock.ExpectPing().WillReturnError(errors.New("connection refused"))
			mock.ExpectClose()
		} else {
			mock.ExpectPing()
		}
		mocks = append(mocks, mock)
		return sqlx.NewDb(db, "postgres"), nil
	}

	var retries []string
	tracker.OnChange(func(s readiness.Snapshot) {
		c, _ := s.Component(Component)
		if c.Status == readiness.StatusPending {
			retries = append(retries, c.Message)
		}
	})

	handle, err := Connect(context.Background(), testConfig(),
		WithOpener(opener), WithTracker(tracker), WithClock(fake))
	require.NoError(t, err)
	require.NotNil(t, handle)

	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{
		"Connecting to database",
		"Retrying database (1/3)",
		"Retrying database (2/3)",
	}, retries)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, fake.Waits())
	for _, m := range mocks {
		assert.NoError(t, m.ExpectationsWereMet())
	}
}

func TestConnect_ExhaustedRetries(t *testing.T) {
	tracker := readiness.NewTracker("edulure-web", nil)
	cause := errors.New("no route to host")

	_, err := Connect(context.Background(), testConfig(),
		WithOpener(func(context.Context, string) (*sqlx.DB, error) { return nil, cause }),
		WithTracker(tracker), WithClock(fakeClock()))
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)

	state, _ := tracker.Component(Component)
	assert.Equal(t, readiness.StatusFailed, state.Status)
	assert.False(t, tracker.Snapshot().Ready)
}

func TestConnect_InvalidConfig(t *testing.T) {
	tracker := readiness.NewTracker("edulure-web", nil)
	_, err := Connect(context.Background(), Config{}, WithTracker(tracker))
	require.Error(t, err)

	state, _ := tracker.Component(Component)
	assert.Equal(t, readiness.StatusFailed, state.Status)
}

func TestConnect_RunsMigrator(t *testing.T) {
	opener, mock := mockOpener(t)
	mock.ExpectPing()

	tracker := readiness.NewTracker("edulure-migrate", nil)
	var table string
	handle, err := Connect(context.Background(), testConfig(),
		WithOpener(opener),
		WithTracker(tracker),
		WithClock(fakeClock()),
		WithMigrations(true),
		WithMigrator(func(_ context.Context, _ *sqlx.DB, tbl string) (uint, error) {
			table = tbl
			return 2, nil
		}))
	require.NoError(t, err)
	mock.ExpectClose()
	defer handle.Close()

	assert.Equal(t, "", table)
	state, _ := tracker.Component(Component)
	assert.Equal(t, uint(2), state.Details["schemaVersion"])
}

func TestConnect_MigrationFailureClosesPool(t *testing.T) {
	opener, mock := mockOpener(t)
	mock.ExpectPing()
	mock.ExpectClose()

	tracker := readiness.NewTracker("edulure-migrate", nil)
	cause := errors.New("syntax error at line 3")
	_, err := Connect(context.Background(), testConfig(),
		WithOpener(opener),
		WithTracker(tracker),
		WithClock(fakeClock()),
		WithMigrations(true),
		WithMigrator(func(context.Context, *sqlx.DB, string) (uint, error) { return 0, cause }))
	assert.Same(t, cause, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	state, _ := tracker.Component(Component)
	assert.Equal(t, readiness.StatusFailed, state.Status)
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{DSN: "x", MaxOpenConns: -1}.Validate())
	assert.NoError(t, testConfig().Validate())
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
