//go:build integration

package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/orbas1/edulure/readiness"
)

func startPostgresContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "edulure",
			"POSTGRES_PASSWORD": "edulure",
			"POSTGRES_DB":       "edulure",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://edulure:edulure@%s:%s/edulure?sslmode=disable", host, port.Port())
}

func TestIntegration_ConnectAndMigrate(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgresContainer(ctx, t)

	tracker := readiness.NewTracker("edulure-migrate", []string{Component})
	handle, err := Connect(ctx, Config{DSN: dsn, Attempts: 5, Delay: 500 * time.Millisecond},
		WithTracker(tracker), WithMigrations(true))
	require.NoError(t, err)
	defer handle.Close()

	state, _ := tracker.Component(Component)
	assert.Equal(t, uint(2), state.Details["schemaVersion"])

	// Migrating again is a no-op and the pool stays usable
	version, err := Migrate(ctx, handle.DB(), "")
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	var count int
	require.NoError(t, handle.DB().GetContext(ctx, &count, "SELECT count(*) FROM user_sessions"))
	assert.Equal(t, 0, count)

	version, err = Rollback(ctx, handle.DB(), "")
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	require.NoError(t, handle.Ping(ctx))
}
