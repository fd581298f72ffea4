package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbas1/edulure/config"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("EDULURE_SHUTDOWN_TIMEOUT", "10s")

	var out bytes.Buffer
	cli, err := ParseFlags("edulure-web", []string{"-config", "base.yaml", "-debug", "-probe-port", "9191"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "base.yaml", cli.ConfigPath)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, 9191, cli.ProbePort)
	assert.Equal(t, 10*time.Second, cli.ShutdownTimeout)
}

func TestParseFlags_Defaults(t *testing.T) {
	var out bytes.Buffer
	cli, err := ParseFlags("edulure-web", nil, &out)
	require.NoError(t, err)

	assert.Equal(t, -1, cli.ProbePort)
	assert.Empty(t, cli.LogLevel)
	assert.Equal(t, 30*time.Second, cli.ShutdownTimeout)
}

func TestStart_VersionAndHelp(t *testing.T) {
	var out bytes.Buffer
	_, err := Start(context.Background(), Process{Name: "web", Output: &out}, []string{"-version"})
	assert.ErrorIs(t, err, ErrExit)
	assert.Contains(t, out.String(), "edulure-web "+Version)

	out.Reset()
	_, err = Start(context.Background(), Process{Name: "web", Output: &out}, []string{"-h"})
	assert.ErrorIs(t, err, ErrExit)
	assert.Contains(t, out.String(), "Edulure runtime process")
}

func TestStart_ValidateOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  url: postgres://u:p@localhost/edulure\n"), 0o600))

	var out bytes.Buffer
	_, err := Start(context.Background(), Process{Name: "worker", Output: &out},
		[]string{"-config", path, "-validate", "-log-format", "json"})
	require.ErrorIs(t, err, ErrExit)
	assert.Contains(t, out.String(), "Configuration is valid")
	assert.NotContains(t, out.String(), "u:p@")
}

func TestStart_MissingConfigFile(t *testing.T) {
	var out bytes.Buffer
	_, err := Start(context.Background(), Process{Name: "web", Output: &out},
		[]string{"-config", "does-not-exist.yaml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestStart_InvalidFlagOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  url: postgres://localhost/edulure\n"), 0o600))

	var out bytes.Buffer
	_, err := Start(context.Background(), Process{Name: "web", Output: &out},
		[]string{"-config", path, "-log-format", "xml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger(&buf, "warn", "json", "edulure-web")

	logger.Info("hidden")
	logger.Warn("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "visible", record["msg"])
	assert.Equal(t, "edulure-web", record["service"])
	assert.Equal(t, Version, record["version"])
	assert.Len(t, record["instance_id"], 36)
}

func TestSetupLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	SetupLogger(&buf, "debug", "text", "edulure-worker").Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "service=edulure-worker")
}

func TestLiveness(t *testing.T) {
	fields, err := Liveness(0)(context.Background())
	require.NoError(t, err)
	assert.Contains(t, fields, "rssBytes")
	assert.Contains(t, fields, "goroutines")

	_, err = Liveness(1)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestConfigMapping(t *testing.T) {
	cfg := config.Defaults()
	cfg.Database.URL = "postgres://localhost/edulure"
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.Redis.URL = "redis://localhost:6379/0"
	cfg.Retry.Attempts = 7

	db := DatabaseConfig(cfg)
	assert.Equal(t, cfg.Database.URL, db.DSN)
	assert.Equal(t, 7, db.Attempts)
	assert.Equal(t, cfg.Database.MigrationsTable, db.MigrationsTable)

	ic := InfraConfig(cfg, "edulure-web")
	assert.Equal(t, "nats://localhost:4222", ic.NATS.URL)
	assert.Equal(t, "edulure-web", ic.NATS.Name)
	assert.Equal(t, "redis://localhost:6379/0", ic.Redis.URL)
	assert.Equal(t, 7, ic.Attempts)
}
