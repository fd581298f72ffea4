package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbas1/edulure/metric"
	"github.com/orbas1/edulure/readiness"
)

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestLive_Default(t *testing.T) {
	tracker := readiness.NewTracker("edulure-web", nil)
	server := NewServer("edulure-web", tracker)

	code, body := get(t, server.Handler(), "/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "edulure-web", body["service"])
	assert.Equal(t, true, body["alive"])
	assert.Equal(t, "alive", body["status"])
	assert.Contains(t, body, "checkedAt")
}

func TestLive_ExtraFields(t *testing.T) {
	tracker := readiness.NewTracker("edulure-worker", nil)
	server := NewServer("edulure-worker", tracker, WithLiveness(func(context.Context) (map[string]any, error) {
		return map[string]any{"rssBytes": 1024, "status": "ignored"}, nil
	}))

	code, body := get(t, server.Handler(), "/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1024), body["rssBytes"])
	assert.Equal(t, "alive", body["status"])
}

func TestLive_Failure(t *testing.T) {
	tracker := readiness.NewTracker("edulure-web", nil)
	server := NewServer("edulure-web", tracker, WithLiveness(func(context.Context) (map[string]any, error) {
		return nil, errors.New("event loop stalled")
	}))

	code, body := get(t, server.Handler(), "/live")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["alive"])
	assert.Equal(t, "down", body["status"])
	assert.Equal(t, "event loop stalled", body["error"])
}

func TestLive_CheckIsBounded(t *testing.T) {
	tracker := readiness.NewTracker("edulure-web", nil)
	server := NewServer("edulure-web", tracker,
		WithLivenessTimeout(20*time.Millisecond),
		WithLiveness(func(ctx context.Context) (map[string]any, error) {
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			<-ctx.Done()
			return nil, ctx.Err()
		}))

	start := time.Now()
	code, body := get(t, server.Handler(), "/live")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["alive"])
	assert.Equal(t, context.DeadlineExceeded.Error(), body["error"])
}

func TestReady_Transitions(t *testing.T) {
	tracker := readiness.NewTracker("edulure-web", []string{"database"})
	server := NewServer("edulure-web", tracker)

	code, body := get(t, server.Handler(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, "not_ready", body["status"])

	tracker.MarkReady("database", "connected", nil)
	code, body = get(t, server.Handler(), "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "ready", body["status"])

	components := body["components"].([]any)
	require.Len(t, components, 1)
	assert.Equal(t, "database", components[0].(map[string]any)["name"])

	tracker.MarkMaintenance("database", "upgrade", nil)
	code, _ = get(t, server.Handler(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestMetricsEndpoint(t *testing.T) {
	tracker := readiness.NewTracker("edulure-web", nil)

	withMetrics := NewServer("edulure-web", tracker, WithMetrics(metric.NewMetricsRegistry().Handler()))
	code, _ := get(t, withMetrics.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, code)

	without := NewServer("edulure-web", tracker)
	code, _ = get(t, without.Handler(), "/metrics")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_StartAndClose(t *testing.T) {
	tracker := readiness.NewTracker("edulure-web", nil)
	server := NewServer("edulure-web", tracker)

	require.NoError(t, server.Start(context.Background(), "127.0.0.1:0"))
	addr := server.Addr()
	require.NotEmpty(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/live", addr))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Error(t, server.Start(context.Background(), "127.0.0.1:0"), "second start should fail")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Close(ctx))
	require.NoError(t, server.Close(ctx))
	assert.Empty(t, server.Addr())
}

func TestServer_BindError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	server := NewServer("edulure-web", readiness.NewTracker("edulure-web", nil))
	err = server.Start(context.Background(), occupied.Addr().String())
	require.Error(t, err)
	assert.Empty(t, server.Addr())
}
