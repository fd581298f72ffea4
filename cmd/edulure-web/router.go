package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/orbas1/edulure/infra"
	"github.com/orbas1/edulure/readiness"
)

// snapshotter is the part of the readiness tracker the router needs
type snapshotter interface {
	Snapshot() readiness.Snapshot
}

type api struct {
	readiness snapshotter
	infra     *infra.Set
	logger    *slog.Logger
}

func newRouter(ready snapshotter, set *infra.Set, logger *slog.Logger) http.Handler {
	h := &api{readiness: ready, infra: set, logger: logger}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", h.health).Methods(http.MethodGet)

	gated := v1.NewRoute().Subrouter()
	gated.Use(h.readinessGate)
	gated.HandleFunc("/queries/{name}", h.persistedQuery).Methods(http.MethodGet)
	gated.HandleFunc("/cache/ping", h.cachePing).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	})
	return r
}

// readinessGate rejects requests while the process is not ready
func (h *api) readinessGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snapshot := h.readiness.Snapshot()
		if !snapshot.Ready {
			w.Header().Set("Retry-After", "5")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":   "service not ready",
				"service": snapshot.Service,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *api) health(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.readiness.Snapshot()
	status := "ok"
	if !snapshot.Ready {
		status = "starting"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"service": snapshot.Service,
		"ready":   snapshot.Ready,
	})
}

func (h *api) persistedQuery(w http.ResponseWriter, r *http.Request) {
	cache := h.infra.GraphQL()
	if cache == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "graphql cache disabled"})
		return
	}

	name := mux.Vars(r)["name"]
	doc, ok := cache.Persisted(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown persisted query", "name": name})
		return
	}

	operations := make([]string, 0, len(doc.Operations))
	for _, op := range doc.Operations {
		operations = append(operations, string(op.Operation)+" "+op.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "operations": operations})
}

func (h *api) cachePing(w http.ResponseWriter, r *http.Request) {
	client := h.infra.Redis()
	if client == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]any{"error": "redis disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	began := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		h.logger.Warn("Redis ping failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "redis unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"latencyMs": time.Since(began).Milliseconds()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
