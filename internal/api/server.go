// Package api serves the worker's operational HTTP surface: liveness,
// Prometheus metrics, and a small JSON API for inspecting and feeding the
// generation queue.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbawebdesign/lailms-sub004/internal/store"
)

// QueueStore is what the ops endpoints read and write.
type QueueStore interface {
	Ping(ctx context.Context) error
	ListEntries(ctx context.Context, f store.EntryFilter) ([]store.Entry, error)
	QueueStats(ctx context.Context) (map[store.EntryStatus]int, error)
	Enqueue(ctx context.Context, jobID uuid.UUID, maxRetries *int) (*store.Entry, error)
}

// Server holds the dependencies for the HTTP layer.
type Server struct {
	store    QueueStore
	gatherer prometheus.Gatherer
	log      *slog.Logger
}

// NewServer creates a Server. gatherer backs /metrics; nil falls back to the
// default registry.
func NewServer(s QueueStore, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: s, gatherer: gatherer, log: log}
}

// Handler builds and returns the http.Handler.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestSize(64 << 10))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// ── Infrastructure endpoints ──────────────────────────────────────────────
	r.Get("/healthz", srv.healthzHandler)
	r.Handle("/metrics", promhttp.HandlerFor(srv.gatherer, promhttp.HandlerOpts{}))

	// ── API v1 sub-router with huma (OpenAPI 3.1) ────────────────────────────
	apiRouter := chi.NewRouter()
	humaConfig := huma.DefaultConfig("Course Generation Worker", "0.1.0")
	humaConfig.Info.Description = "Inspect and feed the course generation queue"
	api := humachi.New(apiRouter, humaConfig)
	registerQueueRoutes(api, srv.store)

	r.Mount("/api/v1", apiRouter)
	return r
}

// healthResponse is the JSON body for /healthz.
type healthResponse struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
}

// healthzHandler returns 200 {"status":"ok"} when the store is reachable,
// or 503 {"status":"degraded","db":"unavailable"} when it is not.
func (srv *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	statusCode := http.StatusOK

	if srv.store == nil {
		resp.Status = "degraded"
		resp.DB = "unavailable"
		statusCode = http.StatusServiceUnavailable
	} else if err := srv.store.Ping(r.Context()); err != nil {
		srv.log.WarnContext(r.Context(), "healthz: db ping failed", "error", err)
		resp.Status = "degraded"
		resp.DB = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		srv.log.ErrorContext(r.Context(), "healthz: failed to encode response", "error", err)
	}
}
