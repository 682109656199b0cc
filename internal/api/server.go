// Package api provides the controller's HTTP surface: model management,
// generation (plain and SSE streaming), settings, downloads, health, and
// Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sengac/mindstrike-sub006/internal/catalog"
	"github.com/sengac/mindstrike-sub006/internal/domain"
	"github.com/sengac/mindstrike-sub006/internal/health"
	"github.com/sengac/mindstrike-sub006/internal/proxy"
	"github.com/sengac/mindstrike-sub006/internal/settings"
	"github.com/sengac/mindstrike-sub006/internal/store"
)

// Server is the controller HTTP API server.
type Server struct {
	worker         *proxy.Proxy
	settings       *settings.Service
	downloads      *catalog.Downloader
	health         *health.Checker
	db             *store.DB
	metricsEnabled bool
}

// NewServer creates a new API server. The database mirrors the scanned
// catalog and accumulates usage counters; persistence failures are logged,
// never surfaced to clients.
func NewServer(worker *proxy.Proxy, s *settings.Service, d *catalog.Downloader, h *health.Checker, db *store.DB) *Server {
	return &Server{worker: worker, settings: s, downloads: d, health: h, db: db}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": "0.1.0"})
	})

	r.Route("/api/models", func(r chi.Router) {
		r.Get("/", s.handleListModels)
		r.Post("/{model}/load", s.handleLoadModel)
		r.Post("/{model}/unload", s.handleUnloadModel)
		r.Delete("/{model}", s.handleDeleteModel)
		r.Get("/{model}/runtime", s.handleRuntimeInfo)
		r.Get("/{model}/settings", s.handleGetSettings)
		r.Put("/{model}/settings", s.handleSetSettings)
		r.Post("/{model}/optimal-settings", s.handleOptimalSettings)
	})

	r.Post("/api/generate", s.handleGenerate)
	r.Post("/api/generate/stream", s.handleGenerateStream)

	r.Post("/api/pull", s.handlePull)
	r.Get("/api/downloads/{filename}", s.handleDownloadProgress)
	r.Delete("/api/downloads/{filename}", s.handleCancelDownload)

	r.Post("/api/cache/context-size/clear", s.handleClearContextCache)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError maps a domain error onto an HTTP status and writes it.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    "error",
		},
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrModelNotLoaded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoUserMessage),
		errors.Is(err, domain.ErrInvalidOptions),
		errors.Is(err, domain.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrWorkerUnavailable),
		errors.Is(err, domain.ErrWorkerCrashed),
		errors.Is(err, domain.ErrResourceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
