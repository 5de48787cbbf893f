// Package api provides the HTTP REST surface for the anonymization pipeline:
// starting runs, polling results, and streaming run events.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/core"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/diagnostics"
	"github.com/AmirrezaAsadi/PersonaTwinFactory/internal/events"
)

// Server exposes pipeline runs over HTTP.
type Server struct {
	router      chi.Router
	store       core.RunStore
	bus         *events.EventBus
	provider    core.DistributionProvider
	advisor     core.Advisor
	workers     int
	corsOrigins []string
	monitor     *diagnostics.ResourceMonitor
	logger      *slog.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProvider wires the demographic distribution collaborator into runs
// started over HTTP.
func WithProvider(p core.DistributionProvider) ServerOption {
	return func(s *Server) {
		s.provider = p
	}
}

// WithAdvisor wires the escalation advisor into runs started over HTTP.
func WithAdvisor(a core.Advisor) ServerOption {
	return func(s *Server) {
		s.advisor = a
	}
}

// WithWorkers caps per-run bucket parallelism.
func WithWorkers(n int) ServerOption {
	return func(s *Server) {
		s.workers = n
	}
}

// WithCORSOrigins restricts browser origins. Empty means same-origin only
// is not enforced (wildcard).
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithMonitor attaches a resource monitor. Run starts and completions feed
// its counters, and /health reports its latest warnings.
func WithMonitor(m *diagnostics.ResourceMonitor) ServerOption {
	return func(s *Server) {
		s.monitor = m
	}
}

// NewServer creates a new API server.
func NewServer(store core.RunStore, bus *events.EventBus, opts ...ServerOption) *Server {
	s := &Server{
		store:  store,
		bus:    bus,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures Chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	// Health check
	r.Get("/health", s.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Post("/", s.handleCreateRun)

			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/personas", s.handleGetRunPersonas)
			})
		})

		r.Get("/domains", s.handleListDomains)

		// SSE endpoint for real-time run updates
		r.Get("/events", s.handleSSE)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.monitor != nil {
		warnings := s.monitor.CheckHealth()
		if len(warnings) > 0 {
			body["status"] = "degraded"
			messages := make([]string, 0, len(warnings))
			for _, warn := range warnings {
				messages = append(messages, warn.Message)
			}
			body["warnings"] = messages
		}
		body["uptime"] = s.monitor.Uptime().String()
	}
	respondJSON(w, http.StatusOK, body)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", addr)
	return srv.ListenAndServe()
}
