// Package api exposes quiz sessions over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/snapquiz/internal/quiz/health"
)

// Config holds HTTP server settings.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// Server provides the quiz API plus health and metrics endpoints.
type Server struct {
	registry *Registry
	monitor  *health.Monitor
	router   chi.Router
	server   *http.Server
	log      *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, registry *Registry, monitor *health.Monitor) *Server {
	s := &Server{
		registry: registry,
		monitor:  monitor,
		log:      slog.Default().With("component", "api"),
	}
	s.router = s.routes(cfg)
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(cfg Config) chi.Router {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.logRequests, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(ar chi.Router) {
		ar.Get("/status", s.monitor.StatusHandler())

		ar.Post("/sessions", s.handleCreate)
		ar.Route("/sessions/{sessionID}", func(sr chi.Router) {
			sr.Get("/", s.withSession(s.handleGet))
			sr.Delete("/", s.handleDelete)
			sr.Put("/settings", s.withSession(s.handleSettings))
			sr.Post("/images", s.withSession(s.handleImages))
			sr.Post("/start", s.withSession(s.handleStart))
			sr.Post("/answer", s.withSession(s.handleAnswer))
			sr.Post("/next", s.withSession(s.handleNext))
			sr.Post("/explanation", s.withSession(s.handleExplanation))
			sr.Post("/replay", s.withSession(s.handleReplay))
			sr.Post("/abort", s.withSession(s.handleAbort))
		})
	})

	r.Get("/health", s.monitor.HealthHandler())
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info("API server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
