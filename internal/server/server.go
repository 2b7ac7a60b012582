package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/michaelbrown/execd/internal/config"
	"github.com/michaelbrown/execd/internal/execution"
	"github.com/michaelbrown/execd/internal/storage"
)

// ServiceName is reported by the root status endpoint.
const ServiceName = "execd"

// Executor runs one execution request.
type Executor interface {
	Execute(ctx context.Context, req execution.Request) *execution.Result
}

// Server is the HTTP server for the execution API.
type Server struct {
	cfg    *config.Config
	exec   Executor
	blobs  storage.BlobStore
	logger *slog.Logger
	router chi.Router

	mu   sync.Mutex
	http *http.Server
}

// New creates a new Server. blobs may be nil; /artifacts is only served when
// artifacts are kept locally.
func New(cfg *config.Config, exec Executor, blobs storage.BlobStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		exec:   exec,
		blobs:  blobs,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	maxBody := s.cfg.Server.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 << 20
	}

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/", s.handleRoot)
		r.Get("/health", s.handleHealth)

		r.With(middleware.RequestSize(maxBody)).
			Post("/execute", s.handleExecute)
	})

	if s.blobs != nil {
		r.Get("/artifacts/{id}", s.handleGetArtifact)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the traced root handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "execd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = hs
	s.mu.Unlock()

	s.logger.Info("execd server starting", "addr", addr)
	return hs.ListenAndServe()
}

// Shutdown gracefully shuts down the server, letting in-flight executions
// finish within the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.mu.Lock()
	hs := s.http
	s.mu.Unlock()
	if hs == nil {
		return nil
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return hs.Shutdown(shutdownCtx)
}
