// Package core provides the HTTP chassis for the event digest service. It
// creates a chi router, enforces cross-cutting concerns (panic recovery,
// request IDs, logging, metrics, CORS) and leaves the domain endpoints to
// route registrars supplied by the entry point.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"eventdigest/internal/config"
)

// MetricsCollector records API request telemetry. The route label is the chi
// route pattern, never the raw path.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// Server encapsulates the dependencies of the HTTP API so tests can inject
// fakes and entry points can wire real backends.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Optional collaborators; nil disables the related feature.
	Metrics        MetricsCollector
	MetricsHandler http.Handler // served at GET /metrics
	HealthProbes   []HealthProbe
	RateLimitStore RateLimitStore

	// APIRouteRegistrars mount domain endpoints under /api. Populated by
	// main.go to keep core free of handler imports.
	APIRouteRegistrars []func(chi.Router)

	closers []func() error
	router  *chi.Mux
}

// NewServer initializes the router and validator. Routes are mounted
// separately via MountRoutes so tests can customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a resource to release during Shutdown, e.g. the
// Redis client backing the run lock.
func (s *Server) OnShutdown(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases registered resources in reverse order and returns every
// close failure joined together.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Logger.ErrorContext(ctx, "error releasing resource", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("releasing server resources: %w", err)
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
