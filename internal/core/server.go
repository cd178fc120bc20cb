// Package core provides the API chassis for the Newsline backend.
// It creates a chi router and enforces cross-cutting concerns -- panic
// recovery, request correlation, security headers, logging, and error
// handling -- before requests reach domain-specific handlers.
package core

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"newsline/internal/config"
)

// RouteRegistrar registers a group of domain handler routes on the router.
// Handler packages expose a RegisterRoutes method matching this signature;
// the application entry point collects them here to avoid import cycles
// between core and handler packages.
type RouteRegistrar func(chi.Router)

// Server encapsulates all dependencies for the Newsline API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config          *config.Config
	Logger          *slog.Logger
	RouteRegistrars []RouteRegistrar
	HealthProbes    []HealthProbe

	// Internal router
	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a "fail-fast" check on critical
// configuration.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction. This separation allows tests to customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain, all domain handler
// routes, and the health endpoint.
//
// Middleware ordering (strict):
//  1. Recoverer       - Catches panics; outermost to catch all failures.
//  2. RequestID       - Generates/propagates correlation ID for tracing.
//  3. SecurityHeaders - Ensures all responses include security headers.
//  4. RequestLogger   - Structured logging (redacted headers).
//  5. CORS            - Browser access for the web application origin.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))

	for _, registrar := range s.RouteRegistrars {
		registrar(s.router)
	}

	s.router.Get("/healthz", s.HandleHealth)
}

// corsAllowedOrigins returns the origins allowed to call the API from a
// browser. Only the web application origin is permitted.
func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && s.Config.Server.AppURL != "" {
		return []string{s.Config.Server.AppURL}
	}
	return nil
}
