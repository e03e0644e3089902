// Package core provides the HTTP chassis shared by the admin API and the
// email events webhook. It builds a chi router that serves both a local
// http.Server and the API Gateway proxy Lambda, and applies the cross-cutting
// middleware (panic recovery, request IDs, logging, CORS and admin key
// checks) before requests reach handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"adoptnotify/internal/config"
)

// RouteRegistrar mounts a group of routes onto a router.
type RouteRegistrar func(r chi.Router)

// Server holds the router and its dependencies so tests can inject fakes.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// AdminRoutes are mounted under /v1/admin behind AdminKeyMiddleware.
	AdminRoutes []RouteRegistrar

	// PublicRoutes are mounted at the root with no authentication. The
	// SendGrid webhook lives here and checks its own signature.
	PublicRoutes []RouteRegistrar

	HealthProbes []HealthProbe

	router *chi.Mux
}

// NewServer validates its inputs and prepares an empty router. Callers add
// registrars and probes, then call MountRoutes.
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

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown closes probe resources that expose Close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, p := range s.HealthProbes {
		if closer, ok := p.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
