package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"adoptnotify/internal/types"
)

const defaultRequestTimeout = 29 * time.Second

// HeaderAdminKey carries the shared admin secret.
const HeaderAdminKey = "X-Admin-Key"

var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	HeaderAdminKey,
}

// MountRoutes registers the middleware chain and every route group.
//
// Order:
//  1. Recoverer        catches panics from everything below.
//  2. ContextTimeout   soft deadline ahead of the Lambda hard timeout.
//  3. RequestID        correlation ID for logs and error bodies.
//  4. SecurityHeaders
//  5. RequestLogger    redacts the admin key.
//  6. CORS
//
// The admin key check is applied to the /v1/admin group only.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))

	s.router.Get("/health", s.HandleHealth)

	for _, registrar := range s.PublicRoutes {
		registrar(s.router)
	}

	s.router.Route("/v1/admin", func(r chi.Router) {
		r.Use(s.AdminKeyMiddleware)
		for _, registrar := range s.AdminRoutes {
			registrar(r)
		}
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an inbound X-Request-Id or generates one, stores
// it in the context and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}
