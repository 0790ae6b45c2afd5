/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for reporting frontends

ROUTE GROUPS:
  /api/encounters   Encounter upload and listing
  /api/rates        Rate-table configuration
  /api/kpis         Pipeline runs
  /api/runs         Run history
  /api/healthz      Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public; deploy behind
  a gateway that handles auth.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/encounters", func(r chi.Router) {
			r.Post("/", h.AddEncounters)
			r.Get("/", h.ListEncounters)
		})

		r.Route("/rates", func(r chi.Router) {
			r.Put("/", h.ReplaceRates)
			r.Get("/", h.ListRates)
		})

		r.Post("/kpis/run", h.RunKPIs)
		r.Get("/runs", h.ListRuns)
		r.Get("/healthz", h.Healthz)
	})

	return r
}
