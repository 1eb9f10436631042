/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:            Request logging
  2. Recoverer:         Panic recovery (500 instead of crash)
  3. RequestID:         Unique ID per request for tracing
  4. CORS:              Cross-origin requests for frontend
  5. CallerFromHeaders: Trusted identity extraction

ROUTE GROUPS:
  /api/applications/*   Intake, details, lifecycle transitions
  /api/calculations/*   Compute + read the calculation result
  /api/campaigns        Reference data (writes are administrator only)
  /api/crops            Reference data
  /api/rates            Reference data
  /api/seed/demo        Demo dataset (dev only)
  /api/reset            Database reset (dev only)

SECURITY NOTE:
  Identity comes from gateway-attached headers; this service performs
  authorization (capability checks), not authentication.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the deploy-specific knobs the router needs.
type RouterOptions struct {
	AllowedOrigins []string
	EnableDevTools bool // seed + reset endpoints
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-Id", "X-User-Role"},
		AllowCredentials: true,
	}))
	r.Use(CallerFromHeaders)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Application routes
		r.Route("/applications", func(r chi.Router) {
			r.Get("/", h.ListApplications)
			r.Post("/", h.CreateApplication)
			r.Get("/{id}", h.GetApplication)
			r.Get("/{id}/notes", h.ListReviewNotes)
			r.Post("/{id}/submit", h.SubmitApplication)
			r.Post("/{id}/review", h.StartReview)
			r.Post("/{id}/approve", h.ApproveApplication)
			r.Post("/{id}/reject", h.RejectApplication)
		})

		// Calculation routes
		r.Route("/calculations", func(r chi.Router) {
			r.Post("/{applicationId}", h.ComputeCalculation)
			r.Get("/{applicationId}", h.GetCalculation)
		})

		// Reference data routes
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
		})
		r.Route("/crops", func(r chi.Router) {
			r.Get("/", h.ListCrops)
			r.Post("/", h.CreateCrop)
		})
		r.Route("/rates", func(r chi.Router) {
			r.Get("/", h.ListUnitRates)
			r.Post("/", h.CreateUnitRate)
			r.Delete("/{id}", h.DeleteUnitRate)
		})

		if opts.EnableDevTools {
			r.Post("/seed/demo", h.SeedDemo)
			r.Post("/reset", h.ResetDatabase)
		}
	})

	return r
}

// resetter is implemented by stores that support wiping all data.
type resetter interface {
	Reset(ctx context.Context) error
}

// ResetDatabase clears all data. Only mounted when dev tools are enabled.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	store, ok := h.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store does not support reset", nil)
		return
	}
	if err := store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
