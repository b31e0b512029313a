package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/matchdesk/internal/api/middleware"
	"github.com/kiranshivaraju/matchdesk/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	LoginHandler    http.HandlerFunc
	RegisterHandler http.HandlerFunc
	LogoutHandler   http.HandlerFunc
	MeHandler       http.HandlerFunc

	AnalyzeHandler   http.HandlerFunc
	BusyHandler      http.HandlerFunc
	ListRunsHandler  http.HandlerFunc
	GetRunHandler    http.HandlerFunc
	ExportPDFHandler http.HandlerFunc

	StartPrepareHandler  http.HandlerFunc
	PrepareStatusHandler http.HandlerFunc
	AvailabilityHandler  http.HandlerFunc
	ListUsersHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public routes
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Post("/api/v1/auth/login", orNotImplemented(deps.LoginHandler))
	r.Post("/api/v1/auth/register", orNotImplemented(deps.RegisterHandler))

	// Session routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/auth/logout", orNotImplemented(deps.LogoutHandler))
		r.Get("/api/v1/auth/me", orNotImplemented(deps.MeHandler))

		r.Get("/api/v1/analyze", orNotImplemented(deps.AnalyzeHandler))
		r.Get("/api/v1/busy", orNotImplemented(deps.BusyHandler))
		r.Get("/api/v1/runs", orNotImplemented(deps.ListRunsHandler))
		r.Get("/api/v1/runs/{runID}", orNotImplemented(deps.GetRunHandler))
		r.Post("/api/v1/export/pdf", orNotImplemented(deps.ExportPDFHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireAdmin)

			r.Post("/api/v1/prepare-day", orNotImplemented(deps.StartPrepareHandler))
			r.Get("/api/v1/prepare-day/availability", orNotImplemented(deps.AvailabilityHandler))
			r.Get("/api/v1/prepare-day/{runID}", orNotImplemented(deps.PrepareStatusHandler))
			r.Get("/api/v1/admin/users", orNotImplemented(deps.ListUsersHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
