package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler       http.HandlerFunc
	EvaluateHandler     http.HandlerFunc
	GetJobHandler       http.HandlerFunc
	CancelJobHandler    http.HandlerFunc
	GetReportHandler    http.HandlerFunc
	CreditsHandler      http.HandlerFunc
	CreateKeyHandler    http.HandlerFunc
	GrantCreditsHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/evaluate", orNotImplemented(deps.EvaluateHandler))

		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))

		r.Get("/api/v1/reports/{jobID}", orNotImplemented(deps.GetReportHandler))
		r.Get("/api/v1/credits", orNotImplemented(deps.CreditsHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Post("/api/v1/admin/credits", orNotImplemented(deps.GrantCreditsHandler))
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
