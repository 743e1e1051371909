package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	licensemw "licensed/internal/middleware"
)

// Routes returns a chi router mounting every endpoint spec §6 names,
// with the admission gate wrapping everything except its own
// allow-list.
func (h *Handler) Routes(gate *licensemw.LicenseGate) chi.Router {
	r := chi.NewRouter()
	r.Use(licensemw.RequestID)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(gate.Handler)

	r.Post("/api/activate-license", h.ActivateLicense)
	r.Post("/api/validate-license", h.ValidateLicense)
	r.Get("/api/health", h.Health)

	r.Route("/api/license", func(sr chi.Router) {
		sr.Post("/assign", h.AssignSession)
		sr.Post("/activate-session", h.ActivateSession)
		sr.Post("/deactivate-session", h.DeactivateSession)
		sr.Post("/release", h.ReleaseSession)
		sr.Post("/revoke-session", h.RevokeSession)
		sr.Post("/validate-session", h.ValidateSession)
		sr.Post("/use-statement", h.UseStatement)
		sr.Get("/check-statement-limit", h.CheckStatementLimit)
	})

	r.Route("/license/status", func(sr chi.Router) {
		sr.Get("/all", h.StatusDashboard)
		sr.Get("/feed", h.StatusFeed)
	})

	return r
}
