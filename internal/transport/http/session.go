package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"

	licenseErrors "licensed/internal/errors"
	licensemw "licensed/internal/middleware"
)

// AssignSession handles POST /api/license/assign.
func (h *Handler) AssignSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req AssignSessionRequest
	if err := render.Bind(r, &req); err != nil {
		h.writeInvalidParams(w, r, fieldError(err))
		h.logRequest(r, "license.assign", start, err)
		return
	}

	session, err := h.pool.TryUse(req.UUID, req.Hostname, req.ClientID, req.MACAddress, req.Username)
	if err != nil {
		if errors.Is(err, licenseErrors.ErrCapacityExhausted) {
			h.writeCapacityExhausted(w, r)
			h.logRequest(r, "license.assign", start, err)
			return
		}
		h.writeProblem(w, r, err)
		h.logRequest(r, "license.assign", start, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, session)
	h.logRequest(r, "license.assign", start, nil)
}

// writeCapacityExhausted renders the 429 response for the assign
// endpoint, including the active/inactive session lists spec §6
// documents alongside it so a client can decide whether to retry a
// specific stale session.
func (h *Handler) writeCapacityExhausted(w http.ResponseWriter, r *http.Request) {
	traceID := licensemw.GetRequestID(r.Context())
	problem := licenseErrors.MapLicenseError(licenseErrors.ErrCapacityExhausted, traceID).(*licenseErrors.ProblemDetails).
		WithExtension("active_sessions", h.pool.Active()).
		WithExtension("inactive_sessions", h.pool.Inactive())
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, problem)
}

// ActivateSession handles POST /api/license/activate-session.
func (h *Handler) ActivateSession(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, "license.activate-session", h.pool.Activate)
}

// DeactivateSession handles POST /api/license/deactivate-session.
func (h *Handler) DeactivateSession(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, "license.deactivate-session", h.pool.Deactivate)
}

// ReleaseSession handles POST /api/license/release.
func (h *Handler) ReleaseSession(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, "license.release", h.pool.Release)
}

// RevokeSession handles POST /api/license/revoke-session.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	h.sessionOp(w, r, "license.revoke-session", h.pool.Revoke)
}

// sessionOp is the shared body for the four session-key-only
// operations: bind, call the pool method, respond.
func (h *Handler) sessionOp(w http.ResponseWriter, r *http.Request, route string, op func(uuid, hostname, clientID string) error) {
	start := time.Now()
	var req SessionKeyRequest
	if err := render.Bind(r, &req); err != nil {
		h.writeInvalidParams(w, r, fieldError(err))
		h.logRequest(r, route, start, err)
		return
	}

	if err := op(req.UUID, req.Hostname, req.ClientID); err != nil {
		h.writeProblem(w, r, err)
		h.logRequest(r, route, start, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
	h.logRequest(r, route, start, nil)
}

// ValidateSession handles POST /api/license/validate-session.
func (h *Handler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req SessionKeyRequest
	if err := render.Bind(r, &req); err != nil {
		h.writeInvalidParams(w, r, fieldError(err))
		h.logRequest(r, "license.validate-session", start, err)
		return
	}

	valid := h.pool.IsValid(req.UUID, req.Hostname, req.ClientID)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]bool{"valid": valid})
	h.logRequest(r, "license.validate-session", start, nil)
}
