package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"licensed/internal/issuer"
)

// ActivateLicense handles POST /api/activate-license. It is excluded
// from the admission gate (a license can't be required to already be
// valid in order to activate one) and calls out to the upstream
// issuer directly, sealing and persisting whatever record comes back.
func (h *Handler) ActivateLicense(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := h.tracer.Start(r.Context(), "http.ActivateLicense")
	defer span.End()

	var req ActivateLicenseRequest
	if err := render.Bind(r, &req); err != nil {
		h.writeInvalidParams(w, r, fieldError(err))
		h.logRequest(r, "activate-license", start, err)
		return
	}

	deviceInfo := h.fingerprint.Get()
	record, err := h.issuer.Activate(ctx, req.LicenseKey, deviceInfo)
	if err != nil {
		var statusErr *issuer.StatusError
		if errors.As(err, &statusErr) {
			h.writeProblemStatus(w, r, err, statusErr.StatusCode)
		} else {
			h.writeProblem(w, r, err)
		}
		h.logRequest(r, "activate-license", start, err)
		return
	}

	if err := h.store.Replace(record); err != nil {
		h.writeProblem(w, r, err)
		h.logRequest(r, "activate-license", start, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, record)
	h.logRequest(r, "activate-license", start, nil)
}
