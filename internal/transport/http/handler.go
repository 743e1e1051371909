// Package http implements the licensing appliance's HTTP control
// surface (spec §4.H / §6): the REST endpoints session clients and the
// activation flow use, the status dashboard, and its websocket feed.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	licenseErrors "licensed/internal/errors"
	"licensed/internal/fingerprint"
	"licensed/internal/issuer"
	"licensed/internal/license"
	licensemw "licensed/internal/middleware"
	"licensed/internal/sessionpool"
	"licensed/internal/statusfeed"
)

// Handler holds every collaborator the control surface's endpoints
// call into. One Handler is built at the composition root and its
// Routes() mounted under the process's chi router.
type Handler struct {
	store       *license.Store
	pool        *sessionpool.Pool
	fingerprint *fingerprint.Provider
	issuer      *issuer.Client
	hub         *statusfeed.Hub
	logger      *slog.Logger
	tracer      trace.Tracer
}

// New builds a Handler. hub may be nil in tests that don't exercise
// the status feed's websocket endpoint.
func New(store *license.Store, pool *sessionpool.Pool, fp *fingerprint.Provider, issuerClient *issuer.Client, hub *statusfeed.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:       store,
		pool:        pool,
		fingerprint: fp,
		issuer:      issuerClient,
		hub:         hub,
		logger:      logger.With(slog.String("component", "http_handler")),
		tracer:      otel.Tracer("licensed/transport/http"),
	}
}

// writeProblem renders a taxonomy error as an RFC 7807 body.
func (h *Handler) writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	traceID := licensemw.GetRequestID(r.Context())
	problem := licenseErrors.MapLicenseError(err, traceID).(*licenseErrors.ProblemDetails)
	render.Status(r, problem.Status)
	render.JSON(w, r, problem)
}

// writeInvalidParams renders the InvalidParameters response naming
// the first field that failed validation.
func (h *Handler) writeInvalidParams(w http.ResponseWriter, r *http.Request, field string) {
	traceID := licensemw.GetRequestID(r.Context())
	problem := licenseErrors.InvalidParametersError(field, traceID)
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, problem)
}

// writeProblemStatus renders a taxonomy error but overrides its
// status, for the handful of endpoints spec §6/§7 document with a
// status that differs from the admission-gate default
// (validate-license's 404/403, use-statement's 400, and
// activate-license's pass-through of the issuer's status).
func (h *Handler) writeProblemStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	traceID := licensemw.GetRequestID(r.Context())
	problem := licenseErrors.MapLicenseError(err, traceID).(*licenseErrors.ProblemDetails)
	problem.Status = status
	render.Status(r, status)
	render.JSON(w, r, problem)
}

// logRequest is the one place every handler records the structured,
// per-request log line, matching the teacher's density but without
// re-deriving a span+ten-field block for every single endpoint.
func (h *Handler) logRequest(r *http.Request, route string, start time.Time, err error) {
	traceID := licensemw.GetRequestID(r.Context())
	fields := []interface{}{
		slog.String("route", route),
		slog.String("trace_id", traceID),
		slog.Duration("latency", time.Since(start)),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if err != nil {
		fields = append(fields, slog.String("error", err.Error()))
		h.logger.WarnContext(r.Context(), "request failed", fields...)
		return
	}
	h.logger.InfoContext(r.Context(), "request completed", fields...)
}
