package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Sentinel errors for the licensing appliance's error taxonomy.
// Handlers and the admission middleware return these (or wrap them)
// rather than raw strings; MapLicenseError turns them into an RFC
// 7807 response with a stable error code.
var (
	ErrConfigMissing     = errors.New("license store: no record on disk")
	ErrCorruptOrTampered = errors.New("license store: sealed artifact is corrupt or tampered")
	ErrCapacityExhausted = errors.New("session pool: capacity exhausted")
	ErrNotFound          = errors.New("session pool: session not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrSkewDetected      = errors.New("clock skew detected")
	ErrResyncFailed      = errors.New("resync with upstream issuer failed")
	ErrExpired           = errors.New("license expired")
	ErrInvalidParameters = errors.New("invalid request parameters")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface.
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens Extensions alongside the standard RFC 7807
// fields instead of nesting them.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, len(pd.Extensions)+5)
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error.
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details.
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// WithErrorCode sets the conventional "error_code" extension used
// throughout the HTTP control surface.
func (pd *ProblemDetails) WithErrorCode(code string) *ProblemDetails {
	return pd.WithExtension("error_code", code)
}

// errorTaxonomy maps each sentinel to its HTTP status, RFC 7807 type
// slug, title and stable error code.
var errorTaxonomy = []struct {
	err    error
	status int
	slug   string
	title  string
	code   string
}{
	// Statuses here are the admission-middleware defaults from the error
	// taxonomy: every gated endpoint answers 403 for config/skew/resync/
	// expiry kinds, 429 for capacity, 400 for the remaining client-side
	// kinds. /api/validate-license (404 missing or invalid, 403
	// expired) and /api/activate-license (the issuer's status) override
	// these statuses in their handlers. No endpoint answers 401: a
	// corrupt artifact makes store.Load fail, and app.New returns that
	// error, so it never reaches a handler.
	{ErrConfigMissing, http.StatusForbidden, "config-missing", "License Not Configured", "CONFIG_MISSING"},
	{ErrCorruptOrTampered, http.StatusForbidden, "corrupt-or-tampered", "License Artifact Corrupt", "CORRUPT_OR_TAMPERED"},
	{ErrCapacityExhausted, http.StatusTooManyRequests, "capacity-exhausted", "Session Capacity Exhausted", "CAPACITY_EXHAUSTED"},
	{ErrNotFound, http.StatusBadRequest, "not-found", "Session Not Found", "NOT_FOUND"},
	{ErrPreconditionFailed, http.StatusBadRequest, "precondition-failed", "Precondition Failed", "PRECONDITION_FAILED"},
	{ErrSkewDetected, http.StatusForbidden, "skew-detected", "License Invalid Or Not Found", "SKEW_DETECTED"},
	{ErrResyncFailed, http.StatusForbidden, "resync-failed", "Resync With Issuer Failed", "RESYNC_FAILED"},
	{ErrExpired, http.StatusForbidden, "expired", "License Expired", "EXPIRED"},
	{ErrInvalidParameters, http.StatusBadRequest, "invalid-parameters", "Invalid Parameters", "INVALID_PARAMETERS"},
}

// MapLicenseError maps a taxonomy sentinel (or a wrapped APIError) to
// an RFC 7807 response, defaulting to Internal for anything else.
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return NewProblemDetails(apiErr.StatusCode, "/errors/"+apiErr.ErrorCode, apiErr.Message, apiErr.Message, instance).
			WithExtension("trace_id", traceID).
			WithErrorCode(apiErr.ErrorCode)
	}

	for _, entry := range errorTaxonomy {
		if errors.Is(err, entry.err) {
			detail := err.Error()
			if entry.err == ErrSkewDetected {
				// Deliberately indistinguishable from a missing/invalid
				// license — the detail must not confirm tampering was
				// detected.
				detail = "license is invalid or not found"
			}
			return NewProblemDetails(entry.status, "/errors/"+entry.slug, entry.title, detail, instance).
				WithExtension("trace_id", traceID).
				WithErrorCode(entry.code)
		}
	}

	return NewProblemDetails(http.StatusInternalServerError, "/errors/internal", "Internal Server Error",
		"An unexpected error occurred while processing your request.", instance).
		WithExtension("trace_id", traceID).
		WithErrorCode("INTERNAL")
}

// InvalidParametersError builds the InvalidParameters response naming
// the first missing or malformed field, per the per-endpoint request
// validator contract.
func InvalidParametersError(field, traceID string) render.Renderer {
	return MapLicenseError(fmt.Errorf("%w: %s", ErrInvalidParameters, field), traceID).(*ProblemDetails).
		WithExtension("field", field)
}
