package http

import (
	"net/http"

	"github.com/go-playground/validator/v10"
)

// validate is shared across every request struct's Bind method, per
// §9 DESIGN NOTES (typed request structs and a validator, replacing
// the dynamic string-map parsing the spec's "flat map of strings"
// wording would otherwise invite).
var validate = validator.New()

// ActivateLicenseRequest is the payload for POST /api/activate-license.
type ActivateLicenseRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

func (req *ActivateLicenseRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// AssignSessionRequest is the payload for POST /api/license/assign.
type AssignSessionRequest struct {
	UUID       string `json:"uuid" validate:"required"`
	Hostname   string `json:"hostname" validate:"required"`
	ClientID   string `json:"client_id" validate:"required"`
	MACAddress string `json:"mac_address"`
	Username   string `json:"username"`
}

func (req *AssignSessionRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// SessionKeyRequest covers the endpoints that only need the three
// session-key components: activate-session, deactivate-session,
// release, revoke-session, validate-session.
type SessionKeyRequest struct {
	UUID     string `json:"uuid" validate:"required"`
	Hostname string `json:"hostname" validate:"required"`
	ClientID string `json:"client_id" validate:"required"`
}

func (req *SessionKeyRequest) Bind(r *http.Request) error {
	return validate.Struct(req)
}

// fieldError extracts the first invalid field name from a validator
// error, for use in the InvalidParameters response's errorCode/field
// extension.
func fieldError(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return verrs[0].Field()
	}
	return "request"
}
