package http

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/render"

	licenseErrors "licensed/internal/errors"
	"licensed/internal/license"
)

// Health handles GET /api/health. Per spec §6 it reports HTML, not
// JSON, and bypasses the admission gate entirely — liveness must not
// depend on license validity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><body><h1>OK</h1><p>%s</p></body></html>", time.Now().UTC().Format(time.RFC3339))
}

// ValidateLicense handles POST /api/validate-license: the one
// endpoint that owns its own status taxonomy (200/403 expired/404
// missing) instead of the admission gate's 403-for-everything default
// — it is the probe a client uses to find out WHY a license is
// missing or expired, so it must be able to tell the two apart.
func (h *Handler) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	record := h.store.Current()

	if !record.IsValid() {
		h.writeProblemStatus(w, r, licenseErrors.ErrConfigMissing, http.StatusNotFound)
		h.logRequest(r, "validate-license", start, licenseErrors.ErrConfigMissing)
		return
	}

	if record.IsExpired(time.Now().Unix()) {
		h.writeProblemStatus(w, r, licenseErrors.ErrExpired, http.StatusForbidden)
		h.logRequest(r, "validate-license", start, licenseErrors.ErrExpired)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, record)
	h.logRequest(r, "validate-license", start, nil)
}

var dashboardTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>License Status</title></head>
<body>
<h1>License Status</h1>
<table>
<tr><th>License Key</th><td>{{.LicenseKeyMasked}}</td></tr>
<tr><th>Valid</th><td>{{.Valid}}</td></tr>
<tr><th>Expired</th><td>{{.Expired}}</td></tr>
<tr><th>Seats</th><td>{{.NumberOfUsers}}</td></tr>
<tr><th>Sessions In Pool</th><td>{{.PoolSize}}</td></tr>
<tr><th>Statements Used</th><td>{{.UsedStatements}}</td></tr>
<tr><th>Statements Remaining</th><td>{{.Remaining}}</td></tr>
</table>
<script>
const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/license/status/feed");
ws.onmessage = (evt) => console.log("status update", evt.data);
</script>
</body>
</html>
`))

type dashboardView struct {
	LicenseKeyMasked string
	Valid            bool
	Expired          bool
	NumberOfUsers    int
	PoolSize         int
	UsedStatements   int
	Remaining        int
}

// StatusDashboard handles GET /license/status/all, the human-facing
// HTML view over the same state ValidateLicense reports as JSON.
func (h *Handler) StatusDashboard(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	record := h.store.Current()

	view := dashboardView{
		Valid:          record.IsValid(),
		Expired:        record.IsExpired(time.Now().Unix()),
		NumberOfUsers:  record.NumberOfUsers,
		PoolSize:       h.pool.Len(),
		UsedStatements: h.pool.UsedStatements(),
		Remaining:      h.pool.RemainingStatements(),
	}
	if record.LicenseKey != "" {
		view.LicenseKeyMasked = license.MaskLicenseKey(record.LicenseKey)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = dashboardTemplate.Execute(w, view)
	h.logRequest(r, "status.dashboard", start, nil)
}
