package http

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// UseStatement handles POST /api/license/use-statement.
func (h *Handler) UseStatement(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	err := h.pool.TryUseStatement()
	if err != nil {
		// Quota exhaustion here answers 400, not the 429 the session
		// pool's capacity taxonomy entry defaults to — spec §6 documents
		// use-statement's failure status as 400, same as its success
		// shape, unlike /api/license/assign's 429.
		h.writeProblemStatus(w, r, err, http.StatusBadRequest)
		h.logRequest(r, "license.use-statement", start, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]int{
		"remaining": h.pool.RemainingStatements(),
		"used":      h.pool.UsedStatements(),
	})
	h.logRequest(r, "license.use-statement", start, nil)
}

// CheckStatementLimit handles GET /api/license/check-statement-limit.
func (h *Handler) CheckStatementLimit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{
		"limit_reached": h.pool.IsStatementLimitReached(),
		"remaining":     h.pool.RemainingStatements(),
		"used":          h.pool.UsedStatements(),
	})
	h.logRequest(r, "license.check-statement-limit", start, nil)
}
