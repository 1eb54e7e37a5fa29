package httpapi

import (
	"net/http"
	"time"

	"veriflow.io/internal/compliance"
	"veriflow.io/internal/tenant"
)

// handleInsights produces an AI summary of the tenant's compliance posture.
// When no model is configured the analyzer serves a deterministic fallback,
// so the endpoint always answers.
func (a *API) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	tenantID, _, ok := a.tenantScope(w, r, false)
	if !ok {
		return
	}
	if !a.requireModule(w, r, tenantID, tenant.ModuleAIInsights) {
		return
	}
	if a.insights == nil {
		writeError(w, r, http.StatusServiceUnavailable, "insights disabled")
		return
	}

	records, err := a.compliance.ListTracking(r.Context(), tenantID, "")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	now := time.Now().UTC()
	stats := compliance.ComputeStats(records, now)
	deadlines := compliance.UpcomingDeadlines(records, 30, now)

	insights, err := a.insights.BusinessInsights(r.Context(), stats, deadlines)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, insights)
}
