package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"veriflow.io/internal/compliance"
	"veriflow.io/internal/obs"
	"veriflow.io/internal/stream"
	"veriflow.io/internal/tenant"
)

type initTrackingRequest struct {
	ChecklistID string `json:"checklist_id"`
}

type statusUpdateRequest struct {
	Status      string                  `json:"status"`
	Notes       *string                 `json:"notes,omitempty"`
	Attachments []compliance.Attachment `json:"attachments,omitempty"`
}

type scheduleReminderRequest struct {
	RecordID     string            `json:"record_id"`
	Channel      string            `json:"channel"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	Message      string            `json:"message"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type quarterlyTaxRequest struct {
	RecordID string `json:"record_id"`
}

type dashboardResponse struct {
	Records   []compliance.TrackingRecord `json:"records"`
	Stats     compliance.Stats            `json:"stats"`
	Deadlines []compliance.Deadline       `json:"deadlines"`
	AsOf      time.Time                   `json:"as_of"`
}

// --- templates ---

func (a *API) handleTemplatesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTemplates(w, r)
	case http.MethodPost:
		a.createTemplate(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTemplateResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/compliance/templates/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	tpl, err := a.compliance.GetTemplate(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (a *API) listTemplates(w http.ResponseWriter, r *http.Request) {
	region := strings.TrimSpace(r.URL.Query().Get("region"))
	businessType := strings.TrimSpace(r.URL.Query().Get("business_type"))
	items, err := a.compliance.ListActiveTemplates(r.Context(), region, businessType)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) createTemplate(w http.ResponseWriter, r *http.Request) {
	if !a.requireOperator(w, r) {
		return
	}

	var tpl compliance.ChecklistTemplate
	if err := decodeJSON(w, r, &tpl); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tpl.IsActive = true

	created, err := a.compliance.UpsertTemplate(r.Context(), tpl)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	a.audit(r.Context(), "compliance.template.create", "template", created.ID, map[string]string{
		"title":   created.Title,
		"version": strconv.Itoa(created.Version),
	})

	w.Header().Set("Location", "/v1/compliance/templates/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

// --- tracking ---

func (a *API) handleTrackingCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listTracking(w, r)
	case http.MethodPost:
		a.initializeTracking(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTrackingResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/compliance/tracking/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/status") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/status"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "record not found")
			return
		}
		a.updateStatus(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.getRecord(w, r, path)
}

func (a *API) initializeTracking(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := a.tenantScope(w, r, true)
	if !ok {
		return
	}
	if !a.requireModule(w, r, tenantID, tenant.ModuleCompliance) {
		return
	}

	var req initTrackingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ChecklistID) == "" {
		writeError(w, r, http.StatusBadRequest, "checklist_id is required")
		return
	}

	records, err := a.compliance.InitializeTracking(r.Context(), tenantID, req.ChecklistID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	obs.TrackingInitialized(len(records))
	a.audit(r.Context(), "compliance.tracking.initialize", "checklist", req.ChecklistID, map[string]string{
		"tenant_id": tenantID,
		"records":   strconv.Itoa(len(records)),
	})

	writeJSON(w, http.StatusCreated, map[string]any{"items": records})
}

func (a *API) listTracking(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := a.tenantScope(w, r, false)
	if !ok {
		return
	}
	checklistID := strings.TrimSpace(r.URL.Query().Get("checklist_id"))
	items, err := a.compliance.ListTracking(r.Context(), tenantID, checklistID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getRecord(w http.ResponseWriter, r *http.Request, id string) {
	tenantID, _, ok := a.tenantScope(w, r, false)
	if !ok {
		return
	}
	rec, err := a.compliance.GetRecord(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if rec.TenantID != tenantID {
		writeError(w, r, http.StatusNotFound, compliance.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) updateStatus(w http.ResponseWriter, r *http.Request, recordID string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPost, http.MethodPatch)
		return
	}
	tenantID, userID, ok := a.tenantScope(w, r, true)
	if !ok {
		return
	}

	var req statusUpdateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	current, err := a.compliance.GetRecord(r.Context(), recordID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if current.TenantID != tenantID {
		writeError(w, r, http.StatusNotFound, compliance.ErrNotFound.Error())
		return
	}

	rec, err := a.compliance.UpdateStatus(r.Context(), recordID, compliance.Status(req.Status), userID, compliance.StatusUpdate{
		Notes:       req.Notes,
		Attachments: req.Attachments,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if a.stream != nil {
		a.stream.Publish(stream.Event{
			Type:     "compliance.status_changed",
			TenantID: rec.TenantID,
			RecordID: rec.ID,
			Message:  string(rec.Status),
		})
	}

	a.audit(r.Context(), "compliance.status.update", "record", rec.ID, map[string]string{
		"tenant_id": rec.TenantID,
		"status":    string(rec.Status),
	})

	writeJSON(w, http.StatusOK, rec)
}

// --- stats / deadlines / dashboard ---

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	tenantID, _, ok := a.tenantScope(w, r, false)
	if !ok {
		return
	}
	records, err := a.compliance.ListTracking(r.Context(), tenantID, strings.TrimSpace(r.URL.Query().Get("checklist_id")))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, compliance.ComputeStats(records, time.Now().UTC()))
}

func (a *API) handleDeadlines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	tenantID, _, ok := a.tenantScope(w, r, false)
	if !ok {
		return
	}
	daysAhead, err := parsePositiveInt(r.URL.Query().Get("days_ahead"), 30, 1, 365)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "days_ahead must be between 1 and 365")
		return
	}
	records, err := a.compliance.ListTracking(r.Context(), tenantID, "")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	deadlines := compliance.UpcomingDeadlines(records, daysAhead, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]any{"items": deadlines, "days_ahead": daysAhead})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	tenantID, _, ok := a.tenantScope(w, r, false)
	if !ok {
		return
	}
	records, err := a.compliance.ListTracking(r.Context(), tenantID, "")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, dashboardResponse{
		Records:   records,
		Stats:     compliance.ComputeStats(records, now),
		Deadlines: compliance.UpcomingDeadlines(records, 30, now),
		AsOf:      now,
	})
}

// --- reminders ---

func (a *API) handleReminders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listPendingReminders(w, r)
	case http.MethodPost:
		a.scheduleReminder(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listPendingReminders(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := a.tenantScope(w, r, false)
	if !ok {
		return
	}
	all, err := a.compliance.ListPendingReminders(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	items := []compliance.Reminder{}
	for _, rem := range all {
		if rem.TenantID == tenantID {
			items = append(items, rem)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) scheduleReminder(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := a.tenantScope(w, r, true)
	if !ok {
		return
	}

	var req scheduleReminderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	rem, err := a.compliance.ScheduleReminder(r.Context(), compliance.Reminder{
		TenantID:     tenantID,
		RecordID:     strings.TrimSpace(req.RecordID),
		Channel:      compliance.Channel(req.Channel),
		ScheduledFor: req.ScheduledFor,
		Message:      req.Message,
		Metadata:     req.Metadata,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	obs.ReminderScheduled(string(rem.Channel))
	if a.stream != nil {
		a.stream.Publish(stream.Event{
			Type:     "compliance.reminder_scheduled",
			TenantID: rem.TenantID,
			RecordID: rem.RecordID,
			Message:  rem.Message,
		})
	}
	a.audit(r.Context(), "compliance.reminder.schedule", "reminder", rem.ID, map[string]string{
		"tenant_id": rem.TenantID,
		"record_id": rem.RecordID,
		"channel":   string(rem.Channel),
	})

	writeJSON(w, http.StatusCreated, rem)
}

func (a *API) handleQuarterlyTax(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	tenantID, _, ok := a.tenantScope(w, r, true)
	if !ok {
		return
	}

	var req quarterlyTaxRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RecordID) == "" {
		writeError(w, r, http.StatusBadRequest, "record_id is required")
		return
	}

	reminders, err := a.compliance.ScheduleQuarterlyTaxReminders(r.Context(), tenantID, req.RecordID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	for _, rem := range reminders {
		obs.ReminderScheduled(string(rem.Channel))
	}
	a.audit(r.Context(), "compliance.reminder.quarterly_tax", "record", req.RecordID, map[string]string{
		"tenant_id": tenantID,
		"scheduled": strconv.Itoa(len(reminders)),
	})

	writeJSON(w, http.StatusCreated, map[string]any{"items": reminders})
}
