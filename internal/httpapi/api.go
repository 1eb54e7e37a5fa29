package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"veriflow.io/internal/ai"
	"veriflow.io/internal/audit"
	"veriflow.io/internal/auth"
	"veriflow.io/internal/compliance"
	"veriflow.io/internal/crm"
	"veriflow.io/internal/obs"
	"veriflow.io/internal/stream"
	"veriflow.io/internal/tenant"
)

// ReadyProbe checks downstream readiness (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. All business logic lives in the service packages;
// handlers only decode, authorize, delegate and encode.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	tenants    tenant.Service
	compliance compliance.Service
	contacts   crm.Service
	insights   *ai.Analyzer
	stream     *stream.Stream

	rateBurst  int
	ratePerSec int

	// operators holds lower-cased emails of platform operators, the only
	// principals allowed to write the shared template catalog.
	operators map[string]struct{}
}

// SetOperators replaces the platform operator allowlist. With an empty list
// the catalog is writable only through the seeding binary.
func (a *API) SetOperators(emails ...string) {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		set[e] = struct{}{}
	}
	a.operators = set
}

func New(rp ReadyProbe, version string, tenants tenant.Service, comp compliance.Service, contacts crm.Service, insights *ai.Analyzer, st *stream.Stream) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		tenants:    tenants,
		compliance: comp,
		contacts:   contacts,
		insights:   insights,
		stream:     st,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/signup", a.handleSignup)

	// tenants and module entitlements
	a.mux.HandleFunc("/v1/tenants", a.handleTenantsCollection)
	a.mux.HandleFunc("/v1/tenants/", a.handleTenantResource)

	// compliance
	a.mux.HandleFunc("/v1/compliance/templates", a.handleTemplatesCollection)
	a.mux.HandleFunc("/v1/compliance/templates/", a.handleTemplateResource)
	a.mux.HandleFunc("/v1/compliance/tracking", a.handleTrackingCollection)
	a.mux.HandleFunc("/v1/compliance/tracking/", a.handleTrackingResource)
	a.mux.HandleFunc("/v1/compliance/stats", a.handleStats)
	a.mux.HandleFunc("/v1/compliance/deadlines", a.handleDeadlines)
	a.mux.HandleFunc("/v1/compliance/dashboard", a.handleDashboard)
	a.mux.HandleFunc("/v1/compliance/reminders", a.handleReminders)
	a.mux.HandleFunc("/v1/compliance/reminders/quarterly-tax", a.handleQuarterlyTax)

	// crm
	a.mux.HandleFunc("/v1/contacts", a.handleContactsCollection)
	a.mux.HandleFunc("/v1/contacts/", a.handleContactResource)

	// ai insights
	a.mux.HandleFunc("/v1/ai/insights", a.handleInsights)

	// live events
	a.mux.HandleFunc("/v1/events", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wraps the mux in the full middleware chain.
func (a *API) Handler() http.Handler {
	h := a.withAuth(obs.Instrument(a.mux))
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "veriflow-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "veriflow-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event, entity, id string, meta map[string]string) {
	_ = audit.Log(ctx, audit.Event{
		Event:    event,
		Entity:   entity,
		EntityID: id,
		Fields:   meta,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("value must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("value out of range")
	}
	return val, nil
}

// handleServiceError maps service sentinels onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, compliance.ErrValidation),
		errors.Is(err, compliance.ErrDuplicateItemID),
		errors.Is(err, tenant.ErrInvalidInput),
		errors.Is(err, crm.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, compliance.ErrAlreadyInitialized),
		errors.Is(err, tenant.ErrAlreadyExists),
		errors.Is(err, tenant.ErrModuleNotInTier):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, compliance.ErrNotFound),
		errors.Is(err, tenant.ErrNotFound),
		errors.Is(err, crm.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, tenant.ErrNotMember):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
