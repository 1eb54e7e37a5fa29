package httpapi

import (
	"net/http"
	"strings"

	"veriflow.io/internal/auth"
	"veriflow.io/internal/tenant"
)

type createTenantRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
	Tier string `json:"tier"`
}

type moduleRequest struct {
	Module string `json:"module"`
}

func (a *API) handleTenantsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createTenant(w, r)
	case http.MethodGet:
		a.listTenants(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleTenantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/tenants/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/modules") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/modules"), "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "tenant not found")
			return
		}
		a.handleTenantModules(w, r, id)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getTenant(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) createTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ten, err := a.tenants.CreateTenant(r.Context(), req.Name, req.Slug, tenant.Tier(req.Tier))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		if err := a.tenants.AddMember(r.Context(), ten.ID, userID, tenant.RoleOwner); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}

	a.audit(r.Context(), "tenant.create", "tenant", ten.ID, map[string]string{
		"slug": ten.Slug,
		"tier": string(ten.Tier),
	})

	w.Header().Set("Location", "/v1/tenants/"+ten.ID)
	writeJSON(w, http.StatusCreated, ten)
}

func (a *API) listTenants(w http.ResponseWriter, r *http.Request) {
	if !a.requireOperator(w, r) {
		return
	}
	items, err := a.tenants.ListTenants(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) getTenant(w http.ResponseWriter, r *http.Request, id string) {
	if !a.requireMember(w, r, id) {
		return
	}
	ten, err := a.tenants.GetTenant(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ten)
}

func (a *API) handleTenantModules(w http.ResponseWriter, r *http.Request, tenantID string) {
	switch r.Method {
	case http.MethodGet:
		if !a.requireMember(w, r, tenantID) {
			return
		}
		modules, err := a.tenants.EnabledModules(r.Context(), tenantID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": modules})
	case http.MethodPost, http.MethodDelete:
		a.toggleModule(w, r, tenantID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) toggleModule(w http.ResponseWriter, r *http.Request, tenantID string) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	role, err := a.tenants.RoleOf(r.Context(), tenantID, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if !role.CanWrite() {
		writeError(w, r, http.StatusForbidden, "write access requires owner or admin role")
		return
	}

	var req moduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	m := tenant.Module(strings.TrimSpace(req.Module))

	event := "tenant.module.enable"
	if r.Method == http.MethodDelete {
		event = "tenant.module.disable"
		err = a.tenants.DisableModule(r.Context(), tenantID, m)
	} else {
		err = a.tenants.EnableModule(r.Context(), tenantID, m)
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	a.audit(r.Context(), event, "tenant", tenantID, map[string]string{"module": string(m)})

	modules, err := a.tenants.EnabledModules(r.Context(), tenantID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": modules})
}
