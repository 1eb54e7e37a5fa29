package httpapi

import (
	"net/http"
	"strings"

	"veriflow.io/internal/crm"
	"veriflow.io/internal/tenant"
)

type createContactRequest struct {
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Status    string   `json:"status"`
	Tags      []string `json:"tags"`
	Notes     string   `json:"notes"`
}

type updateContactRequest struct {
	FirstName *string  `json:"first_name,omitempty"`
	LastName  *string  `json:"last_name,omitempty"`
	Email     *string  `json:"email,omitempty"`
	Phone     *string  `json:"phone,omitempty"`
	Status    *string  `json:"status,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Notes     *string  `json:"notes,omitempty"`
}

func (a *API) handleContactsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listContacts(w, r)
	case http.MethodPost:
		a.createContact(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleContactResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/contacts/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getContact(w, r, id)
	case http.MethodPatch:
		a.updateContact(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) createContact(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := a.tenantScope(w, r, true)
	if !ok {
		return
	}
	if !a.requireModule(w, r, tenantID, tenant.ModuleCRM) {
		return
	}

	var req createContactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	c, err := a.contacts.CreateContact(r.Context(), crm.Contact{
		TenantID:  tenantID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Status:    crm.ContactStatus(req.Status),
		Tags:      req.Tags,
		Notes:     req.Notes,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	a.audit(r.Context(), "crm.contact.create", "contact", c.ID, map[string]string{
		"tenant_id": c.TenantID,
	})

	w.Header().Set("Location", "/v1/contacts/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) getContact(w http.ResponseWriter, r *http.Request, id string) {
	tenantID, _, ok := a.tenantScope(w, r, false)
	if !ok {
		return
	}
	c, err := a.contacts.GetContact(r.Context(), tenantID, id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) updateContact(w http.ResponseWriter, r *http.Request, id string) {
	tenantID, _, ok := a.tenantScope(w, r, true)
	if !ok {
		return
	}

	var req updateContactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	upd := crm.ContactUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Tags:      req.Tags,
		Notes:     req.Notes,
	}
	if req.Status != nil {
		st := crm.ContactStatus(*req.Status)
		upd.Status = &st
	}

	c, err := a.contacts.UpdateContact(r.Context(), tenantID, id, upd)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	a.audit(r.Context(), "crm.contact.update", "contact", c.ID, map[string]string{
		"tenant_id": c.TenantID,
	})

	writeJSON(w, http.StatusOK, c)
}

func (a *API) listContacts(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := a.tenantScope(w, r, false)
	if !ok {
		return
	}
	f := crm.Filter{
		Status: crm.ContactStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Tag:    strings.TrimSpace(r.URL.Query().Get("tag")),
	}
	items, err := a.contacts.ListContacts(r.Context(), tenantID, f)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
