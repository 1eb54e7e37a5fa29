package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"veriflow.io/internal/auth"
	"veriflow.io/internal/tenant"
)

type signupRequest struct {
	TenantName string `json:"tenant_name"`
	Slug       string `json:"slug"`
	Tier       string `json:"tier"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Password   string `json:"password"`
}

type signupResponse struct {
	Tenant tenant.Tenant `json:"tenant"`
	User   tenant.User   `json:"user"`
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
}

const tokenTTL = 15 * time.Minute

// handleSignup creates a tenant together with its owner account.
func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	tier := tenant.Tier(strings.TrimSpace(req.Tier))
	if tier == "" {
		tier = tenant.TierStarter
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	ten, err := a.tenants.CreateTenant(r.Context(), req.TenantName, req.Slug, tier)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	usr, err := a.tenants.CreateUser(r.Context(), req.Email, req.Name, hash)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if err := a.tenants.AddMember(r.Context(), ten.ID, usr.ID, tenant.RoleOwner); err != nil {
		handleServiceError(w, r, err)
		return
	}

	a.audit(r.Context(), "tenant.signup", "tenant", ten.ID, map[string]string{
		"slug": ten.Slug,
		"tier": string(ten.Tier),
	})

	w.Header().Set("Location", "/v1/tenants/"+ten.ID)
	writeJSON(w, http.StatusCreated, signupResponse{Tenant: ten, User: usr})
}

// handleAuthToken exchanges email/password credentials for a short-lived JWT.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	usr, err := a.tenants.FindUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		handleServiceError(w, r, err)
		return
	}
	if err := auth.VerifyPassword(usr.PasswordHash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(usr.ID, usr.Email, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(tokenTTL)
	a.audit(r.Context(), "auth.token.issued", "user", usr.ID, map[string]string{
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    usr.ID,
	})
}
