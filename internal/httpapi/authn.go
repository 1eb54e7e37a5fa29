package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"veriflow.io/internal/auth"
	"veriflow.io/internal/tenant"
)

const (
	authHeader   = "Authorization"
	bearer       = "Bearer "
	tenantHeader = "X-Tenant-ID"
)

var publicPaths = []string{
	"/v1/auth/token",
	"/v1/signup",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), claims.Subject)
		ctx = auth.ContextWithEmail(ctx, claims.Email)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantScope resolves the caller's membership for the tenant named in the
// X-Tenant-ID header. Writes require the owner or admin role. On failure the
// response has already been written and ok is false.
func (a *API) tenantScope(w http.ResponseWriter, r *http.Request, write bool) (tenantID, userID string, ok bool) {
	userID, authed := auth.UserIDFromContext(r.Context())
	if !authed {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return "", "", false
	}
	tenantID = strings.TrimSpace(r.Header.Get(tenantHeader))
	if tenantID == "" {
		writeError(w, r, http.StatusBadRequest, "X-Tenant-ID header is required")
		return "", "", false
	}
	role, err := a.tenants.RoleOf(r.Context(), tenantID, userID)
	if err != nil {
		handleServiceError(w, r, err)
		return "", "", false
	}
	if write && !role.CanWrite() {
		writeError(w, r, http.StatusForbidden, "write access requires owner or admin role")
		return "", "", false
	}
	return tenantID, userID, true
}

// isOperator reports whether the caller is a platform operator. Operators
// are configured out of band (SetOperators), never via the API.
func (a *API) isOperator(r *http.Request) bool {
	email, ok := auth.EmailFromContext(r.Context())
	if !ok {
		return false
	}
	_, ok = a.operators[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// requireOperator rejects callers that are not platform operators. The
// template catalog is shared across all tenants, so tenant roles do not
// grant access to it.
func (a *API) requireOperator(w http.ResponseWriter, r *http.Request) bool {
	if _, authed := auth.UserIDFromContext(r.Context()); !authed {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if !a.isOperator(r) {
		writeError(w, r, http.StatusForbidden, "operator access required")
		return false
	}
	return true
}

// requireMember verifies the caller belongs to the tenant identified in the
// request path. Platform operators pass regardless of membership.
func (a *API) requireMember(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	userID, authed := auth.UserIDFromContext(r.Context())
	if !authed {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return false
	}
	if a.isOperator(r) {
		return true
	}
	if _, err := a.tenants.RoleOf(r.Context(), tenantID, userID); err != nil {
		handleServiceError(w, r, err)
		return false
	}
	return true
}

// requireModule rejects the request when the tenant has not enabled m.
func (a *API) requireModule(w http.ResponseWriter, r *http.Request, tenantID string, m tenant.Module) bool {
	enabled, err := a.tenants.EnabledModules(r.Context(), tenantID)
	if err != nil {
		handleServiceError(w, r, err)
		return false
	}
	for _, e := range enabled {
		if e == m {
			return true
		}
	}
	writeError(w, r, http.StatusForbidden, string(m)+" module is not enabled for this tenant")
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
