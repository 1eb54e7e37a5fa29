package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"veriflow.io/internal/ai"
	"veriflow.io/internal/auth"
	"veriflow.io/internal/compliance"
	"veriflow.io/internal/crm"
	"veriflow.io/internal/stream"
	"veriflow.io/internal/tenant"
)

// operatorEmail is allowlisted as a platform operator by newTestAPI so tests
// can manage the shared template catalog.
const operatorEmail = "ops@veriflow.test"

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	opHeaders map[string]string
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("VERIFLOW_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	api := New(ReadyProbe{}, "test",
		tenant.NewInMemory(),
		compliance.NewInMemory(),
		crm.NewInMemory(),
		ai.NewAnalyzer(nil),
		stream.New(),
	)
	api.rateBurst = 1000
	api.ratePerSec = 1000
	api.SetOperators(operatorEmail)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// signup creates a tenant plus owner and returns (tenantID, bearer headers).
func (c *apiClient) signup(slug, tier, email string) (string, map[string]string) {
	c.t.Helper()
	resp := c.post("/v1/signup", map[string]any{
		"tenant_name": "Acme " + slug,
		"slug":        slug,
		"tier":        tier,
		"email":       email,
		"name":        "Test Owner",
		"password":    "correct-horse",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("signup status: %d", resp.StatusCode)
	}
	created := decode[signupResponse](c.t, resp)

	resp = c.post("/v1/auth/token", map[string]any{
		"email":    email,
		"password": "correct-horse",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("token status: %d", resp.StatusCode)
	}
	tok := decode[tokenResponse](c.t, resp)
	if tok.Token == "" {
		c.t.Fatal("empty token issued")
	}

	return created.Tenant.ID, map[string]string{
		"Authorization": "Bearer " + tok.Token,
		"X-Tenant-ID":   created.Tenant.ID,
	}
}

// operatorHeaders lazily signs up the allowlisted operator account and
// returns bearer headers without a tenant scope.
func (c *apiClient) operatorHeaders() map[string]string {
	c.t.Helper()
	if c.opHeaders == nil {
		_, headers := c.signup("platform-ops", "starter", operatorEmail)
		delete(headers, "X-Tenant-ID")
		c.opHeaders = headers
	}
	return c.opHeaders
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["service"] != "veriflow-api" {
		t.Fatalf("unexpected service name: %v", body["service"])
	}

	resp = api.get("/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/info", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/compliance/tracking", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatal("expected error message")
	}
}

func TestTenantReadsAreMembershipScoped(t *testing.T) {
	api := newTestAPI(t)
	acmeID, acmeHeaders := api.signup("acme", "starter", "owner@acme.test")
	_, rivalHeaders := api.signup("rival", "starter", "owner@rival.test")

	// Non-members cannot read another tenant or its module list.
	resp := api.get("/v1/tenants/"+acmeID, nil, rivalHeaders)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign tenant read, got %d", resp.StatusCode)
	}
	resp = api.get("/v1/tenants/"+acmeID+"/modules", nil, rivalHeaders)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign module list, got %d", resp.StatusCode)
	}

	// The tenant directory is operator-only.
	resp = api.get("/v1/tenants", nil, rivalHeaders)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 listing tenants, got %d", resp.StatusCode)
	}

	// Members read their own tenant, operators read anything.
	resp = api.get("/v1/tenants/"+acmeID, nil, acmeHeaders)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("member read status: %d", resp.StatusCode)
	}
	resp = api.get("/v1/tenants", nil, api.operatorHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("operator list status: %d", resp.StatusCode)
	}
	resp = api.get("/v1/tenants/"+acmeID, nil, api.operatorHeaders())
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("operator read status: %d", resp.StatusCode)
	}
}

func TestEventsRequireTenantScope(t *testing.T) {
	api := newTestAPI(t)
	_, headers := api.signup("streams", "starter", "owner@streams.test")
	delete(headers, "X-Tenant-ID")

	resp := api.get("/v1/events", nil, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant header, got %d", resp.StatusCode)
	}
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	api := newTestAPI(t)
	api.signup("acme", "starter", "owner@acme.test")

	resp := api.post("/v1/auth/token", map[string]any{
		"email":    "owner@acme.test",
		"password": "wrong-password",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSignupValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/signup", map[string]any{
		"tenant_name": "No Password",
		"slug":        "nopw",
		"email":       "x@y.test",
		"password":    "short",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSignupDuplicateSlugConflicts(t *testing.T) {
	api := newTestAPI(t)
	api.signup("acme", "starter", "one@acme.test")

	resp := api.post("/v1/signup", map[string]any{
		"tenant_name": "Acme Again",
		"slug":        "acme",
		"tier":        "starter",
		"email":       "two@acme.test",
		"name":        "Other",
		"password":    "correct-horse",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestModuleEntitlementEnforced(t *testing.T) {
	api := newTestAPI(t)
	tenantID, headers := api.signup("starter-co", "starter", "owner@starter.test")

	// Starter tier does not include compliance.
	resp := api.post("/v1/tenants/"+tenantID+"/modules", map[string]any{
		"module": "compliance",
	}, headers)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	// CRM is in starter; enabling it succeeds.
	resp2 := api.post("/v1/tenants/"+tenantID+"/modules", map[string]any{
		"module": "crm",
	}, headers)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("enable crm status: %d", resp2.StatusCode)
	}
	modules := decode[map[string][]string](t, resp2)
	if len(modules["items"]) != 1 || modules["items"][0] != "crm" {
		t.Fatalf("unexpected modules: %v", modules["items"])
	}
}

func TestContactsFlow(t *testing.T) {
	api := newTestAPI(t)
	tenantID, headers := api.signup("crm-co", "starter", "owner@crm.test")

	resp := api.post("/v1/tenants/"+tenantID+"/modules", map[string]any{"module": "crm"}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("enable crm status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/v1/contacts", map[string]any{
		"first_name": "Dana",
		"email":      "dana@example.test",
		"tags":       []string{"vip"},
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create contact status: %d", resp.StatusCode)
	}
	contact := decode[crm.Contact](t, resp)
	if contact.Status != crm.StatusLead {
		t.Fatalf("expected default lead status, got %s", contact.Status)
	}

	resp = api.do(http.MethodPatch, "/v1/contacts/"+contact.ID, map[string]any{
		"status": "customer",
	}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update contact status: %d", resp.StatusCode)
	}
	updated := decode[crm.Contact](t, resp)
	if updated.Status != crm.StatusCustomer {
		t.Fatalf("expected customer, got %s", updated.Status)
	}

	resp = api.get("/v1/contacts", url.Values{"tag": []string{"vip"}}, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list contacts status: %d", resp.StatusCode)
	}
	listing := decode[map[string][]crm.Contact](t, resp)
	if len(listing["items"]) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(listing["items"]))
	}

	// Another tenant cannot see it.
	_, otherHeaders := api.signup("other-co", "starter", "owner@other.test")
	resp = api.get("/v1/contacts/"+contact.ID, nil, otherHeaders)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign tenant, got %d", resp.StatusCode)
	}
}
