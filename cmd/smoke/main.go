package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// smoke runs a full tenant lifecycle against a live API: signup, module
// enablement, template creation, tracking, completion and dashboard read.
// Exits non-zero on the first unexpected response.
//
// Catalog writes need a platform operator, so the target API must allowlist
// the smoke operator email (VERIFLOW_OPERATOR_EMAILS on the server side,
// VERIFLOW_SMOKE_OPERATOR here, default smoke-operator@veriflow.test).
func main() {
	base := os.Getenv("VERIFLOW_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	opEmail := os.Getenv("VERIFLOW_SMOKE_OPERATOR")
	if opEmail == "" {
		opEmail = "smoke-operator@veriflow.test"
	}
	client := &http.Client{Timeout: 10 * time.Second}
	suffix := time.Now().UnixNano()

	// Operator account. A 409 means an earlier run already created it.
	post(client, base+"/v1/signup", map[string]any{
		"tenant_name": "Smoke Operators",
		"slug":        "smoke-ops",
		"tier":        "starter",
		"email":       opEmail,
		"name":        "Smoke Operator",
		"password":    "smoke-test-pass",
	}, nil, http.StatusCreated, http.StatusConflict)
	opTok := post(client, base+"/v1/auth/token", map[string]any{
		"email":    opEmail,
		"password": "smoke-test-pass",
	}, nil, http.StatusOK)
	opHeaders := map[string]string{
		"Authorization": "Bearer " + opTok["token"].(string),
	}

	// Tenant signup.
	signup := post(client, base+"/v1/signup", map[string]any{
		"tenant_name": "Smoke Test Co",
		"slug":        fmt.Sprintf("smoke-%d", suffix),
		"tier":        "professional",
		"email":       fmt.Sprintf("smoke-%d@example.test", suffix),
		"name":        "Smoke",
		"password":    "smoke-test-pass",
	}, nil, http.StatusCreated)
	tenantID := signup["tenant"].(map[string]any)["id"].(string)

	// Token.
	tok := post(client, base+"/v1/auth/token", map[string]any{
		"email":    fmt.Sprintf("smoke-%d@example.test", suffix),
		"password": "smoke-test-pass",
	}, nil, http.StatusOK)
	headers := map[string]string{
		"Authorization": "Bearer " + tok["token"].(string),
		"X-Tenant-ID":   tenantID,
	}

	// Enable compliance module.
	post(client, base+"/v1/tenants/"+tenantID+"/modules", map[string]any{
		"module": "compliance",
	}, headers, http.StatusOK)

	// Create a template as the operator.
	tpl := post(client, base+"/v1/compliance/templates", map[string]any{
		"title": fmt.Sprintf("Smoke Checklist %d", suffix),
		"sections": []map[string]any{
			{"title": "S", "items": []map[string]any{
				{"id": "smoke-1", "label": "smoke item", "frequency": "once"},
			}},
		},
	}, opHeaders, http.StatusCreated)
	tplID := tpl["id"].(string)

	// Initialize tracking and complete the item.
	init := post(client, base+"/v1/compliance/tracking", map[string]any{
		"checklist_id": tplID,
	}, headers, http.StatusCreated)
	records := init["items"].([]any)
	if len(records) != 1 {
		log.Fatalf("expected 1 record, got %d", len(records))
	}
	recID := records[0].(map[string]any)["id"].(string)

	post(client, base+"/v1/compliance/tracking/"+recID+"/status", map[string]any{
		"status": "completed",
	}, headers, http.StatusOK)

	// Dashboard must reflect the completion.
	dash := get(client, base+"/v1/compliance/dashboard", headers)
	stats := dash["stats"].(map[string]any)
	if stats["completed"].(float64) != 1 {
		log.Fatalf("dashboard stats mismatch: %v", stats)
	}

	fmt.Println("smoke ok: tenant", tenantID)
}

func post(client *http.Client, url string, body any, headers map[string]string, wantStatus ...int) map[string]any {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(client, req, wantStatus...)
}

func get(client *http.Client, url string, headers map[string]string) map[string]any {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doJSON(client, req, http.StatusOK)
}

func doJSON(client *http.Client, req *http.Request, wantStatus ...int) map[string]any {
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode %s: %v", req.URL, err)
	}
	for _, want := range wantStatus {
		if resp.StatusCode == want {
			return out
		}
	}
	log.Fatalf("%s %s: status %d, want %v (%v)", req.Method, req.URL, resp.StatusCode, wantStatus, out)
	return nil
}
