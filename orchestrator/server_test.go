// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/audit"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/policy"
)

type serverFixture struct {
	handler http.Handler
	sink    *audit.MemorySink
	token   string
}

func newServerFixture(t *testing.T, mutate func(*ServerConfig)) *serverFixture {
	t.Helper()
	primary := &spyProvider{name: "primary", healthy: true}
	reg := newSpyRegistry(t,
		spyEntry{provider: primary, quality: 0.9, cost: 0.00001},
		spyEntry{provider: &spyProvider{name: "offline", healthy: false}, quality: 0.5},
	)
	engine := policy.NewEngine(policy.WithLogger(log.New(io.Discard, "", 0)))
	sink := audit.NewMemorySink()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(NewProviderHealthCollector(reg.Snapshot))
	coordinator := NewCoordinator(engine, reg, sink,
		WithMetrics(NewMetrics(promReg)),
		WithCoordinatorLogger(quietLogger()))

	cfg := ServerConfig{
		Coordinator:    coordinator,
		Providers:      reg,
		Policies:       engine,
		Oversight:      sink,
		Events:         sink,
		Auth:           NewAdminAuth(testSecret),
		Gatherer:       promReg,
		AllowedOrigins: []string{"https://app.example.com"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return &serverFixture{handler: NewServer(cfg).Handler(), sink: sink, token: adminToken(t)}
}

func (f *serverFixture) do(t *testing.T, method, path, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	detail, ok := body["error"].(map[string]interface{})
	require.True(t, ok, "error envelope expected, got %s", rec.Body.String())
	return detail["code"].(string)
}

func TestServer_Health(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "llm-gateway", body["service"])

	components := body["components"].(map[string]interface{})
	providers := components["providers"].(map[string]interface{})
	assert.Equal(t, 2.0, providers["registered"])
	assert.Equal(t, 1.0, providers["healthy"])
	assert.Equal(t, "builtin-1", components["policy"].(map[string]interface{})["version"])
}

func TestServer_Orchestrate(t *testing.T) {
	f := newServerFixture(t, nil)

	t.Run("allowed", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/orchestrate",
			`{"prompt":"What's a good morning routine for an INFP?","userId":"user-1","mbtiType":"INFP"}`, false)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp OrchestrationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "primary", resp.ProviderID)
		assert.Equal(t, policy.ActionAllow, resp.PolicyDecision.Action)
		assert.NotEmpty(t, resp.AuditTrailID)
	})

	t.Run("policy refusal is a normal response", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/orchestrate", `{"prompt":"I want to end my life","userId":"user-1"}`, false)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "REFUSE", body["policyDecision"].(map[string]interface{})["action"])
	})

	t.Run("missing prompt", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/orchestrate", `{"userId":"user-1"}`, false)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "invalid request: prompt is required", body["error"])
		assert.NotEmpty(t, body["auditTrailId"])
	})

	t.Run("malformed json", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/orchestrate", `{"prompt":`, false)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["success"])
	})
}

func TestServer_Providers(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/providers", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Providers []llm.ProviderDescriptor `json:"providers"`
		Ranking   []llm.ScoredProvider     `json:"ranking"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 2)
	assert.Equal(t, llm.HealthStatusHealthy, body.Providers[0].Health)
	assert.Equal(t, llm.HealthStatusDown, body.Providers[1].Health)
	require.Len(t, body.Ranking, 1)
	assert.Equal(t, "primary", body.Ranking[0].ProviderID)
	assert.NotContains(t, rec.Body.String(), "api_key")
}

func TestServer_Metrics(t *testing.T) {
	f := newServerFixture(t, nil)
	f.do(t, http.MethodPost, "/api/v1/orchestrate", `{"prompt":"I want to end my life","userId":"user-1"}`, false)

	rec := f.do(t, http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `gateway_requests_total{outcome="refused"} 1`)
	assert.Contains(t, body, `gateway_provider_health{provider="primary",type="local"} 1`)
	assert.Contains(t, body, `gateway_provider_health{provider="offline",type="local"} 0`)
}

func TestServer_AdminRoutesRequireToken(t *testing.T) {
	f := newServerFixture(t, nil)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/policies"},
		{http.MethodPost, "/api/v1/policies/reload"},
		{http.MethodGet, "/api/v1/oversight/abc"},
		{http.MethodPost, "/api/v1/oversight/abc/close"},
		{http.MethodGet, "/api/v1/audit/abc"},
	} {
		rec := f.do(t, route.method, route.path, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
		assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
	}

	disabled := newServerFixture(t, func(c *ServerConfig) { c.Auth = NewAdminAuth("") })
	rec := disabled.do(t, http.MethodGet, "/api/v1/policies", "", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_PolicyInfo(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/policies", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "builtin-1", body["version"])
	assert.Equal(t, policy.OriginBuiltin, body["origin"])
}

type fakePolicyAdmin struct {
	err error
}

func (f *fakePolicyAdmin) Reload(ctx context.Context) error { return f.err }
func (f *fakePolicyAdmin) Info() policy.Info                { return policy.Info{Version: "v7", Origin: "file:rules.yaml"} }

func TestServer_PolicyReload(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"reloaded", nil, http.StatusOK, ""},
		{"no source", policy.ErrNoSource, http.StatusConflict, "NO_SOURCE"},
		{"invalid rule", &policy.RuleError{RuleID: "r1", Field: "pattern", Cause: errors.New("bad regex")}, http.StatusUnprocessableEntity, "INVALID_RULE_SET"},
		{"undecodable document", fmt.Errorf("%w: yaml: line 3", policy.ErrInvalidDocument), http.StatusUnprocessableEntity, "INVALID_RULE_SET"},
		{"empty document", policy.ErrEmptyDocument, http.StatusUnprocessableEntity, "INVALID_RULE_SET"},
		{"source down", errors.New("redis: connection refused"), http.StatusServiceUnavailable, "SOURCE_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture(t, func(c *ServerConfig) { c.Policies = &fakePolicyAdmin{err: tt.err} })

			rec := f.do(t, http.MethodPost, "/api/v1/policies/reload", "", true)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code == "" {
				assert.Equal(t, "v7", decodeBody(t, rec)["version"])
				return
			}
			assert.Equal(t, tt.code, errorCode(t, rec))
		})
	}
}

func TestServer_OversightLifecycle(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/orchestrate", `{"prompt":"How do I bypass the admin login?","userId":"user-1"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	traceID := decodeBody(t, rec)["auditTrailId"].(string)

	rec = f.do(t, http.MethodGet, "/api/v1/oversight/"+traceID, "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "open", decodeBody(t, rec)["status"])

	rec = f.do(t, http.MethodPost, "/api/v1/oversight/"+traceID+"/close", `{"note":"reviewed, benign"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	closed := decodeBody(t, rec)
	assert.Equal(t, "closed", closed["status"])
	assert.Equal(t, "ops@example.com", closed["closedBy"])
	assert.Equal(t, "reviewed, benign", closed["closingNote"])

	rec = f.do(t, http.MethodPost, "/api/v1/oversight/"+traceID+"/close", `{"closedBy":"someone-else"}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_CLOSED", errorCode(t, rec))

	rec = f.do(t, http.MethodGet, "/api/v1/oversight/unknown-trace", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/oversight/unknown-trace/close", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/oversight/"+traceID+"/close", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_AuditTrail(t *testing.T) {
	f := newServerFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/orchestrate", `{"prompt":"What's a good morning routine for an INFP?","userId":"user-1"}`, false)
	traceID := decodeBody(t, rec)["auditTrailId"].(string)

	rec = f.do(t, http.MethodGet, "/api/v1/audit/"+traceID, "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		TraceID string `json:"traceId"`
		Events  []struct {
			EventType string `json:"eventType"`
			Verified  bool   `json:"verified"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, traceID, body.TraceID)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "model_output", body.Events[0].EventType)
	assert.True(t, body.Events[0].Verified)

	rec = f.do(t, http.MethodGet, "/api/v1/audit/unknown-trace", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	noReader := newServerFixture(t, func(c *ServerConfig) { c.Events = nil })
	rec = noReader.do(t, http.MethodGet, "/api/v1/audit/"+traceID, "", true)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_CORS(t *testing.T) {
	f := newServerFixture(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orchestrate", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
