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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/policy"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/shared/config"
)

func localConfig() *config.Config {
	cfg := config.Default()
	cfg.Providers = []config.ProviderConfig{
		{Name: "local", Type: "local", Enabled: true, QualityScore: 0.5},
	}
	return cfg
}

func TestBuild_InMemoryGateway(t *testing.T) {
	app, err := Build(context.Background(), localConfig())
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, 1, app.Registry.Count())
	assert.Len(t, app.Registry.ListHealthy(), 1)
	assert.Empty(t, app.background, "builtin rules need no watcher")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orchestrate",
		strings.NewReader(`{"prompt":"Help me with a morning routine","userId":"user-1","mbtiType":"INTJ"}`))
	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"providerId":"local"`)

	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), `gateway_requests_total{outcome="success"} 1`)
}

func TestBuild_FilePolicySource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, policy.DefaultRuleSetYAML(), 0o600))

	cfg := localConfig()
	cfg.Policy.Source = config.PolicySourceFile
	cfg.Policy.RulesPath = path

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "file:"+path, app.Policy.Info().Origin)
	assert.Len(t, app.background, 1)
}

func TestBuild_MissingRulesFileFallsBackToBuiltin(t *testing.T) {
	cfg := localConfig()
	cfg.Policy.Source = config.PolicySourceFile
	cfg.Policy.RulesPath = filepath.Join(t.TempDir(), "missing.yaml")

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, policy.OriginBuiltin, app.Policy.Info().Origin)
}

func TestBuild_Failures(t *testing.T) {
	cfg := localConfig()
	cfg.Audit.Driver = "cassandra"
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)

	cfg = localConfig()
	cfg.Policy.Source = "etcd"
	_, err = Build(context.Background(), cfg)
	assert.Error(t, err)

	cfg = localConfig()
	cfg.Policy.Source = config.PolicySourceRedis
	cfg.Policy.RedisURL = "not a url"
	_, err = Build(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuild_SpoolFallbackWrapsSink(t *testing.T) {
	cfg := localConfig()
	cfg.Audit.FallbackPath = t.TempDir()

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()

	resp := app.Coordinator.Orchestrate(context.Background(), OrchestrationRequest{Prompt: "I want to end my life", UserID: "user-1"})
	assert.False(t, resp.Success)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/"+resp.AuditTrailID, nil)
	app.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "admin routes are disabled without a secret")
}

func TestProviderConfigs(t *testing.T) {
	out := ProviderConfigs([]config.ProviderConfig{{
		Name:           "claude",
		Type:           "anthropic",
		Enabled:        true,
		DisplayName:    "Claude",
		Credential:     "sk-test",
		CredentialRef:  "env:ANTHROPIC_API_KEY",
		CostPerToken:   0.000015,
		QualityScore:   0.9,
		TimeoutSeconds: 20,
	}})

	require.Len(t, out, 1)
	assert.Equal(t, llm.ProviderTypeAnthropic, out[0].Type)
	assert.Equal(t, "sk-test", out[0].APIKey)
	assert.Equal(t, "Claude", out[0].DisplayName)
	assert.Equal(t, 20, out[0].TimeoutSeconds)
	assert.True(t, out[0].Enabled)
}
