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

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
)

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(Config{})
	require.Error(t, err)

	p, err := NewProvider(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, llm.ProviderTypeOpenAI, p.Type())
	assert.Equal(t, DefaultModel, p.model)
	assert.True(t, llm.HasFactory(llm.ProviderTypeOpenAI))
}

func TestGenerate_Success(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"message": {"role": "assistant", "content": "Try journaling."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 30, "completion_tokens": 5, "total_tokens": 35}
		}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "sk-test", BaseURL: server.URL})
	require.NoError(t, err)

	res, err := p.Generate(context.Background(), "How do I reflect?", llm.GenerateOptions{ContextTag: "reflection"})
	require.NoError(t, err)
	assert.Equal(t, "Try journaling.", res.Response)
	assert.Equal(t, 35, res.TokensUsed)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", res.Model)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Contains(t, captured.Messages[0].Content, "reflection")
	assert.Equal(t, "How do I reflect?", captured.Messages[1].Content)
	assert.Equal(t, DefaultMaxTokens, captured.MaxTokens)
	assert.Equal(t, DefaultTemperature, captured.Temperature)
}

func TestGenerate_UsageWithoutTotal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":3,"completion_tokens":4}}`))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	res, err := p.Generate(context.Background(), "x", llm.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 7, res.TokensUsed)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
	}{
		{"unauthorized", 401, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`, llm.ErrCodeAuth},
		{"rate limited", 429, `{"error":{"message":"Rate limit reached"}}`, llm.ErrCodeRateLimit},
		{"empty choices", 200, `{"choices":[]}`, llm.ErrCodeEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p, err := NewProvider(Config{Name: "oai", APIKey: "k", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = p.Generate(context.Background(), "x", llm.GenerateOptions{})
			var pe *llm.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "oai", pe.Provider)
			assert.Equal(t, tt.wantCode, pe.Code)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	p, err := NewProvider(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	ok, err := p.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)

	status.Store(http.StatusUnauthorized)
	ok, err = p.HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}
