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

// Package ollama implements the adapter for self-hosted Ollama servers.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
)

const (
	DefaultModel       = "llama3.1"
	DefaultTimeout     = 120 * time.Second
	DefaultTemperature = 0.7
)

func init() {
	llm.RegisterFactory(llm.ProviderTypeOllama, NewFromConfig)
}

// Config holds configuration for the Ollama provider.
type Config struct {
	Name     string
	Endpoint string
	Model    string
	Timeout  time.Duration
	Client   *http.Client
}

// Provider implements llm.Provider for Ollama's /api/generate.
type Provider struct {
	name     string
	endpoint string
	model    string
	client   *http.Client
}

// NewProvider creates an Ollama provider.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ollama endpoint is required")
	}
	if cfg.Name == "" {
		cfg.Name = string(llm.ProviderTypeOllama)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Provider{
		name:     cfg.Name,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		client:   client,
	}, nil
}

// NewFromConfig is the llm.ProviderFactory for Ollama.
func NewFromConfig(cfg llm.ProviderConfig) (llm.Provider, error) {
	return NewProvider(Config{
		Name:     cfg.Name,
		Endpoint: cfg.Endpoint,
		Model:    cfg.Model,
		Timeout:  cfg.Timeout(DefaultTimeout),
	})
}

func (p *Provider) Name() string           { return p.name }
func (p *Provider) Type() llm.ProviderType { return llm.ProviderTypeOllama }

// Generate runs a non-streaming /api/generate call.
func (p *Provider) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (*llm.GenerateResult, error) {
	start := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	reqBody := generateRequest{
		Model:  p.model,
		Prompt: prompt,
		System: llm.BuildSystemPrompt(opts),
		Stream: false,
		Options: map[string]interface{}{
			"temperature": opts.TemperatureOr(DefaultTemperature),
		},
	}
	if opts.MaxTokens > 0 {
		reqBody.Options["num_predict"] = opts.MaxTokens
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, llm.WrapError(p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, llm.WrapError(p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.WrapError(p.name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		var errResp struct {
			Error string `json:"error"`
		}
		message := fmt.Sprintf("unexpected status %d", resp.StatusCode)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		pe := llm.NewProviderError(p.name, llm.CodeForStatus(resp.StatusCode), message)
		pe.StatusCode = resp.StatusCode
		return nil, pe
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, llm.WrapError(p.name, fmt.Errorf("failed to decode response: %w", err))
	}
	if genResp.Response == "" {
		return nil, llm.NewProviderError(p.name, llm.ErrCodeEmptyResponse, "response contained no text")
	}

	tokens := genResp.PromptEvalCount + genResp.EvalCount
	if tokens == 0 {
		tokens = llm.EstimateTokens(prompt) + llm.EstimateTokens(genResp.Response)
	}

	return &llm.GenerateResult{
		Response:   genResp.Response,
		TokensUsed: tokens,
		Latency:    time.Since(start),
		Model:      genResp.Model,
	}, nil
}

// HealthCheck lists local models via /api/tags.
func (p *Provider) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("tags endpoint returned status %d", resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Errorf("failed to decode tags: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == p.model || strings.HasPrefix(m.Name, p.model+":") {
			return true, nil
		}
	}
	return false, fmt.Errorf("model %s is not pulled on %s", p.model, p.endpoint)
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}
