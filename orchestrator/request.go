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
	"strings"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/policy"
)

// OrchestrationRequest is one inbound call. It is treated as immutable once
// received.
type OrchestrationRequest struct {
	Prompt    string `json:"prompt"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`

	// MBTIType is the caller's optional personality tag (e.g. "INFP").
	MBTIType string `json:"mbtiType,omitempty"`

	// Context is a free-form tag folded into the provider system prompt.
	Context string `json:"context,omitempty"`

	// SafetyLevel is one of low, medium, high or maximum.
	SafetyLevel string `json:"safetyLevel,omitempty"`

	PreferredProvider string   `json:"preferredProvider,omitempty"`
	MaxTokens         int      `json:"maxTokens,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
}

// Validate checks the fields without which a request cannot be processed.
func (r OrchestrationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Field: "prompt", Message: "prompt is required"}
	}
	if strings.TrimSpace(r.UserID) == "" {
		return &ValidationError{Field: "userId", Message: "userId is required"}
	}
	return nil
}

func (r OrchestrationRequest) policyRequest() policy.Request {
	return policy.Request{
		Prompt:      r.Prompt,
		SafetyLevel: policy.SafetyLevel(strings.ToLower(strings.TrimSpace(r.SafetyLevel))),
		UserID:      r.UserID,
	}
}

func (r OrchestrationRequest) generateOptions() llm.GenerateOptions {
	opts := llm.GenerateOptions{
		PersonalityType: strings.TrimSpace(r.MBTIType),
		ContextTag:      strings.TrimSpace(r.Context),
	}
	if r.MaxTokens > 0 {
		opts.MaxTokens = r.MaxTokens
	}
	if r.Temperature != nil {
		t := *r.Temperature
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		opts.Temperature = &t
	}
	return opts
}

// OrchestrationResponse is produced exactly once per request. Success is the
// business outcome; transport-level failures are not represented here.
type OrchestrationResponse struct {
	Success      bool   `json:"success"`
	Response     string `json:"response,omitempty"`
	ProviderID   string `json:"providerId,omitempty"`
	ProviderName string `json:"providerName,omitempty"`
	TokensUsed   int    `json:"tokensUsed"`

	// Latency is the provider generation time in milliseconds.
	Latency int64   `json:"latency"`
	Cost    float64 `json:"cost"`

	PolicyDecision policy.Decision `json:"policyDecision"`
	AuditTrailID   string          `json:"auditTrailId"`
	Error          string          `json:"error,omitempty"`

	err error
}

// Err returns the typed cause of an unsuccessful response: a
// *PolicyBlockedError, *ValidationError, *llm.NoHealthyProviderError,
// *llm.ProviderError or *InternalError. It is nil on success and never
// serialized.
func (r *OrchestrationResponse) Err() error {
	return r.err
}
