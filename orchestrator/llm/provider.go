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

package llm

import (
	"context"
	"time"
)

// Provider is the adapter contract every vendor implementation satisfies.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider id used for registration, selection and audit.
	Name() string

	// Type returns the adapter implementation type.
	Type() ProviderType

	// Generate sends prompt to the vendor with a system prompt assembled by
	// BuildSystemPrompt and normalizes the vendor's token accounting.
	// Every returned error is a *ProviderError.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error)

	// HealthCheck reports whether the vendor endpoint is usable right now.
	// The registry treats false, an error, a panic or a timeout as down.
	HealthCheck(ctx context.Context) (bool, error)
}

// ProviderDescriptor is the registry's view of one configured provider.
// Health, LatencyMs, LastChecked, LastHealthy and LastError are written only
// by the registry's health refresh.
type ProviderDescriptor struct {
	ID            string       `json:"id"`
	DisplayName   string       `json:"display_name"`
	Type          ProviderType `json:"type"`
	Endpoint      string       `json:"endpoint,omitempty"`
	CredentialRef string       `json:"credential_ref,omitempty"`

	// CostPerToken is in currency units per token.
	CostPerToken float64 `json:"cost_per_token"`

	// QualityScore is a static score in [0,1].
	QualityScore float64 `json:"quality_score"`

	// RegistrationOrder breaks selection ties; lower registered first.
	RegistrationOrder int `json:"registration_order"`

	Health      HealthStatus `json:"health"`
	LatencyMs   float64      `json:"latency_ms"`
	LastChecked time.Time    `json:"last_checked,omitempty"`
	LastHealthy time.Time    `json:"last_healthy,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
}

// ProviderConfig describes one provider to build through a registered factory.
type ProviderConfig struct {
	// Name is the unique provider id.
	Name string `json:"name" yaml:"name"`

	// Type selects the adapter factory.
	Type ProviderType `json:"type" yaml:"type"`

	DisplayName string `json:"display_name,omitempty" yaml:"display_name"`
	Endpoint    string `json:"endpoint,omitempty" yaml:"endpoint"`
	Model       string `json:"model,omitempty" yaml:"model"`

	// APIKey is the resolved credential. It is never logged or returned.
	APIKey string `json:"-" yaml:"credential"`

	// CredentialRef names where APIKey came from (env:VAR, secretsmanager:id).
	CredentialRef string `json:"credential_ref,omitempty" yaml:"credential_ref"`

	// Region is the cloud region (for AWS Bedrock).
	Region string `json:"region,omitempty" yaml:"region"`

	CostPerToken float64 `json:"cost_per_token" yaml:"cost_per_token"`
	QualityScore float64 `json:"quality_score" yaml:"quality_score"`

	// TimeoutSeconds bounds each vendor call (0 = adapter default).
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`

	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Descriptor returns the static part of the descriptor for this config.
func (c ProviderConfig) Descriptor() ProviderDescriptor {
	display := c.DisplayName
	if display == "" {
		display = c.Name
	}
	return ProviderDescriptor{
		ID:            c.Name,
		DisplayName:   display,
		Type:          c.Type,
		Endpoint:      c.Endpoint,
		CredentialRef: c.CredentialRef,
		CostPerToken:  c.CostPerToken,
		QualityScore:  c.QualityScore,
	}
}

// Timeout returns the configured call timeout, or fallback when unset.
func (c ProviderConfig) Timeout(fallback time.Duration) time.Duration {
	if c.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
