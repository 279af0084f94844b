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
	"errors"
	"fmt"
	"time"
)

// ProviderType identifies the adapter implementation behind a provider.
type ProviderType string

// Provider types with a built-in adapter.
const (
	// ProviderTypeAnthropic represents Anthropic's Claude models.
	ProviderTypeAnthropic ProviderType = "anthropic"

	// ProviderTypeOpenAI represents OpenAI chat completion models.
	ProviderTypeOpenAI ProviderType = "openai"

	// ProviderTypeBedrock represents AWS Bedrock managed models.
	ProviderTypeBedrock ProviderType = "bedrock"

	// ProviderTypeOllama represents self-hosted Ollama models.
	ProviderTypeOllama ProviderType = "ollama"

	// ProviderTypeLocal represents the in-process offline provider.
	ProviderTypeLocal ProviderType = "local"
)

// HealthStatus is a provider's availability as of its last health check.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusDown     HealthStatus = "down"
)

// GenerateOptions carries per-call generation parameters.
type GenerateOptions struct {
	// MaxTokens caps the completion length. Zero means the adapter default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0-1.0). Nil means the adapter default.
	Temperature *float64 `json:"temperature,omitempty"`

	// Timeout bounds the vendor call. Zero leaves the caller's deadline in charge.
	Timeout time.Duration `json:"-"`

	// PersonalityType is the caller's optional personality tag (e.g. "INFP").
	PersonalityType string `json:"personality_type,omitempty"`

	// ContextTag is free-form caller context folded into the system prompt.
	ContextTag string `json:"context_tag,omitempty"`
}

// TemperatureOr returns the requested temperature or fallback when unset.
func (o GenerateOptions) TemperatureOr(fallback float64) float64 {
	if o.Temperature == nil {
		return fallback
	}
	return *o.Temperature
}

// MaxTokensOr returns the requested token cap or fallback when unset.
func (o GenerateOptions) MaxTokensOr(fallback int) int {
	if o.MaxTokens <= 0 {
		return fallback
	}
	return o.MaxTokens
}

// GenerateResult is the vendor-neutral shape every adapter normalizes to.
type GenerateResult struct {
	Response   string        `json:"response"`
	TokensUsed int           `json:"tokens_used"`
	Latency    time.Duration `json:"latency"`
	Model      string        `json:"model,omitempty"`
}

// ProviderError is the only error shape adapters return. Vendor payloads
// never travel past it.
type ProviderError struct {
	// Provider is the id of the provider that failed.
	Provider string `json:"provider"`

	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// StatusCode is the HTTP status code (if applicable).
	StatusCode int `json:"status_code,omitempty"`

	// Retryable indicates if the request could succeed if sent again.
	Retryable bool `json:"retryable"`

	// Cause is the underlying error (if any).
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Common error codes.
const (
	ErrCodeRateLimit      = "rate_limit"
	ErrCodeAuth           = "authentication_error"
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeServerError    = "server_error"
	ErrCodeTimeout        = "timeout"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeEmptyResponse  = "empty_response"
	ErrCodeInternal       = "internal_error"
)

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, code, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: isRetryableCode(code),
	}
}

// WrapError converts any adapter failure into a *ProviderError for provider.
// An existing *ProviderError is returned unchanged.
func WrapError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	code := ErrCodeUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case errors.Is(err, context.Canceled):
		code = ErrCodeUnavailable
	}
	wrapped := NewProviderError(provider, code, err.Error())
	wrapped.Cause = err
	return wrapped
}

// CodeForStatus maps an HTTP status code from a vendor API to an error code.
func CodeForStatus(status int) string {
	switch {
	case status == 401 || status == 403:
		return ErrCodeAuth
	case status == 429:
		return ErrCodeRateLimit
	case status == 408 || status == 504:
		return ErrCodeTimeout
	case status >= 500:
		return ErrCodeServerError
	case status >= 400:
		return ErrCodeInvalidRequest
	default:
		return ErrCodeUnavailable
	}
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeRateLimit, ErrCodeServerError, ErrCodeTimeout, ErrCodeUnavailable:
		return true
	default:
		return false
	}
}

// ErrNoHealthyProvider matches every NoHealthyProviderError via errors.Is.
var ErrNoHealthyProvider = errors.New("no healthy provider available")

// NoHealthyProviderError is returned when selection has nothing to choose from.
type NoHealthyProviderError struct {
	// Registered is the number of providers known to the registry.
	Registered int
}

func (e *NoHealthyProviderError) Error() string {
	return fmt.Sprintf("no healthy provider available (%d registered)", e.Registered)
}

// Is reports whether target is ErrNoHealthyProvider.
func (e *NoHealthyProviderError) Is(target error) bool {
	return target == ErrNoHealthyProvider
}
