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
	"fmt"
	"sort"
	"sync"
)

// ProviderFactory creates a Provider instance from configuration.
// Factories should validate the config and return an error if invalid.
type ProviderFactory func(config ProviderConfig) (Provider, error)

type factoryRegistry struct {
	factories map[ProviderType]ProviderFactory
	mu        sync.RWMutex
}

var globalFactories = &factoryRegistry{
	factories: make(map[ProviderType]ProviderFactory),
}

// RegisterFactory registers a factory function for a provider type.
// Adapter packages call this from init(); a later registration for the
// same type replaces the earlier one.
//
//	func init() {
//	    llm.RegisterFactory(llm.ProviderTypeOllama, NewFromConfig)
//	}
func RegisterFactory(providerType ProviderType, factory ProviderFactory) {
	globalFactories.mu.Lock()
	defer globalFactories.mu.Unlock()
	globalFactories.factories[providerType] = factory
}

// UnregisterFactory removes a factory for a provider type.
func UnregisterFactory(providerType ProviderType) bool {
	globalFactories.mu.Lock()
	defer globalFactories.mu.Unlock()
	_, existed := globalFactories.factories[providerType]
	delete(globalFactories.factories, providerType)
	return existed
}

// HasFactory returns true if a factory is registered for the provider type.
func HasFactory(providerType ProviderType) bool {
	globalFactories.mu.RLock()
	defer globalFactories.mu.RUnlock()
	_, ok := globalFactories.factories[providerType]
	return ok
}

// ListFactories returns all registered provider types, sorted.
func ListFactories() []ProviderType {
	globalFactories.mu.RLock()
	defer globalFactories.mu.RUnlock()
	types := make([]ProviderType, 0, len(globalFactories.factories))
	for pt := range globalFactories.factories {
		types = append(types, pt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// CreateProvider builds a provider through the factory registered for
// config.Type.
func CreateProvider(config ProviderConfig) (Provider, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	globalFactories.mu.RLock()
	factory := globalFactories.factories[config.Type]
	globalFactories.mu.RUnlock()

	if factory == nil {
		return nil, &FactoryError{
			ProviderType: config.Type,
			Code:         ErrFactoryNotRegistered,
			Message:      fmt.Sprintf("no factory registered for provider type %q", config.Type),
		}
	}

	provider, err := factory(config)
	if err != nil {
		return nil, &FactoryError{
			ProviderType: config.Type,
			Code:         ErrFactoryCreationFailed,
			Message:      fmt.Sprintf("failed to create provider: %v", err),
			Cause:        err,
		}
	}
	return provider, nil
}

// BuildRegistry creates every enabled provider in configs and registers it
// with reg in slice order. Providers that fail to build are reported and
// skipped so one bad credential does not take the gateway down.
func BuildRegistry(reg *Registry, configs []ProviderConfig) []error {
	var errs []error
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		p, err := CreateProvider(cfg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := reg.Register(cfg.Descriptor(), p); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// FactoryError represents an error during provider factory operations.
type FactoryError struct {
	ProviderType ProviderType
	Code         string
	Message      string
	Cause        error
}

// Factory error codes.
const (
	ErrFactoryNotRegistered  = "factory_not_registered"
	ErrFactoryCreationFailed = "factory_creation_failed"
	ErrFactoryInvalidConfig  = "factory_invalid_config"
)

// Error implements the error interface.
func (e *FactoryError) Error() string {
	if e.ProviderType != "" {
		return fmt.Sprintf("factory error for %q: %s", e.ProviderType, e.Message)
	}
	return fmt.Sprintf("factory error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *FactoryError) Unwrap() error {
	return e.Cause
}

// ValidateConfig checks the fields every adapter needs.
func ValidateConfig(config ProviderConfig) error {
	if config.Type == "" {
		return &FactoryError{Code: ErrFactoryInvalidConfig, Message: "provider type is required"}
	}
	if config.Name == "" {
		return &FactoryError{ProviderType: config.Type, Code: ErrFactoryInvalidConfig, Message: "provider name is required"}
	}

	switch config.Type {
	case ProviderTypeOpenAI, ProviderTypeAnthropic:
		if config.APIKey == "" {
			return &FactoryError{
				ProviderType: config.Type,
				Code:         ErrFactoryInvalidConfig,
				Message:      "API key is required",
			}
		}
	case ProviderTypeBedrock:
		if config.Region == "" {
			return &FactoryError{
				ProviderType: config.Type,
				Code:         ErrFactoryInvalidConfig,
				Message:      "region is required for Bedrock",
			}
		}
	case ProviderTypeOllama:
		if config.Endpoint == "" {
			return &FactoryError{
				ProviderType: config.Type,
				Code:         ErrFactoryInvalidConfig,
				Message:      "endpoint is required for Ollama",
			}
		}
	}

	if config.QualityScore < 0 || config.QualityScore > 1 {
		return &FactoryError{
			ProviderType: config.Type,
			Code:         ErrFactoryInvalidConfig,
			Message:      "quality_score must be within [0,1]",
		}
	}
	if config.CostPerToken < 0 {
		return &FactoryError{
			ProviderType: config.Type,
			Code:         ErrFactoryInvalidConfig,
			Message:      "cost_per_token cannot be negative",
		}
	}
	return nil
}
