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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProviderType ProviderType = "test-fake"

func TestCreateProvider(t *testing.T) {
	RegisterFactory(testProviderType, func(cfg ProviderConfig) (Provider, error) {
		if cfg.Model == "broken" {
			return nil, errors.New("bad model")
		}
		return &fakeProvider{name: cfg.Name, healthy: true}, nil
	})
	t.Cleanup(func() { UnregisterFactory(testProviderType) })

	assert.True(t, HasFactory(testProviderType))
	assert.Contains(t, ListFactories(), testProviderType)

	p, err := CreateProvider(ProviderConfig{Name: "fake-1", Type: testProviderType})
	require.NoError(t, err)
	assert.Equal(t, "fake-1", p.Name())

	_, err = CreateProvider(ProviderConfig{Name: "fake-2", Type: testProviderType, Model: "broken"})
	var fe *FactoryError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrFactoryCreationFailed, fe.Code)

	_, err = CreateProvider(ProviderConfig{Name: "x", Type: "nope"})
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ErrFactoryNotRegistered, fe.Code)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProviderConfig
		wantErr bool
	}{
		{"missing type", ProviderConfig{Name: "a"}, true},
		{"missing name", ProviderConfig{Type: ProviderTypeLocal}, true},
		{"anthropic without key", ProviderConfig{Name: "a", Type: ProviderTypeAnthropic}, true},
		{"openai with key", ProviderConfig{Name: "a", Type: ProviderTypeOpenAI, APIKey: "k"}, false},
		{"bedrock without region", ProviderConfig{Name: "a", Type: ProviderTypeBedrock}, true},
		{"ollama without endpoint", ProviderConfig{Name: "a", Type: ProviderTypeOllama}, true},
		{"quality out of range", ProviderConfig{Name: "a", Type: ProviderTypeLocal, QualityScore: 2}, true},
		{"negative cost", ProviderConfig{Name: "a", Type: ProviderTypeLocal, CostPerToken: -0.1}, true},
		{"local ok", ProviderConfig{Name: "a", Type: ProviderTypeLocal, QualityScore: 0.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildRegistry(t *testing.T) {
	RegisterFactory(testProviderType, func(cfg ProviderConfig) (Provider, error) {
		return &fakeProvider{name: cfg.Name, healthy: true}, nil
	})
	t.Cleanup(func() { UnregisterFactory(testProviderType) })

	reg := quietRegistry()
	errs := BuildRegistry(reg, []ProviderConfig{
		{Name: "one", Type: testProviderType, Enabled: true, QualityScore: 0.9, CostPerToken: 0.00001},
		{Name: "disabled", Type: testProviderType, Enabled: false},
		{Name: "bad", Type: "unknown", Enabled: true},
		{Name: "two", Type: testProviderType, Enabled: true, DisplayName: "Two"},
	})
	require.Len(t, errs, 1)

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "one", snap[0].ID)
	assert.Equal(t, 0, snap[0].RegistrationOrder)
	assert.Equal(t, 0.9, snap[0].QualityScore)
	assert.Equal(t, "Two", snap[1].DisplayName)
	assert.Equal(t, 1, snap[1].RegistrationOrder)
}

func TestProviderConfigTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, ProviderConfig{}.Timeout(30*time.Second))
	assert.Equal(t, 5*time.Second, ProviderConfig{TimeoutSeconds: 5}.Timeout(30*time.Second))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError("p", nil))

	pe := NewProviderError("p", ErrCodeAuth, "bad key")
	assert.Same(t, pe, WrapError("p", pe))

	timeout := WrapError("p", context.DeadlineExceeded)
	assert.Equal(t, ErrCodeTimeout, timeout.Code)
	assert.True(t, timeout.Retryable)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	generic := WrapError("p", errors.New("dial tcp: refused"))
	assert.Equal(t, ErrCodeUnavailable, generic.Code)
	assert.Equal(t, "p error: dial tcp: refused", generic.Error())
}

func TestCodeForStatus(t *testing.T) {
	assert.Equal(t, ErrCodeAuth, CodeForStatus(401))
	assert.Equal(t, ErrCodeRateLimit, CodeForStatus(429))
	assert.Equal(t, ErrCodeServerError, CodeForStatus(503))
	assert.Equal(t, ErrCodeTimeout, CodeForStatus(504))
	assert.Equal(t, ErrCodeInvalidRequest, CodeForStatus(400))
}
