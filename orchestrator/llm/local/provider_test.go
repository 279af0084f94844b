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

package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
)

func TestGenerate_TopicMatch(t *testing.T) {
	p := NewProvider(Config{})

	res, err := p.Generate(context.Background(), "What's a good morning routine for an INFP?", llm.GenerateOptions{PersonalityType: "INFP"})
	require.NoError(t, err)
	assert.Contains(t, res.Response, "routine")
	assert.Contains(t, res.Response, "quiet time")
	assert.Greater(t, res.TokensUsed, 0)
	assert.Equal(t, "local-coach-v1", res.Model)
}

func TestGenerate_Fallback(t *testing.T) {
	p := NewProvider(Config{})

	res, err := p.Generate(context.Background(), "Tell me something", llm.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, fallbackAdvice, res.Response)
}

func TestGenerate_RespectsMaxTokens(t *testing.T) {
	p := NewProvider(Config{})

	res, err := p.Generate(context.Background(), "I am stressed", llm.GenerateOptions{MaxTokens: 5})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(res.Response), 20)
	assert.NotEmpty(t, res.Response)
}

func TestGenerate_Cancellation(t *testing.T) {
	p := NewProvider(Config{Latency: time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Generate(ctx, "hi", llm.GenerateOptions{})
	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, llm.ErrCodeTimeout, pe.Code)
}

func TestHealthCheck(t *testing.T) {
	ok, err := NewProvider(Config{}).HealthCheck(context.Background())
	assert.True(t, ok)
	assert.NoError(t, err)

	ok, err = NewProvider(Config{Unavailable: true}).HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	p, err := llm.CreateProvider(llm.ProviderConfig{Name: "offline", Type: llm.ProviderTypeLocal})
	require.NoError(t, err)
	assert.Equal(t, "offline", p.Name())
	assert.Equal(t, llm.ProviderTypeLocal, p.Type())
}
