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

// Package local implements an offline provider that answers from built-in
// coaching templates. It has no network dependency and no cost, and it is
// selected like any other provider.
package local

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
)

func init() {
	llm.RegisterFactory(llm.ProviderTypeLocal, NewFromConfig)
}

type topic struct {
	keywords []string
	advice   string
}

var topics = []topic{
	{
		keywords: []string{"morning", "routine", "habit", "wake"},
		advice: "Build the routine around one anchor you already do every day. Add a single small habit " +
			"after it (two minutes of stretching or writing one intention) and keep it for a week before adding more.",
	},
	{
		keywords: []string{"stress", "anxious", "overwhelm", "pressure", "worried"},
		advice: "Name what is within your control today and pick one item to finish. Slow breathing " +
			"(inhale four counts, exhale six) for two minutes helps settle the body before deciding.",
	},
	{
		keywords: []string{"focus", "procrastinat", "productiv", "distract"},
		advice: "Work in a short, protected block of 25 minutes with notifications off, then take a five-minute " +
			"break. Decide the very next physical action before you start.",
	},
	{
		keywords: []string{"relationship", "friend", "partner", "conflict", "communicat"},
		advice: "Describe what happened and how it affected you without assigning motives, then ask the other " +
			"person what they experienced. Listening fully before answering lowers defensiveness on both sides.",
	},
	{
		keywords: []string{"sleep", "tired", "rest", "energy"},
		advice: "Keep a consistent wake time, dim screens an hour before bed and move your body during daylight. " +
			"Energy usually follows rhythm more than effort.",
	},
}

const fallbackAdvice = "Start by writing down what outcome you want and one step you can take in the next 24 hours. " +
	"Reflect afterwards on what helped and adjust from there."

var typeHints = map[byte]string{
	'I': "Give yourself quiet time to process before acting.",
	'E': "Talking it through with someone you trust can help you find momentum.",
}

// Config holds configuration for the local provider.
type Config struct {
	Name string
	// Latency simulates processing time; zero answers immediately.
	Latency time.Duration
	// Unavailable makes HealthCheck report down (maintenance toggle).
	Unavailable bool
}

// Provider implements llm.Provider without any network dependency.
type Provider struct {
	name        string
	latency     time.Duration
	unavailable bool
}

// NewProvider creates the offline provider.
func NewProvider(cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = string(llm.ProviderTypeLocal)
	}
	return &Provider{name: cfg.Name, latency: cfg.Latency, unavailable: cfg.Unavailable}
}

// NewFromConfig is the llm.ProviderFactory for the local provider.
func NewFromConfig(cfg llm.ProviderConfig) (llm.Provider, error) {
	return NewProvider(Config{Name: cfg.Name}), nil
}

func (p *Provider) Name() string           { return p.name }
func (p *Provider) Type() llm.ProviderType { return llm.ProviderTypeLocal }

// Generate composes a response from the best-matching coaching topic.
func (p *Provider) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (*llm.GenerateResult, error) {
	start := time.Now()
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, llm.WrapError(p.name, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, llm.WrapError(p.name, err)
	}

	system := llm.BuildSystemPrompt(opts)
	response := compose(prompt, opts)

	if limit := opts.MaxTokens; limit > 0 && llm.EstimateTokens(response) > limit {
		response = truncateToTokens(response, limit)
	}

	return &llm.GenerateResult{
		Response:   response,
		TokensUsed: llm.EstimateTokens(system) + llm.EstimateTokens(prompt) + llm.EstimateTokens(response),
		Latency:    time.Since(start),
		Model:      "local-coach-v1",
	}, nil
}

// HealthCheck always succeeds unless the provider is switched off.
func (p *Provider) HealthCheck(ctx context.Context) (bool, error) {
	if p.unavailable {
		return false, fmt.Errorf("local provider disabled")
	}
	return true, nil
}

func compose(prompt string, opts llm.GenerateOptions) string {
	lower := strings.ToLower(prompt)

	best, bestHits := -1, 0
	for i, t := range topics {
		hits := 0
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}

	advice := fallbackAdvice
	if best >= 0 {
		advice = topics[best].advice
	}

	var b strings.Builder
	b.WriteString(advice)
	if pt := strings.ToUpper(strings.TrimSpace(opts.PersonalityType)); pt != "" {
		if hint, ok := typeHints[pt[0]]; ok {
			b.WriteString(" ")
			b.WriteString(hint)
		}
	}
	return b.String()
}

func truncateToTokens(s string, maxTokens int) string {
	limit := maxTokens * 4
	if limit >= len(s) {
		return s
	}
	cut := strings.LastIndex(s[:limit], " ")
	if cut <= 0 {
		cut = limit
	}
	return s[:cut]
}
