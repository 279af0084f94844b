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

/*
Package llm defines the provider adapter contract, the provider registry and
health monitor, and the selection algorithm used by the orchestrator.

# Provider Interface

Every vendor is a variant behind one interface:

	type Provider interface {
		Name() string
		Type() ProviderType
		Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error)
		HealthCheck(ctx context.Context) (bool, error)
	}

Adapters build the vendor envelope, inject the system prompt returned by
BuildSystemPrompt, and normalize token usage into GenerateResult. Every
failure surfaces as a *ProviderError carrying the provider id.

Built-in adapters live in subpackages and register a factory from init():

  - anthropic: Anthropic Messages API
  - openai: OpenAI chat completions
  - bedrock: AWS Bedrock InvokeModel
  - ollama: self-hosted Ollama
  - local: in-process offline provider, zero cost

# Registry

Registry holds ProviderDescriptor values in registration order. Health is
written only by RefreshHealth, which checks all providers concurrently with a
per-check timeout and swaps each provider's state atomically:

	reg := llm.NewRegistry(llm.WithCheckTimeout(2 * time.Second))
	_ = reg.Register(cfg.Descriptor(), provider)
	reg.EnsureFresh(ctx)
	healthy := reg.ListHealthy()

# Selection

Select honors a preferred provider present in the healthy set, otherwise it
returns the highest composite score:

	score = 0.4*quality + 0.3*clamp(1 - latencyMs/5000) + 0.3*clamp(1 - costPerToken*10000)

Ties go to the provider registered first. Rank exposes every term so each
selection can be explained from its inputs.
*/
package llm
