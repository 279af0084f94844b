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
Package config loads the gateway configuration.

Configuration comes from a YAML file named by GATEWAY_CONFIG_FILE or, when
that variable is unset, from environment variables alone. File values may
reference the environment with ${VAR} or ${VAR:-default}.

# Providers From the Environment

Each provider type reads variables under its own prefix (ANTHROPIC, OPENAI,
BEDROCK, OLLAMA, LOCAL):

	ANTHROPIC_API_KEY=sk-...              inline credential
	ANTHROPIC_CREDENTIAL_REF=secretsmanager:gateway/anthropic#api_key
	ANTHROPIC_MODEL=claude-3-5-sonnet-20241022
	ANTHROPIC_COST_PER_TOKEN=0.000015
	ANTHROPIC_QUALITY_SCORE=0.9
	BEDROCK_REGION=eu-west-1
	OLLAMA_ENDPOINT=http://localhost:11434
	LOCAL_ENABLED=false

A provider is enabled when its credential, region or endpoint is present.
LLM_PROVIDERS=anthropic,local restricts the set.

# Credential References

Resolver resolves env:VAR and secretsmanager:<id>[#key] references. Secrets
Manager values are cached for five minutes.
*/
package config
