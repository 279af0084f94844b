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
Command orchestrator runs the LLM gateway service.

Every prompt is checked by the policy engine, routed to the best healthy
language model provider and recorded in the audit trail.

# Usage

	orchestrator

# Configuration

Set GATEWAY_CONFIG_FILE to load a YAML file (see "gatewayctl config
example"); otherwise configuration comes from the environment:

  - PORT: HTTP server port (default: 8081)
  - ADMIN_JWT_SECRET: HS256 secret for the admin API (admin routes are off without it)
  - POLICY_SOURCE: builtin, file, redis or postgres
  - AUDIT_DRIVER: memory, postgres, mysql or mongo
  - AUDIT_FALLBACK_PATH: local spool used when the audit store is down
  - AUDIT_NATS_URL: optional NATS server that mirrors audit events

# LLM Provider Configuration

Providers are enabled by the variables that configure them:

	# Anthropic
	export ANTHROPIC_API_KEY="sk-ant-..."

	# OpenAI
	export OPENAI_API_KEY="sk-..."

	# AWS Bedrock
	export BEDROCK_REGION="us-east-1"

	# Ollama
	export OLLAMA_ENDPOINT="http://localhost:11434"

The in-process local provider is always available unless LOCAL_ENABLED=false.
LLM_PROVIDERS restricts the set, e.g. LLM_PROVIDERS=anthropic,local.
*/
package main
