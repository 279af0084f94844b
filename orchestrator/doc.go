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
Package orchestrator provides the LLM gateway service: every prompt is
classified by the policy engine, routed to the best healthy provider and
recorded in the audit trail.

# Overview

A request moves through a fixed pipeline:

	Request -> Validate -> Policy Engine -> Registry/Selection -> Provider -> Audit

Each request gets a trace id. Exactly one audit event is written for it:

  - policy_decision when the engine refuses, pushes back or escalates
  - model_output when a provider produced text
  - error for invalid input, no healthy provider, provider failures and
    internal faults

An ESCALATE decision additionally opens an oversight session that an
operator closes through the admin API.

The audit write never runs on the caller's context. It survives client
disconnects, is bounded by its own timeout and cannot change the response
the caller receives.

# Coordinator

	engine := policy.NewEngine()
	registry := llm.NewRegistry()
	coordinator := orchestrator.NewCoordinator(engine, registry, audit.NewMemorySink())

	resp := coordinator.Orchestrate(ctx, orchestrator.OrchestrationRequest{
	    Prompt: "Explain how to structure a weekly review",
	    UserID: "user-42",
	})

Orchestrate never returns an error. Failures are reported through
OrchestrationResponse.Success and Error; Err exposes the typed cause.

# HTTP API

Public routes:

	GET  /health
	GET  /metrics
	POST /api/v1/orchestrate
	GET  /api/v1/providers

Admin routes require a HS256 bearer token with role "admin":

	GET  /api/v1/policies
	POST /api/v1/policies/reload
	GET  /api/v1/oversight/{trace_id}
	POST /api/v1/oversight/{trace_id}/close
	GET  /api/v1/audit/{trace_id}

# Configuration

Run loads configuration through the shared/config package: from the file
named by GATEWAY_CONFIG_FILE or from environment variables. See that
package for the variables.
*/
package orchestrator
