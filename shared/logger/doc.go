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
Package logger provides structured JSON logging for gateway components.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (coordinator, registry, audit, ...)
  - Instance ID and container name
  - Trace ID of the orchestration request, when there is one
  - Custom fields

# Usage

	log := logger.New("coordinator")

	log.Info(traceID, "provider selected", map[string]interface{}{
	    "provider": "anthropic",
	})

	log.ErrorWithCause(traceID, "audit write failed", err, nil)

# Output Format

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"coordinator","instance_id":"i-abc123","container":"gw-xyz",
	 "trace_id":"4b1d...","message":"provider selected","fields":{"provider":"anthropic"}}

# Environment Variables

  - INSTANCE_ID: Deployment instance identifier

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
