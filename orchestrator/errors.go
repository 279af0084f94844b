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

package orchestrator

import (
	"fmt"
	"strings"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/policy"
)

// User-visible error strings. Vendor messages and internal configuration
// never reach the caller; the detail is kept in the audit trail instead.
const (
	msgEscalated       = "This request needs human review before it can be answered"
	msgNoProvider      = "No language model provider is currently available"
	msgProviderFailed  = "The language model provider could not complete the request"
	msgInternalFailure = "An internal error occurred while processing the request"
)

// ValidationError reports a malformed inbound request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// PolicyBlockedError carries a REFUSE, PUSHBACK or ESCALATE decision. It is a
// designed outcome, not a fault.
type PolicyBlockedError struct {
	Decision policy.Decision
}

func (e *PolicyBlockedError) Error() string {
	if len(e.Decision.Reasons) == 0 {
		return fmt.Sprintf("request blocked by policy (%s)", e.Decision.Action)
	}
	return fmt.Sprintf("request blocked by policy (%s): %s", e.Decision.Action, strings.Join(e.Decision.Reasons, "; "))
}

// InternalError wraps a panic recovered at the coordinator boundary.
type InternalError struct {
	Value interface{}
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Value)
}

// userMessage is the caller-safe text for a blocked decision.
func userMessage(d policy.Decision) string {
	if d.Action == policy.ActionEscalate {
		return msgEscalated
	}
	return strings.Join(d.Reasons, "; ")
}
