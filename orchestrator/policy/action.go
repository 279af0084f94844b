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

package policy

import (
	"fmt"
	"strings"
)

// Action is the outcome class of a policy decision.
type Action uint8

const (
	ActionAllow Action = iota + 1
	ActionPushback
	ActionEscalate
	ActionRefuse
)

var actionNames = map[Action]string{
	ActionAllow:    "ALLOW",
	ActionPushback: "PUSHBACK",
	ActionEscalate: "ESCALATE",
	ActionRefuse:   "REFUSE",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// Valid reports whether a is one of the four defined actions.
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

// ParseAction accepts the canonical upper-case names, case-insensitively.
func ParseAction(s string) (Action, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for a, name := range actionNames {
		if name == upper {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown policy action %q", s)
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid policy action %d", uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// SafetyLevel tightens the risk thresholds for a request.
type SafetyLevel string

const (
	SafetyLow      SafetyLevel = "low"
	SafetyMedium   SafetyLevel = "medium"
	SafetyStandard SafetyLevel = "standard"
	SafetyHigh     SafetyLevel = "high"
	SafetyMaximum  SafetyLevel = "maximum"
)

// Valid reports whether s is a known level. The empty string is treated as standard.
func (s SafetyLevel) Valid() bool {
	switch s {
	case "", SafetyLow, SafetyMedium, SafetyStandard, SafetyHigh, SafetyMaximum:
		return true
	}
	return false
}

// thresholdShift is subtracted from both risk thresholds.
func (s SafetyLevel) thresholdShift() float64 {
	switch s {
	case SafetyHigh:
		return 0.1
	case SafetyMaximum:
		return 0.2
	}
	return 0
}

// Request is the input to Evaluate.
type Request struct {
	Prompt      string
	SafetyLevel SafetyLevel
	UserID      string
}

// Decision is the result of evaluating one prompt.
type Decision struct {
	Action              Action   `json:"action"`
	Reasons             []string `json:"reasons"`
	Confidence          float64  `json:"confidence"`
	EscalationRequired  bool     `json:"escalationRequired"`
	HumanReviewRequired bool     `json:"humanReviewRequired"`
	RiskScore           float64  `json:"riskScore"`
	MatchedRules        []string `json:"matchedRules,omitempty"`
	RuleSetVersion      string   `json:"ruleSetVersion,omitempty"`
}

// Allowed reports whether generation may proceed.
func (d Decision) Allowed() bool {
	return d.Action == ActionAllow
}

// RefuseDecision is the fail-closed decision used when evaluation cannot complete.
func RefuseDecision(reason string) Decision {
	return Decision{
		Action:     ActionRefuse,
		Reasons:    []string{reason},
		Confidence: 1.0,
	}
}
