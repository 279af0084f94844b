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
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Stage identifies which precedence tier a rule belongs to.
type Stage string

const (
	StageHardRefuse   Stage = "hard_refuse"
	StageManipulation Stage = "manipulation"
	StageBoundary     Stage = "boundary"
	StageRisk         Stage = "risk"
)

// stageOrder is the evaluation precedence. The first tier with a match wins.
var stageOrder = []Stage{StageHardRefuse, StageManipulation, StageBoundary}

// RuleSet is the on-disk document format. YAML and JSON are both accepted.
type RuleSet struct {
	Version    string     `yaml:"version" json:"version"`
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
	Rules      []Rule     `yaml:"rules" json:"rules"`
}

// Thresholds bound the risk stage. Scores strictly above Escalate escalate,
// scores strictly above Pushback push back.
type Thresholds struct {
	Pushback float64 `yaml:"pushback" json:"pushback"`
	Escalate float64 `yaml:"escalate" json:"escalate"`
}

type Rule struct {
	ID          string    `yaml:"id" json:"id"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Disabled    bool      `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	When        Condition `yaml:"when" json:"when"`
	Then        Outcome   `yaml:"then" json:"then"`
}

// Condition matches when any of the patterns matches the prompt.
type Condition struct {
	Stage Stage    `yaml:"stage" json:"stage"`
	Any   []string `yaml:"any" json:"any"`
}

// Outcome carries what a match contributes. Weight applies to risk rules
// only, Confidence to the other stages. Action, when set, must agree with
// the stage.
type Outcome struct {
	Action     string  `yaml:"action,omitempty" json:"action,omitempty"`
	Weight     float64 `yaml:"weight,omitempty" json:"weight,omitempty"`
	Confidence float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Reason     string  `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// RuleError describes why a rule set was rejected.
type RuleError struct {
	RuleID string
	Field  string
	Cause  error
}

func (e *RuleError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("invalid rule set: %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("invalid rule %q: %s: %v", e.RuleID, e.Field, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

var (
	// ErrEmptyDocument is returned when a source yields no rule set content.
	ErrEmptyDocument = errors.New("empty rule set document")
	// ErrInvalidDocument is returned when a document cannot be decoded.
	ErrInvalidDocument = errors.New("invalid rule set document")
)

// ParseRuleSet decodes a YAML or JSON document. Unknown fields are rejected so
// that a typo never silently disables a rule.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rs RuleSet
	if err := dec.Decode(&rs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyDocument
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return &rs, nil
}

var stageActions = map[Stage]Action{
	StageHardRefuse:   ActionRefuse,
	StageManipulation: ActionRefuse,
	StageBoundary:     ActionPushback,
}

var stageReasons = map[Stage]string{
	StageHardRefuse:   "Request matched a hard refusal rule",
	StageManipulation: "Manipulation attempt detected",
	StageBoundary:     "Request is outside the coaching boundary",
}

// Validate checks a rule set without installing it.
func (rs *RuleSet) Validate() error {
	_, err := compile(rs, "validate")
	return err
}

type compiledRule struct {
	id         string
	stage      Stage
	weight     float64
	confidence float64
	reason     string
	patterns   []*regexp.Regexp
}

func (r compiledRule) matches(prompt string) bool {
	for _, re := range r.patterns {
		if re.MatchString(prompt) {
			return true
		}
	}
	return false
}

// compiledSet is immutable once built and is shared by concurrent evaluations.
type compiledSet struct {
	version    string
	thresholds Thresholds
	stages     map[Stage][]compiledRule
	ruleCount  int
	origin     string
	loadedAt   time.Time
}

func compile(rs *RuleSet, origin string) (*compiledSet, error) {
	if rs == nil {
		return nil, &RuleError{Field: "document", Cause: ErrEmptyDocument}
	}
	if strings.TrimSpace(rs.Version) == "" {
		return nil, &RuleError{Field: "version", Cause: errors.New("must not be empty")}
	}
	t := rs.Thresholds
	if t.Pushback < 0 || t.Escalate > 1 || t.Pushback >= t.Escalate {
		return nil, &RuleError{
			Field: "thresholds",
			Cause: fmt.Errorf("require 0 <= pushback < escalate <= 1, got pushback=%.2f escalate=%.2f", t.Pushback, t.Escalate),
		}
	}

	cs := &compiledSet{
		version:    rs.Version,
		thresholds: t,
		stages:     make(map[Stage][]compiledRule, 4),
		origin:     origin,
		loadedAt:   time.Now().UTC(),
	}
	seen := make(map[string]bool, len(rs.Rules))

	for i, rule := range rs.Rules {
		id := strings.TrimSpace(rule.ID)
		if id == "" {
			return nil, &RuleError{Field: fmt.Sprintf("rules[%d].id", i), Cause: errors.New("must not be empty")}
		}
		if seen[id] {
			return nil, &RuleError{RuleID: id, Field: "id", Cause: errors.New("duplicate rule id")}
		}
		seen[id] = true

		stage := rule.When.Stage
		switch stage {
		case StageHardRefuse, StageManipulation, StageBoundary:
			if rule.Then.Weight != 0 {
				return nil, &RuleError{RuleID: id, Field: "then.weight", Cause: fmt.Errorf("weight is only valid for %s rules", StageRisk)}
			}
			if rule.Then.Confidence < 0 || rule.Then.Confidence > 1 {
				return nil, &RuleError{RuleID: id, Field: "then.confidence", Cause: fmt.Errorf("must be in [0, 1], got %v", rule.Then.Confidence)}
			}
		case StageRisk:
			if rule.Then.Weight <= 0 || rule.Then.Weight > 1 {
				return nil, &RuleError{RuleID: id, Field: "then.weight", Cause: fmt.Errorf("must be in (0, 1], got %v", rule.Then.Weight)}
			}
			if rule.Then.Confidence != 0 {
				return nil, &RuleError{RuleID: id, Field: "then.confidence", Cause: errors.New("risk rules take a weight, not a confidence")}
			}
		default:
			return nil, &RuleError{RuleID: id, Field: "when.stage", Cause: fmt.Errorf("unknown stage %q", stage)}
		}

		if rule.Then.Action != "" {
			a, err := ParseAction(rule.Then.Action)
			if err != nil {
				return nil, &RuleError{RuleID: id, Field: "then.action", Cause: err}
			}
			want, fixed := stageActions[stage]
			if !fixed || a != want {
				return nil, &RuleError{RuleID: id, Field: "then.action", Cause: fmt.Errorf("%s does not match stage %s", a, stage)}
			}
		}

		if len(rule.When.Any) == 0 {
			return nil, &RuleError{RuleID: id, Field: "when.any", Cause: errors.New("at least one pattern is required")}
		}
		if rule.Disabled {
			continue
		}

		cr := compiledRule{
			id:         id,
			stage:      stage,
			weight:     rule.Then.Weight,
			confidence: rule.Then.Confidence,
			reason:     strings.TrimSpace(rule.Then.Reason),
		}
		for j, pattern := range rule.When.Any {
			if strings.TrimSpace(pattern) == "" {
				return nil, &RuleError{RuleID: id, Field: fmt.Sprintf("when.any[%d]", j), Cause: errors.New("empty pattern")}
			}
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, &RuleError{RuleID: id, Field: fmt.Sprintf("when.any[%d]", j), Cause: err}
			}
			cr.patterns = append(cr.patterns, re)
		}
		if cr.reason == "" {
			if def, ok := stageReasons[stage]; ok {
				cr.reason = def
			} else {
				cr.reason = "Risk indicator: " + id
			}
		}
		cs.stages[stage] = append(cs.stages[stage], cr)
		cs.ruleCount++
	}

	return cs, nil
}
