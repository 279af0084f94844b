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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OriginBuiltin marks the embedded default rule set.
const OriginBuiltin = "builtin"

// Stage default confidences.
const (
	ConfidenceHardRefuse   = 0.95
	ConfidenceManipulation = 0.9
	ConfidenceBoundary     = 0.8
	ConfidenceEscalate     = 0.85
	ConfidencePushback     = 0.8
	ConfidenceAllow        = 1.0
)

var stageConfidence = map[Stage]float64{
	StageHardRefuse:   ConfidenceHardRefuse,
	StageManipulation: ConfidenceManipulation,
	StageBoundary:     ConfidenceBoundary,
}

// ErrNoSource is returned by Reload when the engine only has built-in rules.
var ErrNoSource = errors.New("no policy source configured")

// Source supplies a raw rule set document.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

// Info describes the active rule set.
type Info struct {
	Version         string        `json:"version"`
	Origin          string        `json:"origin"`
	Fingerprint     string        `json:"fingerprint,omitempty"`
	Rules           int           `json:"rules"`
	StageCounts     map[Stage]int `json:"stageCounts"`
	Thresholds      Thresholds    `json:"thresholds"`
	LoadedAt        time.Time     `json:"loadedAt"`
	LastReloadAt    time.Time     `json:"lastReloadAt,omitempty"`
	LastReloadError string        `json:"lastReloadError,omitempty"`
}

// Engine evaluates prompts against the active rule set. Evaluate is lock-free;
// reloads swap the compiled set atomically.
type Engine struct {
	current atomic.Pointer[compiledSet]
	source  Source
	logger  *log.Logger

	reloadMu     sync.Mutex
	fingerprint  string
	lastReloadAt time.Time
	lastErr      string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithSource(src Source) EngineOption {
	return func(e *Engine) { e.source = src }
}

func WithLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine returns an engine serving the built-in rules. Call Reload to load
// from the configured source.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		logger: log.New(os.Stdout, "[POLICY] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.current.Store(mustCompileDefaults())
	return e
}

// SourceName reports the configured source, or OriginBuiltin.
func (e *Engine) SourceName() string {
	if e.source == nil {
		return OriginBuiltin
	}
	return e.source.Name()
}

// Reload fetches the document from the source and activates it. On any error
// the active rule set is left untouched.
func (e *Engine) Reload(ctx context.Context) error {
	if e.source == nil {
		return ErrNoSource
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	e.lastReloadAt = time.Now().UTC()
	data, err := e.source.Fetch(ctx)
	if err != nil {
		e.lastErr = err.Error()
		e.logger.Printf("Reload from %s failed, keeping rule set %s: %v", e.source.Name(), e.current.Load().version, err)
		return fmt.Errorf("fetch rule set from %s: %w", e.source.Name(), err)
	}

	sum := sha256.Sum256(data)
	fp := hex.EncodeToString(sum[:])
	if fp == e.fingerprint {
		e.lastErr = ""
		return nil
	}

	rs, err := ParseRuleSet(data)
	if err != nil {
		e.lastErr = err.Error()
		e.logger.Printf("Rejected rule set from %s: %v", e.source.Name(), err)
		return err
	}
	if err := e.activate(rs, e.source.Name()); err != nil {
		return err
	}
	e.fingerprint = fp
	return nil
}

// Apply validates rs and makes it the active rule set.
func (e *Engine) Apply(rs *RuleSet, origin string) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	e.lastReloadAt = time.Now().UTC()
	if err := e.activate(rs, origin); err != nil {
		return err
	}
	e.fingerprint = ""
	return nil
}

// activate must be called with reloadMu held.
func (e *Engine) activate(rs *RuleSet, origin string) error {
	cs, err := compile(rs, origin)
	if err != nil {
		e.lastErr = err.Error()
		e.logger.Printf("Rejected rule set from %s: %v", origin, err)
		return err
	}
	prev := e.current.Swap(cs)
	e.lastErr = ""
	e.logger.Printf("Activated rule set %s from %s (%d rules, previous %s)", cs.version, origin, cs.ruleCount, prev.version)
	return nil
}

// Info describes the active rule set and the last reload attempt.
func (e *Engine) Info() Info {
	cs := e.current.Load()

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	counts := make(map[Stage]int, len(cs.stages))
	for stage, rules := range cs.stages {
		counts[stage] = len(rules)
	}
	fp := ""
	if cs.origin != OriginBuiltin {
		fp = e.fingerprint
	}
	return Info{
		Version:         cs.version,
		Origin:          cs.origin,
		Fingerprint:     fp,
		Rules:           cs.ruleCount,
		StageCounts:     counts,
		Thresholds:      cs.thresholds,
		LoadedAt:        cs.loadedAt,
		LastReloadAt:    e.lastReloadAt,
		LastReloadError: e.lastErr,
	}
}

// Evaluate classifies the request. It never fails; the worst case is ALLOW
// under the built-in rules.
func (e *Engine) Evaluate(req Request) Decision {
	return e.current.Load().evaluate(req)
}

func (cs *compiledSet) evaluate(req Request) Decision {
	prompt := req.Prompt

	for _, stage := range stageOrder {
		var matched, reasons []string
		confidence := 0.0
		for _, rule := range cs.stages[stage] {
			if !rule.matches(prompt) {
				continue
			}
			matched = append(matched, rule.id)
			reasons = appendUnique(reasons, rule.reason)
			confidence = math.Max(confidence, rule.confidence)
		}
		if len(matched) == 0 {
			continue
		}
		if confidence == 0 {
			confidence = stageConfidence[stage]
		}
		return Decision{
			Action:         stageActions[stage],
			Reasons:        reasons,
			Confidence:     confidence,
			MatchedRules:   matched,
			RuleSetVersion: cs.version,
		}
	}

	score := 0.0
	var matched, reasons []string
	for _, rule := range cs.stages[StageRisk] {
		if !rule.matches(prompt) {
			continue
		}
		score += rule.weight
		matched = append(matched, rule.id)
		reasons = appendUnique(reasons, rule.reason)
	}
	score = math.Round(clamp01(score)*1e4) / 1e4

	pushback, escalate := cs.thresholdsFor(req.SafetyLevel)
	switch {
	case score > escalate:
		return Decision{
			Action:              ActionEscalate,
			Reasons:             append([]string{fmt.Sprintf("Risk score %.2f exceeds escalation threshold %.2f", score, escalate)}, reasons...),
			Confidence:          ConfidenceEscalate,
			EscalationRequired:  true,
			HumanReviewRequired: true,
			RiskScore:           score,
			MatchedRules:        matched,
			RuleSetVersion:      cs.version,
		}
	case score > pushback:
		return Decision{
			Action:         ActionPushback,
			Reasons:        append([]string{fmt.Sprintf("Risk score %.2f exceeds caution threshold %.2f", score, pushback)}, reasons...),
			Confidence:     ConfidencePushback,
			RiskScore:      score,
			MatchedRules:   matched,
			RuleSetVersion: cs.version,
		}
	}

	return Decision{
		Action:         ActionAllow,
		Reasons:        []string{},
		Confidence:     ConfidenceAllow,
		RiskScore:      score,
		MatchedRules:   matched,
		RuleSetVersion: cs.version,
	}
}

func (cs *compiledSet) thresholdsFor(level SafetyLevel) (pushback, escalate float64) {
	shift := SafetyLevel(strings.ToLower(string(level))).thresholdShift()
	pushback = math.Max(0, cs.thresholds.Pushback-shift)
	escalate = math.Max(0, cs.thresholds.Escalate-shift)
	return pushback, escalate
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
