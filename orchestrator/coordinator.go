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
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/audit"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/policy"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/shared/logger"
)

const (
	DefaultAuditTimeout      = 5 * time.Second
	DefaultGenerationTimeout = 30 * time.Second
)

// PolicyEvaluator produces a decision for a request. *policy.Engine
// satisfies it.
type PolicyEvaluator interface {
	Evaluate(req policy.Request) policy.Decision
}

// ProviderRegistry is the part of *llm.Registry the coordinator uses.
type ProviderRegistry interface {
	EnsureFresh(ctx context.Context)
	ListHealthy() []llm.ProviderDescriptor
	Provider(id string) (llm.Provider, bool)
	Count() int
}

// Coordinator sequences policy evaluation, provider selection, generation
// and auditing for one request at a time. It holds no request-scoped state
// and is safe for concurrent use.
type Coordinator struct {
	policy   PolicyEvaluator
	registry ProviderRegistry
	sink     audit.Sink

	metrics           *Metrics
	logger            *logger.Logger
	auditTimeout      time.Duration
	generationTimeout time.Duration
	newTraceID        func() string
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMetrics records request outcomes in m.
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithCoordinatorLogger sets the structured logger.
func WithCoordinatorLogger(l *logger.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithAuditTimeout bounds each audit store call.
func WithAuditTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.auditTimeout = d
		}
	}
}

// WithGenerationTimeout bounds the provider generation call.
func WithGenerationTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.generationTimeout = d
		}
	}
}

// WithTraceIDGenerator overrides trace id generation.
func WithTraceIDGenerator(fn func() string) CoordinatorOption {
	return func(c *Coordinator) {
		if fn != nil {
			c.newTraceID = fn
		}
	}
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(p PolicyEvaluator, registry ProviderRegistry, sink audit.Sink, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		policy:            p,
		registry:          registry,
		sink:              sink,
		logger:            logger.New("orchestrator"),
		auditTimeout:      DefaultAuditTimeout,
		generationTimeout: DefaultGenerationTimeout,
		newTraceID:        func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run carries the state of one request through the pipeline.
type run struct {
	traceID  string
	req      OrchestrationRequest
	decision policy.Decision
	audited  bool
	start    time.Time
}

// Orchestrate processes one request. It always returns a response; failures
// are reported through Success, Error and Err. Exactly one audit event is
// written on every path, and the write outlives cancellation of ctx.
func (c *Coordinator) Orchestrate(ctx context.Context, req OrchestrationRequest) (resp *OrchestrationResponse) {
	r := &run{traceID: c.newTraceID(), req: req, start: time.Now()}

	defer func() {
		if v := recover(); v != nil {
			resp = c.recovered(ctx, r, v)
		}
	}()

	if err := req.Validate(); err != nil {
		r.decision = policy.RefuseDecision("Invalid request")
		c.logger.Warn(r.traceID, "Rejected invalid request", map[string]interface{}{"error": err.Error()})
		c.writeEvent(ctx, r, c.errorEvent(r, "validation_error", err, ""))
		c.metrics.observeOutcome(OutcomeInvalid)
		return c.failure(r, err.Error(), err)
	}

	r.decision = c.policy.Evaluate(req.policyRequest())
	c.metrics.observeDecision(r.decision.Action.String())

	if !r.decision.Allowed() {
		return c.blocked(ctx, r)
	}
	return c.generate(ctx, r)
}

func (c *Coordinator) blocked(ctx context.Context, r *run) *OrchestrationResponse {
	d := r.decision
	c.logger.Info(r.traceID, "Request blocked by policy", map[string]interface{}{
		"action":     d.Action.String(),
		"reasons":    d.Reasons,
		"risk_score": d.RiskScore,
		"user_id":    r.req.UserID,
	})

	c.writeEvent(ctx, r, c.decisionEvent(r))

	switch d.Action {
	case policy.ActionEscalate:
		c.openOversight(ctx, r)
		c.metrics.observeOutcome(OutcomeEscalated)
	case policy.ActionPushback:
		c.metrics.observeOutcome(OutcomePushedBack)
	default:
		c.metrics.observeOutcome(OutcomeRefused)
	}
	return c.failure(r, userMessage(d), &PolicyBlockedError{Decision: d})
}

func (c *Coordinator) generate(ctx context.Context, r *run) *OrchestrationResponse {
	c.registry.EnsureFresh(ctx)
	healthy := c.registry.ListHealthy()

	desc, err := llm.Select(healthy, r.req.PreferredProvider)
	if err != nil {
		var nh *llm.NoHealthyProviderError
		if errors.As(err, &nh) {
			nh.Registered = c.registry.Count()
		}
		c.logger.Warn(r.traceID, "No healthy provider", map[string]interface{}{"registered": c.registry.Count()})
		c.writeEvent(ctx, r, c.errorEvent(r, "no_healthy_provider", err, ""))
		c.metrics.observeOutcome(OutcomeNoProvider)
		return c.failure(r, msgNoProvider, err)
	}

	provider, ok := c.registry.Provider(desc.ID)
	if !ok {
		err := llm.NewProviderError(desc.ID, llm.ErrCodeUnavailable, "provider is no longer registered")
		return c.providerFailed(ctx, r, desc, err)
	}
	c.metrics.observeSelection(desc.ID)

	opts := r.req.generateOptions()
	opts.Timeout = c.generationTimeout

	genCtx, cancel := context.WithTimeout(ctx, c.generationTimeout)
	defer cancel()

	started := time.Now()
	result, err := provider.Generate(genCtx, r.req.Prompt, opts)
	c.metrics.observeGeneration(desc.ID, time.Since(started))
	if err != nil {
		return c.providerFailed(ctx, r, desc, llm.WrapError(desc.ID, err))
	}
	if result == nil || result.Response == "" {
		return c.providerFailed(ctx, r, desc, llm.NewProviderError(desc.ID, llm.ErrCodeEmptyResponse, "provider returned no text"))
	}

	resp := &OrchestrationResponse{
		Success:        true,
		Response:       result.Response,
		ProviderID:     desc.ID,
		ProviderName:   desc.DisplayName,
		TokensUsed:     result.TokensUsed,
		Latency:        result.Latency.Milliseconds(),
		Cost:           float64(result.TokensUsed) * desc.CostPerToken,
		PolicyDecision: r.decision,
		AuditTrailID:   r.traceID,
	}

	c.writeEvent(ctx, r, c.outputEvent(r, desc, healthy, result, resp.Cost))
	c.metrics.observeOutcome(OutcomeSuccess)
	c.logger.InfoWithDuration(r.traceID, "Request completed", time.Since(r.start), map[string]interface{}{
		"provider":    desc.ID,
		"tokens_used": resp.TokensUsed,
		"cost":        resp.Cost,
	})
	return resp
}

func (c *Coordinator) providerFailed(ctx context.Context, r *run, desc llm.ProviderDescriptor, pe *llm.ProviderError) *OrchestrationResponse {
	c.logger.ErrorWithCause(r.traceID, "Provider generation failed", pe, map[string]interface{}{
		"provider": desc.ID,
		"code":     pe.Code,
	})
	c.writeEvent(ctx, r, c.errorEvent(r, "provider_error", pe, desc.ID))
	c.metrics.observeOutcome(OutcomeProviderError)

	resp := c.failure(r, msgProviderFailed, pe)
	resp.ProviderID = desc.ID
	resp.ProviderName = desc.DisplayName
	return resp
}

// recovered turns a panic into a fail-closed REFUSE response. The error event
// is only written when the panic happened before the request's audit write.
func (c *Coordinator) recovered(ctx context.Context, r *run, v interface{}) *OrchestrationResponse {
	ie := &InternalError{Value: v}
	c.logger.Error(r.traceID, "Recovered panic during orchestration", map[string]interface{}{
		"panic": fmt.Sprint(v),
		"stack": string(debug.Stack()),
	})

	r.decision = policy.RefuseDecision("Request could not be evaluated safely")
	if !r.audited {
		c.writeEvent(ctx, r, c.errorEvent(r, "internal_error", ie, ""))
	}
	c.metrics.observeOutcome(OutcomeInternalError)
	return c.failure(r, msgInternalFailure, ie)
}

func (c *Coordinator) failure(r *run, message string, err error) *OrchestrationResponse {
	return &OrchestrationResponse{
		Success:        false,
		PolicyDecision: r.decision,
		AuditTrailID:   r.traceID,
		Error:          message,
		err:            err,
	}
}

// auditContext detaches ctx from caller cancellation and bounds the write.
func (c *Coordinator) auditContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.auditTimeout)
}

// writeEvent makes the request's single audit write. A failure is logged and
// counted; it never changes the response.
func (c *Coordinator) writeEvent(ctx context.Context, r *run, event *audit.Event) {
	r.audited = true

	actx, cancel := c.auditContext(ctx)
	defer cancel()

	if err := c.safeWrite(actx, event); err != nil {
		var we *audit.WriteError
		if !errors.As(err, &we) {
			err = &audit.WriteError{TraceID: r.traceID, Op: "write_event", Cause: err}
		}
		c.metrics.observeAuditFailure()
		c.logger.ErrorWithCause(r.traceID, "Audit write failed", err, map[string]interface{}{
			"event_type": string(event.EventType),
		})
	}
}

func (c *Coordinator) safeWrite(ctx context.Context, event *audit.Event) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("audit sink panicked: %v", v)
		}
	}()
	return c.sink.WriteEvent(ctx, event)
}

func (c *Coordinator) openOversight(ctx context.Context, r *run) {
	reason := "Escalated for human review"
	if len(r.decision.Reasons) > 0 {
		reason = r.decision.Reasons[0]
	}
	session := audit.NewEscalationSession(r.traceID, reason, r.decision.RiskScore)

	actx, cancel := c.auditContext(ctx)
	defer cancel()

	if err := c.sink.OpenSession(actx, session); err != nil {
		c.metrics.observeAuditFailure()
		c.logger.ErrorWithCause(r.traceID, "Failed to open oversight session", err, map[string]interface{}{
			"risk_level": session.RiskLevel,
		})
		return
	}
	c.logger.Info(r.traceID, "Oversight session opened", map[string]interface{}{
		"risk_level": session.RiskLevel,
	})
}

func (c *Coordinator) baseEvent(r *run, t audit.EventType) *audit.Event {
	return &audit.Event{
		TraceID:     r.traceID,
		EventType:   t,
		Actor:       audit.ActorOrchestrator,
		UserID:      r.req.UserID,
		SessionID:   r.req.SessionID,
		RiskSignals: riskSignals(r.decision),
	}
}

func (c *Coordinator) decisionEvent(r *run) *audit.Event {
	e := c.baseEvent(r, audit.EventPolicyDecision)
	d := r.decision
	e.DecisionData = map[string]interface{}{
		"action":              d.Action.String(),
		"reasons":             stringsToAny(d.Reasons),
		"confidence":          d.Confidence,
		"escalationRequired":  d.EscalationRequired,
		"humanReviewRequired": d.HumanReviewRequired,
		"oversightRequested":  d.Action == policy.ActionEscalate,
	}
	if r.req.SafetyLevel != "" {
		e.DecisionData["safetyLevel"] = r.req.SafetyLevel
	}
	return e
}

func (c *Coordinator) outputEvent(r *run, desc llm.ProviderDescriptor, healthy []llm.ProviderDescriptor, result *llm.GenerateResult, cost float64) *audit.Event {
	e := c.baseEvent(r, audit.EventModelOutput)
	e.ModelID = desc.ID
	e.DecisionData = map[string]interface{}{
		"action":       r.decision.Action.String(),
		"providerId":   desc.ID,
		"providerName": desc.DisplayName,
		"tokensUsed":   result.TokensUsed,
		"latencyMs":    result.Latency.Milliseconds(),
		"cost":         cost,
		"ranking":      rankingData(llm.Rank(healthy)),
	}
	if result.Model != "" {
		e.DecisionData["model"] = result.Model
	}
	if r.req.PreferredProvider != "" {
		e.DecisionData["preferredProvider"] = r.req.PreferredProvider
		e.DecisionData["preferenceHonored"] = r.req.PreferredProvider == desc.ID
	}
	return e
}

func (c *Coordinator) errorEvent(r *run, kind string, err error, providerID string) *audit.Event {
	e := c.baseEvent(r, audit.EventError)
	e.ModelID = providerID
	e.DecisionData = map[string]interface{}{
		"action":    r.decision.Action.String(),
		"errorType": kind,
		"message":   err.Error(),
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		e.DecisionData["code"] = pe.Code
		e.DecisionData["retryable"] = pe.Retryable
		if pe.StatusCode > 0 {
			e.DecisionData["statusCode"] = pe.StatusCode
		}
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		e.DecisionData["field"] = ve.Field
	}
	return e
}

func riskSignals(d policy.Decision) map[string]interface{} {
	if !d.Action.Valid() {
		return nil
	}
	signals := map[string]interface{}{
		"riskScore": d.RiskScore,
	}
	if len(d.MatchedRules) > 0 {
		signals["matchedRules"] = stringsToAny(d.MatchedRules)
	}
	if d.RuleSetVersion != "" {
		signals["ruleSetVersion"] = d.RuleSetVersion
	}
	return signals
}

// rankingData flattens the ranking into plain JSON values so the event
// digest is identical in every store.
func rankingData(ranked []llm.ScoredProvider) []interface{} {
	out := make([]interface{}, 0, len(ranked))
	for _, sp := range ranked {
		out = append(out, map[string]interface{}{
			"providerId":  sp.ProviderID,
			"qualityTerm": sp.QualityTerm,
			"latencyTerm": sp.LatencyTerm,
			"costTerm":    sp.CostTerm,
			"score":       sp.Score,
		})
	}
	return out
}

func stringsToAny(in []string) []interface{} {
	out := make([]interface{}, 0, len(in))
	for _, s := range in {
		out = append(out, s)
	}
	return out
}
