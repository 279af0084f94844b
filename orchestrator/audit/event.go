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

package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// EventType classifies an audit event.
type EventType string

const (
	EventPolicyDecision EventType = "policy_decision"
	EventModelOutput    EventType = "model_output"
	EventError          EventType = "error"
)

// Actor names the component that produced an event.
const ActorOrchestrator = "orchestrator"

// Event is an append-only audit record. All events of one request share a TraceID.
type Event struct {
	ID           string                 `json:"id" bson:"_id"`
	TraceID      string                 `json:"traceId" bson:"trace_id"`
	EventType    EventType              `json:"eventType" bson:"event_type"`
	Actor        string                 `json:"actor" bson:"actor"`
	UserID       string                 `json:"userId,omitempty" bson:"user_id,omitempty"`
	SessionID    string                 `json:"sessionId,omitempty" bson:"session_id,omitempty"`
	ModelID      string                 `json:"modelId,omitempty" bson:"model_id,omitempty"`
	RiskSignals  map[string]interface{} `json:"riskSignals,omitempty" bson:"risk_signals,omitempty"`
	DecisionData map[string]interface{} `json:"decisionData,omitempty" bson:"decision_data,omitempty"`
	CreatedAt    time.Time              `json:"createdAt" bson:"created_at"`
	Digest       string                 `json:"digest,omitempty" bson:"digest"`
}

// Seal assigns an ID and timestamp if missing and computes the digest.
// CreatedAt is truncated to milliseconds, the coarsest precision of the
// supported stores (BSON datetimes), so the digest survives a round trip.
func (e *Event) Seal() error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Millisecond)

	digest, err := ComputeDigest(*e)
	if err != nil {
		return err
	}
	e.Digest = digest
	return nil
}

// ComputeDigest returns the hex SHA-256 of the canonical JSON of e with the
// digest field cleared.
func ComputeDigest(e Event) (string, error) {
	e.Digest = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize event: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyDigest reports whether the stored digest matches the event content.
func VerifyDigest(e Event) (bool, error) {
	if e.Digest == "" {
		return false, errors.New("event has no digest")
	}
	want, err := ComputeDigest(e)
	if err != nil {
		return false, err
	}
	return want == e.Digest, nil
}

// SessionStatus is the oversight lifecycle state. The only transition is open -> closed.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// SessionTypeEscalation is the only session type the gateway opens.
const SessionTypeEscalation = "escalation"

// OversightSession tracks human review of an escalated request.
type OversightSession struct {
	TraceID      string        `json:"traceId" bson:"_id"`
	SessionType  string        `json:"sessionType" bson:"session_type"`
	OpenedBy     string        `json:"openedBy" bson:"opened_by"`
	OpenedReason string        `json:"openedReason" bson:"opened_reason"`
	RiskLevel    int           `json:"riskLevel" bson:"risk_level"`
	Status       SessionStatus `json:"status" bson:"status"`
	CreatedAt    time.Time     `json:"createdAt" bson:"created_at"`
	ClosedAt     *time.Time    `json:"closedAt,omitempty" bson:"closed_at,omitempty"`
	ClosedBy     string        `json:"closedBy,omitempty" bson:"closed_by,omitempty"`
	ClosingNote  string        `json:"closingNote,omitempty" bson:"closing_note,omitempty"`
}

// RiskLevelFromScore maps a risk score in [0,1] onto the 1..5 oversight scale.
func RiskLevelFromScore(score float64) int {
	level := int(math.Ceil(score * 5))
	if level < 1 {
		return 1
	}
	if level > 5 {
		return 5
	}
	return level
}

// NewEscalationSession builds an open session for an escalated request.
func NewEscalationSession(traceID, reason string, riskScore float64) *OversightSession {
	return &OversightSession{
		TraceID:      traceID,
		SessionType:  SessionTypeEscalation,
		OpenedBy:     ActorOrchestrator,
		OpenedReason: reason,
		RiskLevel:    RiskLevelFromScore(riskScore),
		Status:       SessionOpen,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
}

var (
	// ErrOversightNotFound is returned for an unknown trace id.
	ErrOversightNotFound = errors.New("oversight session not found")
	// ErrOversightClosed is returned when closing an already closed session.
	ErrOversightClosed = errors.New("oversight session already closed")
	// ErrOversightExists is returned when a session is opened twice for one trace.
	ErrOversightExists = errors.New("oversight session already exists")
)

// WriteError reports a failed audit store operation.
type WriteError struct {
	TraceID string
	Op      string
	Cause   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("audit %s failed for trace %s: %v", e.Op, e.TraceID, e.Cause)
}

func (e *WriteError) Unwrap() error { return e.Cause }
