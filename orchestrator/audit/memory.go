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
	"context"
	"sync"
	"time"
)

// MemorySink keeps events and sessions in process memory.
type MemorySink struct {
	mu       sync.RWMutex
	events   []Event
	sessions map[string]*OversightSession
	now      func() time.Time
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		sessions: make(map[string]*OversightSession),
		now:      time.Now,
	}
}

func (m *MemorySink) WriteEvent(ctx context.Context, event *Event) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{TraceID: event.TraceID, Op: "write_event", Cause: err}
	}
	if event.Digest == "" {
		if err := event.Seal(); err != nil {
			return &WriteError{TraceID: event.TraceID, Op: "write_event", Cause: err}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, cloneEvent(*event))
	return nil
}

func (m *MemorySink) OpenSession(ctx context.Context, session *OversightSession) error {
	if err := ctx.Err(); err != nil {
		return &WriteError{TraceID: session.TraceID, Op: "open_session", Cause: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[session.TraceID]; exists {
		return ErrOversightExists
	}
	cp := *session
	m.sessions[session.TraceID] = &cp
	return nil
}

func (m *MemorySink) CloseSession(ctx context.Context, traceID, closedBy, note string) (*OversightSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[traceID]
	if !ok {
		return nil, ErrOversightNotFound
	}
	if err := closeSession(s, closedBy, note, m.now()); err != nil {
		return nil, err
	}
	cp := *s
	return &cp, nil
}

func (m *MemorySink) GetSession(ctx context.Context, traceID string) (*OversightSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[traceID]
	if !ok {
		return nil, ErrOversightNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemorySink) Close() error { return nil }

// Events returns a copy of every recorded event in write order.
func (m *MemorySink) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	for i, e := range m.events {
		out[i] = cloneEvent(e)
	}
	return out
}

// EventsFor returns the events recorded for one trace.
func (m *MemorySink) EventsFor(traceID string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.TraceID == traceID {
			out = append(out, cloneEvent(e))
		}
	}
	return out
}

// Sessions returns a copy of every session.
func (m *MemorySink) Sessions() []OversightSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]OversightSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

func cloneEvent(e Event) Event {
	e.RiskSignals = cloneMap(e.RiskSignals)
	e.DecisionData = cloneMap(e.DecisionData)
	return e
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EventsByTrace returns the events recorded for traceID.
func (m *MemorySink) EventsByTrace(ctx context.Context, traceID string) ([]Event, error) {
	return m.EventsFor(traceID), nil
}
