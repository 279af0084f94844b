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
	"time"
)

// EventWriter appends audit events.
type EventWriter interface {
	WriteEvent(ctx context.Context, event *Event) error
}

// OversightStore persists oversight sessions.
type OversightStore interface {
	OpenSession(ctx context.Context, session *OversightSession) error
	CloseSession(ctx context.Context, traceID, closedBy, note string) (*OversightSession, error)
	GetSession(ctx context.Context, traceID string) (*OversightSession, error)
}

// Sink is a complete audit backend.
type Sink interface {
	EventWriter
	OversightStore
	Close() error
}

// closeSession applies the open -> closed transition in memory.
func closeSession(s *OversightSession, closedBy, note string, at time.Time) error {
	if s.Status == SessionClosed {
		return ErrOversightClosed
	}
	at = at.UTC().Truncate(time.Millisecond)
	s.Status = SessionClosed
	s.ClosedAt = &at
	s.ClosedBy = closedBy
	s.ClosingNote = note
	return nil
}

// EventReader reads back events for one trace.
type EventReader interface {
	EventsByTrace(ctx context.Context, traceID string) ([]Event, error)
}
