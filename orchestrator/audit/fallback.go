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
	"errors"
	"log"
	"os"
)

// FallbackSink writes to a primary store and spools to disk when it fails.
// A write is reported as failed only when both paths fail.
type FallbackSink struct {
	primary Sink
	spool   *Spool
	logger  *log.Logger
}

func NewFallbackSink(primary Sink, spool *Spool, logger *log.Logger) *FallbackSink {
	if logger == nil {
		logger = log.New(os.Stdout, "[AUDIT] ", log.LstdFlags)
	}
	return &FallbackSink{primary: primary, spool: spool, logger: logger}
}

func (f *FallbackSink) WriteEvent(ctx context.Context, event *Event) error {
	// Seal before the primary attempt so a spooled copy carries the same digest.
	if event.Digest == "" {
		if err := event.Seal(); err != nil {
			return &WriteError{TraceID: event.TraceID, Op: "write_event", Cause: err}
		}
	}
	err := f.primary.WriteEvent(ctx, event)
	if err == nil {
		return nil
	}
	f.logger.Printf("Primary audit store failed for trace %s, spooling event %s: %v", event.TraceID, event.ID, err)
	if spoolErr := f.spool.AppendEvent(event); spoolErr != nil {
		return &WriteError{TraceID: event.TraceID, Op: "write_event", Cause: errors.Join(err, spoolErr)}
	}
	return nil
}

func (f *FallbackSink) OpenSession(ctx context.Context, session *OversightSession) error {
	err := f.primary.OpenSession(ctx, session)
	if err == nil || errors.Is(err, ErrOversightExists) {
		return err
	}
	f.logger.Printf("Primary audit store failed for trace %s, spooling oversight session: %v", session.TraceID, err)
	if spoolErr := f.spool.AppendSession(session); spoolErr != nil {
		return &WriteError{TraceID: session.TraceID, Op: "open_session", Cause: errors.Join(err, spoolErr)}
	}
	return nil
}

func (f *FallbackSink) CloseSession(ctx context.Context, traceID, closedBy, note string) (*OversightSession, error) {
	return f.primary.CloseSession(ctx, traceID, closedBy, note)
}

func (f *FallbackSink) GetSession(ctx context.Context, traceID string) (*OversightSession, error) {
	return f.primary.GetSession(ctx, traceID)
}

func (f *FallbackSink) EventsByTrace(ctx context.Context, traceID string) ([]Event, error) {
	return eventsByTrace(ctx, f.primary, traceID)
}

func (f *FallbackSink) Close() error {
	return errors.Join(f.primary.Close(), f.spool.Close())
}

func eventsByTrace(ctx context.Context, sink Sink, traceID string) ([]Event, error) {
	reader, ok := sink.(EventReader)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return reader.EventsByTrace(ctx, traceID)
}
