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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is used when no subject is configured.
const DefaultNATSSubject = "gateway.audit.events"

// Publisher is the subset of *nats.Conn the mirror needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Mirror republishes every successfully written event. Publishing is best
// effort and never fails the write.
type Mirror struct {
	Sink
	pub     Publisher
	subject string
	logger  *log.Logger
	closeFn func()
}

func NewMirror(inner Sink, pub Publisher, subject string, logger *log.Logger) *Mirror {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[AUDIT] ", log.LstdFlags)
	}
	return &Mirror{Sink: inner, pub: pub, subject: subject, logger: logger}
}

// NewNATSMirror connects to a NATS server and mirrors inner's events there.
func NewNATSMirror(inner Sink, url, subject string, logger *log.Logger) (*Mirror, error) {
	nc, err := nats.Connect(url,
		nats.Name("llm-gateway-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	m := NewMirror(inner, nc, subject, logger)
	m.closeFn = func() {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return m, nil
}

func (m *Mirror) WriteEvent(ctx context.Context, event *Event) error {
	if err := m.Sink.WriteEvent(ctx, event); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		m.logger.Printf("Failed to encode event %s for mirror: %v", event.ID, err)
		return nil
	}
	if err := m.pub.Publish(m.subject, data); err != nil {
		m.logger.Printf("Failed to mirror event %s to %s: %v", event.ID, m.subject, err)
	}
	return nil
}

func (m *Mirror) EventsByTrace(ctx context.Context, traceID string) ([]Event, error) {
	return eventsByTrace(ctx, m.Sink, traceID)
}

func (m *Mirror) Close() error {
	if m.closeFn != nil {
		m.closeFn()
	}
	return m.Sink.Close()
}

