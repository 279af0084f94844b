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
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoEventsCollection   = "audit_events"
	mongoSessionsCollection = "oversight_sessions"
)

// MongoSink stores events and sessions in two MongoDB collections.
type MongoSink struct {
	client   *mongo.Client
	events   *mongo.Collection
	sessions *mongo.Collection
	now      func() time.Time
}

// OpenMongoSink connects to uri and uses the named database.
func OpenMongoSink(ctx context.Context, uri, database string) (*MongoSink, error) {
	if database == "" {
		return nil, errors.New("mongo audit database name is required")
	}
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	sink := NewMongoSink(client.Database(database))
	sink.client = client

	_, err = sink.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "trace_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create audit index: %w", err)
	}
	return sink, nil
}

// NewMongoSink uses an existing database handle.
func NewMongoSink(db *mongo.Database) *MongoSink {
	return &MongoSink{
		events:   db.Collection(mongoEventsCollection),
		sessions: db.Collection(mongoSessionsCollection),
		now:      time.Now,
	}
}

func (m *MongoSink) WriteEvent(ctx context.Context, event *Event) error {
	if event.Digest == "" {
		if err := event.Seal(); err != nil {
			return &WriteError{TraceID: event.TraceID, Op: "write_event", Cause: err}
		}
	}
	if _, err := m.events.InsertOne(ctx, event); err != nil {
		return &WriteError{TraceID: event.TraceID, Op: "write_event", Cause: err}
	}
	return nil
}

func (m *MongoSink) EventsByTrace(ctx context.Context, traceID string) ([]Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.events.Find(ctx, bson.M{"trace_id": traceID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode audit events: %w", err)
	}
	for i := range events {
		events[i].CreatedAt = events[i].CreatedAt.UTC()
	}
	return events, nil
}

func (m *MongoSink) OpenSession(ctx context.Context, session *OversightSession) error {
	_, err := m.sessions.InsertOne(ctx, session)
	if mongo.IsDuplicateKeyError(err) {
		return ErrOversightExists
	}
	if err != nil {
		return &WriteError{TraceID: session.TraceID, Op: "open_session", Cause: err}
	}
	return nil
}

func (m *MongoSink) CloseSession(ctx context.Context, traceID, closedBy, note string) (*OversightSession, error) {
	at := m.now().UTC().Truncate(time.Millisecond)
	update := bson.M{"$set": bson.M{
		"status":       SessionClosed,
		"closed_at":    at,
		"closed_by":    closedBy,
		"closing_note": note,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var session OversightSession
	err := m.sessions.FindOneAndUpdate(ctx, bson.M{"_id": traceID, "status": SessionOpen}, update, opts).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := m.GetSession(ctx, traceID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrOversightClosed
	}
	if err != nil {
		return nil, &WriteError{TraceID: traceID, Op: "close_session", Cause: err}
	}
	return normalizeSession(&session), nil
}

func (m *MongoSink) GetSession(ctx context.Context, traceID string) (*OversightSession, error) {
	var session OversightSession
	err := m.sessions.FindOne(ctx, bson.M{"_id": traceID}).Decode(&session)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrOversightNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load oversight session: %w", err)
	}
	return normalizeSession(&session), nil
}

func (m *MongoSink) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func normalizeSession(s *OversightSession) *OversightSession {
	s.CreatedAt = s.CreatedAt.UTC()
	if s.ClosedAt != nil {
		t := s.ClosedAt.UTC()
		s.ClosedAt = &t
	}
	return s
}
