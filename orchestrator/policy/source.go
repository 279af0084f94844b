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
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
)

// FileSource reads a YAML or JSON rule set from disk.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return "file:" + s.path }

// Path returns the watched file path.
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return data, nil
}

// DefaultRedisKey holds the rule document; publishing anything on
// DefaultRedisKey + ":updates" triggers a reload in subscribed watchers.
const DefaultRedisKey = "gateway:policy:rules"

// RedisSource reads the rule document stored under a single key.
type RedisSource struct {
	client *redis.Client
	key    string
}

func NewRedisSource(client *redis.Client, key string) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{client: client, key: key}
}

func (s *RedisSource) Name() string { return "redis:" + s.key }

// UpdatesChannel is the pub/sub channel announcing a new document.
func (s *RedisSource) UpdatesChannel() string { return s.key + ":updates" }

func (s *RedisSource) Fetch(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("key %s: %w", s.key, ErrEmptyDocument)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set from redis: %w", err)
	}
	return data, nil
}

// Publish stores a document and notifies subscribers.
func (s *RedisSource) Publish(ctx context.Context, document []byte) error {
	if err := s.client.Set(ctx, s.key, document, 0).Err(); err != nil {
		return fmt.Errorf("failed to store rule set: %w", err)
	}
	return s.client.Publish(ctx, s.UpdatesChannel(), "reload").Err()
}

// Subscribe returns a subscription to the updates channel.
func (s *RedisSource) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, s.UpdatesChannel())
}

// SQLSource reads the most recent active document from the policy_rule_sets table.
type SQLSource struct {
	db *sql.DB
}

const ruleSetSchema = `
CREATE TABLE IF NOT EXISTS policy_rule_sets (
	id SERIAL PRIMARY KEY,
	version VARCHAR(100) NOT NULL,
	document TEXT NOT NULL,
	active BOOLEAN DEFAULT true,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_policy_rule_sets_active ON policy_rule_sets(active, created_at DESC);
`

const selectActiveRuleSet = `SELECT document FROM policy_rule_sets WHERE active = true ORDER BY created_at DESC, id DESC LIMIT 1`

func NewSQLSource(db *sql.DB) *SQLSource {
	return &SQLSource{db: db}
}

func (s *SQLSource) Name() string { return "postgres:policy_rule_sets" }

// EnsureSchema creates the rule set table if needed.
func (s *SQLSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ruleSetSchema); err != nil {
		return fmt.Errorf("failed to create policy schema: %w", err)
	}
	return nil
}

func (s *SQLSource) Fetch(ctx context.Context) ([]byte, error) {
	var document string
	err := s.db.QueryRowContext(ctx, selectActiveRuleSet).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no active rule set: %w", ErrEmptyDocument)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query rule set: %w", err)
	}
	return []byte(document), nil
}

// Insert stores a new active document. Older rows stay for history.
func (s *SQLSource) Insert(ctx context.Context, version string, document []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_rule_sets (version, document, active) VALUES ($1, $2, true)`,
		version, string(document))
	if err != nil {
		return fmt.Errorf("failed to insert rule set: %w", err)
	}
	return nil
}
