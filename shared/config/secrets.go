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

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Credential reference prefixes.
const (
	RefPrefixEnv            = "env:"
	RefPrefixSecretsManager = "secretsmanager:"
)

// SecretStore returns a secret as a flat key/value map.
type SecretStore interface {
	GetSecret(ctx context.Context, secretID string) (map[string]string, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client in use.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager implements SecretStore using AWS Secrets Manager with a
// TTL cache.
type AWSSecretsManager struct {
	client SecretsManagerAPI
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	logger *log.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager.
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSecretsManager creates a Secrets Manager backed store from the
// default AWS credential chain.
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewAWSSecretsManagerWithClient(secretsmanager.NewFromConfig(cfg), opts), nil
}

// NewAWSSecretsManagerWithClient wraps an existing client.
func NewAWSSecretsManagerWithClient(client SecretsManagerAPI, opts AWSSecretsManagerOptions) *AWSSecretsManager {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// GetSecret retrieves a secret. JSON object secrets are returned as their
// key/value pairs; any other string is returned under the key "value".
func (s *AWSSecretsManager) GetSecret(ctx context.Context, secretID string) (map[string]string, error) {
	s.mu.RLock()
	entry, exists := s.cache[secretID]
	s.mu.RUnlock()

	if exists && s.now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	s.logger.Printf("Fetching secret %s from AWS Secrets Manager", maskSecretID(secretID))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskSecretID(secretID), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskSecretID(secretID))
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		values = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[secretID] = &secretCacheEntry{
		value:     values,
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()

	return values, nil
}

// InvalidateSecret removes a secret from the cache.
func (s *AWSSecretsManager) InvalidateSecret(secretID string) {
	s.mu.Lock()
	delete(s.cache, secretID)
	s.mu.Unlock()
}

// maskSecretID shows only the last 8 characters.
func maskSecretID(id string) string {
	if len(id) <= 12 {
		return "***"
	}
	return "..." + id[len(id)-8:]
}

// Resolver turns credential references into secret values.
//
//	env:VAR                         value of $VAR
//	secretsmanager:<id>             "api_key" or "value" key of the secret
//	secretsmanager:<id>#<key>       the named key of the secret
type Resolver struct {
	secrets SecretStore
}

// NewResolver creates a resolver. secrets may be nil when no reference uses
// Secrets Manager.
func NewResolver(secrets SecretStore) *Resolver {
	return &Resolver{secrets: secrets}
}

// Resolve returns the secret named by ref.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, RefPrefixEnv):
		name := strings.TrimPrefix(ref, RefPrefixEnv)
		v := os.Getenv(name)
		if v == "" {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return v, nil

	case strings.HasPrefix(ref, RefPrefixSecretsManager):
		if r.secrets == nil {
			return "", errors.New("secrets manager is not configured")
		}
		id, key, _ := strings.Cut(strings.TrimPrefix(ref, RefPrefixSecretsManager), "#")
		if id == "" {
			return "", fmt.Errorf("invalid credential reference %q", ref)
		}
		values, err := r.secrets.GetSecret(ctx, id)
		if err != nil {
			return "", err
		}
		if key != "" {
			if v, ok := values[key]; ok && v != "" {
				return v, nil
			}
			return "", fmt.Errorf("secret %s has no key %q", maskSecretID(id), key)
		}
		for _, k := range []string{"api_key", "value"} {
			if v, ok := values[k]; ok && v != "" {
				return v, nil
			}
		}
		return "", fmt.Errorf("secret %s has no api_key or value entry", maskSecretID(id))

	default:
		return "", fmt.Errorf("unsupported credential reference %q", ref)
	}
}

// ResolveProviderCredentials fills Credential from CredentialRef for every
// enabled provider that has no inline credential. Providers that fail are
// reported and left without a credential.
func (r *Resolver) ResolveProviderCredentials(ctx context.Context, cfg *Config) error {
	var errs []error
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if !p.Enabled || p.Credential != "" || p.CredentialRef == "" {
			continue
		}
		v, err := r.Resolve(ctx, p.CredentialRef)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", p.Name, err))
			continue
		}
		p.Credential = v
	}
	return errors.Join(errs...)
}
