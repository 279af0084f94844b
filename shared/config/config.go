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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names.
const (
	EnvConfigFile = "GATEWAY_CONFIG_FILE"

	EnvPort              = "PORT"
	EnvAdminJWTSecret    = "ADMIN_JWT_SECRET"
	EnvCORSOrigins       = "CORS_ALLOWED_ORIGINS"
	EnvGenerationTimeout = "GENERATION_TIMEOUT"

	EnvHealthCheckTimeout       = "HEALTH_CHECK_TIMEOUT"
	EnvHealthMinRefreshInterval = "HEALTH_MIN_REFRESH_INTERVAL"
	EnvHealthMaxStaleness       = "HEALTH_MAX_STALENESS"

	EnvPolicySource         = "POLICY_SOURCE"
	EnvPolicyRulesPath      = "POLICY_RULES_PATH"
	EnvPolicyRedisURL       = "POLICY_REDIS_URL"
	EnvPolicyRedisKey       = "POLICY_REDIS_KEY"
	EnvPolicyDatabaseURL    = "POLICY_DATABASE_URL"
	EnvPolicyReloadInterval = "POLICY_RELOAD_INTERVAL"

	EnvAuditDriver           = "AUDIT_DRIVER"
	EnvAuditDatabaseURL      = "AUDIT_DATABASE_URL"
	EnvAuditMongoURI         = "AUDIT_MONGO_URI"
	EnvAuditMongoDatabase    = "AUDIT_MONGO_DATABASE"
	EnvAuditFallbackPath     = "AUDIT_FALLBACK_PATH"
	EnvAuditWriteTimeout     = "AUDIT_WRITE_TIMEOUT"
	EnvAuditNATSURL          = "AUDIT_NATS_URL"
	EnvAuditNATSSubject      = "AUDIT_NATS_SUBJECT"
	EnvAuditArchiveBackend   = "AUDIT_ARCHIVE_BACKEND"
	EnvAuditArchiveBucket    = "AUDIT_ARCHIVE_BUCKET"
	EnvAuditArchivePrefix    = "AUDIT_ARCHIVE_PREFIX"
	EnvAuditArchiveRegion    = "AUDIT_ARCHIVE_REGION"
	EnvAuditArchiveEndpoint  = "AUDIT_ARCHIVE_ENDPOINT"
	EnvAuditArchiveInterval  = "AUDIT_ARCHIVE_INTERVAL"
	EnvGoogleCredentials     = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvAzureConnectionString = "AZURE_STORAGE_CONNECTION_STRING"
	EnvAzureAccountURL       = "AZURE_STORAGE_ACCOUNT_URL"

	EnvLLMProviders = "LLM_PROVIDERS"
)

// Policy sources.
const (
	PolicySourceBuiltin  = "builtin"
	PolicySourceFile     = "file"
	PolicySourceRedis    = "redis"
	PolicySourcePostgres = "postgres"
)

// Audit drivers.
const (
	AuditDriverMemory   = "memory"
	AuditDriverPostgres = "postgres"
	AuditDriverMySQL    = "mysql"
	AuditDriverMongo    = "mongo"
)

// Config is the complete gateway configuration.
type Config struct {
	Port               string        `yaml:"port"`
	AdminJWTSecret     string        `yaml:"admin_jwt_secret"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	GenerationTimeout  time.Duration `yaml:"generation_timeout"`

	Health    HealthConfig     `yaml:"health"`
	Policy    PolicyConfig     `yaml:"policy"`
	Audit     AuditConfig      `yaml:"audit"`
	Providers []ProviderConfig `yaml:"providers"`
}

// HealthConfig tunes provider health checking.
type HealthConfig struct {
	CheckTimeout       time.Duration `yaml:"check_timeout"`
	MinRefreshInterval time.Duration `yaml:"min_refresh_interval"`
	MaxStaleness       time.Duration `yaml:"max_staleness"`
}

// PolicyConfig selects where the rule set comes from.
type PolicyConfig struct {
	Source         string        `yaml:"source"`
	RulesPath      string        `yaml:"rules_path"`
	RedisURL       string        `yaml:"redis_url"`
	RedisKey       string        `yaml:"redis_key"`
	DatabaseURL    string        `yaml:"database_url"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// AuditConfig selects the audit store and its durability add-ons.
type AuditConfig struct {
	Driver        string        `yaml:"driver"`
	DatabaseURL   string        `yaml:"database_url"`
	MongoURI      string        `yaml:"mongo_uri"`
	MongoDatabase string        `yaml:"mongo_database"`
	FallbackPath  string        `yaml:"fallback_path"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	NATSURL       string        `yaml:"nats_url"`
	NATSSubject   string        `yaml:"nats_subject"`
	Archive       ArchiveConfig `yaml:"archive"`
}

// ArchiveConfig configures shipping of spooled audit files.
type ArchiveConfig struct {
	Backend  string        `yaml:"backend"`
	Bucket   string        `yaml:"bucket"`
	Prefix   string        `yaml:"prefix"`
	Region   string        `yaml:"region"`
	Endpoint string        `yaml:"endpoint"`
	Interval time.Duration `yaml:"interval"`

	CredentialsFile       string `yaml:"credentials_file"`
	AzureConnectionString string `yaml:"azure_connection_string"`
	AzureAccountURL       string `yaml:"azure_account_url"`
}

// ProviderConfig describes one LLM provider.
type ProviderConfig struct {
	Name           string  `yaml:"name"`
	Type           string  `yaml:"type"`
	Enabled        bool    `yaml:"enabled"`
	DisplayName    string  `yaml:"display_name"`
	Endpoint       string  `yaml:"endpoint"`
	Model          string  `yaml:"model"`
	Credential     string  `yaml:"credential"`
	CredentialRef  string  `yaml:"credential_ref"`
	Region         string  `yaml:"region"`
	CostPerToken   float64 `yaml:"cost_per_token"`
	QualityScore   float64 `yaml:"quality_score"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// providerDefaults holds the per-type environment prefix and catalog values
// used when a provider is configured from the environment.
var providerDefaults = []struct {
	typ     string
	prefix  string
	display string
	cost    float64
	quality float64
}{
	{"anthropic", "ANTHROPIC", "Anthropic Claude", 0.000015, 0.9},
	{"openai", "OPENAI", "OpenAI", 0.00003, 0.9},
	{"bedrock", "BEDROCK", "Amazon Bedrock", 0.00001, 0.85},
	{"ollama", "OLLAMA", "Ollama (self-hosted)", 0, 0.7},
	{"local", "LOCAL", "Offline coach", 0, 0.5},
}

// Default returns the configuration with every default applied and no
// providers.
func Default() *Config {
	return &Config{
		Port:               "8081",
		CORSAllowedOrigins: []string{"*"},
		GenerationTimeout:  30 * time.Second,
		Health: HealthConfig{
			CheckTimeout: 3 * time.Second,
			MaxStaleness: 60 * time.Second,
		},
		Policy: PolicyConfig{
			Source:         PolicySourceBuiltin,
			RedisKey:       "gateway:policy:rules",
			ReloadInterval: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Driver:        AuditDriverMemory,
			MongoDatabase: "gateway_audit",
			WriteTimeout:  5 * time.Second,
			NATSSubject:   "gateway.audit.events",
			Archive: ArchiveConfig{
				Prefix:   "audit-spool",
				Interval: 5 * time.Minute,
			},
		},
	}
}

// Load reads GATEWAY_CONFIG_FILE when set and otherwise builds the
// configuration from environment variables.
func Load() (*Config, error) {
	if path := os.Getenv(EnvConfigFile); path != "" {
		return LoadFile(path)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	cfg := Default()
	var errs []error

	cfg.Port = getEnv(EnvPort, cfg.Port)
	cfg.AdminJWTSecret = os.Getenv(EnvAdminJWTSecret)
	if origins := os.Getenv(EnvCORSOrigins); origins != "" {
		cfg.CORSAllowedOrigins = splitList(origins)
	}
	cfg.GenerationTimeout = getDuration(EnvGenerationTimeout, cfg.GenerationTimeout, &errs)

	cfg.Health.CheckTimeout = getDuration(EnvHealthCheckTimeout, cfg.Health.CheckTimeout, &errs)
	cfg.Health.MinRefreshInterval = getDuration(EnvHealthMinRefreshInterval, cfg.Health.MinRefreshInterval, &errs)
	cfg.Health.MaxStaleness = getDuration(EnvHealthMaxStaleness, cfg.Health.MaxStaleness, &errs)

	cfg.Policy.Source = strings.ToLower(getEnv(EnvPolicySource, cfg.Policy.Source))
	cfg.Policy.RulesPath = os.Getenv(EnvPolicyRulesPath)
	cfg.Policy.RedisURL = os.Getenv(EnvPolicyRedisURL)
	cfg.Policy.RedisKey = getEnv(EnvPolicyRedisKey, cfg.Policy.RedisKey)
	cfg.Policy.DatabaseURL = os.Getenv(EnvPolicyDatabaseURL)
	cfg.Policy.ReloadInterval = getDuration(EnvPolicyReloadInterval, cfg.Policy.ReloadInterval, &errs)

	cfg.Audit.Driver = strings.ToLower(getEnv(EnvAuditDriver, cfg.Audit.Driver))
	cfg.Audit.DatabaseURL = os.Getenv(EnvAuditDatabaseURL)
	cfg.Audit.MongoURI = os.Getenv(EnvAuditMongoURI)
	cfg.Audit.MongoDatabase = getEnv(EnvAuditMongoDatabase, cfg.Audit.MongoDatabase)
	cfg.Audit.FallbackPath = os.Getenv(EnvAuditFallbackPath)
	cfg.Audit.WriteTimeout = getDuration(EnvAuditWriteTimeout, cfg.Audit.WriteTimeout, &errs)
	cfg.Audit.NATSURL = os.Getenv(EnvAuditNATSURL)
	cfg.Audit.NATSSubject = getEnv(EnvAuditNATSSubject, cfg.Audit.NATSSubject)
	cfg.Audit.Archive.Backend = strings.ToLower(os.Getenv(EnvAuditArchiveBackend))
	cfg.Audit.Archive.Bucket = os.Getenv(EnvAuditArchiveBucket)
	cfg.Audit.Archive.Prefix = getEnv(EnvAuditArchivePrefix, cfg.Audit.Archive.Prefix)
	cfg.Audit.Archive.Region = os.Getenv(EnvAuditArchiveRegion)
	cfg.Audit.Archive.Endpoint = os.Getenv(EnvAuditArchiveEndpoint)
	cfg.Audit.Archive.Interval = getDuration(EnvAuditArchiveInterval, cfg.Audit.Archive.Interval, &errs)
	cfg.Audit.Archive.CredentialsFile = os.Getenv(EnvGoogleCredentials)
	cfg.Audit.Archive.AzureConnectionString = os.Getenv(EnvAzureConnectionString)
	cfg.Audit.Archive.AzureAccountURL = os.Getenv(EnvAzureAccountURL)

	cfg.Providers = providersFromEnv(&errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// providersFromEnv configures every provider type whose variables are set.
// LLM_PROVIDERS, when present, limits the result to the listed types. The
// local provider is on unless LOCAL_ENABLED=false.
func providersFromEnv(errs *[]error) []ProviderConfig {
	var filter map[string]bool
	if list := os.Getenv(EnvLLMProviders); list != "" {
		filter = make(map[string]bool)
		for _, t := range splitList(list) {
			filter[strings.ToLower(t)] = true
		}
	}

	var out []ProviderConfig
	for _, d := range providerDefaults {
		if filter != nil && !filter[d.typ] {
			continue
		}
		env := func(suffix string) string { return os.Getenv(d.prefix + "_" + suffix) }

		p := ProviderConfig{
			Name:          getEnv(d.prefix+"_NAME", d.typ),
			Type:          d.typ,
			DisplayName:   getEnv(d.prefix+"_DISPLAY_NAME", d.display),
			Endpoint:      env("ENDPOINT"),
			Model:         env("MODEL"),
			Credential:    env("API_KEY"),
			CredentialRef: env("CREDENTIAL_REF"),
			Region:        env("REGION"),
			CostPerToken:  getFloat(d.prefix+"_COST_PER_TOKEN", d.cost, errs),
			QualityScore:  getFloat(d.prefix+"_QUALITY_SCORE", d.quality, errs),
		}
		if v := env("TIMEOUT_SECONDS"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				*errs = append(*errs, fmt.Errorf("%s_TIMEOUT_SECONDS: %w", d.prefix, err))
			}
			p.TimeoutSeconds = n
		}

		switch d.typ {
		case "anthropic", "openai":
			p.Enabled = p.Credential != "" || p.CredentialRef != ""
		case "bedrock":
			p.Enabled = p.Region != ""
		case "ollama":
			p.Enabled = p.Endpoint != ""
		case "local":
			p.Enabled = !strings.EqualFold(env("ENABLED"), "false")
		}
		if filter != nil && !p.Enabled {
			*errs = append(*errs, fmt.Errorf("provider %s is listed in %s but not configured", d.typ, EnvLLMProviders))
			continue
		}
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks enumerations and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}

	switch c.Policy.Source {
	case PolicySourceBuiltin:
	case PolicySourceFile:
		if c.Policy.RulesPath == "" {
			errs = append(errs, fmt.Errorf("policy source %q requires %s", c.Policy.Source, EnvPolicyRulesPath))
		}
	case PolicySourceRedis:
		if c.Policy.RedisURL == "" {
			errs = append(errs, fmt.Errorf("policy source %q requires %s", c.Policy.Source, EnvPolicyRedisURL))
		}
	case PolicySourcePostgres:
		if c.Policy.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("policy source %q requires %s", c.Policy.Source, EnvPolicyDatabaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown policy source %q", c.Policy.Source))
	}

	switch c.Audit.Driver {
	case AuditDriverMemory:
	case AuditDriverPostgres, AuditDriverMySQL:
		if c.Audit.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("audit driver %q requires %s", c.Audit.Driver, EnvAuditDatabaseURL))
		}
	case AuditDriverMongo:
		if c.Audit.MongoURI == "" {
			errs = append(errs, fmt.Errorf("audit driver %q requires %s", c.Audit.Driver, EnvAuditMongoURI))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit driver %q", c.Audit.Driver))
	}

	switch c.Audit.Archive.Backend {
	case "":
	case "s3", "gcs", "azure":
		if c.Audit.FallbackPath == "" {
			errs = append(errs, fmt.Errorf("audit archive requires %s", EnvAuditFallbackPath))
		}
		if c.Audit.Archive.Bucket == "" {
			errs = append(errs, fmt.Errorf("audit archive requires %s", EnvAuditArchiveBucket))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit archive backend %q", c.Audit.Archive.Backend))
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		if p.Type == "" {
			errs = append(errs, fmt.Errorf("provider %s: type is required", p.Name))
		}
	}

	return errors.Join(errs...)
}

// NeedsSecretsManager reports whether any provider credential must be
// resolved through AWS Secrets Manager.
func (c *Config) NeedsSecretsManager() bool {
	for _, p := range c.Providers {
		if p.Enabled && p.Credential == "" && strings.HasPrefix(p.CredentialRef, RefPrefixSecretsManager) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}

func getFloat(key string, defaultValue float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
