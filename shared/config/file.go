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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML configuration file. ${VAR} and ${VAR:-default}
// references are expanded before parsing; keys missing from the file keep
// their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expandEnvVars(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Policy.Source = strings.ToLower(cfg.Policy.Source)
	cfg.Audit.Driver = strings.ToLower(cfg.Audit.Driver)
	cfg.Audit.Archive.Backend = strings.ToLower(cfg.Audit.Archive.Backend)
	for i := range cfg.Providers {
		cfg.Providers[i].Type = strings.ToLower(cfg.Providers[i].Type)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envVarRegex matches ${VAR_NAME} and ${VAR_NAME:-default}. Bare $VAR is left
// alone so that credentials and patterns containing '$' survive.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

// ExampleFile is a commented configuration file covering every section.
const ExampleFile = `# LLM gateway configuration
# ${VAR} and ${VAR:-default} are expanded from the environment.

port: "${PORT:-8081}"
admin_jwt_secret: "${ADMIN_JWT_SECRET}"
generation_timeout: 30s

health:
  check_timeout: 3s
  min_refresh_interval: 0s
  max_staleness: 60s

policy:
  source: file
  rules_path: /etc/gateway/rules.yaml
  reload_interval: 5m

audit:
  driver: postgres
  database_url: "${AUDIT_DATABASE_URL}"
  fallback_path: /var/lib/gateway/audit-spool
  write_timeout: 5s
  archive:
    backend: s3
    bucket: gateway-audit
    region: eu-west-1

providers:
  - name: anthropic
    type: anthropic
    enabled: true
    display_name: Anthropic Claude
    credential_ref: secretsmanager:gateway/anthropic#api_key
    cost_per_token: 0.000015
    quality_score: 0.9
  - name: ollama
    type: ollama
    enabled: true
    endpoint: "${OLLAMA_ENDPOINT:-http://localhost:11434}"
    model: llama3.1
    quality_score: 0.7
  - name: local
    type: local
    enabled: true
    quality_score: 0.5
`
