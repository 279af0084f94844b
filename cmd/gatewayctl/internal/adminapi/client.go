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
// Package adminapi is a client for the gateway's operator routes.
package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/audit"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/policy"
)

// Client calls the admin API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIError is a non-2xx reply from the gateway.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d %s: %s", e.Status, e.Code, e.Message)
}

// AuditEvent is an audit event together with the server's digest check.
type AuditEvent struct {
	audit.Event
	Verified bool `json:"verified"`
}

// AuditTrail is the reply of GET /api/v1/audit/{trace_id}.
type AuditTrail struct {
	TraceID string       `json:"traceId"`
	Events  []AuditEvent `json:"events"`
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PolicyInfo returns the active rule set summary.
func (c *Client) PolicyInfo(ctx context.Context) (*policy.Info, error) {
	var info policy.Info
	if err := c.do(ctx, http.MethodGet, "/api/v1/policies", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ReloadPolicies asks the gateway to re-read its rule source.
func (c *Client) ReloadPolicies(ctx context.Context) (*policy.Info, error) {
	var info policy.Info
	if err := c.do(ctx, http.MethodPost, "/api/v1/policies/reload", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetOversight returns the oversight session of an escalated request.
func (c *Client) GetOversight(ctx context.Context, traceID string) (*audit.OversightSession, error) {
	var s audit.OversightSession
	if err := c.do(ctx, http.MethodGet, "/api/v1/oversight/"+url.PathEscape(traceID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CloseOversight closes a session. An empty closedBy lets the server use the
// token subject.
func (c *Client) CloseOversight(ctx context.Context, traceID, closedBy, note string) (*audit.OversightSession, error) {
	payload := map[string]string{"closedBy": closedBy, "note": note}
	var s audit.OversightSession
	if err := c.do(ctx, http.MethodPost, "/api/v1/oversight/"+url.PathEscape(traceID)+"/close", payload, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AuditTrail returns every audit event of a trace.
func (c *Client) AuditTrail(ctx context.Context, traceID string) (*AuditTrail, error) {
	var trail AuditTrail
	if err := c.do(ctx, http.MethodGet, "/api/v1/audit/"+url.PathEscape(traceID), nil, &trail); err != nil {
		return nil, err
	}
	return &trail, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
