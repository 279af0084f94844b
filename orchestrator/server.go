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

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/audit"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/policy"
)

const maxRequestBody = 1 << 20

// PolicyAdmin is the operator view of the policy engine.
type PolicyAdmin interface {
	Reload(ctx context.Context) error
	Info() policy.Info
}

// ProviderLister returns descriptors with their current health.
type ProviderLister interface {
	Snapshot() []llm.ProviderDescriptor
}

// Server exposes the coordinator and operator routes over HTTP.
type Server struct {
	coordinator *Coordinator
	providers   ProviderLister
	policies    PolicyAdmin
	oversight   audit.OversightStore
	events      audit.EventReader
	auth        *AdminAuth
	gatherer    prometheus.Gatherer
	origins     []string
	startedAt   time.Time
}

// ServerConfig lists the server collaborators. Events and Gatherer are
// optional.
type ServerConfig struct {
	Coordinator    *Coordinator
	Providers      ProviderLister
	Policies       PolicyAdmin
	Oversight      audit.OversightStore
	Events         audit.EventReader
	Auth           *AdminAuth
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

// NewServer creates the HTTP server.
func NewServer(cfg ServerConfig) *Server {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		coordinator: cfg.Coordinator,
		providers:   cfg.Providers,
		policies:    cfg.Policies,
		oversight:   cfg.Oversight,
		events:      cfg.Events,
		auth:        cfg.Auth,
		gatherer:    gatherer,
		origins:     origins,
		startedAt:   time.Now(),
	}
}

// Router returns the route table without CORS.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	r.HandleFunc("/api/v1/orchestrate", s.orchestrateHandler).Methods("POST")
	r.HandleFunc("/api/v1/providers", s.providersHandler).Methods("GET")

	admin := r.PathPrefix("/api/v1").Subrouter()
	admin.Use(s.auth.Middleware)
	admin.HandleFunc("/policies", s.policyInfoHandler).Methods("GET")
	admin.HandleFunc("/policies/reload", s.policyReloadHandler).Methods("POST")
	admin.HandleFunc("/oversight/{trace_id}", s.getOversightHandler).Methods("GET")
	admin.HandleFunc("/oversight/{trace_id}/close", s.closeOversightHandler).Methods("POST")
	admin.HandleFunc("/audit/{trace_id}", s.auditTrailHandler).Methods("GET")

	return r
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(s.Router())
}

type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: apiErrorDetail{Code: code, Message: message}})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	providers := s.providers.Snapshot()
	healthy := 0
	for _, p := range providers {
		if p.Health == llm.HealthStatusHealthy {
			healthy++
		}
	}
	info := s.policies.Info()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "llm-gateway",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"components": map[string]interface{}{
			"providers": map[string]int{
				"registered": len(providers),
				"healthy":    healthy,
			},
			"policy": map[string]string{
				"version": info.Version,
				"origin":  info.Origin,
			},
		},
	})
}

func (s *Server) orchestrateHandler(w http.ResponseWriter, r *http.Request) {
	var req OrchestrationRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &OrchestrationResponse{
			Success: false,
			Error:   "invalid request: body must be a JSON object",
		})
		return
	}

	resp := s.coordinator.Orchestrate(r.Context(), req)

	var ve *ValidationError
	if errors.As(resp.Err(), &ve) {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) providersHandler(w http.ResponseWriter, r *http.Request) {
	providers := s.providers.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": providers,
		"ranking":   llm.Rank(healthyOnly(providers)),
	})
}

func healthyOnly(in []llm.ProviderDescriptor) []llm.ProviderDescriptor {
	out := make([]llm.ProviderDescriptor, 0, len(in))
	for _, d := range in {
		if d.Health == llm.HealthStatusHealthy {
			out = append(out, d)
		}
	}
	return out
}

func (s *Server) policyInfoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.policies.Info())
}

func (s *Server) policyReloadHandler(w http.ResponseWriter, r *http.Request) {
	err := s.policies.Reload(r.Context())

	var ruleErr *policy.RuleError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.policies.Info())
	case errors.Is(err, policy.ErrNoSource):
		writeError(w, http.StatusConflict, "NO_SOURCE", "no external rule source is configured")
	case errors.As(err, &ruleErr), errors.Is(err, policy.ErrInvalidDocument), errors.Is(err, policy.ErrEmptyDocument):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_RULE_SET", err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, "SOURCE_UNAVAILABLE", err.Error())
	}
}

func (s *Server) getOversightHandler(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["trace_id"]
	session, err := s.oversight.GetSession(r.Context(), traceID)
	if err != nil {
		s.writeOversightError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type closeOversightRequest struct {
	ClosedBy string `json:"closedBy"`
	Note     string `json:"note"`
}

func (s *Server) closeOversightHandler(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["trace_id"]

	var body closeOversightRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "body must be a JSON object")
			return
		}
	}
	if body.ClosedBy == "" {
		body.ClosedBy = AdminSubject(r.Context())
	}

	session, err := s.oversight.CloseSession(r.Context(), traceID, body.ClosedBy, body.Note)
	if err != nil {
		s.writeOversightError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) writeOversightError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, audit.ErrOversightNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "oversight session not found")
	case errors.Is(err, audit.ErrOversightClosed):
		writeError(w, http.StatusConflict, "ALREADY_CLOSED", "oversight session is already closed")
	default:
		log.Printf("Oversight store error: %v", err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "oversight store unavailable")
	}
}

func (s *Server) auditTrailHandler(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotImplemented, "NOT_SUPPORTED", "the configured audit store cannot be queried")
		return
	}
	traceID := mux.Vars(r)["trace_id"]
	events, err := s.events.EventsByTrace(r.Context(), traceID)
	switch {
	case errors.Is(err, errors.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, "NOT_SUPPORTED", "the configured audit store cannot be queried")
		return
	case err != nil:
		log.Printf("Audit read failed for trace %s: %v", traceID, err)
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "audit store unavailable")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no audit events for trace")
		return
	}

	type verifiedEvent struct {
		audit.Event
		Verified bool `json:"verified"`
	}
	out := make([]verifiedEvent, 0, len(events))
	for _, e := range events {
		ok, _ := audit.VerifyDigest(e)
		out = append(out, verifiedEvent{Event: e, Verified: ok})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"traceId": traceID,
		"events":  out,
	})
}
