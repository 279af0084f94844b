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
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
)

// Request outcomes reported by gateway_requests_total.
const (
	OutcomeSuccess       = "success"
	OutcomeRefused       = "refused"
	OutcomePushedBack    = "pushed_back"
	OutcomeEscalated     = "escalated"
	OutcomeNoProvider    = "no_provider"
	OutcomeProviderError = "provider_error"
	OutcomeInvalid       = "invalid"
	OutcomeInternalError = "internal_error"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	selections    *prometheus.CounterVec
	generation    *prometheus.HistogramVec
	auditFailures prometheus.Counter
}

// NewMetrics creates the gateway collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of orchestration requests by outcome",
			},
			[]string{"outcome"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_policy_decisions_total",
				Help: "Total number of policy decisions by action",
			},
			[]string{"action"},
		),
		selections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_provider_selections_total",
				Help: "Total number of times each provider was selected",
			},
			[]string{"provider"},
		),
		generation: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_generation_duration_seconds",
				Help:    "Provider generation latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		),
		auditFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_audit_write_failures_total",
				Help: "Total number of audit writes that failed in every configured store",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.decisions, m.selections, m.generation, m.auditFailures)
	}
	return m
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeDecision(action string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(action).Inc()
}

func (m *Metrics) observeSelection(provider string) {
	if m == nil {
		return
	}
	m.selections.WithLabelValues(provider).Inc()
}

func (m *Metrics) observeGeneration(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.generation.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) observeAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

var providerHealthDesc = prometheus.NewDesc(
	"gateway_provider_health",
	"Provider health as of the last check (1 healthy, 0.5 degraded, 0 down)",
	[]string{"provider", "type"},
	nil,
)

// ProviderHealthCollector exports gateway_provider_health from a registry
// snapshot taken at scrape time.
type ProviderHealthCollector struct {
	snapshot func() []llm.ProviderDescriptor
}

// NewProviderHealthCollector creates a collector reading from snapshot.
func NewProviderHealthCollector(snapshot func() []llm.ProviderDescriptor) *ProviderHealthCollector {
	return &ProviderHealthCollector{snapshot: snapshot}
}

// Describe implements prometheus.Collector.
func (c *ProviderHealthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- providerHealthDesc
}

// Collect implements prometheus.Collector.
func (c *ProviderHealthCollector) Collect(ch chan<- prometheus.Metric) {
	for _, d := range c.snapshot() {
		ch <- prometheus.MustNewConstMetric(providerHealthDesc, prometheus.GaugeValue, healthValue(d.Health), d.ID, string(d.Type))
	}
}

func healthValue(h llm.HealthStatus) float64 {
	switch h {
	case llm.HealthStatusHealthy:
		return 1
	case llm.HealthStatusDegraded:
		return 0.5
	default:
		return 0
	}
}
