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

package llm

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCheckTimeout bounds a single provider health check.
	DefaultCheckTimeout = 3 * time.Second

	// DefaultMaxStaleness is how long a successful health check keeps a
	// provider eligible for selection.
	DefaultMaxStaleness = 60 * time.Second
)

// healthState is replaced wholesale on every check, never mutated in place.
type healthState struct {
	health      HealthStatus
	latency     time.Duration
	checkedAt   time.Time
	lastHealthy time.Time
	lastErr     string
}

type registryEntry struct {
	descriptor ProviderDescriptor
	provider   Provider
	state      atomic.Pointer[healthState]
}

// Registry owns the configured providers and their health. Health is
// written per provider through an atomic pointer swap, so readers never
// block a refresh and a refresh never blocks readers.
type Registry struct {
	mu      sync.RWMutex
	entries []*registryEntry
	byID    map[string]*registryEntry

	checkTimeout       time.Duration
	minRefreshInterval time.Duration
	maxStaleness       time.Duration

	refreshGroup singleflight.Group
	lastRefresh  atomic.Int64

	now    func() time.Time
	logger *log.Logger
}

// RegistryOption configures the registry during creation.
type RegistryOption func(*Registry)

// WithLogger sets a custom logger for the registry.
func WithLogger(logger *log.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithCheckTimeout sets the per-provider health check timeout.
func WithCheckTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.checkTimeout = d
		}
	}
}

// WithMinRefreshInterval lets EnsureFresh skip a refresh when the previous
// one finished less than d ago. Zero refreshes before every selection.
func WithMinRefreshInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d >= 0 {
			r.minRefreshInterval = d
		}
	}
}

// WithMaxStaleness sets how old a provider's last successful check may be
// before ListHealthy stops returning it.
func WithMaxStaleness(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.maxStaleness = d
		}
	}
}

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty provider registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byID:         make(map[string]*registryEntry),
		checkTimeout: DefaultCheckTimeout,
		maxStaleness: DefaultMaxStaleness,
		now:          time.Now,
		logger:       log.New(os.Stdout, "[LLM_REGISTRY] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a provider. The descriptor's static fields come from desc;
// an empty desc.ID defaults to p.Name(). New providers start down until
// their first successful health check.
func (r *Registry) Register(desc ProviderDescriptor, p Provider) error {
	if p == nil {
		return &RegistryError{Code: ErrRegistryInvalidConfig, Message: "provider cannot be nil"}
	}
	if desc.ID == "" {
		desc.ID = p.Name()
	}
	if desc.ID == "" {
		return &RegistryError{Code: ErrRegistryInvalidConfig, Message: "provider id is required"}
	}
	if desc.QualityScore < 0 || desc.QualityScore > 1 {
		return &RegistryError{
			ProviderName: desc.ID,
			Code:         ErrRegistryInvalidConfig,
			Message:      fmt.Sprintf("quality score %.3f outside [0,1]", desc.QualityScore),
		}
	}
	if desc.CostPerToken < 0 {
		return &RegistryError{
			ProviderName: desc.ID,
			Code:         ErrRegistryInvalidConfig,
			Message:      "cost per token cannot be negative",
		}
	}
	if desc.DisplayName == "" {
		desc.DisplayName = desc.ID
	}
	if desc.Type == "" {
		desc.Type = p.Type()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[desc.ID]; exists {
		return &RegistryError{
			ProviderName: desc.ID,
			Code:         ErrRegistryDuplicate,
			Message:      "provider already registered",
		}
	}

	desc.RegistrationOrder = len(r.entries)
	entry := &registryEntry{descriptor: desc, provider: p}
	entry.state.Store(&healthState{health: HealthStatusDown, lastErr: "not checked yet"})

	r.entries = append(r.entries, entry)
	r.byID[desc.ID] = entry
	r.logger.Printf("Registered provider %s (type=%s, quality=%.2f, cost_per_token=%g)",
		desc.ID, desc.Type, desc.QualityScore, desc.CostPerToken)
	return nil
}

// Provider returns the adapter registered under id.
func (r *Registry) Provider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return entry.provider, true
}

// Count returns the number of registered providers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) snapshotEntries() []*registryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*registryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Snapshot returns every descriptor, in registration order, with its
// current health merged in.
func (r *Registry) Snapshot() []ProviderDescriptor {
	entries := r.snapshotEntries()
	out := make([]ProviderDescriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.view())
	}
	return out
}

// ListHealthy returns, in registration order, the providers whose most
// recent health check succeeded within the staleness window.
func (r *Registry) ListHealthy() []ProviderDescriptor {
	now := r.now()
	entries := r.snapshotEntries()
	healthy := make([]ProviderDescriptor, 0, len(entries))
	for _, e := range entries {
		d := e.view()
		if d.Health != HealthStatusHealthy {
			continue
		}
		if d.LastHealthy.IsZero() || now.Sub(d.LastHealthy) > r.maxStaleness {
			continue
		}
		healthy = append(healthy, d)
	}
	return healthy
}

// EnsureFresh refreshes health unless the previous refresh completed within
// the minimum refresh interval.
func (r *Registry) EnsureFresh(ctx context.Context) {
	if r.minRefreshInterval > 0 {
		last := r.lastRefresh.Load()
		if last != 0 && r.now().Sub(time.Unix(0, last)) < r.minRefreshInterval {
			return
		}
	}
	r.RefreshHealth(ctx)
}

// RefreshHealth checks every provider concurrently and waits for all of
// them. Each check is bounded by the check timeout; a check that times
// out, errors, panics or returns false marks the provider down.
// Concurrent callers share one in-flight refresh.
func (r *Registry) RefreshHealth(ctx context.Context) {
	// The shared refresh must not die with whichever caller started it.
	base := context.WithoutCancel(ctx)
	_, _, _ = r.refreshGroup.Do("refresh", func() (interface{}, error) {
		entries := r.snapshotEntries()
		var g errgroup.Group
		for _, e := range entries {
			g.Go(func() error {
				r.checkOne(base, e)
				return nil
			})
		}
		_ = g.Wait()
		r.lastRefresh.Store(r.now().UnixNano())
		return nil, nil
	})
}

type checkOutcome struct {
	ok  bool
	err error
}

func (r *Registry) checkOne(ctx context.Context, e *registryEntry) {
	cctx, cancel := context.WithTimeout(ctx, r.checkTimeout)
	defer cancel()

	start := r.now()
	done := make(chan checkOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- checkOutcome{err: fmt.Errorf("health check panicked: %v", rec)}
			}
		}()
		ok, err := e.provider.HealthCheck(cctx)
		done <- checkOutcome{ok: ok, err: err}
	}()

	var outcome checkOutcome
	select {
	case outcome = <-done:
	case <-cctx.Done():
		outcome = checkOutcome{err: fmt.Errorf("health check timed out after %s", r.checkTimeout)}
	}

	checkedAt := r.now()
	prev := e.state.Load()
	next := &healthState{
		health:      HealthStatusDown,
		latency:     checkedAt.Sub(start),
		checkedAt:   checkedAt,
		lastHealthy: prev.lastHealthy,
	}

	switch {
	case outcome.err != nil:
		next.lastErr = outcome.err.Error()
	case !outcome.ok:
		next.lastErr = "health check reported unavailable"
	default:
		next.health = HealthStatusHealthy
		next.lastHealthy = checkedAt
	}

	e.state.Store(next)
	if next.health != prev.health {
		r.logger.Printf("Provider %s health %s -> %s (%s)", e.descriptor.ID, prev.health, next.health, next.lastErr)
	}
}

func (e *registryEntry) view() ProviderDescriptor {
	d := e.descriptor
	s := e.state.Load()
	d.Health = s.health
	d.LatencyMs = float64(s.latency.Microseconds()) / 1000.0
	d.LastChecked = s.checkedAt
	d.LastHealthy = s.lastHealthy
	d.LastError = s.lastErr
	return d
}

// RegistryError represents a registry operation error.
type RegistryError struct {
	ProviderName string
	Code         string
	Message      string
	Cause        error
}

// Registry error codes.
const (
	// ErrRegistryDuplicate indicates a provider with that id exists.
	ErrRegistryDuplicate = "registry_duplicate"

	// ErrRegistryInvalidConfig indicates invalid provider configuration.
	ErrRegistryInvalidConfig = "registry_invalid_config"
)

// Error implements the error interface.
func (e *RegistryError) Error() string {
	if e.ProviderName != "" {
		return fmt.Sprintf("registry error for %s: %s", e.ProviderName, e.Message)
	}
	return fmt.Sprintf("registry error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *RegistryError) Unwrap() error {
	return e.Cause
}
