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
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/audit"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/audit/archive"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/policy"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/shared/config"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/shared/logger"

	// Provider adapters register their factories on import.
	_ "github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm/anthropic"
	_ "github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm/bedrock"
	_ "github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm/local"
	_ "github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm/ollama"
	_ "github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm/openai"
)

// App is a fully wired gateway.
type App struct {
	Coordinator *Coordinator
	Registry    *llm.Registry
	Policy      *policy.Engine
	Sink        audit.Sink
	Metrics     *prometheus.Registry
	Handler     http.Handler

	background []func(ctx context.Context)
	closers    []func() error
	log        *logger.Logger
}

// Build creates every component described by cfg. Optional integrations that
// fail to start (NATS mirror, initial policy reload, individual providers)
// are logged and skipped; a failing primary audit store is fatal.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{log: logger.New("orchestrator")}

	if err := app.buildPolicy(ctx, cfg.Policy); err != nil {
		app.Close()
		return nil, err
	}
	if err := app.buildRegistry(ctx, cfg); err != nil {
		app.Close()
		return nil, err
	}
	events, err := app.buildAudit(ctx, cfg.Audit)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Metrics = prometheus.NewRegistry()
	app.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		NewProviderHealthCollector(app.Registry.Snapshot),
	)
	metrics := NewMetrics(app.Metrics)

	app.Coordinator = NewCoordinator(app.Policy, app.Registry, app.Sink,
		WithMetrics(metrics),
		WithCoordinatorLogger(app.log),
		WithAuditTimeout(cfg.Audit.WriteTimeout),
		WithGenerationTimeout(cfg.GenerationTimeout),
	)

	server := NewServer(ServerConfig{
		Coordinator:    app.Coordinator,
		Providers:      app.Registry,
		Policies:       app.Policy,
		Oversight:      app.Sink,
		Events:         events,
		Auth:           NewAdminAuth(cfg.AdminJWTSecret),
		Gatherer:       app.Metrics,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	app.Handler = server.Handler()

	if cfg.AdminJWTSecret == "" {
		app.log.Warn("", "ADMIN_JWT_SECRET is not set; admin routes are disabled", nil)
	}
	return app, nil
}

func (a *App) buildPolicy(ctx context.Context, cfg config.PolicyConfig) error {
	var (
		src      policy.Source
		watchOpt []policy.WatcherOption
	)

	switch cfg.Source {
	case config.PolicySourceBuiltin, "":
		a.Policy = policy.NewEngine()
		return nil

	case config.PolicySourceFile:
		src = policy.NewFileSource(cfg.RulesPath)
		watchOpt = append(watchOpt, policy.WatchFile(cfg.RulesPath))

	case config.PolicySourceRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid policy redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)
		rs := policy.NewRedisSource(client, cfg.RedisKey)
		src = rs
		watchOpt = append(watchOpt, policy.WatchRedis(rs))

	case config.PolicySourcePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open policy database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		ss := policy.NewSQLSource(db)
		if err := ss.EnsureSchema(ctx); err != nil {
			a.log.ErrorWithCause("", "Policy schema setup failed", err, nil)
		}
		src = ss

	default:
		return fmt.Errorf("unknown policy source %q", cfg.Source)
	}

	a.Policy = policy.NewEngine(policy.WithSource(src))
	if err := a.Policy.Reload(ctx); err != nil {
		a.log.ErrorWithCause("", "Initial policy load failed; serving built-in rules", err, map[string]interface{}{
			"source": src.Name(),
		})
	}

	watchOpt = append(watchOpt, policy.PollEvery(cfg.ReloadInterval))
	watcher := policy.NewWatcher(a.Policy, watchOpt...)
	a.background = append(a.background, func(ctx context.Context) {
		if err := watcher.Run(ctx); err != nil {
			a.log.ErrorWithCause("", "Policy watcher stopped", err, nil)
		}
	})
	return nil
}

func (a *App) buildRegistry(ctx context.Context, cfg *config.Config) error {
	if cfg.NeedsSecretsManager() {
		sm, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{})
		if err != nil {
			return err
		}
		if err := config.NewResolver(sm).ResolveProviderCredentials(ctx, cfg); err != nil {
			a.log.ErrorWithCause("", "Some provider credentials could not be resolved", err, nil)
		}
	} else if err := config.NewResolver(nil).ResolveProviderCredentials(ctx, cfg); err != nil {
		a.log.ErrorWithCause("", "Some provider credentials could not be resolved", err, nil)
	}

	a.Registry = llm.NewRegistry(
		llm.WithCheckTimeout(cfg.Health.CheckTimeout),
		llm.WithMinRefreshInterval(cfg.Health.MinRefreshInterval),
		llm.WithMaxStaleness(cfg.Health.MaxStaleness),
	)
	for _, err := range llm.BuildRegistry(a.Registry, ProviderConfigs(cfg.Providers)) {
		a.log.ErrorWithCause("", "Provider skipped", err, nil)
	}
	if a.Registry.Count() == 0 {
		a.log.Warn("", "No providers registered; every allowed request will fail", nil)
	}
	a.Registry.RefreshHealth(ctx)
	return nil
}

// ProviderConfigs converts configuration entries to adapter configs.
func ProviderConfigs(in []config.ProviderConfig) []llm.ProviderConfig {
	out := make([]llm.ProviderConfig, 0, len(in))
	for _, p := range in {
		out = append(out, llm.ProviderConfig{
			Name:           p.Name,
			Type:           llm.ProviderType(p.Type),
			DisplayName:    p.DisplayName,
			Endpoint:       p.Endpoint,
			Model:          p.Model,
			APIKey:         p.Credential,
			CredentialRef:  p.CredentialRef,
			Region:         p.Region,
			CostPerToken:   p.CostPerToken,
			QualityScore:   p.QualityScore,
			TimeoutSeconds: p.TimeoutSeconds,
			Enabled:        p.Enabled,
		})
	}
	return out
}

func (a *App) buildAudit(ctx context.Context, cfg config.AuditConfig) (audit.EventReader, error) {
	var (
		primary audit.Sink
		err     error
	)
	switch cfg.Driver {
	case config.AuditDriverMemory, "":
		primary = audit.NewMemorySink()
	case config.AuditDriverPostgres:
		primary, err = audit.OpenSQLSink(ctx, audit.DialectPostgres, cfg.DatabaseURL)
	case config.AuditDriverMySQL:
		primary, err = audit.OpenSQLSink(ctx, audit.DialectMySQL, cfg.DatabaseURL)
	case config.AuditDriverMongo:
		primary, err = audit.OpenMongoSink(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		err = fmt.Errorf("unknown audit driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	sink := primary
	if cfg.FallbackPath != "" {
		spool, err := audit.NewSpool(cfg.FallbackPath)
		if err != nil {
			_ = primary.Close()
			return nil, err
		}
		sink = audit.NewFallbackSink(primary, spool, nil)

		if cfg.Archive.Backend != "" {
			uploader, err := archive.NewUploader(ctx, archive.Config{
				Backend:               cfg.Archive.Backend,
				Bucket:                cfg.Archive.Bucket,
				Prefix:                cfg.Archive.Prefix,
				Region:                cfg.Archive.Region,
				Endpoint:              cfg.Archive.Endpoint,
				CredentialsFile:       cfg.Archive.CredentialsFile,
				AzureConnectionString: cfg.Archive.AzureConnectionString,
				AzureAccountURL:       cfg.Archive.AzureAccountURL,
			})
			if err != nil {
				a.log.ErrorWithCause("", "Audit archive disabled", err, map[string]interface{}{"backend": cfg.Archive.Backend})
			} else {
				shipper := archive.NewShipper(spool, uploader,
					archive.WithPrefix(cfg.Archive.Prefix),
					archive.WithInterval(cfg.Archive.Interval),
				)
				a.background = append(a.background, shipper.Run)
				if c, ok := uploader.(interface{ Close() error }); ok {
					a.closers = append(a.closers, c.Close)
				}
			}
		}
	}

	if cfg.NATSURL != "" {
		mirror, err := audit.NewNATSMirror(sink, cfg.NATSURL, cfg.NATSSubject, nil)
		if err != nil {
			a.log.ErrorWithCause("", "Audit mirror disabled", err, nil)
		} else {
			sink = mirror
		}
	}

	a.Sink = sink
	a.closers = append(a.closers, sink.Close)

	reader, _ := sink.(audit.EventReader)
	return reader, nil
}

// Close releases stores and clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
