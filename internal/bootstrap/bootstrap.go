package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-healer/internal/cache"
	"github.com/miradorstack/mirador-healer/internal/config"
	"github.com/miradorstack/mirador-healer/internal/detectors"
	"github.com/miradorstack/mirador-healer/internal/diagnosers"
	"github.com/miradorstack/mirador-healer/internal/models"
	"github.com/miradorstack/mirador-healer/internal/policy"
	"github.com/miradorstack/mirador-healer/internal/repo"
	"github.com/miradorstack/mirador-healer/internal/resolvers"
	"github.com/miradorstack/mirador-healer/internal/sensors"
	"github.com/miradorstack/mirador-healer/internal/store"
)

// CoreClient is what policies need from mirador-core.
type CoreClient interface {
	sensors.CoreSource
	diagnosers.GraphSource
}

// Options tweak Build.
type Options struct {
	// SkipStore leaves action history disabled even if a store path is configured.
	SkipStore bool
	// Core replaces the HTTP mirador-core client.
	Core CoreClient
}

// App holds the wired scheduler and the resources it depends on.
type App struct {
	Scheduler *policy.Scheduler
	Policies  []*policy.HealthPolicy
	Store     *store.SQLiteStore
	Cache     cache.Provider
	logger    *slog.Logger
}

// Build wires the policy set and scheduler from cfg and initializes every resolver.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Cache: cache.NoopProvider{}, logger: logger.With("component", "bootstrap")}

	core := opts.Core
	if core == nil {
		if cfg.Cache.Enabled {
			app.Cache = cache.NewMemoryProvider(cfg.Cache.MaxEntries, cfg.Cache.ServiceGraphTTL)
		}
		core = repo.NewMiradorCoreClient(repo.CoreClientConfig{
			BaseURL:          cfg.Clients.Core.BaseURL,
			MetricsPath:      cfg.Clients.Core.MetricsPath,
			LogsPath:         cfg.Clients.Core.LogsPath,
			TracesPath:       cfg.Clients.Core.TracesPath,
			ServiceGraphPath: cfg.Clients.Core.ServiceGraphPath,
			Timeout:          cfg.Clients.Core.Timeout,
		}, app.Cache, cfg.Cache.ServiceGraphTTL)
	}

	policies, err := BuildPolicies(cfg, core, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Policies = policies

	for _, p := range policies {
		if err := p.Initialize(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("policy %s: %w", p.Name(), err)
		}
	}

	mode, err := policy.ParseFailureMode(cfg.Scheduler.FailureMode)
	if err != nil {
		app.Close()
		return nil, err
	}
	schedOpts := []policy.Option{
		policy.WithLogger(logger),
		policy.WithFallbackInterval(cfg.Scheduler.FallbackInterval),
		policy.WithFailureMode(mode),
	}

	if !opts.SkipStore && cfg.Store.Path != "" {
		st, err := store.NewSQLiteStore(cfg.Store.Path, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Store = st
		if err := st.Migrate(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		schedOpts = append(schedOpts, policy.WithRecorder(st))
	}

	scheduled := make([]policy.Policy, 0, len(policies))
	for _, p := range policies {
		scheduled = append(scheduled, p)
	}
	app.Scheduler = policy.NewScheduler(scheduled, schedOpts...)

	app.logger.Info("policies wired",
		slog.Int("policies", len(policies)),
		slog.String("failure_mode", mode.String()),
		slog.Bool("history", app.Store != nil))
	return app, nil
}

// Close releases resolvers, the store and the cache. Errors are joined.
func (a *App) Close() error {
	var errs []error
	for _, p := range a.Policies {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// BuildPolicies creates one HealthPolicy per configured policy. Every policy shares the
// rule pack; the other components are per policy.
func BuildPolicies(cfg *config.Config, core CoreClient, logger *slog.Logger) ([]*policy.HealthPolicy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rules, err := diagnosers.NewRuleDiagnoser(cfg.Rules.Path, logger)
	if err != nil {
		return nil, err
	}

	policies := make([]*policy.HealthPolicy, 0, len(cfg.Policies))
	for _, pc := range cfg.Policies {
		p, err := buildPolicy(pc, core, rules, logger)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", pc.Name, err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func buildPolicy(pc config.PolicyConfig, core CoreClient, rules *diagnosers.RuleDiagnoser, logger *slog.Logger) (*policy.HealthPolicy, error) {
	var (
		sensorSet   []policy.Sensor
		detectorSet []policy.Detector
	)
	for _, kind := range pc.Sensors {
		s, err := sensors.NewCoreSensor(core, sensors.Config{
			Kind:     models.DataType(kind),
			TenantID: pc.Tenant,
			Service:  pc.Service,
			Metric:   pc.Metric,
			Lookback: pc.Lookback,
		})
		if err != nil {
			return nil, err
		}
		sensorSet = append(sensorSet, s)

		switch models.DataType(kind) {
		case models.DataTypeMetrics:
			detectorSet = append(detectorSet, detectors.NewZScoreDetector(pc.AnomalyThreshold))
		case models.DataTypeLogs:
			detectorSet = append(detectorSet, detectors.NewLogSpikeDetector())
		case models.DataTypeTraces:
			detectorSet = append(detectorSet, detectors.NewSlowSpanDetector())
		}
	}

	diagnoserSet := []policy.Diagnoser{rules}
	if pc.Causality {
		diagnoserSet = append(diagnoserSet, diagnosers.NewCausalityDiagnoser(core, pc.Tenant, pc.Lookback, logger))
	}

	resolverSet := make([]policy.Resolver, 0, len(pc.Resolvers))
	for _, rc := range pc.Resolvers {
		switch rc.Type {
		case "log":
			resolverSet = append(resolverSet, resolvers.NewLogResolver(logger))
		case "webhook":
			resolverSet = append(resolverSet, resolvers.NewWebhookResolver(resolvers.WebhookConfig{
				URL:     rc.URL,
				Timeout: rc.Timeout,
				Headers: rc.Headers,
			}, logger))
		default:
			return nil, fmt.Errorf("unknown resolver type %q", rc.Type)
		}
	}

	return policy.NewHealthPolicy(pc.Name, pc.Interval,
		policy.WithSensors(sensorSet...),
		policy.WithDetectors(detectorSet...),
		policy.WithDiagnosers(diagnoserSet...),
		policy.WithResolvers(resolverSet...),
	), nil
}
