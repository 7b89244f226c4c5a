package commands

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/azkit/azkit/pkg/azure"
	"github.com/azkit/azkit/pkg/config"
	"github.com/azkit/azkit/pkg/engine"
	"github.com/azkit/azkit/pkg/graph"
	"github.com/azkit/azkit/pkg/policy"
	"github.com/azkit/azkit/pkg/query"
	"github.com/azkit/azkit/pkg/stores"
	"github.com/azkit/azkit/pkg/telemetry"
)

// app holds the wired toolkit components shared by all commands. One app
// is built per invocation; close releases the store and flushes traces.
type app struct {
	cfg     *viper.Viper
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	store   *stores.SQLiteStore
	queries *query.Service
	graph   *graph.Engine
}

// newApp loads configuration and initializes the component stack.
func newApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Set("logging.level", "debug")
	}

	tcfg := config.TelemetryConfig(cfg, buildVersion)
	if err := tcfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	logger, err := telemetry.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	if tcfg.Metrics.Enabled {
		if err := metrics.StartMetricsServer(); err != nil {
			return nil, nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion, tcfg.Environment)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	store, err := stores.NewSQLiteStore(config.StoreConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	provider := azure.NewClient(
		&azure.CLIRunner{Binary: cfg.GetString("azure.cli")},
		config.AzureConfig(cfg),
		logger, metrics,
	)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		store:   store,
		queries: query.NewService(store, provider, config.QueryConfig(cfg), logger, metrics),
		graph:   graph.NewEngine(store, logger.Zerolog()),
	}

	cleanup := func() {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.WithError(err).Warn("tracer shutdown failed")
		}
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("store close failed")
		}
	}

	return a, cleanup, nil
}

// newExecutor wires the operation executor with the policy gate.
func (a *app) newExecutor(ctx context.Context) (*engine.Executor, error) {
	policyEngine, err := policy.NewEngine(a.logger.Zerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if paths := a.cfg.GetStringSlice("policies.paths"); len(paths) > 0 {
		if err := policyEngine.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}

	return engine.NewExecutor(engine.ExecutorOptions{
		Store:       a.store,
		Querier:     a.queries,
		Gate:        policy.NewGate(policyEngine, a.store, a.logger.Zerolog()),
		Config:      a.cfg,
		Logger:      a.logger,
		Metrics:     a.metrics,
		RecoveryDir: a.cfg.GetString("recovery.dir"),
	})
}
