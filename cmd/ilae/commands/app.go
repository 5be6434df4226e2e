package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Raoof128/ILAE/pkg/connectors"
	"github.com/Raoof128/ILAE/pkg/engine"
	"github.com/Raoof128/ILAE/pkg/evidence"
	"github.com/Raoof128/ILAE/pkg/policy"
	"github.com/Raoof128/ILAE/pkg/state"
	"github.com/Raoof128/ILAE/pkg/stores"
	"github.com/Raoof128/ILAE/pkg/telemetry"
)

// app wires the engine and its dependencies for one CLI invocation.
type app struct {
	logger *telemetry.Logger
	tracer *telemetry.Tracer
	store  stores.Store
	chain  *evidence.Chain
	engine *engine.Engine
}

// newApp builds the engine from the global flags: SQLite (or in-memory)
// store, YAML policy rules, mock connectors for every platform, metrics
// and tracing when their flags are set.
func newApp(ctx context.Context) (*app, error) {
	telCfg := telemetry.DefaultConfig()
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	telCfg.Metrics.Enabled = metricsListen != ""
	telCfg.Metrics.ListenAddress = metricsListen
	telCfg.Tracing.Enabled = traceExporter != ""
	telCfg.Tracing.Exporter = traceExporter
	telCfg.Tracing.Endpoint = traceEndpoint
	if err := telCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	logger, err := telemetry.NewLogger(telCfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logging: %w", err)
	}
	zlog := logger.Zerolog()

	metrics, err := telemetry.NewMetrics(telCfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to configure metrics: %w", err)
	}
	if err := metrics.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics endpoint: %w", err)
	}

	tracer, err := telemetry.NewTracer(telCfg.Tracing, telCfg.ServiceName, telCfg.ServiceVersion, telCfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to configure tracing: %w", err)
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	rules, err := policy.Load(rulesPath)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	resolver, err := policy.NewResolver(rules)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	chain := evidence.NewChain(store, zlog, evidence.WithAppendHook(metrics.RecordEvidenceAppend))
	manager := state.NewManager(store, zlog)
	registry, _ := connectors.NewMockRegistry()

	eng := engine.New(engine.DefaultConfig(), resolver, manager, chain, store, registry, zlog,
		engine.WithMetrics(metrics), engine.WithTracer(tracer))

	return &app{
		logger: logger,
		tracer: tracer,
		store:  store,
		chain:  chain,
		engine: eng,
	}, nil
}

func openStore(ctx context.Context) (stores.Store, error) {
	if dbPath == "" {
		return stores.NewMemoryStore(), nil
	}

	sqlite, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := sqlite.Init(ctx); err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx); err != nil {
		_ = sqlite.Close()
		return nil, err
	}
	return sqlite, nil
}

func (a *app) close() {
	a.engine.Wait()
	if err := a.tracer.Shutdown(context.Background()); err != nil {
		a.logger.WithError(err).Warn("tracer shutdown failed")
	}
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("store close failed")
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runSummaryLine renders one run as a human-readable line.
func runSummaryLine(run *engine.WorkflowRun) string {
	line := fmt.Sprintf("%s  %-5s  %-22s  %s", run.ID, run.Request.Kind, run.Status, run.Request.IdentityKey)
	if run.Summary != nil {
		line += fmt.Sprintf("  (%d ok / %d failed / %d skipped)",
			run.Summary.Succeeded, run.Summary.Failed, run.Summary.Skipped)
	}
	return line
}
