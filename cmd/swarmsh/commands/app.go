package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/swarmsh/swarmsh/internal/advisor"
	"github.com/swarmsh/swarmsh/internal/analyzer"
	"github.com/swarmsh/swarmsh/internal/config"
	"github.com/swarmsh/swarmsh/internal/engine"
	"github.com/swarmsh/swarmsh/internal/observability"
	"github.com/swarmsh/swarmsh/internal/optimizer"
	"github.com/swarmsh/swarmsh/internal/store"
	"github.com/swarmsh/swarmsh/internal/telemetry"
	"github.com/swarmsh/swarmsh/pkg/ids"
)

// Output format names shared by the read-side commands.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// errUnknownFormat reports a --format value outside table, json, yaml.
var errUnknownFormat = fmt.Errorf("%w: unknown output format", errUsage)

// App bundles the wired subsystems one invocation operates on.
type App struct {
	Config    *config.Config
	Providers observability.Providers
	Store     *store.Store
	Minter    *ids.Minter
	Tracer    *telemetry.Tracer
	Engine    *engine.Engine
	Logger    *slog.Logger
}

// newApp loads configuration and wires observability, store, telemetry,
// and the coordination engine for one invocation.
func newApp(opts *rootOptions, mode observability.AppMode) (*App, error) {
	ctx := context.Background()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	if opts.dir != "" {
		cfg.CoordinationDir = opts.dir
	}

	providers, err := observability.Init(observability.Config{
		ServiceName:      cfg.Service.Name,
		ServiceVersion:   cfg.Service.Version,
		Mode:             mode,
		OTLPEndpoint:     cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:     os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		EnablePrometheus: mode == observability.ModeDaemon,
		LogLevel:         observability.ParseLevel(cfg.Log.Level),
		LogJSON:          cfg.Log.Format == "json",
	})
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	slog.SetDefault(providers.Logger)

	st, err := store.Open(cfg.CoordinationDir,
		store.WithLockTimeout(time.Duration(cfg.Store.LockTimeoutSeconds)*time.Second),
		store.WithCompression(cfg.Telemetry.CompressArchives),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("open store: %w", err), providers.Shutdown(ctx))
	}

	sampler, err := telemetry.NewSampler(cfg.Telemetry.Sampling)
	if err != nil {
		return nil, errors.Join(err, providers.Shutdown(ctx))
	}

	minter := ids.New()

	tracerOpts := []telemetry.Option{
		telemetry.WithService(cfg.Service.Name, cfg.Service.Version),
		telemetry.WithSampler(sampler),
		telemetry.WithLogger(providers.Logger),
	}

	if cfg.Telemetry.ForceTraceID != "" {
		tracerOpts = append(tracerOpts, telemetry.WithForceTraceID(cfg.Telemetry.ForceTraceID))
	}

	// Forwarding is additive: the local span log stays the source of
	// truth whether or not a collector is reachable.
	if cfg.Telemetry.OTLPEndpoint != "" {
		tracerOpts = append(tracerOpts, telemetry.WithForwarder(telemetry.NewOTLPForwarder(providers.Tracer)))
	}

	tracer := telemetry.New(st.Spans(), minter, tracerOpts...)

	metrics, err := observability.NewCoordinationMetrics(providers.Meter)
	if err != nil {
		return nil, errors.Join(err, providers.Shutdown(ctx))
	}

	eng := engine.New(st, tracer, minter,
		engine.WithMaxWorkActive(cfg.Engine.MaxWorkActive),
		engine.WithMaxRetries(cfg.Engine.MaxRetries),
		engine.WithMetrics(metrics),
		engine.WithLogger(providers.Logger),
	)

	return &App{
		Config:    cfg,
		Providers: providers,
		Store:     st,
		Minter:    minter,
		Tracer:    tracer,
		Engine:    eng,
		Logger:    providers.Logger,
	}, nil
}

// Close flushes pending spans and shuts telemetry down. Call once per
// App, after the last operation.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(
		a.Tracer.Close(ctx),
		a.Providers.Shutdown(ctx),
	)
}

// analyzer builds the bottleneck analyzer over this App's store.
func (a *App) analyzer() *analyzer.Analyzer {
	return analyzer.New(a.Store, a.Tracer, analyzer.WithLogger(a.Logger))
}

// optimizer builds the optimizer with the configured bounds and, when
// one is configured, the external advisor behind its circuit breaker.
// extra options apply last and override the configured ones.
func (a *App) optimizer(extra ...optimizer.Option) *optimizer.Optimizer {
	opts := []optimizer.Option{
		optimizer.WithLoadBounds(a.Config.Optimizer.AgentLoadMin, a.Config.Optimizer.AgentLoadMax),
		optimizer.WithMoveCap(a.Config.Optimizer.MoveCap),
		optimizer.WithTeamVariance(a.Config.Optimizer.TeamVarianceThreshold),
		optimizer.WithStaleTTL(a.Config.StaleWorkTTL()),
		optimizer.WithRetainSpans(a.Config.Telemetry.RetainSpans),
		optimizer.WithArchiveAge(a.Config.ArchiveAfter()),
		optimizer.WithFastPathMax(a.Config.Store.MaxFastPath),
		optimizer.WithLogger(a.Logger),
	}

	if a.Config.Advisor.Command != "" {
		external := advisor.NewCommandAdvisor(a.Config.Advisor.Command,
			advisor.WithTimeout(a.Config.AdvisorTimeout()))
		opts = append(opts, optimizer.WithAdvisor(advisor.NewBreaker(external)))
	}

	opts = append(opts, extra...)

	return optimizer.New(a.Store, a.Tracer, opts...)
}

// withApp wires an App for one CLI invocation, runs fn, and flushes on
// the way out. Flush failures are logged, not returned: local state is
// committed before they can occur.
func withApp(ctx context.Context, opts *rootOptions, fn func(*App) error) error {
	app, err := newApp(opts, observability.ModeCLI)
	if err != nil {
		return err
	}

	runErr := fn(app)

	if closeErr := app.Close(ctx); closeErr != nil {
		app.Logger.WarnContext(ctx, "telemetry flush incomplete", "error", closeErr)
	}

	return runErr
}

// printJSON writes v as indented JSON, the default machine-readable
// output of the mutating commands.
func printJSON(w io.Writer, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	_, err = fmt.Fprintln(w, string(payload))

	return err
}

// printYAML renders v as YAML keyed by its JSON field names; the model
// types carry JSON tags only.
func printYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}

	return enc.Close()
}
