package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/swarmsh/swarmsh/internal/config"
	"github.com/swarmsh/swarmsh/internal/health"
	"github.com/swarmsh/swarmsh/internal/isolation"
	"github.com/swarmsh/swarmsh/internal/observability"
	"github.com/swarmsh/swarmsh/internal/optimizer"
	"github.com/swarmsh/swarmsh/internal/sched"
	"github.com/swarmsh/swarmsh/internal/store"
)

// gaugeTimeout bounds one store read on the metrics collection cycle.
const gaugeTimeout = 5 * time.Second

// daemonFlags carries the daemon command's flag values.
type daemonFlags struct {
	aggressive      bool
	diagnosticsAddr string
}

// daemonExecutor runs the resident maintenance loop until ctx ends.
type daemonExecutor func(ctx context.Context, opts *rootOptions, flags daemonFlags) error

// DaemonCommand holds the flags for the daemon command.
type DaemonCommand struct {
	opts *rootOptions

	aggressive      bool
	diagnosticsAddr string

	exec daemonExecutor
}

// NewDaemonCommand creates the daemon command.
func NewDaemonCommand(opts *rootOptions) *cobra.Command {
	return newDaemonCommandWithDeps(opts, runDaemon)
}

func newDaemonCommandWithDeps(opts *rootOptions, exec daemonExecutor) *cobra.Command {
	dc := &DaemonCommand{opts: opts, exec: exec}

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the maintenance scheduler until interrupted",
		Long: `Run the resident maintenance loop: periodic health checks, optimization,
analysis reports, telemetry and work archival, and stale lock cleanup,
with Prometheus diagnostics served over HTTP. Stops on SIGINT or SIGTERM.`,
		Args: exactArgs(0),
		RunE: dc.run,
	}

	cmd.Flags().BoolVar(&dc.aggressive, "aggressive", false, "tighten the health cadence to 15 minutes")
	cmd.Flags().StringVar(&dc.diagnosticsAddr, "diagnostics-addr", "", "diagnostics listen address (default from config)")

	return cmd
}

func (dc *DaemonCommand) run(cmd *cobra.Command, _ []string) error {
	return dc.exec(cmd.Context(), dc.opts, daemonFlags{
		aggressive:      dc.aggressive,
		diagnosticsAddr: dc.diagnosticsAddr,
	})
}

// runDaemon wires the maintenance subsystems around a daemon-mode App
// and blocks in the scheduler loop until the context is cancelled or a
// termination signal arrives.
func runDaemon(ctx context.Context, opts *rootOptions, flags daemonFlags) error {
	app, err := newApp(opts, observability.ModeDaemon)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	aggressive := flags.aggressive || app.Config.Scheduler.Aggressive

	anl := app.analyzer()

	// Aggressive mode pairs the tighter health cadence with a shorter
	// stale claim TTL.
	var optOpts []optimizer.Option
	if aggressive {
		optOpts = append(optOpts, optimizer.WithStaleTTL(config.AggressiveStaleWorkTTL))
	}

	opt := app.optimizer(optOpts...)

	// The failure reader closes over the scheduler assigned below;
	// health checks only run once the scheduler loop has started.
	var scheduler *sched.Scheduler

	mon := health.New(app.Store, anl, app.Tracer,
		health.WithTargetCapacity(app.Config.Engine.MaxWorkActive),
		health.WithMaxSpans(app.Config.Telemetry.MaxSpans),
		health.WithJobFailures(func() map[string]int {
			if scheduler == nil {
				return nil
			}

			return scheduler.Failures()
		}),
		health.WithLogger(app.Logger),
	)

	envs, err := isolation.NewLocal(app.Store.Root(),
		isolation.WithBasePort(app.Config.Isolation.BasePort),
		isolation.WithPortsPerEnv(app.Config.Isolation.PortsPerEnv),
		isolation.WithLockTimeout(app.Config.LockTimeout()),
		isolation.WithLogger(app.Logger),
	)
	if err != nil {
		return errors.Join(err, app.Close(context.Background()))
	}

	jobs := sched.DefaultJobs(sched.Deps{
		Store:          app.Store,
		Analyzer:       anl,
		Optimizer:      opt,
		Health:         mon,
		Isolation:      envs,
		EnvironmentTTL: app.Config.LeaseTTL(),
	}, sched.Cadence{
		Aggressive:       aggressive,
		Health:           app.Config.Scheduler.HealthInterval,
		Optimize:         app.Config.Scheduler.OptimizeInterval,
		Analyze:          app.Config.Scheduler.AnalyzeInterval,
		TelemetryArchive: app.Config.Scheduler.TelemetryInterval,
		StaleLockClean:   app.Config.Scheduler.StaleInterval,
		WorkArchiveAt:    app.Config.Scheduler.WorkArchiveAt,
	})

	scheduler = sched.New(app.Store, app.Tracer, jobs,
		sched.WithWorkers(app.Config.Scheduler.Workers),
		sched.WithJobTimeout(app.Config.Scheduler.JobTimeout),
		sched.WithRemediation(mon.Remediation()),
		sched.WithLogger(app.Logger),
	)

	err = observability.RegisterStateGauges(app.Providers.Meter, observability.StateGauges{
		ActiveWork:       openWorkReader(app.Store),
		RegisteredAgents: agentCountReader(app.Store),
		EmissionFailures: app.Tracer.Failures,
		HealthScore:      mon.Score,
	})
	if err != nil {
		return errors.Join(err, app.Close(context.Background()))
	}

	addr := flags.diagnosticsAddr
	if addr == "" {
		addr = app.Config.Diagnostics.Addr
	}

	diag, err := observability.NewDiagnosticsServer(addr, app.Providers.MetricsHandler, storeReady(app.Store))
	if err != nil {
		return errors.Join(err, app.Close(context.Background()))
	}

	app.Logger.InfoContext(ctx, "daemon started",
		"coordination_dir", app.Store.Root(),
		"diagnostics_addr", diag.Addr(),
		"aggressive", aggressive,
	)

	runErr := scheduler.Run(ctx)

	app.Logger.Info("daemon stopped")

	return errors.Join(runErr, diag.Close(), app.Close(context.Background()))
}

// openWorkReader counts work items still open. Negative readings mark
// failed store reads.
func openWorkReader(st *store.Store) func() int64 {
	return func() int64 {
		ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
		defer cancel()

		items, err := st.Work().Snapshot(ctx)
		if err != nil {
			return -1
		}

		var open int64

		for _, item := range items {
			if item.Open() {
				open++
			}
		}

		return open
	}
}

// agentCountReader counts registered agents. Negative readings mark
// failed store reads.
func agentCountReader(st *store.Store) func() int64 {
	return func() int64 {
		ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
		defer cancel()

		agents, err := st.Agents().Snapshot(ctx)
		if err != nil {
			return -1
		}

		return int64(len(agents))
	}
}

// storeReady reports readiness as the work collection being readable.
func storeReady(st *store.Store) observability.ReadyCheck {
	return func(ctx context.Context) error {
		_, err := st.Work().Snapshot(ctx)

		return err
	}
}
