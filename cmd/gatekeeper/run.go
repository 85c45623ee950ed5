package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/governor"
	"mercator-hq/gatekeeper/pkg/governor/storage"
	"mercator-hq/gatekeeper/pkg/scheduler"
	"mercator-hq/gatekeeper/pkg/server"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// readinessBudgetThreshold is the global usage ratio at which readiness
// reports degraded.
const readinessBudgetThreshold = 0.95

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the governor with its maintenance jobs and ops server",
	Long: `Start the governor and keep it running until SIGINT or SIGTERM.

On start-up persisted budget windows are restored. While running, the cache
sweep and budget snapshot jobs run on their cron schedules and the ops
server exposes probes, metrics and governor state. On shutdown a final
budget snapshot is written.

Examples:
  # Start with defaults and GATEKEEPER_* environment variables
  gatekeeper run

  # Start with a config file
  gatekeeper run --config /etc/gatekeeper/config.yaml

  # Override the ops server address
  gatekeeper run --listen 0.0.0.0:9090

  # Build every component, then exit
  gatekeeper run --dry-run`,
	RunE: runGatekeeper,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override ops server listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "build all components and exit")
}

// daemon holds the components started by run, in start order.
type daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	tracer    *tracing.Tracer
	collector *metrics.Collector
	gov       *governor.Governor
	backend   storage.Backend
	scheduler *scheduler.Scheduler
	server    *server.Server
}

func runGatekeeper(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	rt, err := buildDaemon(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer rt.close()

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid, all components built")
		return nil
	}

	if err := rt.serve(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}

func buildDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	rt := &daemon{cfg: cfg, logger: logger}
	if err := rt.build(ctx); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

func (rt *daemon) build(ctx context.Context) error {
	cfg := rt.cfg
	var err error

	rt.tracer, err = tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	rt.collector = metrics.NewCollector(&cfg.Telemetry.Metrics)

	rt.gov, err = governor.NewFromConfig(ctx, cfg, governor.Dependencies{
		Logger:   rt.logger,
		Registry: rt.collector.Registerer(),
		Tracer:   rt.tracer,
	})
	if err != nil {
		return err
	}
	if err := rt.collector.RegisterCache(rt.gov.Cache()); err != nil {
		return fmt.Errorf("failed to register cache metrics: %w", err)
	}

	rt.backend, err = governor.NewStorageBackend(&cfg.Storage)
	if err != nil {
		return err
	}
	if _, err := rt.gov.RestoreBudget(ctx, rt.backend); err != nil {
		return err
	}

	rt.scheduler = scheduler.New(rt.gov, rt.backend, scheduler.FromConfig(cfg), rt.logger)

	if cfg.Server.Enabled {
		var collector *metrics.Collector
		if cfg.Telemetry.Metrics.Enabled {
			collector = rt.collector
		}
		rt.server = server.New(server.Options{
			Config:      &cfg.Server,
			Governor:    rt.gov,
			Checker:     server.ReadinessChecker(rt.gov, 0, readinessBudgetThreshold),
			Metrics:     collector,
			MetricsPath: cfg.Telemetry.Metrics.Path,
			Version:     health.NewVersionInfo(Version, GitCommit, BuildDate),
			Logger:      rt.logger,
		})
	}
	return nil
}

// serve blocks until ctx is done or the ops server fails.
func (rt *daemon) serve(ctx context.Context) error {
	if err := rt.scheduler.Start(ctx); err != nil {
		return err
	}

	rt.logger.Info("gatekeeper started",
		"version", Version,
		"cache_backend", rt.cfg.Cache.Backend,
		"storage_backend", rt.cfg.Storage.Backend,
		"ops_server", rt.cfg.Server.Enabled,
	)

	if rt.server == nil {
		<-ctx.Done()
		return nil
	}
	return rt.server.Start(ctx)
}

// close stops components in reverse start order and writes the final
// budget snapshot.
func (rt *daemon) close() {
	ctx := context.Background()

	if rt.scheduler != nil {
		rt.scheduler.Stop()
		if res, err := rt.scheduler.SnapshotNow(ctx); err != nil {
			rt.logger.Error("final budget snapshot failed", "error", err)
		} else {
			rt.logger.Info("final budget snapshot written", "windows", res.Saved)
		}
	}

	var errs []error
	if rt.backend != nil {
		errs = append(errs, rt.backend.Close())
	}
	if rt.gov != nil {
		errs = append(errs, rt.gov.Close())
	}
	if rt.tracer != nil {
		errs = append(errs, rt.tracer.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		rt.logger.Warn("shutdown completed with errors", "error", err)
	}
}
