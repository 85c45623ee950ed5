// Package telemetry groups the observability packages used by Gatekeeper.
//
// # Components
//
//   - logging: structured slog logging with request-scoped fields and
//     attribute redaction
//   - metrics: the process Prometheus registry, HTTP instrumentation and
//     cache gauges
//   - tracing: OpenTelemetry spans exported over OTLP gRPC
//   - health: liveness and readiness checks over the governor components
//
// # Usage
//
//	logger, _ := logging.Setup(logging.FromConfig(cfg.Telemetry.Logging))
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics)
//	tracer, _ := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
//
//	gov, err := governor.NewFromConfig(ctx, cfg, governor.Dependencies{
//	    Logger:   logger,
//	    Registry: collector.Registerer(),
//	    Tracer:   tracer,
//	})
//
// The governor registers its own collectors on the registry it is given;
// nothing in this package is global except the slog default installed by
// logging.Setup.
package telemetry
