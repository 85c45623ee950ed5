// Package tracing provides OpenTelemetry tracing for the governor.
//
// When tracing is enabled a Tracer exports spans to an OTLP gRPC collector
// through a batching SDK tracer provider; otherwise it hands out noop
// spans. The governor opens one span per Execute call and annotates it with
// the tenant, request name, outcome and token usage using the helpers in
// attributes.go.
//
// Sampling strategies:
//   - always: sample every trace
//   - never: sample nothing
//   - ratio: sample a fraction of traces by trace ID
//
// All strategies respect the parent span's decision.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "governor.execute")
//	defer span.End()
package tracing
