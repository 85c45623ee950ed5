package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys use the "gatekeeper.*" namespace.
const (
	// Request attributes
	AttrTenant      = "gatekeeper.tenant"
	AttrRequestName = "gatekeeper.request_name"
	AttrCallID      = "gatekeeper.call_id"

	// Outcome attributes
	AttrOutcome     = "gatekeeper.outcome"
	AttrSource      = "gatekeeper.source"
	AttrBudgetScope = "gatekeeper.budget.scope"
	AttrCircuit     = "gatekeeper.circuit.state"
	AttrRetryCount  = "gatekeeper.retry.attempts"

	// Token attributes
	AttrTokensEstimated = "gatekeeper.tokens.estimated"
	AttrTokensActual    = "gatekeeper.tokens.actual"
)

// SetRequestAttributes records who issued a governed call.
func SetRequestAttributes(span trace.Span, tenant, requestName, callID string) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrTenant, tenant),
		attribute.String(AttrCallID, callID),
	}
	if requestName != "" {
		attrs = append(attrs, attribute.String(AttrRequestName, requestName))
	}
	span.SetAttributes(attrs...)
}

// SetOutcomeAttributes records how a governed call ended and where the
// value came from.
func SetOutcomeAttributes(span trace.Span, outcome, source string) {
	attrs := []attribute.KeyValue{attribute.String(AttrOutcome, outcome)}
	if source != "" {
		attrs = append(attrs, attribute.String(AttrSource, source))
	}
	span.SetAttributes(attrs...)
}

// SetTokenAttributes records estimated and actual token usage.
func SetTokenAttributes(span trace.Span, estimated, actual uint64) {
	span.SetAttributes(
		attribute.Int64(AttrTokensEstimated, clampInt64(estimated)),
		attribute.Int64(AttrTokensActual, clampInt64(actual)),
	)
}

// SetRetryAttributes records the number of upstream attempts.
func SetRetryAttributes(span trace.Span, attempts int) {
	span.SetAttributes(attribute.Int(AttrRetryCount, attempts))
}

func clampInt64(v uint64) int64 {
	const maxInt64 = 1<<63 - 1
	if v > maxInt64 {
		return maxInt64
	}
	return int64(v)
}
