package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/gatekeeper/pkg/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T, sampler string) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tracer, err := NewWithExporter(&config.TracingConfig{
		Enabled:     true,
		Sampler:     sampler,
		SampleRatio: 1.0,
		ServiceName: "gatekeeper-test",
	}, exporter, "test")
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v", err)
	}
	t.Cleanup(func() { _ = tracer.Shutdown(context.Background()) })
	return tracer, exporter
}

func attrMap(attrs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.TracingConfig
		enabled bool
		wantErr bool
	}{
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name:    "disabled tracing",
			config:  &config.TracingConfig{Enabled: false},
			enabled: false,
		},
		{
			name: "invalid sampler",
			config: &config.TracingConfig{
				Enabled:  true,
				Sampler:  "sometimes",
				Endpoint: "localhost:4317",
				Insecure: true,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, err := New(tt.config, "test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer tracer.Shutdown(context.Background())

			if tracer.Enabled() != tt.enabled {
				t.Errorf("Enabled() = %v, want %v", tracer.Enabled(), tt.enabled)
			}
		})
	}
}

func TestNoopTracer(t *testing.T) {
	tracer := Noop()
	ctx, span := tracer.Start(context.Background(), "noop")
	span.End()

	if span.IsRecording() {
		t.Error("noop span is recording")
	}
	if TraceID(ctx) != "" {
		t.Errorf("TraceID() = %q, want empty", TraceID(ctx))
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestTracer_RecordsAttributes(t *testing.T) {
	tracer, exporter := newTestTracer(t, SamplerAlways)

	ctx, span := tracer.Start(context.Background(), "governor.execute")
	SetRequestAttributes(span, "acme", "summarize", "call-1")
	SetTokenAttributes(span, 400, 380)
	SetRetryAttributes(span, 2)
	SetOutcomeAttributes(span, "success", "upstream")
	SetStatus(span, nil)
	if TraceID(ctx) == "" {
		t.Error("TraceID() empty inside a recording span")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "governor.execute" {
		t.Errorf("span name = %q", got.Name)
	}
	if got.Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", got.Status.Code)
	}

	attrs := attrMap(got.Attributes)
	checks := map[string]attribute.Value{
		AttrTenant:          attribute.StringValue("acme"),
		AttrRequestName:     attribute.StringValue("summarize"),
		AttrCallID:          attribute.StringValue("call-1"),
		AttrTokensEstimated: attribute.Int64Value(400),
		AttrTokensActual:    attribute.Int64Value(380),
		AttrRetryCount:      attribute.IntValue(2),
		AttrOutcome:         attribute.StringValue("success"),
		AttrSource:          attribute.StringValue("upstream"),
	}
	for key, want := range checks {
		if attrs[key] != want {
			t.Errorf("attribute %s = %v, want %v", key, attrs[key].Emit(), want.Emit())
		}
	}
}

func TestSetError(t *testing.T) {
	tracer, exporter := newTestTracer(t, SamplerAlways)

	_, span := tracer.Start(context.Background(), "failing")
	err := errors.New("upstream down")
	SetError(span, err)
	SetStatus(span, err)
	SetError(span, nil)
	span.End()

	got := exporter.GetSpans()[0]
	if got.Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", got.Status.Code)
	}
	if len(got.Events) != 1 {
		t.Errorf("recorded %d events, want 1 error event", len(got.Events))
	}
}

func TestSamplerNever(t *testing.T) {
	tracer, exporter := newTestTracer(t, SamplerNever)

	_, span := tracer.Start(context.Background(), "dropped")
	span.End()

	if n := len(exporter.GetSpans()); n != 0 {
		t.Errorf("exported %d spans with never sampler, want 0", n)
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{"always", SamplerAlways, 0, false},
		{"never", SamplerNever, 0, false},
		{"ratio", SamplerRatio, 0.25, false},
		{"empty defaults to ratio", "", 0.5, false},
		{"ratio too high", SamplerRatio, 1.5, true},
		{"ratio negative", SamplerRatio, -0.1, true},
		{"unknown", "sometimes", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampler, err := createSampler(tt.strategy, tt.ratio)
			if (err != nil) != tt.wantErr {
				t.Fatalf("createSampler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && sampler == nil {
				t.Error("createSampler() returned nil sampler")
			}
		})
	}
}

func TestPropagation(t *testing.T) {
	tracer, _ := newTestTracer(t, SamplerAlways)

	ctx, span := tracer.Start(context.Background(), "outbound")
	defer span.End()

	prop := propagation.TraceContext{}
	headers := http.Header{}
	prop.Inject(ctx, propagation.HeaderCarrier(headers))
	if headers.Get("traceparent") == "" {
		t.Fatal("traceparent not injected")
	}

	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(prop)
	defer otel.SetTextMapPropagator(prev)

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if TraceID(r.Context()) != span.SpanContext().TraceID().String() {
			t.Errorf("trace ID not extracted into request context")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header = headers
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Trace-ID") != span.SpanContext().TraceID().String() {
		t.Errorf("X-Trace-ID = %q", rec.Header().Get("X-Trace-ID"))
	}

	out := http.Header{}
	Inject(ctx, out)
	if out.Get("traceparent") != headers.Get("traceparent") {
		t.Errorf("Inject() traceparent = %q, want %q", out.Get("traceparent"), headers.Get("traceparent"))
	}
}
