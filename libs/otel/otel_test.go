package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	if tp, _ := TraceContextStrings(context.Background()); tp != "" {
		t.Fatalf("expected no traceparent without a span, got %q", tp)
	}

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{9},
		SpanID:     trace.SpanID{7},
		TraceFlags: trace.FlagsSampled,
	})
	tp, ts := TraceContextStrings(trace.ContextWithSpanContext(context.Background(), sc))
	got := trace.SpanContextFromContext(ContextWithTraceContext(context.Background(), tp, ts))
	if got.TraceID() != sc.TraceID() {
		t.Fatalf("trace id mismatch: %s != %s", got.TraceID(), sc.TraceID())
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	t.Setenv("DEPLOY_ENV", "staging")
	cfg, err := ConfigFromEnv("queue-service")
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Enabled || cfg.SampleRatio != 0.25 || cfg.ServiceName != "queue-service" || cfg.Environment != "staging" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ExportTimeout != 3*time.Second || cfg.OTLPEndpoint != "localhost:4317" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	t.Setenv("OTEL_SAMPLING_RATIO", "1.5")
	if _, err := ConfigFromEnv("queue-service"); err == nil {
		t.Fatalf("expected an out-of-range ratio to be rejected")
	}
}

func TestSetupDisabledInstallsPropagator(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	fields := otel.GetTextMapPropagator().Fields()
	if len(fields) == 0 || fields[0] != "traceparent" {
		t.Fatalf("propagator fields %v", fields)
	}
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{ServiceName: "queue-service", Version: "1.2.3", Environment: "prod"})
	got := map[string]string{}
	for _, kv := range attrs {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got["service.name"] != "queue-service" || got["service.version"] != "1.2.3" || got["deployment.environment"] != "prod" {
		t.Fatalf("attributes %v", got)
	}
}
