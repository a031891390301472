package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"mercator-hq/nimbus/pkg/config"
)

func TestNew_Disabled(t *testing.T) {
	tr, err := New(context.Background(), config.TracingConfig{}, "test")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tr.Enabled() {
		t.Error("disabled tracer reports Enabled")
	}
	_, span := tr.Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracer produced a valid span")
	}
	span.End()
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNewWithExporter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tr, err := NewWithExporter(config.TracingConfig{Sampler: config.SamplerAlways, ServiceName: "nimbus-test"}, "1.2.3", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter() error = %v", err)
	}
	if !tr.Enabled() {
		t.Error("Enabled() = false")
	}

	_, span := tr.Start(context.Background(), "deletion.execute")
	span.SetAttributes(Object("o1", "free")...)
	span.End()
	// The in-memory exporter drops its spans on Shutdown.
	if err := tr.sdk.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	spans := exporter.GetSpans()
	defer func() {
		if err := tr.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	}()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "deletion.execute" {
		t.Errorf("span name = %q", got.Name)
	}
	var service string
	for _, kv := range got.Resource.Attributes() {
		if kv.Key == semconv.ServiceNameKey {
			service = kv.Value.AsString()
		}
	}
	if service != "nimbus-test" {
		t.Errorf("service.name = %q, want nimbus-test", service)
	}
}

func TestNewWithExporter_Errors(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.TracingConfig
		exporter sdktrace.SpanExporter
	}{
		{"nil exporter", config.TracingConfig{}, nil},
		{"unknown sampler", config.TracingConfig{Sampler: "sometimes"}, tracetest.NewInMemoryExporter()},
		{"ratio out of range", config.TracingConfig{Sampler: config.SamplerRatio, SampleRatio: 2}, tracetest.NewInMemoryExporter()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewWithExporter(tt.cfg, "test", tt.exporter); err == nil {
				t.Error("NewWithExporter() error = nil")
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		sampled  bool
	}{
		{config.SamplerAlways, 0, true},
		{config.SamplerNever, 0, false},
		{config.SamplerRatio, 1, true},
		{config.SamplerRatio, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			sampler, err := newSampler(tt.strategy, tt.ratio)
			if err != nil {
				t.Fatalf("newSampler() error = %v", err)
			}
			tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler))
			_, span := tp.Tracer("test").Start(context.Background(), "s")
			defer span.End()
			if got := span.SpanContext().IsSampled(); got != tt.sampled {
				t.Errorf("sampled = %v, want %v", got, tt.sampled)
			}
		})
	}
}

func TestPropagation(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	defer span.End()
	want := span.SpanContext().TraceID().String()

	headers := http.Header{}
	Inject(ctx, headers)
	if headers.Get("traceparent") == "" {
		t.Fatal("Inject() wrote no traceparent")
	}
	if got := TraceID(Extract(context.Background(), headers)); got != want {
		t.Errorf("header round trip trace id = %q, want %q", got, want)
	}

	carrier := map[string]string{}
	InjectToMap(ctx, carrier)
	if got := TraceID(ExtractFromMap(context.Background(), carrier)); got != want {
		t.Errorf("map round trip trace id = %q, want %q", got, want)
	}

	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID() without span = %q", got)
	}
}

func TestSetError(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)).Tracer("test")

	_, ok := tracer.Start(context.Background(), "ok")
	SetError(ok, nil)
	ok.End()
	_, failed := tracer.Start(context.Background(), "failed")
	SetError(failed, errors.New("boom"))
	failed.End()

	ended := spans.Ended()
	if ended[0].Status().Code != codes.Unset {
		t.Errorf("nil error set status %v", ended[0].Status().Code)
	}
	if ended[1].Status().Code != codes.Error || len(ended[1].Events()) != 1 {
		t.Errorf("error span status = %v, events = %d", ended[1].Status().Code, len(ended[1].Events()))
	}
}
