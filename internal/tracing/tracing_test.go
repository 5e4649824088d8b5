package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/b52/internal/config"
	"github.com/torosent/b52/internal/tracing"
)

var testRun = tracing.Run{ID: "01HZX3RUNID", Total: 8, Concurrency: 4}

func setupTestTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter, tp.Tracer("test")
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInitDisabledByDefault(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{}, testRun)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if p.ShouldPropagate() {
		t.Error("ShouldPropagate() = true, want false when tracing disabled")
	}

	_, span := p.Tracer().Start(context.Background(), "test")
	span.End()
	if span.SpanContext().IsValid() {
		t.Error("disabled provider produced a recording span")
	}
}

func TestInitWithEndpointEnablesTracing(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:    "localhost:4317",
		Protocol:    "grpc",
		ServiceName: "test-service",
		SampleRate:  1.0,
		Insecure:    true,
	}, testRun)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if !p.ShouldPropagate() {
		t.Error("ShouldPropagate() = false, want true when tracing enabled")
	}

	attrs := p.Resource().Attributes()
	want := map[string]attribute.Value{
		"service.name":    attribute.StringValue("test-service"),
		"b52.run_id":      attribute.StringValue("01HZX3RUNID"),
		"b52.total":       attribute.IntValue(8),
		"b52.concurrency": attribute.IntValue(4),
	}
	for key, val := range want {
		got, ok := attrValue(attrs, key)
		if !ok || got != val {
			t.Errorf("resource %s = %v (present %v), want %v", key, got.Emit(), ok, val.Emit())
		}
	}
}

func TestInitDefaultServiceName(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint: "http://localhost:4318",
		Protocol: "http",
		Insecure: true,
	}, tracing.Run{})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	attrs := p.Resource().Attributes()
	if got, _ := attrValue(attrs, "service.name"); got.AsString() != "b52" {
		t.Errorf("service.name = %q, want b52", got.AsString())
	}
	if _, ok := attrValue(attrs, "b52.run_id"); ok {
		t.Error("empty run id should not be recorded")
	}
}

func TestInitHTTPProtocol(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:   "localhost:4318",
		Protocol:   "http",
		SampleRate: 0.5,
		Insecure:   true,
	}, testRun)
	if err != nil {
		t.Fatalf("Init() with http protocol error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if !p.ShouldPropagate() {
		t.Error("ShouldPropagate() = false, want true")
	}
}

func TestInitUnsupportedProtocol(t *testing.T) {
	_, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint: "localhost:4317",
		Protocol: "thrift",
		Insecure: true,
	}, testRun)
	if err == nil {
		t.Fatal("Init() with unsupported protocol should return error")
	}
}

func TestInitInvalidSampleRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
	}{
		{"negative", -0.5},
		{"above one", 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tracing.Init(context.Background(), config.TracingConfig{
				Endpoint:   "localhost:4317",
				Protocol:   "grpc",
				Insecure:   true,
				SampleRate: tt.rate,
			}, testRun)
			if err == nil {
				t.Fatalf("Init() with sample_rate=%g should return error", tt.rate)
			}
		})
	}
}

func TestShouldPropagateOverride(t *testing.T) {
	p, err := tracing.Init(context.Background(), config.TracingConfig{
		Endpoint:           "localhost:4317",
		Protocol:           "grpc",
		Insecure:           true,
		SampleRate:         1.0,
		DisablePropagation: true,
	}, testRun)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	if p.ShouldPropagate() {
		t.Error("ShouldPropagate() = true, want false when explicitly disabled")
	}
}

func TestNilProviderSafety(t *testing.T) {
	var p *tracing.Provider
	if p.ShouldPropagate() {
		t.Error("nil provider ShouldPropagate() = true, want false")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("nil provider Shutdown() error = %v", err)
	}
	if p.Resource() != nil {
		t.Error("nil provider Resource() should be nil")
	}
	_, span := p.Tracer().Start(context.Background(), "test")
	span.End()
}

func TestSpanHierarchy(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	ctx, run := tracing.StartRunSpan(context.Background(), tracer, "01HZX", 4, 2)
	bctx, batch := tracing.StartBatchSpan(ctx, tracer, 0, 2)
	_, xfer := tracing.StartTransferSpan(bctx, tracer, 1, "http://example.test/a")
	tracing.EndSpan(xfer, nil, attribute.Int("http.response.status_code", 200))
	tracing.EndSpan(batch, nil)
	tracing.EndSpan(run, nil)

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}

	runSpan, batchSpan, xferSpan := byName["b52 run"], byName["b52 batch"], byName["HTTP GET"]
	if batchSpan.Parent.SpanID() != runSpan.SpanContext.SpanID() {
		t.Error("batch span is not a child of the run span")
	}
	if xferSpan.Parent.SpanID() != batchSpan.SpanContext.SpanID() {
		t.Error("transfer span is not a child of the batch span")
	}
	if xferSpan.SpanKind != trace.SpanKindClient {
		t.Errorf("transfer span kind = %v, want client", xferSpan.SpanKind)
	}
	if v, ok := attrValue(xferSpan.Attributes, "url.full"); !ok || v.AsString() != "http://example.test/a" {
		t.Errorf("url.full = %v, want the transfer URL", v.AsString())
	}
	if v, ok := attrValue(xferSpan.Attributes, "b52.slot"); !ok || v.AsInt64() != 1 {
		t.Errorf("b52.slot = %d, want 1", v.AsInt64())
	}
	if v, ok := attrValue(runSpan.Attributes, "b52.run_id"); !ok || v.AsString() != "01HZX" {
		t.Errorf("b52.run_id = %q, want 01HZX", v.AsString())
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	_, span := tracer.Start(context.Background(), "test-error")
	tracing.EndSpan(span, errors.New("connection refused"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span status code = %d, want %d (Error)", spans[0].Status.Code, codes.Error)
	}
	if len(spans[0].Events) == 0 {
		t.Error("error was not recorded as a span event")
	}
}

func TestEndSpanOk(t *testing.T) {
	exporter, tracer := setupTestTracer(t)

	_, span := tracer.Start(context.Background(), "test-ok")
	tracing.EndSpan(span, nil)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Ok {
		t.Errorf("span status code = %d, want %d (Ok)", spans[0].Status.Code, codes.Ok)
	}
}

func TestInjectHTTPHeaders(t *testing.T) {
	_, tracer := setupTestTracer(t)

	ctx, span := tracing.StartTransferSpan(context.Background(), tracer, 0, "http://example.test/")
	defer span.End()

	headers := make(http.Header)
	tracing.InjectHTTPHeaders(ctx, headers)

	got := headers.Get("Traceparent")
	if got == "" {
		t.Error("traceparent header not injected")
	}
	// version-traceid-spanid-flags
	if len(got) < 55 {
		t.Errorf("traceparent header too short: %q", got)
	}
}

func TestInjectHTTPHeadersNoSpan(t *testing.T) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
	))
	headers := make(http.Header)
	tracing.InjectHTTPHeaders(context.Background(), headers)

	if got := headers.Get("Traceparent"); got != "" {
		t.Errorf("traceparent header should be empty without span, got %q", got)
	}
}
