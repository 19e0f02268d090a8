package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func recordingTracer(t *testing.T) (Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTracer(tp.Tracer("dispatchops")), sr
}

func spanAttr(span sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.AsString(), true
		}
	}
	return "", false
}

func TestTracer_StartSpanCarriesRequestMeta(t *testing.T) {
	tr, sr := recordingTracer(t)

	ctx, span := tr.StartSpan(context.Background(), RequestMeta{
		ID:       "r-1",
		Kind:     "consult",
		Priority: "high",
	})
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("returned context carries no span")
	}
	tr.EndSpan(span, nil)

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(ended))
	}
	got := ended[0]
	if got.Name() != "dispatch.exec.consult" {
		t.Errorf("Name() = %q, want dispatch.exec.consult", got.Name())
	}
	for key, want := range map[string]string{
		"request.id":       "r-1",
		"request.kind":     "consult",
		"request.priority": "high",
	} {
		if v, ok := spanAttr(got, key); !ok || v != want {
			t.Errorf("attribute %s = %q (present %v), want %q", key, v, ok, want)
		}
	}
	if got.Status().Code != codes.Ok {
		t.Errorf("Status().Code = %v, want Ok", got.Status().Code)
	}
	if got.SpanKind() != trace.SpanKindInternal {
		t.Errorf("SpanKind() = %v, want internal", got.SpanKind())
	}
}

func TestTracer_EndSpanRecordsError(t *testing.T) {
	tr, sr := recordingTracer(t)

	_, span := tr.StartSpan(context.Background(), RequestMeta{ID: "r-2", Kind: "embedding"})
	tr.EndSpan(span, errors.New("service down"))

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(ended))
	}
	got := ended[0]
	if got.Status().Code != codes.Error {
		t.Errorf("Status().Code = %v, want Error", got.Status().Code)
	}
	if got.Status().Description != "service down" {
		t.Errorf("Status().Description = %q, want the error message", got.Status().Description)
	}

	recorded := false
	for _, ev := range got.Events() {
		if ev.Name == "exception" {
			recorded = true
		}
	}
	if !recorded {
		t.Error("no exception event recorded for the error")
	}
}

func TestNopTracer_DoesNotPanic(t *testing.T) {
	tr := NopTracer()
	_, span := tr.StartSpan(context.Background(), RequestMeta{Kind: "consult"})
	tr.EndSpan(span, errors.New("ignored"))
}
