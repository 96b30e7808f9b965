package emit

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecorder(t *testing.T) (*OTelEmitter, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewOTelEmitter(tp.Tracer("test")), exporter
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func TestOTelEmitter_Emit(t *testing.T) {
	emitter, exporter := newRecorder(t)

	emitter.Emit(Event{
		RunID:  "run-001",
		Step:   1,
		NodeID: "chatbot",
		Msg:    "node_end",
		Meta: map[string]interface{}{
			"latency_ms": 250 * time.Millisecond,
			"fields":     []string{"messages"},
			"attempts":   2,
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name != "node_end" {
		t.Errorf("span name = %q, want %q", span.Name, "node_end")
	}

	attrs := attributeMap(span.Attributes)
	tests := []struct {
		key  string
		want interface{}
	}{
		{"stategraph.run_id", "run-001"},
		{"stategraph.step", int64(1)},
		{"stategraph.node_id", "chatbot"},
		{"stategraph.latency_ms", int64(250)},
		{"stategraph.attempts", int64(2)},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := attrs[tt.key]; got != tt.want {
				t.Errorf("%s = %v (%T), want %v", tt.key, got, got, tt.want)
			}
		})
	}

	fields, ok := attrs["stategraph.fields"].([]string)
	if !ok || len(fields) != 1 || fields[0] != "messages" {
		t.Errorf("stategraph.fields = %v", attrs["stategraph.fields"])
	}
	if span.Status.Code == codes.Error {
		t.Error("span without error meta should not be marked failed")
	}
}

func TestOTelEmitter_EmitWithError(t *testing.T) {
	emitter, exporter := newRecorder(t)

	emitter.Emit(Event{
		RunID:  "run-001",
		Step:   2,
		NodeID: "tool_node",
		Msg:    "node_error",
		Meta:   map[string]interface{}{"error": "dispatch failed"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Status.Code != codes.Error {
		t.Errorf("status code = %v, want %v", span.Status.Code, codes.Error)
	}
	if span.Status.Description != "dispatch failed" {
		t.Errorf("status description = %q", span.Status.Description)
	}
	if len(span.Events) == 0 {
		t.Error("expected a recorded error event on the span")
	}
}

func TestOTelEmitter_NilMeta(t *testing.T) {
	emitter, exporter := newRecorder(t)

	emitter.Emit(Event{RunID: "run-002", Msg: "run_start"})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := attributeMap(spans[0].Attributes)["stategraph.run_id"]; got != "run-002" {
		t.Errorf("run_id = %v", got)
	}
}

func TestOTelEmitter_Flush(t *testing.T) {
	emitter, _ := newRecorder(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := emitter.Flush(ctx); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}
