package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"exposure-tracer/config"
)

func spanContext(t *testing.T) context.Context {
	t.Helper()
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json log: %v (%s)", err, buf.String())
	}
	return entry
}

func TestTraceHandler_AddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{OtelEnabled: true, GoogleCloudProject: "tracer-prod"}
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil), cfg))

	logger.InfoContext(spanContext(t), "tek rotated")

	entry := decodeLine(t, &buf)
	if entry["trace"] != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("unexpected trace field: %v", entry["trace"])
	}
	if entry["spanId"] != "00f067aa0ba902b7" {
		t.Errorf("unexpected spanId field: %v", entry["spanId"])
	}
	want := "projects/tracer-prod/traces/4bf92f3577b34da6a3ce929d0e0e4736"
	if entry["logging.googleapis.com/trace"] != want {
		t.Errorf("want %s, got %v", want, entry["logging.googleapis.com/trace"])
	}
}

func TestTraceHandler_Disabled(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil), &config.Config{}))

	logger.With("component", "beacon").InfoContext(spanContext(t), "tek rotated")

	entry := decodeLine(t, &buf)
	if _, ok := entry["trace"]; ok {
		t.Error("expected no trace field when tracing is disabled")
	}
	if entry["component"] != "beacon" {
		t.Errorf("expected attrs to survive WithAttrs, got %v", entry["component"])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q): want %v, got %v", in, want, got)
		}
	}
}
