package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

type recordingLogger struct {
	embedded.Logger

	mu      sync.Mutex
	records []otellog.Record
}

func (l *recordingLogger) Emit(_ context.Context, r otellog.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r.Clone())
}

func (l *recordingLogger) Enabled(context.Context, otellog.EnabledParameters) bool { return true }

func attrsOf(r otellog.Record) map[string]string {
	out := make(map[string]string)
	r.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.String()
		return true
	})
	return out
}

func TestHandler_MirrorsRecords(t *testing.T) {
	var buf bytes.Buffer
	rec := &recordingLogger{}
	h := &handler{next: slog.NewTextHandler(&buf, nil), logger: rec}

	logger := slog.New(h).With("kind", "lost_pet").WithGroup("push")
	logger.Warn("push failed", "unique_id", "abc", "attempt", 2)

	if !strings.Contains(buf.String(), "push failed") {
		t.Errorf("next handler output = %q", buf.String())
	}
	if len(rec.records) != 1 {
		t.Fatalf("emitted %d records, want 1", len(rec.records))
	}
	r := rec.records[0]
	if r.Body().AsString() != "push failed" {
		t.Errorf("body = %q", r.Body().AsString())
	}
	if r.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want WARN", r.Severity())
	}

	attrs := attrsOf(r)
	want := map[string]string{"kind": "lost_pet", "push.unique_id": "abc", "push.attempt": "2"}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
}

func TestHandler_RespectsLevel(t *testing.T) {
	rec := &recordingLogger{}
	next := slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(&handler{next: next, logger: rec})

	logger.Debug("hidden")
	logger.Info("shown")

	if len(rec.records) != 1 {
		t.Fatalf("emitted %d records, want 1", len(rec.records))
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestSetup_RequiresEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error without endpoint")
	}
	if shutdown == nil {
		t.Fatal("shutdown func is nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}
}
