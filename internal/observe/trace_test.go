package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs a TracerProvider with an in-memory exporter as the
// global provider for the duration of the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default slog logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartCommandSpan(t *testing.T) {
	exp := useTestTracer(t)

	tests := []struct {
		name        string
		sessionID   string
		wantAttrs   map[string]string
		wantMissing string
	}{
		{
			name:      "in session",
			sessionID: "weekly-sync",
			wantAttrs: map[string]string{"session.id": "weekly-sync", "participant.id": "alice"},
		},
		{
			name:        "no session",
			wantAttrs:   map[string]string{"participant.id": "alice"},
			wantMissing: "session.id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp.Reset()
			_, span := StartCommandSpan(context.Background(), "join-session", tt.sessionID, "alice")
			span.End()

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			if spans[0].Name != "session.join-session" {
				t.Errorf("span name = %q", spans[0].Name)
			}
			got := map[string]string{}
			for _, kv := range spans[0].Attributes {
				got[string(kv.Key)] = kv.Value.AsString()
			}
			for k, v := range tt.wantAttrs {
				if got[k] != v {
					t.Errorf("attribute %s = %q, want %q", k, got[k], v)
				}
			}
			if _, ok := got[tt.wantMissing]; tt.wantMissing != "" && ok {
				t.Errorf("attribute %s should be absent", tt.wantMissing)
			}
		})
	}
}

func TestLogger_CommandScope(t *testing.T) {
	useTestTracer(t)
	buf := captureLogs(t)

	ctx, span := StartCommandSpan(context.Background(), "chat-message", "weekly-sync", "bob")
	defer span.End()
	Logger(ctx).Info("posted")

	for _, want := range []string{"trace_id=", "span_id=", "session_id=weekly-sync", "participant_id=bob"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log output missing %q, got: %s", want, buf.String())
		}
	}
}

func TestLogger_NoScope(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("plain")

	for _, unwanted := range []string{"trace_id", "session_id", "participant_id"} {
		if strings.Contains(buf.String(), unwanted) {
			t.Errorf("log output should not contain %q, got: %s", unwanted, buf.String())
		}
	}
}

func TestCorrelationID(t *testing.T) {
	useTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool, 50)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "unique")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 {
			t.Fatalf("correlation ID %q has length %d, want 32", cid, len(cid))
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}
