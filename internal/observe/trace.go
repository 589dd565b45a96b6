package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Parley tracer.
const tracerName = "github.com/MrWong99/parley"

// Span attribute keys shared by every command span.
const (
	AttrSessionID     = attribute.Key("session.id")
	AttrParticipantID = attribute.Key("participant.id")
)

// Tracer returns the Parley [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

type scopeKey struct{}

// scope identifies the session and participant a piece of work belongs to.
type scope struct {
	sessionID     string
	participantID string
}

// StartCommandSpan starts the span "session.<command>" carrying the session
// and participant IDs, and records both in the returned context so that
// [Logger] includes them. An empty sessionID is omitted.
func StartCommandSpan(ctx context.Context, command, sessionID, participantID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrParticipantID.String(participantID)}
	if sessionID != "" {
		attrs = append(attrs, AttrSessionID.String(sessionID))
	}
	ctx = context.WithValue(ctx, scopeKey{}, scope{sessionID: sessionID, participantID: participantID})
	return StartSpan(ctx, "session."+command, trace.WithAttributes(attrs...))
}

// CorrelationID returns the trace ID of the active span in ctx, or "" when
// there is none. The HTTP middleware echoes it in X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with trace_id and span_id from
// the active span and with session_id and participant_id recorded by
// [StartCommandSpan].
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if s, ok := ctx.Value(scopeKey{}).(scope); ok {
		if s.sessionID != "" {
			attrs = append(attrs, slog.String("session_id", s.sessionID))
		}
		attrs = append(attrs, slog.String("participant_id", s.participantID))
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
