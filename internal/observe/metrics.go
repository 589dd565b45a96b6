// Package observe holds Parley's observability plumbing: OpenTelemetry
// metrics and traces, context-scoped slog loggers, and the HTTP middleware
// that ties them to each request.
//
// Instruments are created through the OTel metrics API and scraped through
// the Prometheus bridge installed by [InitProvider]. Components receive a
// *[Metrics] and may be handed nil; every Record and Add method is a no-op on
// a nil receiver. Tests build their own with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// scope is the instrumentation scope of every Parley instrument.
const scope = "github.com/MrWong99/parley"

// Metrics is the set of instruments the server records into.
type Metrics struct {
	// Latencies, in seconds.
	STTDuration   metric.Float64Histogram // transcription
	LLMDuration   metric.Float64Histogram // op=answer|enhance
	MergeDuration metric.Float64Histogram // load, merge, recompute, persist of one fragment
	HTTPDuration  metric.Float64Histogram // method, route, status; upgrades cover the socket lifetime

	FragmentMerges     metric.Int64Counter // outcome=appended|replaced|extended|discarded
	ChatMessages       metric.Int64Counter // kind=user|ai
	ProviderRequests   metric.Int64Counter // provider, kind, status
	ProviderErrors     metric.Int64Counter // provider, kind
	BreakerTransitions metric.Int64Counter // breaker, to
	OperationErrors    metric.Int64Counter // command, code

	ActiveSessions     metric.Int64UpDownCounter
	ActiveParticipants metric.Int64UpDownCounter
}

// latencyBuckets covers in-memory merges (sub-millisecond) up to slow
// provider calls.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// builder creates instruments on one meter and keeps every creation error.
type builder struct {
	meter metric.Meter
	errs  []error
}

func (b *builder) latency(name, desc string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	b.errs = append(b.errs, err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return g
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{meter: mp.Meter(scope)}
	m := &Metrics{
		STTDuration:   b.latency("parley.stt.duration", "Speech-to-text latency per audio chunk."),
		LLMDuration:   b.latency("parley.llm.duration", "Language model latency by operation."),
		MergeDuration: b.latency("parley.transcript.merge.duration", "Time to merge and persist one transcript fragment."),
		HTTPDuration:  b.latency("parley.http.request.duration", "HTTP request latency by method, route and status."),

		FragmentMerges:     b.counter("parley.transcript.merges", "Transcript fragments merged, by outcome."),
		ChatMessages:       b.counter("parley.chat.messages", "Chat messages appended, by kind."),
		ProviderRequests:   b.counter("parley.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:     b.counter("parley.provider.errors", "Failed provider calls by provider and kind."),
		BreakerTransitions: b.counter("parley.breaker.transitions", "Circuit breaker state changes by breaker and target state."),
		OperationErrors:    b.counter("parley.operation.errors", "Operation errors sent to clients, by command and code."),

		ActiveSessions:     b.gauge("parley.active_sessions", "Sessions with at least one connected member."),
		ActiveParticipants: b.gauge("parley.active_participants", "Authenticated connections."),
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return m, nil
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: default metrics: " + err.Error())
	}
	return m
})

// DefaultMetrics returns the process-wide instruments, created on first use
// from the global meter provider. Call it after [InitProvider].
func DefaultMetrics() *Metrics {
	return defaultMetrics()
}

func attrs(kv ...string) metric.MeasurementOption {
	set := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		set = append(set, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(set...)
}

// RecordProviderRequest counts one provider call. status is "ok" or "error".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m != nil {
		m.ProviderRequests.Add(ctx, 1, attrs("provider", provider, "kind", kind, "status", status))
	}
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m != nil {
		m.ProviderErrors.Add(ctx, 1, attrs("provider", provider, "kind", kind))
	}
}

// RecordMerge counts a fragment merge outcome and its pipeline latency.
func (m *Metrics) RecordMerge(ctx context.Context, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.FragmentMerges.Add(ctx, 1, attrs("outcome", outcome))
	m.MergeDuration.Record(ctx, took.Seconds())
}

func (m *Metrics) RecordChatMessage(ctx context.Context, kind string) {
	if m != nil {
		m.ChatMessages.Add(ctx, 1, attrs("kind", kind))
	}
}

func (m *Metrics) RecordOperationError(ctx context.Context, command, code string) {
	if m != nil {
		m.OperationErrors.Add(ctx, 1, attrs("command", command, "code", code))
	}
}

func (m *Metrics) RecordSTT(ctx context.Context, took time.Duration) {
	if m != nil {
		m.STTDuration.Record(ctx, took.Seconds())
	}
}

// RecordLLM records a language model latency for op, "answer" or "enhance".
func (m *Metrics) RecordLLM(ctx context.Context, op string, took time.Duration) {
	if m != nil {
		m.LLMDuration.Record(ctx, took.Seconds(), attrs("op", op))
	}
}

func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	if m != nil {
		m.BreakerTransitions.Add(ctx, 1, attrs("breaker", breaker, "to", to))
	}
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}

// AddSessions moves the active session gauge by delta.
func (m *Metrics) AddSessions(ctx context.Context, delta int64) {
	if m != nil {
		m.ActiveSessions.Add(ctx, delta)
	}
}

// AddParticipants moves the connected participant gauge by delta.
func (m *Metrics) AddParticipants(ctx context.Context, delta int64) {
	if m != nil {
		m.ActiveParticipants.Add(ctx, delta)
	}
}
