package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// ClueLogger delegates to goa.design/clue/log, reading formatting and
	// debug settings from the context.
	ClueLogger struct{}

	// ClueMetrics delegates to OTEL metrics via the global MeterProvider.
	ClueMetrics struct {
		meter metric.Meter
	}

	// ClueTracer delegates to OTEL tracing via the global TracerProvider.
	ClueTracer struct {
		tracer trace.Tracer
	}

	clueSpan struct {
		span trace.Span
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger { return ClueLogger{} }

// NewClueMetrics constructs a Metrics recorder backed by OTEL metrics.
// Configure the global MeterProvider (typically via clue.ConfigureOpenTelemetry)
// before use.
func NewClueMetrics() Metrics {
	return &ClueMetrics{meter: otel.Meter("github.com/chaosforge/agentchaos")}
}

// NewClueTracer constructs a Tracer backed by OTEL tracing.
func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer("github.com/chaosforge/agentchaos")}
}

func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fielders := append([]log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}, kvToClue(keyvals)...)
	log.Warn(ctx, fielders...)
}

func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *ClueMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	hist, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	hist.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	hist, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	hist.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &clueSpan{span: span}
}

func (t *ClueTracer) Span(ctx context.Context) Span {
	return &clueSpan{span: trace.SpanFromContext(ctx)}
}

func (s *clueSpan) End(opts ...trace.SpanEndOption)        { s.span.End(opts...) }
func (s *clueSpan) SetStatus(code codes.Code, desc string) { s.span.SetStatus(code, desc) }
func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func (s *clueSpan) AddEvent(name string, attrs ...any) {
	var kv []attribute.KeyValue
	for i := 0; i+1 < len(attrs); i += 2 {
		if key, ok := attrs[i].(string); ok {
			kv = append(kv, attribute.String(key, toStr(attrs[i+1])))
		}
	}
	s.span.AddEvent(name, trace.WithAttributes(kv...))
}

func kvToClue(keyvals []any) []log.Fielder {
	var out []log.Fielder
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		out = append(out, log.KV{K: key, V: keyvals[i+1]})
	}
	return out
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	var out []attribute.KeyValue
	for i := 0; i+1 < len(tags); i += 2 {
		out = append(out, attribute.String(tags[i], tags[i+1]))
	}
	return out
}

func toStr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
