// Package telemetry defines the ambient logging/metrics/tracing seam used
// throughout the harness. Components accept
// these interfaces rather than importing a concrete backend, so a scenario
// run can be wired to goa.design/clue + OpenTelemetry in production and to
// no-ops in tests.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging for the injector, provider adapters,
// and runner. Intentionally small so tests can supply lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter/timer/gauge helpers, distinct from chaos/metrics'
// per-run Store: this is operator-facing telemetry about the harness
// itself (e.g. "scenario_runs_total"), not the scorecard data a scenario's
// assertions read.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so harness code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
