// Package telemetry provides the Logger/Metrics/Tracer abstraction used
// throughout the engine, plus the process-wide counter Registry that
// counts attempts, failures, successes and retry sleep per call label.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured log lines. Implementations must treat keyvals
	// as alternating key/value pairs, mirroring the clue logging convention.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges tagged by arbitrary
	// key=value strings.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer creates spans for request-scoped tracing.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span is a single unit of work in a trace.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)
