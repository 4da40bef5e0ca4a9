package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

type (
	// ClueLogger delegates to goa.design/clue/log, the structured logger used
	// throughout the engine's ambient stack.
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

// NewClueLogger constructs a Logger backed by goa.design/clue/log. Formatting
// and debug settings are read from the context via log.Context.
func NewClueLogger() Logger { return ClueLogger{} }

// NewClueMetrics constructs a Metrics recorder backed by the global OTEL
// MeterProvider. Configure the provider via clue.ConfigureOpenTelemetry
// before invoking engine operations.
func NewClueMetrics() Metrics {
	return &ClueMetrics{meter: otel.Meter("github.com/weftrun/weft")}
}

// NewClueTracer constructs a Tracer backed by the global OTEL TracerProvider.
func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer("github.com/weftrun/weft")}
}

// Debug emits a debug-level structured log line.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

// Info emits an info-level structured log line.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

// Warn emits a warning-level structured log line.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fielders := []log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "severity", V: "warning"}}
	log.Warn(ctx, append(fielders, kvToClue(keyvals)...)...)
}

// Error emits an error-level structured log line.
func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvToClue(keyvals)...)...)
}

// IncCounter increments a named counter by value, tagged with key=value tag strings.
func (m *ClueMetrics) IncCounter(name string, value float64, tags ...string) {
	c, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records a duration observation for a named histogram.
func (m *ClueMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	h, err := m.meter.Float64Histogram(name, metric.WithUnit("ms"))
	if err != nil {
		return
	}
	h.Record(context.Background(), float64(d.Milliseconds()), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records an instantaneous value for a named gauge.
func (m *ClueMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, err := m.meter.Float64Gauge(name)
	if err != nil {
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// Start begins a new span scoped to name.
func (t *ClueTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, &clueSpan{span: span}
}

func (s *clueSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *clueSpan) AddEvent(name string, keyvals ...any) {
	s.span.AddEvent(name, trace.WithAttributes(tagsToAttrs(kvToStrings(keyvals))...))
}

func (s *clueSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *clueSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

func kvToClue(keyvals []any) []log.Fielder {
	fielders := make([]log.Fielder, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		k, _ := keyvals[i].(string)
		fielders = append(fielders, log.KV{K: k, V: keyvals[i+1]})
	}
	return fielders
}

func kvToStrings(keyvals []any) []string {
	out := make([]string, 0, len(keyvals))
	for _, v := range keyvals {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		attrs = append(attrs, attribute.String(tags[i], tags[i+1]))
	}
	return attrs
}
