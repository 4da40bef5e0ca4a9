package secret

import (
	"context"

	"github.com/weftrun/weft/internal/telemetry"
)

// RedactingLogger wraps a telemetry.Logger, scrubbing every registered
// secret value from the message and any string-typed keyvals before
// delegating. Non-string keyvals pass through unchanged.
type RedactingLogger struct {
	next     telemetry.Logger
	redactor *Redactor
}

// NewRedactingLogger wraps next so no value registered with redactor can
// reach a log sink.
func NewRedactingLogger(next telemetry.Logger, redactor *Redactor) RedactingLogger {
	return RedactingLogger{next: next, redactor: redactor}
}

func (l RedactingLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.next.Debug(ctx, l.redactor.Redact(msg), l.redactKeyvals(keyvals)...)
}

func (l RedactingLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.next.Info(ctx, l.redactor.Redact(msg), l.redactKeyvals(keyvals)...)
}

func (l RedactingLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.next.Warn(ctx, l.redactor.Redact(msg), l.redactKeyvals(keyvals)...)
}

func (l RedactingLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.next.Error(ctx, l.redactor.Redact(msg), l.redactKeyvals(keyvals)...)
}

func (l RedactingLogger) redactKeyvals(keyvals []any) []any {
	out := make([]any, len(keyvals))
	for i, v := range keyvals {
		if s, ok := v.(string); ok {
			out[i] = l.redactor.Redact(s)
			continue
		}
		out[i] = v
	}
	return out
}
