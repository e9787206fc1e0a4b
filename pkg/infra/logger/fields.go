// Package logger carries structured logging fields on a context, so every
// log line of a request or retrieval run shares its identifiers.
package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
)

type contextKey int

const (
	loggerFieldsKey contextKey = iota
	contextLoggerKey
)

// loggerFields keeps insertion order so log output is stable.
type loggerFields struct {
	keys   []string
	values map[string]any
}

func newLoggerFields() *loggerFields {
	return &loggerFields{values: make(map[string]any)}
}

func (lf *loggerFields) clone() *loggerFields {
	out := &loggerFields{
		keys:   append([]string(nil), lf.keys...),
		values: make(map[string]any, len(lf.values)),
	}
	for k, v := range lf.values {
		out.values[k] = v
	}
	return out
}

func (lf *loggerFields) set(key string, value any) {
	if _, ok := lf.values[key]; !ok {
		lf.keys = append(lf.keys, key)
	}
	lf.values[key] = value
}

func (lf *loggerFields) toSlice() []any {
	if len(lf.keys) == 0 {
		return nil
	}
	out := make([]any, 0, len(lf.keys)*2)
	for _, k := range lf.keys {
		out = append(out, k, lf.values[k])
	}
	return out
}

func getLoggerFields(ctx context.Context) *loggerFields {
	if lf, ok := ctx.Value(loggerFieldsKey).(*loggerFields); ok {
		return lf
	}
	return newLoggerFields()
}

func withField(ctx context.Context, key string, value any) context.Context {
	lf := getLoggerFields(ctx).clone()
	lf.set(key, value)
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// WithRequestID adds request_id to the context fields.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return withField(ctx, "request_id", requestID)
}

// WithRunID adds run_id to the context fields.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return withField(ctx, "run_id", runID)
}

// WithCaseID adds case_id to the context fields.
func WithCaseID(ctx context.Context, caseID string) context.Context {
	if caseID == "" {
		return ctx
	}
	return withField(ctx, "case_id", caseID)
}

// WithFields adds key/value pairs. A trailing key without a value and
// non-string keys are ignored.
func WithFields(ctx context.Context, keysAndValues ...any) context.Context {
	if len(keysAndValues) < 2 {
		return ctx
	}
	if len(keysAndValues)%2 != 0 {
		keysAndValues = keysAndValues[:len(keysAndValues)-1]
	}

	lf := getLoggerFields(ctx).clone()
	for i := 0; i < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			lf.set(key, keysAndValues[i+1])
		}
	}
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// WithTraceFields copies trace_id and span_id from the recording span in ctx.
func WithTraceFields(ctx context.Context) context.Context {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return ctx
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ctx
	}

	lf := getLoggerFields(ctx).clone()
	lf.set("trace_id", sc.TraceID().String())
	lf.set("span_id", sc.SpanID().String())
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// ContextFields returns the fields stored in ctx as key/value pairs.
func ContextFields(ctx context.Context) []any {
	return getLoggerFields(ctx).toSlice()
}

// FromContext returns the logger stored with WithLogger, or the global
// logger with the context fields attached.
func FromContext(ctx context.Context) core.Logger {
	if l, ok := ctx.Value(contextLoggerKey).(core.Logger); ok {
		return l
	}
	base := logger.Global()
	if fields := ContextFields(ctx); len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}

// WithLogger stores a logger in ctx. FromContext returns it as is.
func WithLogger(ctx context.Context, l core.Logger) context.Context {
	return context.WithValue(ctx, contextLoggerKey, l)
}
