// Package logger builds the zap loggers used across the backtester and
// carries a trace ID through context.Context.
package logger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// ParseLevel maps "debug", "info", "warn" and "error" to a zap level.
// Unknown values fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// New creates a logger for the given service. format is "json" or
// "console"; output goes to stderr so stdout stays free for reports.
func New(service, level, format string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"
	config.OutputPaths = []string{"stderr"}
	config.Sampling = nil
	if strings.EqualFold(format, "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	l, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("logger build: %w", err)
	}
	return l.With(zap.String("service", service)), nil
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from a prefix and timestamp.
// Format: "{prefix}-{unixNano}".
func GenerateTraceID(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, ts.UnixNano())
}

// Fields returns zap fields including the trace ID from context.
// Usage: log.Info("msg", logger.Fields(ctx)...)
func Fields(ctx context.Context) []zap.Field {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []zap.Field{zap.String("trace_id", tid)}
}

// FromContext returns base annotated with the context's trace ID.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if f := Fields(ctx); f != nil {
		return base.With(f...)
	}
	return base
}
