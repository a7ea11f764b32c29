// Package logger sets up structured JSON logging (log/slog) for the
// recorder services. Each check carries a trace ID through
// context.Context so the fetch, the classification, and the append it
// produces can be correlated in the output.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type traceKey struct{}

// Init installs a JSON logger tagged with the service name as the slog
// default and returns it, so package-level slog.Info etc. share the
// same output.
func Init(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	l := slog.New(h).With(slog.String("service", service))
	slog.SetDefault(l)
	return l
}

// ParseLevel maps a LOG_LEVEL string to a slog level. Unknown values fall
// back to info rather than failing startup.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCheckTrace derives a trace ID for one check from the instrument
// token and the request time, "{token}-{unixNano}", and stores it in the
// context. Unique enough for log correlation without a UUID dependency.
func WithCheckTrace(ctx context.Context, token string, at time.Time) context.Context {
	return context.WithValue(ctx, traceKey{}, fmt.Sprintf("%s-%d", token, at.UnixNano()))
}

// TraceID returns the trace ID stored in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceKey{}).(string)
	return v
}

// Trace renders the context's trace ID as a slog attribute. Without one
// it returns an empty group, which the built-in handlers drop.
func Trace(ctx context.Context) slog.Attr {
	if tid := TraceID(ctx); tid != "" {
		return slog.String("trace_id", tid)
	}
	return slog.Group("")
}
