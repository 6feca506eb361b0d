package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// New builds the process logger. dev gets a console writer, everything else
// JSON with caller info.
func New(service, env, level string) zerolog.Logger {
	return NewWithWriter(os.Stdout, service, env, level)
}

func NewWithWriter(w io.Writer, service, env, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if env == "dev" || env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
			Level(lvl).
			With().
			Timestamp().
			Str("service", service).
			Logger()
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Caller().
		Str("service", service).
		Str("env", env).
		Logger()
}

// WithTrace returns logger annotated with the span in ctx, if any.
func WithTrace(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return logger
	}
	return logger.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
}
