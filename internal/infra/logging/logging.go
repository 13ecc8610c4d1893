// File: internal/infra/logging/logging.go
package logging

import (
	"context"
	"os"
	"time"

	"github.com/aiorreal/quota-core/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New creates a zerolog logger configured from config. Supports
// "trace" | "debug" | "info" | "warn" | "error" levels; pretty switches
// to a human-readable console writer for local development.
func New(cfg config.LogConfig) *zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if cfg.Pretty {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return &base
}

// ctxKey namespaces context-carried logging fields.
type ctxKey string

const (
	ctxTraceID   ctxKey = "trace_id"
	ctxUserID    ctxKey = "user_id"
	ctxRequestID ctxKey = "request_id"
)

// With derives a child logger carrying whatever of trace_id/user_id/
// request_id are present on ctx.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v := ctx.Value(ctxTraceID); v != nil {
		l = l.Str("trace_id", v.(string))
	}
	if v := ctx.Value(ctxUserID); v != nil {
		l = l.Str("user_id", v.(string))
	}
	if v := ctx.Value(ctxRequestID); v != nil {
		l = l.Str("request_id", v.(string))
	}
	logger := l.Logger()
	return &logger
}

// TraceDuration logs start and end with elapsed duration at TRACE level.
// Usage: defer logging.TraceDuration(logger, "WalletManager.EnsureActive")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		elapsed := time.Since(start)
		logger.Trace().Str("method", name).Dur("duration", elapsed).Msg("finish")
	}
}

// WithTraceID attaches a trace id to ctx for later With() calls.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxTraceID, id)
}

// WithUserID attaches a user id to ctx for later With() calls.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxUserID, id)
}

// WithRequestID attaches a request id to ctx for later With() calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

// Global is a process-wide fallback logger for code paths that run before
// a configured logger is available. Prefer passing a constructed logger
// explicitly everywhere else.
var Global = log.Logger
