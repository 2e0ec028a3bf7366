// Package requestctx carries per-request values shared by middleware, handlers and services.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey  struct{}
	traceKey   struct{}
	sessionKey struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo identifies the Cloud Trace span serving the request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func with(ctx context.Context, key, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func lookup[T any](ctx context.Context, key any) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	value, ok := ctx.Value(key).(T)
	return value, ok
}

// WithLogger binds logger to ctx. A nil logger binds a no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return with(ctx, loggerKey{}, logger)
}

// Logger returns the bound logger, never nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := lookup[*zap.Logger](ctx, loggerKey{}); ok && logger != nil {
		return logger
	}
	return noopLogger
}

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return with(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return lookup[TraceInfo](ctx, traceKey{})
}

// TraceID is Trace(ctx).TraceID, or empty.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithSession records the cart session the request belongs to.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return with(ctx, sessionKey{}, sessionID)
}

func Session(ctx context.Context) string {
	id, _ := lookup[string](ctx, sessionKey{})
	return id
}
