package observability

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplecartfees/api/internal/platform/auth"
	"github.com/simplecartfees/api/internal/platform/httpx"
	"github.com/simplecartfees/api/internal/platform/requestctx"
)

// InjectLoggerMiddleware stores logger on the request context for downstream handlers and services.
func InjectLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(requestctx.WithLogger(r.Context(), logger)))
		})
	}
}

type requestLogConfig struct {
	sessionHeader string
	sessionCookie string
}

// RequestLogOption customises RequestLoggerMiddleware.
type RequestLogOption func(*requestLogConfig)

// WithCartSession logs a masked cart session id read from the given header or cookie.
func WithCartSession(header, cookie string) RequestLogOption {
	return func(cfg *requestLogConfig) {
		cfg.sessionHeader = strings.TrimSpace(header)
		cfg.sessionCookie = strings.TrimSpace(cookie)
	}
}

// RequestLoggerMiddleware writes one "request completed" entry per request. 5xx and panics log at
// error level, 4xx at warn. The matched chi route is recorded on the entry and on the active span.
func RequestLoggerMiddleware(opts ...RequestLogOption) func(http.Handler) http.Handler {
	var cfg requestLogConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			traceInfo, _ := requestctx.Trace(ctx)

			fields := []zap.Field{
				zap.String("request_id", middleware.GetReqID(ctx)),
				zap.String("method", SanitizeMethod(r.Method)),
				zap.String("trace_id", traceInfo.TraceID),
			}
			if uid := identityUID(ctx); uid != "" {
				fields = append(fields, zap.String("user_id", uid))
			}
			if session := cfg.session(r); session != "" {
				fields = append(fields, zap.String("cart_session", session))
			}
			if traceInfo.ProjectID != "" && traceInfo.TraceID != "" {
				fields = append(fields, zap.String("logging.googleapis.com/trace",
					"projects/"+traceInfo.ProjectID+"/traces/"+traceInfo.TraceID))
			}
			if ip := remoteIP(r); ip != "" {
				fields = append(fields, zap.String("remote_ip", ip))
			}
			logger := requestctx.Logger(ctx).With(fields...)

			r = r.WithContext(requestctx.WithLogger(ctx, logger))
			ww := capture(w, r)
			start := time.Now()

			completed := false
			defer func() {
				status := statusOf(ww)
				if !completed && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				route := SanitizeRoute(routePattern(r))
				annotateSpan(trace.SpanFromContext(ctx), route, status)

				entry := []zap.Field{
					zap.String("route", route),
					zap.Int("status", status),
					zap.Duration("latency", time.Since(start)),
					zap.Int("bytes", ww.BytesWritten()),
				}
				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request completed", entry...)
				case status >= http.StatusBadRequest:
					logger.Warn("request completed", entry...)
				default:
					logger.Info("request completed", entry...)
				}
			}()

			next.ServeHTTP(ww, r)
			completed = true
		})
	}
}

func (c requestLogConfig) session(r *http.Request) string {
	if c.sessionHeader != "" {
		if value := r.Header.Get(c.sessionHeader); value != "" {
			return MaskSessionID(value)
		}
	}
	if c.sessionCookie != "" {
		if cookie, err := r.Cookie(c.sessionCookie); err == nil {
			return MaskSessionID(cookie.Value)
		}
	}
	return ""
}

// RecoveryMiddleware turns a panic into a logged stack trace and a JSON 500. The request logger is
// used when present, otherwise fallback.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger := requestctx.Logger(ctx)
				if fallback != nil && !logger.Core().Enabled(zapcore.ErrorLevel) {
					logger = fallback
				}
				logger.Error("panic recovered", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
				httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func annotateSpan(span trace.Span, route string, status int) {
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
		return
	}
	span.SetStatus(codes.Ok, "")
}

func identityUID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		return ""
	}
	return SanitizeUserID(identity.UID)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if r.URL != nil {
		return r.URL.Path
	}
	return ""
}

func remoteIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return cleanField(addr, idLimit)
}

// capture returns a writer that exposes the final status and size, reusing one installed
// further up the chain.
func capture(w http.ResponseWriter, r *http.Request) middleware.WrapResponseWriter {
	if ww, ok := w.(middleware.WrapResponseWriter); ok {
		return ww
	}
	return middleware.NewWrapResponseWriter(w, r.ProtoMajor)
}

// statusOf treats a handler that never wrote a header as 200.
func statusOf(ww middleware.WrapResponseWriter) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}
