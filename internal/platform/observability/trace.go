package observability

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/simplecartfees/api/internal/platform/requestctx"
)

// cloudTraceHeader carries "TRACE_ID/SPAN_ID;o=OPTIONS" from the Google front end.
const cloudTraceHeader = "X-Cloud-Trace-Context"

var tracer = otel.Tracer("github.com/simplecartfees/api/internal/platform/observability")

// TraceMiddleware continues the caller's Cloud Trace context, opens a server span named after the
// matched route and exposes the trace ids through requestctx for logging and error envelopes.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if remote, ok := parseCloudTraceContext(r.Header.Get(cloudTraceHeader)); ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+pathOrRoot(r),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...),
			)
			defer span.End()

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled(),
				ProjectID: projectID,
			}
			if header := cloudTraceValue(info); header != "" {
				w.Header().Set(cloudTraceHeader, header)
			}

			r = r.WithContext(requestctx.WithTrace(ctx, info))
			next.ServeHTTP(w, r)

			// chi fills the route pattern while routing, so the final name is only known now.
			if route := routePattern(r); route != "" {
				span.SetName(r.Method + " " + SanitizeRoute(route))
			}
		})
	}
}

// parseCloudTraceContext accepts hex or decimal span ids, as the header has carried both over time.
func parseCloudTraceContext(header string) (trace.SpanContext, bool) {
	traceHex, rest, ok := strings.Cut(strings.TrimSpace(header), "/")
	if !ok || len(traceHex) != 32 {
		return trace.SpanContext{}, false
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}

	spanRaw, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseSpanID(strings.TrimSpace(spanRaw))
	if !ok {
		return trace.SpanContext{}, false
	}

	var flags trace.TraceFlags
	if sampledOption(options) {
		flags = trace.FlagsSampled
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	}), true
}

func parseSpanID(raw string) (trace.SpanID, bool) {
	if raw == "" {
		return trace.SpanID{}, false
	}
	if len(raw) <= 16 {
		if id, err := trace.SpanIDFromHex(strings.Repeat("0", 16-len(raw)) + raw); err == nil {
			return id, true
		}
	}
	num, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || num == 0 {
		return trace.SpanID{}, false
	}
	var id trace.SpanID
	binary.BigEndian.PutUint64(id[:], num)
	return id, true
}

func sampledOption(options string) bool {
	for _, option := range strings.Split(options, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(option), "=")
		if ok && key == "o" {
			return value == "1"
		}
	}
	return false
}

func cloudTraceValue(info requestctx.TraceInfo) string {
	if info.TraceID == "" || info.SpanID == "" {
		return ""
	}
	sampled := 0
	if info.Sampled {
		sampled = 1
	}
	return fmt.Sprintf("%s/%s;o=%d", info.TraceID, info.SpanID, sampled)
}

func pathOrRoot(r *http.Request) string {
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return SanitizeRoute(r.URL.Path)
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(SanitizeMethod(r.Method)),
		semconv.URLScheme(scheme),
		semconv.URLPath(pathOrRoot(r)),
	}
	if r.Host != "" {
		attrs = append(attrs, semconv.ServerAddress(r.Host))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.UserAgentOriginal(cleanField(ua, 256)))
	}
	return attrs
}
