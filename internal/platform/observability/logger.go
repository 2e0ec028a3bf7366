package observability

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplecartfees/api/internal/platform/requestctx"
)

type loggerSettings struct {
	level  string
	output zapcore.WriteSyncer
}

// LoggerOption customises NewLogger.
type LoggerOption func(*loggerSettings)

// WithLogLevel overrides LOG_LEVEL. Unknown levels fall back to info.
func WithLogLevel(level string) LoggerOption {
	return func(s *loggerSettings) { s.level = level }
}

// WithLogOutput writes entries to w instead of stdout.
func WithLogOutput(w zapcore.WriteSyncer) LoggerOption {
	return func(s *loggerSettings) { s.output = w }
}

// NewLogger returns a JSON logger whose keys match Cloud Logging's structured payload
// (severity, message, timestamp).
func NewLogger(opts ...LoggerOption) (*zap.Logger, error) {
	settings := loggerSettings{level: os.Getenv("LOG_LEVEL"), output: zapcore.Lock(os.Stdout)}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(strings.TrimSpace(settings.level)); err == nil {
		level = parsed
	}

	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "severity",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    severityEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
	core := zapcore.NewCore(encoder, settings.output, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))), nil
}

// severityEncoder maps zap levels onto Cloud Logging severities.
func severityEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.FatalLevel:
		enc.AppendString("ALERT")
	default:
		enc.AppendString(level.CapitalString())
	}
}

// WithLogger binds logger to ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// ServiceLogger adapts zap to the func(ctx, event, fields) loggers services accept. Events ending
// in "failed" log at warn, everything else at debug. A request logger bound to ctx is preferred
// over fallback so entries carry request ids.
func ServiceLogger(fallback *zap.Logger) func(context.Context, string, map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := fallback
		if scoped := requestctx.Logger(ctx); scoped.Core().Enabled(zapcore.ErrorLevel) {
			logger = scoped.Named(fallback.Name())
		}

		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		entry := append(make([]zap.Field, 0, len(keys)+1), zap.String("event", event))
		for _, key := range keys {
			entry = append(entry, zap.Any(key, fields[key]))
		}

		level := zapcore.DebugLevel
		if strings.HasSuffix(event, "failed") {
			level = zapcore.WarnLevel
		}
		logger.Log(level, event, entry...)
	}
}

// PrintfAdapter logs printf-style messages at warn level.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Warnf(format, args...)
}
