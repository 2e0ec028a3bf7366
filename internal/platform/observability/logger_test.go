package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestServiceLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := ServiceLogger(zap.New(core))

	log(context.Background(), "order fees: recorded", map[string]any{"order_id": "1001", "fee_count": 2})
	log(context.Background(), "order fees: publish event failed", map[string]any{"error": "boom"})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected levels %v %v", entries[0].Level, entries[1].Level)
	}
	fields := entries[0].ContextMap()
	if fields["order_id"] != "1001" || fields["event"] != "order fees: recorded" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.DebugLevel)
	requestCore, requestLogs := observer.New(zapcore.DebugLevel)

	log := ServiceLogger(zap.New(fallbackCore))
	ctx := WithLogger(context.Background(), zap.New(requestCore).With(zap.String("request_id", "req-1")))
	log(ctx, "cart fees: evaluated", nil)

	if fallbackLogs.Len() != 0 {
		t.Fatalf("expected fallback logger unused")
	}
	entries := requestLogs.AllUntimed()
	if len(entries) != 1 || entries[0].ContextMap()["request_id"] != "req-1" {
		t.Fatalf("expected entry on request logger, got %+v", entries)
	}
}

func TestNewLoggerWritesCloudLoggingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(WithLogLevel("warn"), WithLogOutput(zapcore.AddSync(&buf)))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("dropped below warn")
	logger.Warn("fee table stale", zap.Int("revision", 4))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one JSON entry, got %q: %v", buf.String(), err)
	}
	if entry["severity"] != "WARNING" || entry["message"] != "fee table stale" || entry["revision"] != float64(4) {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("expected a timestamp key in %v", entry)
	}
}
