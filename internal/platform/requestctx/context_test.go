package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerBinding(t *testing.T) {
	//nolint:staticcheck
	for _, ctx := range []context.Context{nil, context.Background(), WithLogger(context.Background(), nil)} {
		if Logger(ctx) != noopLogger {
			t.Fatalf("expected the no-op logger")
		}
	}
	logger := zap.NewExample()
	if got := Logger(WithLogger(context.Background(), logger)); got != logger {
		t.Fatalf("expected the bound logger")
	}
}

func TestValuesDoNotCollide(t *testing.T) {
	ctx := WithSession(WithTrace(context.Background(), TraceInfo{TraceID: "abc", Sampled: true}), "sess-1")
	ctx = context.WithValue(ctx, "cartfees/requestctx/session", "other")

	if TraceID(ctx) != "abc" || Session(ctx) != "sess-1" {
		t.Fatalf("trace=%q session=%q", TraceID(ctx), Session(ctx))
	}
	if info, ok := Trace(ctx); !ok || !info.Sampled {
		t.Fatalf("expected sampled trace info, got %+v", info)
	}
	if Session(context.Background()) != "" || TraceID(nil) != "" { //nolint:staticcheck
		t.Fatalf("expected empty values without bindings")
	}
}
