package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("invalid_fees", "one or more fees are invalid", http.StatusUnprocessableEntity).
		WithFields(FieldError{Row: 2, Field: "price", Message: "must be greater than zero"}))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid_fees" || body["request_id"] != "req-1" || body["status"] != float64(422) {
		t.Fatalf("unexpected envelope %v", body)
	}
	fields, ok := body["fields"].([]any)
	if !ok || len(fields) != 1 {
		t.Fatalf("expected one field error, got %v", body["fields"])
	}
	if _, ok := body["trace_id"]; ok {
		t.Fatalf("trace_id should be omitted when unknown")
	}
}

func TestNewErrorDefaultsAndClipping(t *testing.T) {
	err := NewError("code\nwith\rbreaks", strings.Repeat("é", 400), 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected default 500, got %d", err.Status)
	}
	if err.Code != "code with breaks" {
		t.Fatalf("unexpected code %q", err.Code)
	}
	if len(err.Message) > maxMessageLength || !strings.HasSuffix(err.Message, "é") {
		t.Fatalf("message not clipped on a rune boundary: %d bytes", len(err.Message))
	}
}
