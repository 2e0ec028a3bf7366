package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/simplecartfees/api/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxIDLength      = 80
	maxTraceLength   = 64
)

// FieldError points at one rejected input field. Row is the zero-based position for list payloads.
type FieldError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the JSON error envelope written by every handler.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Fields    []FieldError
}

type envelope struct {
	Error     string       `json:"error"`
	Message   string       `json:"message"`
	Status    int          `json:"status"`
	RequestID string       `json:"request_id,omitempty"`
	TraceID   string       `json:"trace_id,omitempty"`
	Fields    []FieldError `json:"fields,omitempty"`
}

// NewError builds an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clip(code, maxCodeLength),
		Message: clip(message, maxMessageLength),
		Status:  status,
	}
}

// WithRequestID overrides the request id otherwise taken from the chi middleware.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, maxIDLength)
	return e
}

// WithTraceID overrides the trace id otherwise taken from the request context.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, maxTraceLength)
	return e
}

// WithFields attaches per-field validation failures.
func (e Error) WithFields(fields ...FieldError) Error {
	if len(fields) == 0 {
		return e
	}
	out := make([]FieldError, 0, len(fields))
	for _, field := range fields {
		out = append(out, FieldError{
			Row:     field.Row,
			Field:   clip(field.Field, maxCodeLength),
			Message: clip(field.Message, maxMessageLength),
		})
	}
	e.Fields = out
	return e
}

// WriteError writes err as JSON, filling request and trace ids from ctx when unset.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	body := envelope{
		Error:     err.Code,
		Message:   err.Message,
		Status:    err.Status,
		RequestID: err.RequestID,
		TraceID:   err.TraceID,
		Fields:    err.Fields,
	}
	if body.Status == 0 {
		body.Status = http.StatusInternalServerError
	}
	if body.RequestID == "" {
		body.RequestID = clip(middleware.GetReqID(ctx), maxIDLength)
	}
	if body.TraceID == "" {
		body.TraceID = clip(requestctx.TraceID(ctx), maxTraceLength)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(body.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// clip strips control characters and bounds the value to limit bytes.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value))
	if len(value) <= limit {
		return value
	}
	value = value[:limit]
	for len(value) > 0 && !utf8.ValidString(value) {
		value = value[:len(value)-1]
	}
	return value
}
