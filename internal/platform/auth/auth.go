// Package auth authenticates admin users with Firebase ID tokens and shop platform callbacks with HMAC signatures.
package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/simplecartfees/api/internal/platform/httpx"
)

// Roles recognised in Firebase custom claims.
const (
	RoleCustomer    = "customer"
	RoleShopManager = "shop_manager"
	RoleAdmin       = "admin"
)

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder records verification outcomes for observability.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

func respondAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
