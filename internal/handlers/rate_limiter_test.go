package handlers

import (
	"testing"
	"time"
)

func TestToggleLimiterWindowsPerSession(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := newToggleLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("sess-a") || !limiter.Allow("sess-a") {
		t.Fatalf("expected first two toggles to pass")
	}
	if limiter.Allow("sess-a") {
		t.Fatalf("expected third toggle to be limited")
	}
	if !limiter.Allow("sess-b") {
		t.Fatalf("sessions must not share a window")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("sess-a") {
		t.Fatalf("expected window to reset")
	}
}

func TestToggleLimiterSweepsExpiredSessions(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := newToggleLimiter(1, time.Minute, func() time.Time { return now }).(*toggleLimiter)

	for _, session := range []string{"a", "b", "c"} {
		limiter.Allow(session)
	}
	now = now.Add(2 * time.Minute)
	limiter.Allow("d")

	if len(limiter.sessions) != 1 {
		t.Fatalf("expected expired sessions swept, have %d", len(limiter.sessions))
	}
}

func TestNewToggleLimiterDisabled(t *testing.T) {
	if newToggleLimiter(0, time.Minute, nil) != nil || newToggleLimiter(5, 0, nil) != nil {
		t.Fatalf("expected nil limiter for non-positive settings")
	}
}
