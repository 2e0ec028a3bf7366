package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// toggleLimiter caps fee toggles per cart session in fixed windows. Expired sessions are swept at
// most once per window so abandoned carts do not accumulate.
type toggleLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	sessions  map[string]*toggleWindow
	nextSweep time.Time
}

type toggleWindow struct {
	used    int
	resetAt time.Time
}

// newToggleLimiter returns nil, meaning unlimited, when limit or window is not positive.
func newToggleLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &toggleLimiter{
		limit:    limit,
		window:   window,
		clock:    clock,
		sessions: make(map[string]*toggleWindow),
	}
}

func (l *toggleLimiter) Allow(session string) bool {
	session = strings.TrimSpace(session)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !now.Before(l.nextSweep) {
		l.sweep(now)
	}

	w, ok := l.sessions[session]
	if !ok || !now.Before(w.resetAt) {
		l.sessions[session] = &toggleWindow{used: 1, resetAt: now.Add(l.window)}
		return true
	}
	if w.used >= l.limit {
		return false
	}
	w.used++
	return true
}

func (l *toggleLimiter) sweep(now time.Time) {
	for session, w := range l.sessions {
		if !now.Before(w.resetAt) {
			delete(l.sessions, session)
		}
	}
	l.nextSweep = now.Add(l.window)
}
