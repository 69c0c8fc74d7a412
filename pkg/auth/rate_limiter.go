package auth

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowLimiter implements sliding window rate limiting, keyed by an
// arbitrary string (client IP or user id).
type SlidingWindowLimiter struct {
	mu         sync.Mutex
	windows    map[string][]time.Time
	limit      int
	windowSize time.Duration
}

// NewSlidingWindowLimiter creates a limiter allowing limit requests per
// window.
func NewSlidingWindowLimiter(limit int, windowSize time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		windows:    make(map[string][]time.Time),
		limit:      limit,
		windowSize: windowSize,
	}
}

// Allow checks if a request is allowed and records it when it is.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-l.windowSize)

	valid := l.windows[key][:0]
	for _, reqTime := range l.windows[key] {
		if reqTime.After(windowStart) {
			valid = append(valid, reqTime)
		}
	}
	if len(valid) >= l.limit {
		l.windows[key] = valid
		return false
	}
	l.windows[key] = append(valid, now)
	return true
}

// Reset clears the window for a key.
func (l *SlidingWindowLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}
