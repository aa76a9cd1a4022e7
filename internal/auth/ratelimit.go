package auth

import (
	"sync"
	"time"
)

// RateLimiter blocks an IP after MaxFailures failed attempts within Window.
type RateLimiter struct {
	MaxFailures int
	Window      time.Duration

	now      func() time.Time
	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewRateLimiter creates a limiter; 5 failures in 30s when given zero values.
func NewRateLimiter(maxFailures int, window time.Duration) *RateLimiter {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if window <= 0 {
		window = 30 * time.Second
	}
	return &RateLimiter{
		MaxFailures: maxFailures,
		Window:      window,
		now:         time.Now,
		failures:    make(map[string][]time.Time),
	}
}

// Blocked reports whether ip has exhausted its attempts. Expired failures are
// pruned on the way.
func (l *RateLimiter) Blocked(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(ip)
	return len(recent) >= l.MaxFailures
}

// RecordFailure notes a failed attempt by ip.
func (l *RateLimiter) RecordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[ip] = append(l.prune(ip), l.now())
}

// Reset forgets ip after a successful attempt.
func (l *RateLimiter) Reset(ip string) {
	l.mu.Lock()
	delete(l.failures, ip)
	l.mu.Unlock()
}

// prune drops failures older than the window. Caller holds mu.
func (l *RateLimiter) prune(ip string) []time.Time {
	entries, ok := l.failures[ip]
	if !ok {
		return nil
	}
	cutoff := l.now().Add(-l.Window)
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, ip)
		return nil
	}
	l.failures[ip] = kept
	return kept
}
