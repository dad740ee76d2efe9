// Package security holds the per-client request limiter used by the HTTP
// server.
package security

import (
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter keyed by client.
type RateLimiter struct {
	mu              sync.Mutex
	requests        map[string][]time.Time
	maxRequests     int
	windowSize      time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	stop            chan struct{}
	stopOnce        sync.Once
}

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	MaxRequests     int           // Maximum number of requests allowed
	WindowSize      time.Duration // Time window for rate limiting
	CleanupInterval time.Duration // How often to clean up old entries
}

// DefaultRateLimitConfig returns default rate limiting configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxRequests:     60,
		WindowSize:      time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// NewRateLimiter creates a limiter and starts its cleanup goroutine. Call
// Stop to end it.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if config.MaxRequests <= 0 {
		config.MaxRequests = def.MaxRequests
	}
	if config.WindowSize <= 0 {
		config.WindowSize = def.WindowSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}

	rl := &RateLimiter{
		requests:        make(map[string][]time.Time),
		maxRequests:     config.MaxRequests,
		windowSize:      config.WindowSize,
		cleanupInterval: config.CleanupInterval,
		now:             time.Now,
		stop:            make(chan struct{}),
	}

	go rl.cleanupRoutine()

	return rl
}

// Allow records a request for key and reports whether it fits in the window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	valid := rl.prune(key, now)

	if len(valid) < rl.maxRequests {
		rl.requests[key] = append(valid, now)
		return true
	}

	rl.requests[key] = valid
	return false
}

// RetryAfter returns the time until key may send again. Zero means now.
func (rl *RateLimiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.retryAfterLocked(key, rl.now())
}

func (rl *RateLimiter) retryAfterLocked(key string, now time.Time) time.Duration {
	valid := rl.prune(key, now)
	if len(valid) < rl.maxRequests {
		return 0
	}
	// valid is chronological; the oldest entry leaves the window first.
	remaining := rl.windowSize - now.Sub(valid[0])
	if remaining < 0 {
		return 0
	}
	return remaining
}

// prune drops timestamps outside the window. Callers hold mu.
func (rl *RateLimiter) prune(key string, now time.Time) []time.Time {
	requests := rl.requests[key]
	cutoff := now.Add(-rl.windowSize)
	i := 0
	for i < len(requests) && !requests[i].After(cutoff) {
		i++
	}
	return requests[i:]
}

func (rl *RateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.performCleanup()
		case <-rl.stop:
			return
		}
	}
}

// performCleanup removes keys with no requests left in the window.
func (rl *RateLimiter) performCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key := range rl.requests {
		if valid := rl.prune(key, now); len(valid) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = valid
		}
	}
}

// TotalKeys returns the number of clients with requests in the window.
func (rl *RateLimiter) TotalKeys() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.requests)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
