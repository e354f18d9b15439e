package tools

import (
	"fmt"
	"sync"
	"time"
)

// ToolRateLimiter is a sliding window limiter for tool executions, keyed by
// session id.
type ToolRateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	max     int
	window  time.Duration
}

// NewToolRateLimiter allows max executions per key within window.
// It returns nil (no limiting) when max <= 0. A zero window means one minute.
func NewToolRateLimiter(max int, window time.Duration) *ToolRateLimiter {
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ToolRateLimiter{
		windows: make(map[string][]time.Time),
		max:     max,
		window:  window,
	}
}

// Allow records an execution for key, or returns an error when the key is
// over its limit.
func (rl *ToolRateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entries := prune(rl.windows[key], now.Add(-rl.window))

	if len(entries) >= rl.max {
		rl.windows[key] = entries
		return fmt.Errorf("tool rate limit exceeded: %d calls per %s for session %s", rl.max, rl.window, key)
	}
	rl.windows[key] = append(entries, now)
	return nil
}

// Forget drops all state for key. Called when a session ends.
func (rl *ToolRateLimiter) Forget(key string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.windows, key)
}

// Cleanup removes entries older than the window.
func (rl *ToolRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.window)
	for key, entries := range rl.windows {
		if entries = prune(entries, cutoff); len(entries) == 0 {
			delete(rl.windows, key)
		} else {
			rl.windows[key] = entries
		}
	}
}

func prune(entries []time.Time, cutoff time.Time) []time.Time {
	start := 0
	for start < len(entries) && entries[start].Before(cutoff) {
		start++
	}
	return entries[start:]
}
