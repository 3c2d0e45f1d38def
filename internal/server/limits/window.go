// Package limits contains the in-memory abuse trackers: per-key fixed-window
// request limiting, per-IP download concurrency, per-IP bandwidth budgets and
// the global stream ceiling. All state is best-effort and process-local; it
// resets on restart and is swept periodically to bound memory.
package limits

import (
	"sync"
	"time"
)

type windowEntry struct {
	count   int
	resetAt time.Time
}

// Window is a fixed-window request limiter keyed by an arbitrary string
// (typically the client IP). The first request in a window resets the counter
// to 1; later requests increment it and are admitted while count <= max.
type Window struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]*windowEntry
}

// NewWindow creates a limiter admitting max requests per window per key.
func NewWindow(window time.Duration, max int) *Window {
	return &Window{
		window:  window,
		max:     max,
		entries: make(map[string]*windowEntry),
	}
}

// Check records a request for key and reports whether it is admitted.
func (w *Window) Check(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	e, ok := w.entries[key]
	if !ok || now.After(e.resetAt) {
		w.entries[key] = &windowEntry{count: 1, resetAt: now.Add(w.window)}
		return true
	}

	e.count++
	return e.count <= w.max
}

// RetryAfter returns how long the key must wait for a fresh window.
// Zero means the key is not currently limited.
func (w *Window) RetryAfter(key string) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[key]
	if !ok || e.count <= w.max {
		return 0
	}
	d := time.Until(e.resetAt)
	if d < 0 {
		return 0
	}
	return d
}

// Sweep drops entries whose window has expired.
func (w *Window) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for key, e := range w.entries {
		if now.After(e.resetAt) {
			delete(w.entries, key)
		}
	}
}
