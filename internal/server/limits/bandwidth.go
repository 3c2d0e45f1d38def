package limits

import (
	"sync"
	"time"
)

type bandwidthEntry struct {
	bytes   int64
	resetAt time.Time
}

// Bandwidth tracks bytes served per client IP in a fixed window. It follows
// the same window semantics as Window but accumulates byte counts instead of
// request counts.
type Bandwidth struct {
	mu       sync.Mutex
	window   time.Duration
	maxBytes int64
	entries  map[string]*bandwidthEntry
}

// NewBandwidth creates a tracker admitting maxBytes per window per IP.
func NewBandwidth(window time.Duration, maxBytes int64) *Bandwidth {
	return &Bandwidth{
		window:   window,
		maxBytes: maxBytes,
		entries:  make(map[string]*bandwidthEntry),
	}
}

// CheckAndIncrement charges bytes against the IP's current window and reports
// whether the accumulated total is still within budget.
func (b *Bandwidth) CheckAndIncrement(ip string, bytes int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	e, ok := b.entries[ip]
	if !ok || now.After(e.resetAt) {
		b.entries[ip] = &bandwidthEntry{bytes: bytes, resetAt: now.Add(b.window)}
		return bytes <= b.maxBytes
	}

	e.bytes += bytes
	return e.bytes <= b.maxBytes
}

// RetryAfter returns how long the IP must wait for a fresh window.
func (b *Bandwidth) RetryAfter(ip string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[ip]
	if !ok || e.bytes <= b.maxBytes {
		return 0
	}
	d := time.Until(e.resetAt)
	if d < 0 {
		return 0
	}
	return d
}

// Sweep drops entries whose window has expired.
func (b *Bandwidth) Sweep() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for ip, e := range b.entries {
		if now.After(e.resetAt) {
			delete(b.entries, ip)
		}
	}
}
