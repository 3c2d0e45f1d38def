package limits

import "sync"

// Concurrency tracks in-flight downloads per client IP. Keys are removed as
// soon as their count reaches zero so the map stays bounded by the number of
// IPs with an active download.
type Concurrency struct {
	mu     sync.Mutex
	max    int
	counts map[string]int
}

// NewConcurrency creates a tracker admitting max concurrent downloads per IP.
func NewConcurrency(max int) *Concurrency {
	return &Concurrency{
		max:    max,
		counts: make(map[string]int),
	}
}

// Increment takes a download slot for ip. It reports false, without taking a
// slot, when the IP is already at the ceiling.
func (c *Concurrency) Increment(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[ip] >= c.max {
		return false
	}
	c.counts[ip]++
	return true
}

// Decrement releases a slot for ip. It floors at zero; releasing an unknown
// key is a no-op.
func (c *Concurrency) Decrement(ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.counts[ip]
	if !ok {
		return
	}
	if n <= 1 {
		delete(c.counts, ip)
		return
	}
	c.counts[ip] = n - 1
}

// Count returns the number of in-flight downloads for ip.
func (c *Concurrency) Count(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[ip]
}
