package limits

import "sync"

// Streams is the process-wide counter of currently open file streams.
type Streams struct {
	mu     sync.Mutex
	max    int
	active int
}

// NewStreams creates a tracker with the given global ceiling.
func NewStreams(max int) *Streams {
	return &Streams{max: max}
}

// Acquire takes a stream slot, reporting false when the ceiling is reached.
func (s *Streams) Acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active >= s.max {
		return false
	}
	s.active++
	return true
}

// Release returns a stream slot. Floors at zero.
func (s *Streams) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active > 0 {
		s.active--
	}
}

// Active returns the number of currently open streams.
func (s *Streams) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
