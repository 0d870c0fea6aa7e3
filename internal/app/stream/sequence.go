package stream

import "sync"

// IDSource hands out streamer ids.
type IDSource interface {
	Next() int
}

// Sequence is a monotonically increasing id source.
type Sequence struct {
	mu   sync.Mutex
	next int
}

// NewSequence creates a sequence whose first id is start.
func NewSequence(start int) *Sequence {
	return &Sequence{next: start}
}

// Next returns the next id and increments the counter.
func (s *Sequence) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	return id
}
