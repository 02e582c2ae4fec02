// Package sequencer issues the global event sequence. Every committed
// settlement event gets one stamp, so the journal has a total order even
// though pools mutate independently.
package sequencer

import "sync/atomic"

// Sequencer hands out monotonically increasing sequence numbers starting
// at 1. Safe for concurrent use.
type Sequencer struct {
	seq atomic.Uint64
}

// New creates a sequencer at zero.
func New() *Sequencer {
	return &Sequencer{}
}

// Next allocates the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.seq.Add(1)
}

// Reserve allocates a contiguous block of n numbers and returns the first.
func (s *Sequencer) Reserve(n int) uint64 {
	if n <= 0 {
		return s.seq.Load()
	}
	end := s.seq.Add(uint64(n))
	return end - uint64(n) + 1
}

// Seed advances the sequencer past seq, used when replaying a journal. It
// never moves backwards.
func (s *Sequencer) Seed(seq uint64) {
	for {
		cur := s.seq.Load()
		if cur >= seq || s.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Current returns the last allocated sequence number.
func (s *Sequencer) Current() uint64 {
	return s.seq.Load()
}
