package sequence

import "sync/atomic"

// Sequencer hands out the global event offsets. Offsets start at 1;
// zero means "nothing committed".
type Sequencer struct {
	last atomic.Uint64
}

// New creates a sequencer whose next offset is start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// Next reserves the next offset.
func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued offset.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset positions the sequencer after recovery. It must not be called
// while events are being committed.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}
