package session

import "sync"

// Sequencer assigns per-message chunk sequence numbers. Counters live only
// in memory and are never recovered from the log: a messageID must never be
// resumed across process restarts (writers mint fresh ids instead), which is
// what keeps restart-time seq 0 from colliding with persisted chunks.
type Sequencer struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{counters: make(map[string]int)}
}

// NextSeq returns the next sequence number for a message, starting at 0.
func (s *Sequencer) NextSeq(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.counters[messageID]
	if !ok {
		s.counters[messageID] = 1
		return 0
	}
	s.counters[messageID] = seq + 1
	return seq
}

// ClearSeq drops the counter for a message whose logical lifecycle has
// ended. A later NextSeq for the same id restarts at 0.
func (s *Sequencer) ClearSeq(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, messageID)
}
