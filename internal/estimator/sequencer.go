package estimator

import (
	"sync"

	"github.com/alanyoungcy/bookcost/internal/metrics"
)

// Sequencer implements last-request-wins. Every computation takes a sequence
// number from Begin; Commit applies a result only if no newer computation has
// been issued since.
type Sequencer struct {
	mu     sync.Mutex
	issued uint64
}

// Begin issues the next sequence number.
func (s *Sequencer) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Latest returns the newest issued sequence number.
func (s *Sequencer) Latest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}

// Commit runs apply under the sequencer lock when seq is still the latest and
// reports whether it did. Stale results are counted and dropped.
func (s *Sequencer) Commit(seq uint64, apply func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.issued {
		metrics.StaleResultsTotal.Inc()
		return false
	}
	apply()
	return true
}
