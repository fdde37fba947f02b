package search

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrSessionExhausted is returned by Next once every match has been
// served.
var ErrSessionExhausted = errors.New("search: session exhausted")

// Session serves one client's REQ_SEARCH_START/REQ_SEARCH_NEXT/
// REQ_SEARCH_STOP sequence (spec §6) over a result set Executor.Execute
// already computed and sorted. cmd/daemon's HTTP search does not use
// Session; it returns the full result set in one response.
type Session struct {
	mu      sync.Mutex
	matches []Match
	next    int
	seq     uint64
}

// NewSession wraps an already-computed, sorted result set for pagination.
func NewSession(matches []Match) *Session {
	return &Session{matches: matches}
}

// Next returns the next match and its RESP_SEARCH_ITEM sequence number, or
// ErrSessionExhausted once every match has been served.
func (s *Session) Next() (Match, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.matches) {
		return Match{}, 0, ErrSessionExhausted
	}
	m := s.matches[s.next]
	s.next++
	s.seq++
	return m, s.seq, nil
}

// Remaining reports how many matches have not yet been served.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matches) - s.next
}
