package poller

import "sync"

// Slot holds at most one live Poller, such as the job shown by one view.
// Installing a new poller stops the previous one before returning, so a
// slot never has two pollers running.
type Slot struct {
	mu  sync.Mutex
	cur *Poller
}

// Replace stops the current poller, if any, and installs p. p may be nil to
// return the slot to idle.
func (s *Slot) Replace(p *Poller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		s.cur.Stop()
	}
	s.cur = p
}

// Current returns the installed poller, or nil.
func (s *Slot) Current() *Poller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Clear stops and removes the current poller.
func (s *Slot) Clear() { s.Replace(nil) }
