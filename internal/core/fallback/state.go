// Package fallback tracks whether the process talks to the remote store or
// has degraded to the local durable cache. The switch is one-way: once
// fallback is entered it stays active until the process restarts.
package fallback

import "sync"

type State struct {
	mu      sync.RWMutex
	active  bool
	reason  string
	entered chan struct{}
}

func New() *State {
	return &State{entered: make(chan struct{})}
}

// Enter switches to fallback mode. Only the first reason is kept; the return
// value reports whether this call performed the transition.
func (s *State) Enter(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return false
	}
	s.active = true
	s.reason = reason
	close(s.entered)
	return true
}

func (s *State) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *State) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Entered is closed when fallback mode is entered.
func (s *State) Entered() <-chan struct{} {
	return s.entered
}
