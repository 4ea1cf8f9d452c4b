package feed

import (
	"fmt"
	"sync"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

// allowed lists the legal moves between connection states.
var allowed = map[domain.ConnState][]domain.ConnState{
	domain.StateConnecting:   {domain.StateConnected, domain.StateError, domain.StateDisconnected},
	domain.StateConnected:    {domain.StateDisconnected, domain.StateError},
	domain.StateDisconnected: {domain.StateConnecting},
	domain.StateError:        {domain.StateConnecting, domain.StateDisconnected},
}

// StateObserver is notified after every state change.
type StateObserver func(domain.StateChange)

// StateMachine tracks the connection state of a feed. Only the feed that
// owns it moves it; everything else observes.
type StateMachine struct {
	mu        sync.RWMutex
	state     domain.ConnState
	observers []StateObserver
}

// NewStateMachine starts in the disconnected state.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: domain.StateDisconnected}
}

// State returns the current state.
func (m *StateMachine) State() domain.ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Observe registers fn for future changes.
func (m *StateMachine) Observe(fn StateObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Transition moves to next. Moving to the current state is a no-op. Observers
// run synchronously on the caller's goroutine, outside the lock.
func (m *StateMachine) Transition(next domain.ConnState, reason string) error {
	m.mu.Lock()
	prev := m.state
	if prev == next {
		m.mu.Unlock()
		return nil
	}
	if !canMove(prev, next) {
		m.mu.Unlock()
		return fmt.Errorf("feed: %s -> %s: %w", prev, next, domain.ErrInvalidTransition)
	}
	m.state = next
	observers := m.observers
	m.mu.Unlock()

	change := domain.StateChange{From: prev, To: next, Reason: reason}
	for _, fn := range observers {
		fn(change)
	}
	return nil
}

func canMove(from, to domain.ConnState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
