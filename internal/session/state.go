package session

import (
	"fmt"
	"slices"
	"sync"
)

// State is the lifecycle state of one connection.
type State string

const (
	Connecting State = "connecting"
	Active     State = "active"
	Closing    State = "closing"
	Closed     State = "closed"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Connecting: {Active, Closing},
	Active:     {Closing},
	Closing:    {Closed},
	Closed:     {},
}

// machine tracks and enforces session state transitions.
type machine struct {
	mu       sync.RWMutex
	current  State
	onChange func(from, to State)
}

func newMachine(onChange func(from, to State)) *machine {
	return &machine{current: Connecting, onChange: onChange}
}

func (m *machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *machine) Transition(to State) error {
	m.mu.Lock()
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
