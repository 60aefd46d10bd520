// Package lifecycle tracks the state of long lived objects, such as a
// session, with an explicit table of permitted transitions.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when a move is not in the table.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// State is a comparable, printable state value.
type State interface {
	comparable
	fmt.Stringer
}

// Edge is one permitted move between two states.
type Edge[S State] struct {
	From S
	To   S
	Name string
}

type edgeKey[S State] struct {
	from, to S
}

// Machine holds the current state and the table of permitted moves.
// It is safe for concurrent use.
type Machine[S State] struct {
	mu      sync.RWMutex
	current S

	edges    map[edgeKey[S]]string
	observer func(from, to S, name string)
}

// New returns a machine in state initial. observer, if not nil, is called
// after every successful move while the machine is locked, so it must not
// call back into the machine.
func New[S State](initial S, edges []Edge[S], observer func(from, to S, name string)) *Machine[S] {
	m := &Machine[S]{
		current:  initial,
		edges:    make(map[edgeKey[S]]string, len(edges)),
		observer: observer,
	}
	for _, e := range edges {
		m.edges[edgeKey[S]{from: e.From, to: e.To}] = e.Name
	}
	return m
}

// Current returns the current state.
func (m *Machine[S]) Current() S {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// In reports whether the current state is one of states.
func (m *Machine[S]) In(states ...S) bool {
	c := m.Current()
	for _, s := range states {
		if c == s {
			return true
		}
	}
	return false
}

// Can reports whether a move to the given state is permitted now.
func (m *Machine[S]) Can(to S) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.edges[edgeKey[S]{from: m.current, to: to}]
	return ok
}

// Move changes the state to "to" or fails with ErrInvalidTransition.
func (m *Machine[S]) Move(to S) error {
	_, err := m.MoveFrom(to)
	return err
}

// MoveFrom changes the state to "to" and returns the state it left.
// On failure the returned state is the unchanged current state.
func (m *Machine[S]) MoveFrom(to S) (S, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.current
	name, ok := m.edges[edgeKey[S]{from: from, to: to}]
	if !ok {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.current = to
	if m.observer != nil {
		m.observer(from, to, name)
	}
	return from, nil
}
