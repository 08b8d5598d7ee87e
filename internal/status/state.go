// Package status tracks the transport connection state machine.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ffigueiredo/paperboy/internal/bus"
)

// State represents a connection lifecycle state.
type State string

const (
	// Disconnected is the initial state and the state after any session close.
	Disconnected State = "DISCONNECTED"
	// Pairing covers the whole bring-up phase: dialing, handshake and, when
	// no credentials are stored yet, the QR challenge exchange.
	Pairing State = "PAIRING"
	// Open means the session is live and sends are accepted.
	Open State = "OPEN"
	// Closing is entered on process shutdown and never left.
	Closing State = "CLOSING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected: {Pairing, Closing},
	Pairing:      {Open, Disconnected, Closing},
	Open:         {Disconnected, Closing},
	Closing:      {},
}

// Machine tracks and enforces connection state transitions. Exactly one
// instance exists per process, owned by the connection manager.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.state",
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StateChange is the payload for session.state events.
type StateChange struct {
	From State
	To   State
}
