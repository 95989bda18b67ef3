// Package syncstate holds the lifecycle state machine and connection status
// shared by every synchronization service.
package syncstate

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/c360/billboard/errors"
)

// State is the lifecycle position of a service
type State int

// Lifecycle states
const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnected
	StateError
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its name
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// allowed lists the legal transitions. Disconnected and Error only leave via
// an explicit re-initialization, which goes back through Connecting.
var allowed = map[State][]State{
	StateUninitialized: {StateConnecting, StateDisconnected},
	StateConnecting:    {StateConnected, StateError, StateDisconnected, StateReconnecting},
	StateConnected:     {StateReconnecting, StateDisconnected, StateError},
	StateReconnecting:  {StateConnected, StateDisconnected, StateError},
	StateDisconnected:  {StateConnecting},
	StateError:         {StateConnecting, StateDisconnected},
}

// CanTransition reports whether from -> to is legal. Staying in the same
// state is always legal.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ConnectionStatus describes the transport behind a service. Consumers only
// ever receive copies.
type ConnectionStatus struct {
	State             State      `json:"state"`
	Connected         bool       `json:"connected"`
	LastConnected     *time.Time `json:"last_connected,omitempty"`
	LastMessage       *time.Time `json:"last_message,omitempty"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
	Error             string     `json:"error,omitempty"`
}

// Clone returns a deep copy
func (c ConnectionStatus) Clone() ConnectionStatus {
	out := c
	if c.LastConnected != nil {
		t := *c.LastConnected
		out.LastConnected = &t
	}
	if c.LastMessage != nil {
		t := *c.LastMessage
		out.LastMessage = &t
	}
	return out
}

// Tracker owns one ConnectionStatus and enforces the state machine
type Tracker struct {
	mu     sync.RWMutex
	status ConnectionStatus
}

// NewTracker creates a tracker in StateUninitialized
func NewTracker() *Tracker {
	return &Tracker{}
}

// Snapshot returns a copy of the current status
func (t *Tracker) Snapshot() ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Clone()
}

// State returns the current state
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.State
}

// Transition moves to the given state, applies mutate under the lock and
// returns the resulting copy. Illegal transitions leave the status untouched
// and return ErrInvalidTransition.
func (t *Tracker) Transition(to State, mutate func(*ConnectionStatus)) (ConnectionStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.status.State
	if !CanTransition(from, to) {
		return t.status.Clone(), errors.WrapInvalid(
			fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, from, to),
			"Tracker", "Transition", "change state")
	}

	t.status.State = to
	t.status.Connected = to == StateConnected
	if mutate != nil {
		mutate(&t.status)
	}
	return t.status.Clone(), nil
}

// Update mutates the status without changing state
func (t *Tracker) Update(mutate func(*ConnectionStatus)) ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mutate != nil {
		mutate(&t.status)
	}
	return t.status.Clone()
}

// Reset returns the tracker to a fresh Uninitialized status
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = ConnectionStatus{}
}
