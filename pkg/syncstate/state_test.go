package syncstate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/billboard/errors"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateUninitialized, StateConnecting, true},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateError, true},
		{StateConnected, StateReconnecting, true},
		{StateReconnecting, StateConnected, true},
		{StateReconnecting, StateDisconnected, true},
		{StateDisconnected, StateConnected, false},
		{StateDisconnected, StateConnecting, true},
		{StateError, StateConnected, false},
		{StateUninitialized, StateConnected, false},
		{StateConnected, StateConnected, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTracker_Transition(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, StateUninitialized, tr.State())

	_, err := tr.Transition(StateConnecting, nil)
	require.NoError(t, err)

	now := time.Now()
	st, err := tr.Transition(StateConnected, func(s *ConnectionStatus) {
		s.LastConnected = &now
		s.ReconnectAttempts = 0
	})
	require.NoError(t, err)
	assert.True(t, st.Connected)
	require.NotNil(t, st.LastConnected)

	// the copy does not alias tracker state
	*st.LastConnected = time.Time{}
	assert.Equal(t, now, *tr.Snapshot().LastConnected)

	_, err = tr.Transition(StateUninitialized, nil)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
	assert.Equal(t, StateConnected, tr.State())
}

func TestTracker_UpdateKeepsState(t *testing.T) {
	tr := NewTracker()
	_, _ = tr.Transition(StateConnecting, nil)

	st := tr.Update(func(s *ConnectionStatus) { s.Error = "refused" })
	assert.Equal(t, StateConnecting, st.State)
	assert.Equal(t, "refused", st.Error)

	tr.Reset()
	assert.Equal(t, StateUninitialized, tr.State())
	assert.Empty(t, tr.Snapshot().Error)
}

func TestState_JSON(t *testing.T) {
	b, err := json.Marshal(ConnectionStatus{State: StateReconnecting})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"reconnecting"`)
	assert.Equal(t, "unknown", State(99).String())
}
