package mqtt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/pkg/clock"
	"github.com/c360/billboard/pkg/syncstate"
	"github.com/c360/billboard/testutil"
)

type received struct {
	mu       sync.Mutex
	messages []string
	statuses []syncstate.ConnectionStatus
}

func (r *received) onMessage(topic string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, topic+"="+string(payload))
}

func (r *received) onStatus(st syncstate.ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *received) states() []syncstate.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]syncstate.State, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s.State)
	}
	return out
}

func newTestTransport(t *testing.T, auth string) (*Transport, *testutil.FakeMQTTFactory, *received) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AuthToken = auth
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.MaxReconnectAttempts = 2

	factory := &testutil.FakeMQTTFactory{}
	rec := &received{}
	tr := NewTransport(cfg, rec.onMessage,
		WithClientFactory(factory.New),
		WithClock(clock.NewFake(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))),
		WithStatusHandler(rec.onStatus),
	)
	return tr, factory, rec
}

func TestTransport_ConnectSubscribesAndDelivers(t *testing.T) {
	tr, factory, rec := newTestTransport(t, "Token ABC")

	require.NoError(t, tr.Connect(context.Background()))

	client := factory.Last()
	require.NotNil(t, client)
	assert.Equal(t, "ABC", client.Options().Username)
	assert.Equal(t, "ABC", client.Options().Password)
	assert.Contains(t, client.Subscriptions(), "eoh/chip/ABC/config/+")

	st := tr.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, syncstate.StateConnected, st.State)
	require.NotNil(t, st.LastConnected)
	assert.Equal(t, 0, st.ReconnectAttempts)

	assert.True(t, client.Deliver("eoh/chip/ABC/config/138997", []byte(`{"v1":"23.5+"}`)))
	rec.mu.Lock()
	assert.Equal(t, []string{`eoh/chip/ABC/config/138997={"v1":"23.5+"}`}, rec.messages)
	rec.mu.Unlock()
	assert.NotNil(t, tr.Status().LastMessage)

	assert.Equal(t, []syncstate.State{syncstate.StateConnecting, syncstate.StateConnected}, rec.states())
}

func TestTransport_ConnectIsIdempotent(t *testing.T) {
	tr, factory, _ := newTestTransport(t, "Token ABC")

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))

	assert.Equal(t, 1, factory.Count())
	assert.Equal(t, 1, factory.Last().ConnectCalls)
}

func TestTransport_InvalidTokenNeverDials(t *testing.T) {
	for _, auth := range []string{"", "abc", "Token YOUR_TOKEN"} {
		t.Run(fmt.Sprintf("auth=%q", auth), func(t *testing.T) {
			tr, factory, rec := newTestTransport(t, auth)

			err := tr.Connect(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsConfigError(err))
			assert.Equal(t, 0, factory.Count())

			st := tr.Status()
			assert.Equal(t, syncstate.StateError, st.State)
			assert.False(t, st.Connected)
			assert.NotEmpty(t, st.Error)
			assert.Equal(t, []syncstate.State{syncstate.StateConnecting, syncstate.StateError}, rec.states())
		})
	}
}

func TestTransport_ConnectFailure(t *testing.T) {
	tr, factory, _ := newTestTransport(t, "Token ABC")
	factory.ConnectErr = fmt.Errorf("not authorized")

	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	st := tr.Status()
	assert.Equal(t, syncstate.StateDisconnected, st.State)
	assert.Contains(t, st.Error, "not authorized")
	assert.Equal(t, 1, factory.Last().DisconnectCalls)

	// The failed session is abandoned, so a retry builds a fresh client
	factory.ConnectErr = nil
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, 2, factory.Count())
	assert.True(t, tr.Status().Connected)
}

func TestTransport_ConnectTimeout(t *testing.T) {
	tr, factory, _ := newTestTransport(t, "Token ABC")
	factory.HoldConnect = true

	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
	assert.Equal(t, syncstate.StateDisconnected, tr.Status().State)
}

func TestTransport_ConnectCancelled(t *testing.T) {
	tr, factory, _ := newTestTransport(t, "Token ABC")
	factory.HoldConnect = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Connect(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransport_ConnectionLostAndRecovered(t *testing.T) {
	tr, factory, rec := newTestTransport(t, "Token ABC")
	require.NoError(t, tr.Connect(context.Background()))
	client := factory.Last()

	client.LoseConnection(fmt.Errorf("EOF"))
	st := tr.Status()
	assert.Equal(t, syncstate.StateReconnecting, st.State)
	assert.False(t, st.Connected)
	assert.Contains(t, st.Error, "EOF")

	client.Reconnecting()
	assert.Equal(t, 1, tr.Status().ReconnectAttempts)

	client.Reconnect()
	st = tr.Status()
	assert.True(t, st.Connected)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Empty(t, st.Error)

	assert.Equal(t, []syncstate.State{
		syncstate.StateConnecting,
		syncstate.StateConnected,
		syncstate.StateReconnecting,
		syncstate.StateReconnecting,
		syncstate.StateConnected,
	}, rec.states())
}

func TestTransport_ReconnectsExhausted(t *testing.T) {
	tr, factory, _ := newTestTransport(t, "Token ABC")
	require.NoError(t, tr.Connect(context.Background()))
	client := factory.Last()

	client.LoseConnection(fmt.Errorf("EOF"))
	client.Reconnecting()
	client.Reconnecting()
	client.Reconnecting()

	require.Eventually(t, func() bool {
		return tr.Status().State == syncstate.StateError
	}, time.Second, 5*time.Millisecond)

	st := tr.Status()
	assert.False(t, st.Connected)
	assert.Contains(t, st.Error, errors.ErrReconnectsExhausted.Error())
	assert.Equal(t, 1, client.DisconnectCalls)

	// Events from the abandoned client are ignored
	client.Reconnect()
	assert.Equal(t, syncstate.StateError, tr.Status().State)
}

func TestTransport_DisconnectIsSafeToRepeat(t *testing.T) {
	tr, factory, _ := newTestTransport(t, "Token ABC")

	tr.Disconnect()
	assert.Equal(t, 0, factory.Count())

	require.NoError(t, tr.Connect(context.Background()))
	client := factory.Last()

	tr.Disconnect()
	tr.Disconnect()
	assert.Equal(t, 1, client.DisconnectCalls)

	st := tr.Status()
	assert.False(t, st.Connected)
	assert.Equal(t, syncstate.StateDisconnected, st.State)

	assert.False(t, client.IsConnected())
}

func TestTransport_IgnoresMessagesAfterDisconnect(t *testing.T) {
	tr, factory, rec := newTestTransport(t, "Token ABC")
	require.NoError(t, tr.Connect(context.Background()))
	client := factory.Last()
	tr.Disconnect()

	client.Deliver("eoh/chip/ABC/config/1", []byte("1"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.messages)
}

func TestTransport_SubscribeFailureRecorded(t *testing.T) {
	tr, factory, _ := newTestTransport(t, "Token ABC")
	factory.SubscribeErr = fmt.Errorf("denied")

	require.NoError(t, tr.Connect(context.Background()))
	st := tr.Status()
	assert.True(t, st.Connected)
	assert.Contains(t, st.Error, "denied")
}
