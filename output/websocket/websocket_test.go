package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/billboard/events"
	"github.com/c360/billboard/metric"
	"github.com/c360/billboard/pkg/refresh"
)

func newTestHub(t *testing.T, opts ...Option) (*Hub, *httptest.Server) {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	hub := NewHub(Config{}, opts...)
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Stop(ctx)
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *gws.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestHub_ReplaysLastEnvelopePerSubject(t *testing.T) {
	hub, srv := newTestHub(t)
	ctx := context.Background()

	require.NoError(t, hub.Publish(ctx, "billboard.snapshot.weather", []byte(`{"n":1}`)))
	require.NoError(t, hub.Publish(ctx, "billboard.snapshot.iot", []byte(`{"n":2}`)))
	require.NoError(t, hub.Publish(ctx, "billboard.snapshot.weather", []byte(`{"n":3}`)))

	conn := dial(t, srv)
	assert.Equal(t, `{"n":3}`, read(t, conn), "subjects replay in first-seen order with their latest value")
	assert.Equal(t, `{"n":2}`, read(t, conn))
}

func TestHub_BroadcastsToEveryClient(t *testing.T) {
	m := metric.NewMetrics()
	hub, srv := newTestHub(t, WithMetrics(m))

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.WebSocketClients))

	require.NoError(t, hub.Publish(context.Background(), "s", []byte(`hello`)))
	assert.Equal(t, "hello", read(t, a))
	assert.Equal(t, "hello", read(t, b))
	assert.Equal(t, int64(1), hub.Published())

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebSocketClients))
}

func TestHub_AttachedToBus(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	bus := events.NewBus(nil, hub)
	require.NoError(t, bus.DataUpdate(context.Background(), "weather", map[string]float64{"temperature": 31}))

	var env events.Envelope
	require.NoError(t, json.Unmarshal([]byte(read(t, conn)), &env))
	assert.Equal(t, events.TypeDataUpdate, env.Type)
	assert.Equal(t, "weather", env.Domain)
	assert.JSONEq(t, `{"temperature":31}`, string(env.Payload))
}

func TestHub_RefreshRequest(t *testing.T) {
	var (
		mu    sync.Mutex
		asked []string
	)
	_, srv := newTestHub(t, WithRefreshHandler(func(_ context.Context, domain string) (refresh.Decision, error) {
		mu.Lock()
		asked = append(asked, domain)
		mu.Unlock()
		if domain == "nope" {
			return refresh.Decision{}, errors.New("unknown service")
		}
		return refresh.Decision{Fetch: true, Feedback: true, Reason: refresh.ReasonStale}, nil
	}))
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "refresh", ID: "r1", Domain: "weather"}))
	var res RefreshResult
	require.NoError(t, json.Unmarshal([]byte(read(t, conn)), &res))
	assert.Equal(t, "refresh-result", res.Type)
	assert.Equal(t, "r1", res.ID)
	assert.True(t, res.Decision.Fetch)
	assert.Equal(t, refresh.ReasonStale, res.Decision.Reason)
	assert.Empty(t, res.Error)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "refresh", ID: "r2", Domain: "nope"}))
	require.NoError(t, json.Unmarshal([]byte(read(t, conn)), &res))
	assert.Equal(t, "unknown service", res.Error)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"weather", "nope"}, asked)
}

func TestHub_IgnoresGarbage(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "mystery"}))

	require.NoError(t, hub.Publish(context.Background(), "s", []byte(`still here`)))
	assert.Equal(t, "still here", read(t, conn))
}

func TestHub_Stop(t *testing.T) {
	hub, srv := newTestHub(t)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, hub.Health().Healthy)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Stop(ctx))
	require.NoError(t, hub.Stop(ctx), "stop is idempotent")

	assert.Equal(t, 0, hub.ClientCount())
	assert.False(t, hub.Health().Healthy)
	assert.Error(t, hub.Publish(context.Background(), "s", []byte(`x`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, gws.IsCloseError(err, gws.CloseGoingAway), "got %v", err)
}
