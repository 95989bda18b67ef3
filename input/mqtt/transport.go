// Package mqtt provides the MQTT transport used by the IoT service: one paho
// session per transport, authenticated with the gateway token, subscribed to
// the token-scoped wildcard topics, delivering raw (topic, payload) pairs.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/metric"
	"github.com/c360/billboard/pkg/clock"
	"github.com/c360/billboard/pkg/syncstate"
)

// ClientFactory builds the underlying paho client. Tests substitute a fake.
type ClientFactory func(opts *paho.ClientOptions) paho.Client

// MessageHandler receives every inbound message
type MessageHandler func(topic string, payload []byte)

// StatusHandler receives a copy of the connection status after every change
type StatusHandler func(status syncstate.ConnectionStatus)

// Option configures a Transport
type Option func(*Transport)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClientFactory replaces paho.NewClient
func WithClientFactory(f ClientFactory) Option {
	return func(t *Transport) {
		if f != nil {
			t.factory = f
		}
	}
}

// WithClock sets the clock used for status timestamps
func WithClock(c clock.Clock) Option {
	return func(t *Transport) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithMetrics records connection metrics under the given service label
func WithMetrics(m *metric.Metrics, service string) Option {
	return func(t *Transport) {
		t.metrics = m
		t.service = service
	}
}

// WithStatusHandler registers the status callback
func WithStatusHandler(h StatusHandler) Option {
	return func(t *Transport) {
		t.onStatus = h
	}
}

// Transport owns a single MQTT session
type Transport struct {
	cfg       Config
	logger    *slog.Logger
	factory   ClientFactory
	clock     clock.Clock
	metrics   *metric.Metrics
	service   string
	onMessage MessageHandler
	onStatus  StatusHandler

	tracker *syncstate.Tracker

	mu     sync.Mutex
	client paho.Client
	token  string
}

// NewTransport creates a transport. Nothing touches the network until Connect.
func NewTransport(cfg Config, onMessage MessageHandler, opts ...Option) *Transport {
	defaults := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaults.KeepAlive
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = defaults.ClientIDPrefix
	}

	t := &Transport{
		cfg:       cfg,
		logger:    slog.Default(),
		factory:   paho.NewClient,
		clock:     clock.Real(),
		service:   "iot",
		onMessage: onMessage,
		tracker:   syncstate.NewTracker(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "mqtt-transport")
	return t
}

// Status returns a copy of the connection status
func (t *Transport) Status() syncstate.ConnectionStatus {
	return t.tracker.Snapshot()
}

// Topics returns the concrete topics subscribed after connect
func (t *Transport) Topics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return expandTopics(t.cfg.Topics, t.token)
}

func (t *Transport) current() paho.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

// Connect opens the session. It is idempotent: when a session handle already
// exists it logs a warning and returns nil. Config errors move the transport to
// StateError before any network attempt. A failed dial leaves the transport
// Disconnected with the error recorded; the caller decides whether to retry.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.client != nil {
		t.mu.Unlock()
		t.logger.Warn("Connect called with an existing session, ignoring")
		return nil
	}

	gatewayToken, err := ParseGatewayToken(t.cfg.AuthToken)
	if err != nil {
		t.mu.Unlock()
		t.setState(syncstate.StateConnecting, nil)
		t.setState(syncstate.StateError, func(s *syncstate.ConnectionStatus) {
			s.Error = err.Error()
		})
		return err
	}
	t.token = gatewayToken

	opts := paho.NewClientOptions().
		AddBroker(brokerURL(t.cfg.BrokerURL)).
		SetClientID(fmt.Sprintf("%s-%s", t.cfg.ClientIDPrefix, uuid.NewString()[:8])).
		SetUsername(gatewayToken).
		SetPassword(gatewayToken).
		SetCleanSession(true).
		SetKeepAlive(t.cfg.KeepAlive).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(30 * time.Second).
		SetOnConnectHandler(t.handleConnect).
		SetConnectionLostHandler(t.handleConnectionLost).
		SetReconnectingHandler(t.handleReconnecting)

	client := t.factory(opts)
	t.client = client
	t.mu.Unlock()

	t.setState(syncstate.StateConnecting, func(s *syncstate.ConnectionStatus) {
		s.Error = ""
	})
	t.logger.Info("Connecting to MQTT broker", "broker", t.cfg.BrokerURL)

	tok := client.Connect()
	timer := time.NewTimer(t.cfg.ConnectTimeout)
	defer timer.Stop()

	var connErr error
	select {
	case <-tok.Done():
		connErr = tok.Error()
	case <-timer.C:
		connErr = errors.ErrConnectionTimeout
	case <-ctx.Done():
		connErr = ctx.Err()
	}

	if connErr != nil {
		wrapped := errors.WrapTransient(connErr, "Transport", "Connect", "establish mqtt session")
		t.abandon(client, wrapped, syncstate.StateDisconnected)
		t.logger.Error("MQTT connect failed", "error", connErr)
		return wrapped
	}
	return nil
}

// Disconnect ends the session. Safe to call repeatedly.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return
	}

	client.Disconnect(250)
	t.setState(syncstate.StateDisconnected, nil)
	t.recordConnected(false)
	t.logger.Info("Disconnected from MQTT broker")
}

// abandon tears down client if it is still the current session and records err
func (t *Transport) abandon(client paho.Client, err error, to syncstate.State) {
	t.mu.Lock()
	if t.client != client {
		t.mu.Unlock()
		return
	}
	t.client = nil
	t.mu.Unlock()

	client.Disconnect(0)
	t.setState(to, func(s *syncstate.ConnectionStatus) {
		s.Error = err.Error()
	})
	t.recordConnected(false)
}

func (t *Transport) handleConnect(c paho.Client) {
	if t.current() != c {
		return
	}

	now := t.clock.Now()
	t.setState(syncstate.StateConnected, func(s *syncstate.ConnectionStatus) {
		s.LastConnected = &now
		s.ReconnectAttempts = 0
		s.Error = ""
	})
	t.recordConnected(true)
	t.logger.Info("Connected to MQTT broker")

	for _, topic := range t.Topics() {
		tok := c.Subscribe(topic, t.cfg.QoS, t.handleMessage)
		if !tok.WaitTimeout(t.cfg.ConnectTimeout) {
			t.recordSubscribeError(topic, errors.ErrConnectionTimeout)
			continue
		}
		if err := tok.Error(); err != nil {
			t.recordSubscribeError(topic, err)
			continue
		}
		t.logger.Debug("Subscribed", "topic", topic)
	}
}

func (t *Transport) recordSubscribeError(topic string, err error) {
	wrapped := errors.Wrap(fmt.Errorf("%w: %v", errors.ErrSubscriptionFailed, err), "Transport", "handleConnect", "subscribe "+topic)
	t.logger.Error("MQTT subscribe failed", "topic", topic, "error", err)
	st := t.tracker.Update(func(s *syncstate.ConnectionStatus) {
		s.Error = wrapped.Error()
	})
	t.emit(st)
}

func (t *Transport) handleMessage(c paho.Client, msg paho.Message) {
	if t.current() != c {
		return
	}
	now := t.clock.Now()
	t.tracker.Update(func(s *syncstate.ConnectionStatus) {
		s.LastMessage = &now
	})
	if t.onMessage != nil {
		t.onMessage(msg.Topic(), msg.Payload())
	}
}

func (t *Transport) handleConnectionLost(c paho.Client, err error) {
	if t.current() != c {
		return
	}
	t.logger.Warn("MQTT connection lost", "error", err)
	t.setState(syncstate.StateReconnecting, func(s *syncstate.ConnectionStatus) {
		if err != nil {
			s.Error = errors.Wrap(err, "Transport", "handleConnectionLost", "keep session").Error()
		}
	})
	t.recordConnected(false)
}

// handleReconnecting counts library retries and gives up past the ceiling
func (t *Transport) handleReconnecting(c paho.Client, _ *paho.ClientOptions) {
	if t.current() != c {
		return
	}

	st, _ := t.tracker.Transition(syncstate.StateReconnecting, func(s *syncstate.ConnectionStatus) {
		s.ReconnectAttempts++
	})
	if t.metrics != nil {
		t.metrics.RecordReconnect(t.service)
	}

	if st.ReconnectAttempts > t.cfg.MaxReconnectAttempts {
		t.logger.Error("MQTT reconnect attempts exhausted",
			"attempts", st.ReconnectAttempts, "max", t.cfg.MaxReconnectAttempts)
		// paho is inside its reconnect loop here; tear down off its goroutine
		go t.abandon(c, errors.WrapFatal(errors.ErrReconnectsExhausted, "Transport", "handleReconnecting", "reconnect"), syncstate.StateError)
		return
	}

	t.logger.Info("MQTT reconnecting", "attempt", st.ReconnectAttempts)
	t.emit(st)
}

func (t *Transport) setState(to syncstate.State, mutate func(*syncstate.ConnectionStatus)) {
	st, err := t.tracker.Transition(to, mutate)
	if err != nil {
		t.logger.Debug("Ignoring state change", "error", err)
		return
	}
	t.emit(st)
}

func (t *Transport) emit(st syncstate.ConnectionStatus) {
	if t.onStatus != nil {
		t.onStatus(st)
	}
}

func (t *Transport) recordConnected(connected bool) {
	if t.metrics != nil {
		t.metrics.RecordTransportConnected(t.service, connected)
	}
}
