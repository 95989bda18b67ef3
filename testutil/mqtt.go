package testutil

import (
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// FakeToken is a paho.Token that is either already complete or never completes
type FakeToken struct {
	err  error
	done chan struct{}
}

// CompletedToken returns a token that is done with err
func CompletedToken(err error) *FakeToken {
	t := &FakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

// PendingToken returns a token that never completes
func PendingToken() *FakeToken {
	return &FakeToken{done: make(chan struct{})}
}

// Wait blocks until the token completes
func (t *FakeToken) Wait() bool {
	<-t.done
	return true
}

// WaitTimeout waits up to d for completion
func (t *FakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

// Done returns the completion channel
func (t *FakeToken) Done() <-chan struct{} {
	return t.done
}

// Error returns the completion error
func (t *FakeToken) Error() error {
	return t.err
}

// FakeMessage is a paho.Message carrying a topic and payload
type FakeMessage struct {
	topic   string
	payload []byte
}

// NewFakeMessage creates a message
func NewFakeMessage(topic string, payload []byte) *FakeMessage {
	return &FakeMessage{topic: topic, payload: payload}
}

func (m *FakeMessage) Duplicate() bool   { return false }
func (m *FakeMessage) Qos() byte         { return 0 }
func (m *FakeMessage) Retained() bool    { return false }
func (m *FakeMessage) Topic() string     { return m.topic }
func (m *FakeMessage) MessageID() uint16 { return 0 }
func (m *FakeMessage) Payload() []byte   { return m.payload }
func (m *FakeMessage) Ack()              {}

// FakeMQTTClient is an in-memory paho.Client. Connect runs the OnConnect
// handler synchronously; tests drive the rest of the session lifecycle with
// Deliver, LoseConnection, Reconnecting and Reconnect.
type FakeMQTTClient struct {
	mu              sync.Mutex
	opts            *paho.ClientOptions
	connected       bool
	connectErr      error
	holdConnect     bool
	subscribeErr    error
	subs            map[string]paho.MessageHandler
	ConnectCalls    int
	DisconnectCalls int
}

// Options returns the options the client was built with
func (c *FakeMQTTClient) Options() *paho.ClientOptions {
	return c.opts
}

// IsConnected reports whether the fake session is up
func (c *FakeMQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsConnectionOpen reports whether the fake session is up
func (c *FakeMQTTClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

// Connect completes immediately unless the factory was told to fail or hold
func (c *FakeMQTTClient) Connect() paho.Token {
	c.mu.Lock()
	c.ConnectCalls++
	if c.holdConnect {
		c.mu.Unlock()
		return PendingToken()
	}
	if c.connectErr != nil {
		err := c.connectErr
		c.mu.Unlock()
		return CompletedToken(err)
	}
	c.connected = true
	onConnect := c.opts.OnConnect
	c.mu.Unlock()

	if onConnect != nil {
		onConnect(c)
	}
	return CompletedToken(nil)
}

// Disconnect closes the fake session
func (c *FakeMQTTClient) Disconnect(_ uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.DisconnectCalls++
}

// Publish is accepted and dropped
func (c *FakeMQTTClient) Publish(_ string, _ byte, _ bool, _ interface{}) paho.Token {
	return CompletedToken(nil)
}

// Subscribe records the handler for topic
func (c *FakeMQTTClient) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return CompletedToken(c.subscribeErr)
	}
	if c.subs == nil {
		c.subs = make(map[string]paho.MessageHandler)
	}
	c.subs[topic] = callback
	return CompletedToken(nil)
}

// SubscribeMultiple records the handler for every filter
func (c *FakeMQTTClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, callback)
	}
	return CompletedToken(nil)
}

// Unsubscribe removes the given filters
func (c *FakeMQTTClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	return CompletedToken(nil)
}

// AddRoute records a handler without subscribing
func (c *FakeMQTTClient) AddRoute(topic string, callback paho.MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs == nil {
		c.subs = make(map[string]paho.MessageHandler)
	}
	c.subs[topic] = callback
}

// OptionsReader returns an empty reader
func (c *FakeMQTTClient) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

// Subscriptions returns the subscribed topic filters
func (c *FakeMQTTClient) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

// Deliver routes a message to every matching subscription. It reports
// whether any handler received it.
func (c *FakeMQTTClient) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	var handlers []paho.MessageHandler
	for filter, h := range c.subs {
		if TopicMatches(filter, topic) {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	msg := NewFakeMessage(topic, payload)
	for _, h := range handlers {
		h(c, msg)
	}
	return len(handlers) > 0
}

// LoseConnection drops the session and fires the connection lost handler
func (c *FakeMQTTClient) LoseConnection(err error) {
	c.mu.Lock()
	c.connected = false
	h := c.opts.OnConnectionLost
	c.mu.Unlock()
	if h != nil {
		h(c, err)
	}
}

// Reconnecting fires the reconnecting handler once
func (c *FakeMQTTClient) Reconnecting() {
	h := c.opts.OnReconnecting
	if h != nil {
		h(c, c.opts)
	}
}

// Reconnect restores the session and fires OnConnect
func (c *FakeMQTTClient) Reconnect() {
	c.mu.Lock()
	c.connected = true
	h := c.opts.OnConnect
	c.mu.Unlock()
	if h != nil {
		h(c)
	}
}

// FakeMQTTFactory creates FakeMQTTClients and remembers them
type FakeMQTTFactory struct {
	mu           sync.Mutex
	clients      []*FakeMQTTClient
	ConnectErr   error
	HoldConnect  bool
	SubscribeErr error
}

// New satisfies the transport's client factory signature
func (f *FakeMQTTFactory) New(opts *paho.ClientOptions) paho.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &FakeMQTTClient{
		opts:         opts,
		connectErr:   f.ConnectErr,
		holdConnect:  f.HoldConnect,
		subscribeErr: f.SubscribeErr,
	}
	f.clients = append(f.clients, c)
	return c
}

// Last returns the most recently created client, or nil
func (f *FakeMQTTFactory) Last() *FakeMQTTClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

// Count returns how many clients were created
func (f *FakeMQTTFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// TopicMatches applies MQTT filter semantics: "+" matches one level, "#" the rest
func TopicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
