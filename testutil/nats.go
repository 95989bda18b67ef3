package testutil

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"

	"github.com/c360/billboard/errors"
)

// MockNATSClient stands in for natsclient.Client on the event bus. It records
// every payload per subject and delivers to in-process subscribers.
type MockNATSClient struct {
	mu       sync.RWMutex
	messages map[string][][]byte
	order    []string
	handlers map[string][]func(context.Context, []byte)
	failWith error
	closed   bool
}

// NewMockNATSClient creates an empty mock
func NewMockNATSClient() *MockNATSClient {
	return &MockNATSClient{
		messages: make(map[string][][]byte),
		handlers: make(map[string][]func(context.Context, []byte)),
	}
}

// Publish records data under subject, then hands it to subscribers outside
// the lock
func (c *MockNATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.WrapTransient(errors.ErrNoConnection, "MockNATSClient", "Publish", "check closed")
	}
	if c.failWith != nil {
		err := c.failWith
		c.mu.Unlock()
		return err
	}
	if _, seen := c.messages[subject]; !seen {
		c.order = append(c.order, subject)
	}
	c.messages[subject] = append(c.messages[subject], slices.Clone(data))
	handlers := slices.Clone(c.handlers[subject])
	c.mu.Unlock()

	for _, h := range handlers {
		h(ctx, data)
	}
	return nil
}

// Subscribe registers handler for an exact subject
func (c *MockNATSClient) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.WrapTransient(errors.ErrNoConnection, "MockNATSClient", "Subscribe", "check closed")
	}
	c.handlers[subject] = append(c.handlers[subject], handler)
	return nil
}

// FailWith makes every later Publish return err. nil restores delivery.
func (c *MockNATSClient) FailWith(err error) {
	c.mu.Lock()
	c.failWith = err
	c.mu.Unlock()
}

// GetMessages returns a copy of the payloads published on subject
func (c *MockNATSClient) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages[subject]) == 0 {
		return nil
	}
	return slices.Clone(c.messages[subject])
}

// GetMessageCount returns the number of payloads published on subject
func (c *MockNATSClient) GetMessageCount(subject string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages[subject])
}

// Subjects lists every subject published to, in first-publish order
func (c *MockNATSClient) Subjects() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// ClearAll forgets every recorded payload
func (c *MockNATSClient) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make(map[string][][]byte)
	c.order = nil
}

// Close makes later Publish and Subscribe calls fail
func (c *MockNATSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// DecodeMessages unmarshals every payload on subject into T
func DecodeMessages[T any](t *testing.T, client *MockNATSClient, subject string) []T {
	t.Helper()

	raw := client.GetMessages(subject)
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			t.Fatalf("decode message on %s: %v", subject, err)
		}
		out = append(out, v)
	}
	return out
}
