// Package subscription provides the callback registry every service uses to fan
// snapshot and status updates out to its consumers.
package subscription

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// PanicHandler is told about every callback panic the registry recovers
type PanicHandler func(name string, recovered any)

// Registry holds the callbacks for one event type and the last published value.
// Callbacks always run outside the registry lock, so a callback may subscribe,
// unsubscribe or publish without deadlocking.
type Registry[T any] struct {
	name    string
	logger  *slog.Logger
	onPanic PanicHandler

	mu      sync.RWMutex
	nextID  uint64
	entries []entry[T]
	current T
	hasData bool

	panics atomic.Int64
}

type entry[T any] struct {
	id uint64
	cb func(T)
}

// Option configures a Registry
type Option[T any] func(*Registry[T])

// WithLogger sets the logger used to report callback panics
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(r *Registry[T]) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPanicHandler registers a hook invoked after a callback panic is recovered
func WithPanicHandler[T any](fn PanicHandler) Option[T] {
	return func(r *Registry[T]) {
		r.onPanic = fn
	}
}

// New creates an empty registry. name identifies the event type in logs.
func New[T any](name string, opts ...Option[T]) *Registry[T] {
	r := &Registry[T]{
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("registry", name)
	return r
}

// Subscribe registers cb and, when a value has already been published, invokes
// it once with that value before returning. The returned function removes
// exactly this registration and is safe to call any number of times.
func (r *Registry[T]) Subscribe(cb func(T)) func() {
	if cb == nil {
		return func() {}
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, entry[T]{id: id, cb: cb})
	current, hasData := r.current, r.hasData
	r.mu.Unlock()

	if hasData {
		r.invoke(cb, current)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Publish stores v as the current value and notifies every subscriber
func (r *Registry[T]) Publish(v T) {
	r.mu.Lock()
	r.current = v
	r.hasData = true
	r.mu.Unlock()
	r.Notify(v)
}

// Notify invokes every subscriber with v without changing the stored value.
// A panicking callback is recovered and logged; the remaining callbacks still
// run and the panicking callback stays registered.
func (r *Registry[T]) Notify(v T) {
	r.mu.RLock()
	callbacks := make([]func(T), len(r.entries))
	for i, e := range r.entries {
		callbacks[i] = e.cb
	}
	r.mu.RUnlock()

	for _, cb := range callbacks {
		r.invoke(cb, v)
	}
}

func (r *Registry[T]) invoke(cb func(T), v T) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.logger.Error("Subscriber callback panicked", "panic", fmt.Sprint(rec))
			if r.onPanic != nil {
				r.onPanic(r.name, rec)
			}
		}
	}()
	cb(v)
}

// Current returns the last published value and whether one exists
func (r *Registry[T]) Current() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current, r.hasData
}

// Len returns the number of active registrations
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Panics returns how many callback panics have been recovered
func (r *Registry[T]) Panics() int64 {
	return r.panics.Load()
}

// Clear drops every registration. The stored value is kept so a consumer that
// subscribes again still receives it immediately.
func (r *Registry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Reset drops every registration and forgets the stored value
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	r.entries = nil
	r.current = zero
	r.hasData = false
}
