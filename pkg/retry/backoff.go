package retry

import (
	"sync"
	"time"
)

// MaxScheduledDelay caps delays handed out by Backoff
const MaxScheduledDelay = 30 * time.Minute

// State is the position of a Backoff in its Idle -> Retrying(n) -> Fallback cycle
type State int

// Backoff states
const (
	StateIdle State = iota
	StateRetrying
	StateFallback
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrying:
		return "retrying"
	case StateFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Backoff is a bounded retry state machine for work that is re-run on a timer
// rather than awaited inline. It never sleeps; the caller schedules the delay
// it returns on whatever clock it owns.
type Backoff struct {
	cfg        Config
	maxRetries int

	mu       sync.Mutex
	state    State
	attempts int
	delay    time.Duration
}

// NewBackoff creates a Backoff that falls back after maxRetries consecutive
// failures. Delays start at initial and double up to maxDelay, which is itself
// capped at MaxScheduledDelay.
func NewBackoff(maxRetries int, initial, maxDelay time.Duration) *Backoff {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if maxDelay <= 0 || maxDelay > MaxScheduledDelay {
		maxDelay = MaxScheduledDelay
	}
	cfg, err := Config{
		MaxAttempts:  maxRetries,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   2.0,
	}.normalize()
	if err != nil {
		cfg = Config{MaxAttempts: maxRetries, InitialDelay: maxDelay, MaxDelay: maxDelay, Multiplier: 2.0}
	}
	return &Backoff{cfg: cfg, maxRetries: maxRetries}
}

// Fail records a failed attempt. It returns the delay before the next attempt
// and StateRetrying, or zero and StateFallback once maxRetries consecutive
// failures have been recorded. Falling back resets the counter so the next
// failure starts a fresh cycle.
func (b *Backoff) Fail() (time.Duration, State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	if b.attempts >= b.maxRetries {
		b.state = StateFallback
		b.attempts = 0
		b.delay = 0
		return 0, StateFallback
	}

	if b.delay == 0 {
		b.delay = b.cfg.InitialDelay
	} else {
		b.delay = b.cfg.grow(b.delay)
	}
	b.state = StateRetrying
	return b.delay, StateRetrying
}

// Reset returns the machine to Idle after a success
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateIdle
	b.attempts = 0
	b.delay = 0
}

// State returns the current state
func (b *Backoff) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Attempts returns the number of consecutive failures in the current cycle
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// MaxRetries returns the failure count that triggers fallback
func (b *Backoff) MaxRetries() int {
	return b.maxRetries
}
