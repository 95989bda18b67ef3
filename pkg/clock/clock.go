// Package clock abstracts time so pollers, retry timers and tickers can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Stopper cancels a scheduled callback
type Stopper interface {
	// Stop prevents any further invocation. It reports whether the callback
	// was still scheduled.
	Stop() bool
}

// Clock schedules callbacks and reports the current time
type Clock interface {
	Now() time.Time
	// AfterFunc runs fn once after d in its own goroutine
	AfterFunc(d time.Duration, fn func()) Stopper
	// Every runs fn every d until stopped
	Every(d time.Duration, fn func()) Stopper
}

// Real returns a Clock backed by the time package
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, fn func()) Stopper {
	return time.AfterFunc(d, fn)
}

func (realClock) Every(d time.Duration, fn func()) Stopper {
	t := &ticker{
		ticker: time.NewTicker(d),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type ticker struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *ticker) run(fn func()) {
	defer t.ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.done)
		stopped = true
	})
	return stopped
}
