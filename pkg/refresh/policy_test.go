package refresh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var base = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func TestDecide_NoSnapshotAlwaysFetches(t *testing.T) {
	p := NewPolicy(Config{Freshness: 5 * time.Minute})

	d := p.Decide(base, time.Time{}, false, false)
	assert.True(t, d.Fetch)
	assert.False(t, d.Feedback)
	assert.Equal(t, ReasonNoSnapshot, d.Reason)
}

func TestDecide_Freshness(t *testing.T) {
	p := NewPolicy(Config{Freshness: 5 * time.Minute})

	fresh := p.Decide(base, base.Add(-4*time.Minute), true, false)
	assert.False(t, fresh.Fetch, "snapshot under threshold blocks the fetch")
	assert.Equal(t, ReasonFresh, fresh.Reason)

	stale := p.Decide(base, base.Add(-6*time.Minute), true, false)
	assert.True(t, stale.Fetch, "snapshot over threshold allows the fetch")
	assert.Equal(t, ReasonStale, stale.Reason)
}

func TestDecide_ManualFreshGivesFeedbackOnly(t *testing.T) {
	p := NewPolicy(Config{Freshness: 10 * time.Minute, Feedback: 800 * time.Millisecond})

	d := p.Decide(base, base.Add(-time.Minute), true, true)
	assert.False(t, d.Fetch)
	assert.True(t, d.Feedback)
	assert.Equal(t, 800*time.Millisecond, d.FeedbackFor)
}

func TestDecide_ClickThrottle(t *testing.T) {
	p := NewPolicy(Config{Freshness: 5 * time.Minute, Throttle: 2 * time.Second})

	fetches := 0
	first := p.Decide(base, time.Time{}, false, true)
	if first.Fetch {
		fetches++
	}

	second := p.Decide(base.Add(500*time.Millisecond), time.Time{}, false, true)
	if second.Fetch {
		fetches++
	}

	assert.Equal(t, 1, fetches)
	assert.True(t, second.Ignored)
	assert.False(t, second.Feedback, "throttled clicks get no feedback")

	third := p.Decide(base.Add(2500*time.Millisecond), time.Time{}, false, true)
	assert.True(t, third.Fetch, "throttle window has passed")
}

func TestDecide_PeriodicIgnoresThrottle(t *testing.T) {
	p := NewPolicy(Config{Freshness: time.Minute})

	p.Decide(base, time.Time{}, false, true)
	d := p.Decide(base.Add(100*time.Millisecond), time.Time{}, false, false)
	assert.True(t, d.Fetch)
	assert.False(t, d.Ignored)
}

func TestIsFresh(t *testing.T) {
	p := NewPolicy(Config{Freshness: time.Minute})
	assert.True(t, p.IsFresh(base, base.Add(-30*time.Second)))
	assert.False(t, p.IsFresh(base, base.Add(-2*time.Minute)))
	assert.False(t, p.IsFresh(base, time.Time{}))
}

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(Config{Freshness: time.Minute})
	assert.Equal(t, DefaultThrottle, p.Config().Throttle)
	assert.Equal(t, DefaultFeedback, p.Config().Feedback)
}
