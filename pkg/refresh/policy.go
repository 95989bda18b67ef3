// Package refresh decides whether a periodic or user-triggered refresh should
// reach the network, based on snapshot age and a click throttle window.
package refresh

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Defaults shared by the services
const (
	DefaultThrottle = 2 * time.Second
	DefaultFeedback = 1 * time.Second
)

// Decision is the outcome of a refresh request
type Decision struct {
	// Fetch is true when the caller should hit the network
	Fetch bool `json:"fetch"`
	// Ignored is true when a manual trigger fell inside the throttle window;
	// no fetch and no visual feedback happen
	Ignored bool `json:"ignored"`
	// Feedback is true when the UI should show its refreshing indicator
	Feedback bool `json:"feedback"`
	// FeedbackFor is how long to show the indicator when no fetch happens
	FeedbackFor time.Duration `json:"feedback_for,omitempty"`
	// Reason is a short machine-readable explanation
	Reason string `json:"reason"`
}

// Decision reasons
const (
	ReasonNoSnapshot = "no_snapshot"
	ReasonStale      = "stale"
	ReasonFresh      = "fresh"
	ReasonThrottled  = "throttled"
)

// Config holds the thresholds for one data domain
type Config struct {
	Freshness time.Duration
	Throttle  time.Duration
	Feedback  time.Duration
}

// Policy applies a Config. It is safe for concurrent use.
type Policy struct {
	cfg Config

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewPolicy creates a Policy. Zero Throttle and Feedback take the defaults.
func NewPolicy(cfg Config) *Policy {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	if cfg.Feedback <= 0 {
		cfg.Feedback = DefaultFeedback
	}
	return &Policy{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Throttle), 1),
	}
}

// Config returns the thresholds in use
func (p *Policy) Config() Config {
	return p.cfg
}

// Decide evaluates a refresh request made at now for a snapshot last updated
// at lastUpdated. hasSnapshot is false before the first successful sync.
// manual marks user-triggered requests, which are subject to the throttle and
// always get visual feedback unless throttled.
func (p *Policy) Decide(now, lastUpdated time.Time, hasSnapshot, manual bool) Decision {
	if manual && !p.allow(now) {
		return Decision{Ignored: true, Reason: ReasonThrottled}
	}

	if !hasSnapshot || lastUpdated.IsZero() {
		return Decision{Fetch: true, Feedback: manual, Reason: ReasonNoSnapshot}
	}

	if now.Sub(lastUpdated) > p.cfg.Freshness {
		return Decision{Fetch: true, Feedback: manual, Reason: ReasonStale}
	}

	d := Decision{Reason: ReasonFresh}
	if manual {
		d.Feedback = true
		d.FeedbackFor = p.cfg.Feedback
	}
	return d
}

// IsFresh reports whether a snapshot updated at lastUpdated is still within
// the freshness threshold at now
func (p *Policy) IsFresh(now, lastUpdated time.Time) bool {
	return !lastUpdated.IsZero() && now.Sub(lastUpdated) <= p.cfg.Freshness
}

func (p *Policy) allow(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limiter.AllowN(now, 1)
}
