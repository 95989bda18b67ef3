package httppoll

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/metric"
	"github.com/c360/billboard/pkg/clock"
	"github.com/c360/billboard/pkg/retry"
)

// FetchFunc performs one fetch. A nil error counts as success.
type FetchFunc func(ctx context.Context) error

// Config holds polling configuration
type Config struct {
	Name          string        `json:"name"`
	Interval      time.Duration `json:"interval"`
	Timeout       time.Duration `json:"timeout"`
	MaxRetries    int           `json:"max_retries"`
	RetryDelay    time.Duration `json:"retry_delay"`
	MaxRetryDelay time.Duration `json:"max_retry_delay"`
}

// DefaultConfig returns polling defaults
func DefaultConfig() Config {
	return Config{
		Name:          "poller",
		Interval:      10 * time.Minute,
		Timeout:       15 * time.Second,
		MaxRetries:    3,
		RetryDelay:    5 * time.Second,
		MaxRetryDelay: retry.MaxScheduledDelay,
	}
}

// Option configures a Poller
type Option func(*Poller)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock sets the clock used for the interval ticker and retry timers
func WithClock(c clock.Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithMetrics records fetch outcomes under the poller's name
func WithMetrics(m *metric.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithFallback sets the hook run once retries are exhausted
func WithFallback(fn func()) Option {
	return func(p *Poller) {
		p.onFallback = fn
	}
}

// Poller runs a FetchFunc periodically with single-flight and scheduled retries
type Poller struct {
	cfg        Config
	fetch      FetchFunc
	onFallback func()
	logger     *slog.Logger
	clock      clock.Clock
	metrics    *metric.Metrics
	backoff    *retry.Backoff

	inFlight atomic.Bool
	stopped  atomic.Bool
	fetches  atomic.Int64
	skipped  atomic.Int64

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	ticker     clock.Stopper
	retryTimer clock.Stopper
	lastErr    error
	lastOK     time.Time
}

// New creates a Poller. Nothing runs until Start or FetchData.
func New(cfg Config, fetch FetchFunc, opts ...Option) *Poller {
	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaults.RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = defaults.MaxRetryDelay
	}

	p := &Poller{
		cfg:     cfg,
		fetch:   fetch,
		logger:  slog.Default(),
		clock:   clock.Real(),
		backoff: retry.NewBackoff(cfg.MaxRetries, cfg.RetryDelay, cfg.MaxRetryDelay),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "http-poller", "poller", cfg.Name)
	return p
}

// Start fetches immediately and then every Interval until Stop. It reports
// whether the first fetch succeeded. Calling Start on a running Poller only
// triggers a fetch.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	if p.ticker == nil {
		p.stopped.Store(false)
		p.ctx, p.cancel = context.WithCancel(ctx)
		runCtx := p.ctx
		p.ticker = p.clock.Every(p.cfg.Interval, func() {
			p.FetchData(runCtx)
		})
		p.logger.Debug("Poller started", "interval", p.cfg.Interval)
	}
	runCtx := p.ctx
	p.mu.Unlock()

	return p.FetchData(runCtx)
}

// Stop cancels the interval ticker, any pending retry and the in-flight
// fetch's context. Later triggers are no-ops until Start is called again.
func (p *Poller) Stop() {
	p.stopped.Store(true)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.backoff.Reset()
}

// FetchData runs one fetch unless another is already in flight or the Poller
// is stopped. It reports whether this call ran a fetch that succeeded.
func (p *Poller) FetchData(ctx context.Context) bool {
	if p.stopped.Load() {
		return false
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		p.logger.Debug("Fetch already in flight, skipping")
		return false
	}
	defer p.inFlight.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}
	fctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	p.fetches.Add(1)
	start := time.Now()
	err := p.fetch(fctx)
	p.recordFetch(err, time.Since(start))

	if p.stopped.Load() {
		return false
	}
	if err != nil {
		p.handleFailure(ctx, err)
		return false
	}

	p.backoff.Reset()
	p.mu.Lock()
	p.lastErr = nil
	p.lastOK = p.clock.Now()
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	p.mu.Unlock()
	return true
}

func (p *Poller) handleFailure(ctx context.Context, err error) {
	delay, state := p.backoff.Fail()

	p.mu.Lock()
	p.lastErr = err
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	if state == retry.StateRetrying {
		// Retries outlive the trigger: a manual refresh cancels its own
		// context as soon as it returns.
		retryCtx := p.ctx
		if retryCtx == nil {
			retryCtx = context.WithoutCancel(ctx)
		}
		p.retryTimer = p.clock.AfterFunc(delay, func() {
			p.FetchData(retryCtx)
		})
	}
	p.mu.Unlock()

	if state == retry.StateFallback {
		p.logger.Warn("Fetch retries exhausted, using fallback data",
			"max_retries", p.cfg.MaxRetries, "error", err)
		if p.onFallback != nil {
			p.onFallback()
		}
		return
	}
	p.logger.Warn("Fetch failed, retry scheduled",
		"delay", delay, "attempt", p.backoff.Attempts(), "error", err)
}

func (p *Poller) recordFetch(err error, d time.Duration) {
	if p.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = errors.Classify(err).String()
	}
	p.metrics.RecordFetch(p.cfg.Name, result, d)
}

// InFlight reports whether a fetch is running
func (p *Poller) InFlight() bool {
	return p.inFlight.Load()
}

// Fetches returns how many fetches have run
func (p *Poller) Fetches() int64 {
	return p.fetches.Load()
}

// Skipped returns how many triggers were dropped by the single-flight guard
func (p *Poller) Skipped() int64 {
	return p.skipped.Load()
}

// LastError returns the error from the most recent fetch, or nil
func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// LastSuccess returns the time of the most recent successful fetch
func (p *Poller) LastSuccess() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOK
}

// RetryPending reports whether a retry timer is scheduled
func (p *Poller) RetryPending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retryTimer != nil
}

// BackoffState returns the retry state machine position
func (p *Poller) BackoffState() retry.State {
	return p.backoff.State()
}
