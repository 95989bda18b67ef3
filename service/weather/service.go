package weather

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/health"
	"github.com/c360/billboard/input/httppoll"
	"github.com/c360/billboard/pkg/refresh"
	"github.com/c360/billboard/pkg/subscription"
	"github.com/c360/billboard/pkg/syncstate"
	"github.com/c360/billboard/service"
)

// Name is the facade name
const Name = "weather"

// Option configures a Service
type Option func(*Service)

// WithHTTPClient sets the client used for forecast requests
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

// Service is the weather facade
type Service struct {
	*service.Base

	client *http.Client
	data   *subscription.Registry[WeatherSnapshot]

	mu       sync.Mutex
	cfg      Config
	loc      *time.Location
	snapshot WeatherSnapshot
	lastLive time.Time
	poller   *httppoll.Poller
	gen      uint64
}

// New creates the weather service holding fallback data. Polling starts with
// Initialize.
func New(cfg Config, deps service.Dependencies, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	base := service.NewBase(Name, deps, refresh.Config{Freshness: cfg.Freshness})
	s := &Service{
		Base: base,
		cfg:  cfg,
		loc:  time.UTC,
		data: service.NewRegistry[WeatherSnapshot](base, Name+".data"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = httppoll.NewHTTPClient(cfg.Timeout)
	}
	s.snapshot = Fallback(cfg.City, s.Now())
	s.data.Publish(s.snapshot)
	return s
}

// Config returns the current configuration
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// CurrentData returns the current snapshot, which is the fallback until the
// first successful fetch
func (s *Service) CurrentData() WeatherSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// OnDataUpdate subscribes to snapshot replacements. The callback runs
// immediately with the current snapshot.
func (s *Service) OnDataUpdate(cb func(WeatherSnapshot)) func() {
	return s.data.Subscribe(cb)
}

// ConnectionStatus returns the polling status
func (s *Service) ConnectionStatus() syncstate.ConnectionStatus {
	return s.TrackedStatus()
}

// State returns the lifecycle state
func (s *Service) State() syncstate.State {
	if s.IsDestroyed() {
		return syncstate.StateDisconnected
	}
	return s.TrackedStatus().State
}

// Initialize validates the configuration and starts polling with an
// immediate fetch. It is idempotent while polling.
func (s *Service) Initialize(ctx context.Context) errors.Result {
	if s.IsDestroyed() {
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "WeatherService", "Initialize", "initialize"))
	}

	s.mu.Lock()
	if s.poller != nil {
		s.mu.Unlock()
		return errors.OK("already initialized")
	}
	cfg := s.cfg
	s.mu.Unlock()

	s.Transition(ctx, syncstate.StateConnecting, func(st *syncstate.ConnectionStatus) {
		st.Error = ""
	})

	if err := cfg.Validate(); err != nil {
		s.Logger().Error("Invalid weather configuration", "error", err)
		s.Transition(ctx, syncstate.StateError, func(st *syncstate.ConnectionStatus) {
			st.Error = err.Error()
		})
		return errors.Failed(err)
	}
	loc, _ := time.LoadLocation(cfg.Timezone)

	s.mu.Lock()
	if s.poller != nil {
		s.mu.Unlock()
		return errors.OK("already initialized")
	}
	s.gen++
	gen := s.gen
	s.loc = loc
	p := httppoll.New(cfg.pollConfig(),
		func(ctx context.Context) error { return s.fetch(ctx, gen) },
		httppoll.WithLogger(s.Logger()),
		httppoll.WithClock(s.Clock()),
		httppoll.WithMetrics(s.Metrics()),
		httppoll.WithFallback(func() { s.applyFallback(gen) }),
	)
	s.poller = p
	s.mu.Unlock()

	// polling outlives the caller's request
	if p.Start(context.WithoutCancel(ctx)) {
		return errors.OK("connected")
	}
	if err := p.LastError(); err != nil {
		return errors.Failed(err)
	}
	return errors.OK("polling started")
}

// FetchData triggers a fetch now. It returns false without a request when a
// fetch is already in flight or polling has not started.
func (s *Service) FetchData(ctx context.Context) bool {
	s.mu.Lock()
	p := s.poller
	s.mu.Unlock()
	if p == nil {
		return false
	}
	return p.FetchData(ctx)
}

// Poller exposes the underlying poller, or nil before Initialize
func (s *Service) Poller() *httppoll.Poller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poller
}

func (s *Service) fetch(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	cfg := s.cfg
	loc := s.loc
	s.mu.Unlock()

	target, err := forecastURL(cfg)
	if err != nil {
		return err
	}

	var resp forecastResponse
	if err := httppoll.GetJSON(ctx, s.client, target, &resp); err != nil {
		s.recordFailure(ctx, err)
		return err
	}

	now := s.Now()
	snap, err := resp.snapshot(cfg.City, now.In(loc))
	if err != nil {
		s.recordFailure(ctx, err)
		return err
	}
	snap.LastUpdated = now

	s.mu.Lock()
	if gen != s.gen || s.IsDestroyed() {
		s.mu.Unlock()
		return nil
	}
	s.snapshot = snap
	s.lastLive = now
	s.mu.Unlock()

	s.data.Publish(snap)
	s.EmitData(ctx, snap)
	s.Transition(ctx, syncstate.StateConnected, func(st *syncstate.ConnectionStatus) {
		st.LastConnected = &now
		st.LastMessage = &now
		st.ReconnectAttempts = 0
		st.Error = ""
	})
	s.Logger().Debug("Weather updated", "temperature", snap.Temperature, "condition", snap.WeatherCondition)
	return nil
}

func (s *Service) recordFailure(ctx context.Context, err error) {
	if s.IsDestroyed() {
		return
	}
	if m := s.Metrics(); m != nil {
		m.RecordError(Name, errors.Classify(err).String())
	}
	s.Transition(ctx, syncstate.StateReconnecting, func(st *syncstate.ConnectionStatus) {
		st.ReconnectAttempts++
		st.Error = err.Error()
	})
}

// applyFallback publishes the default snapshot once retries are exhausted.
// A live snapshot, even a stale one, is kept in preference to defaults.
func (s *Service) applyFallback(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.IsDestroyed() {
		s.mu.Unlock()
		return
	}
	if !s.lastLive.IsZero() {
		s.mu.Unlock()
		s.Logger().Warn("Weather retries exhausted, keeping last forecast")
		return
	}
	snap := Fallback(s.cfg.City, s.Now())
	s.snapshot = snap
	s.mu.Unlock()

	s.data.Publish(snap)
	s.EmitData(context.Background(), snap)
}

// Refresh applies the refresh policy and fetches when the snapshot is missing
// or stale
func (s *Service) Refresh(ctx context.Context) refresh.Decision {
	s.mu.Lock()
	last := s.lastLive
	s.mu.Unlock()

	d := s.DecideRefresh(last, !last.IsZero())
	if !d.Fetch || s.IsDestroyed() {
		return d
	}
	if s.Poller() == nil {
		s.Initialize(ctx)
		return d
	}
	s.FetchData(ctx)
	return d
}

// UpdateConfig merges the non-zero fields of partial and restarts polling
// when anything changed
func (s *Service) UpdateConfig(ctx context.Context, partial Config) errors.Result {
	if s.IsDestroyed() {
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "WeatherService", "UpdateConfig", "update config"))
	}

	s.mu.Lock()
	next := s.cfg.merge(partial)
	if next == s.cfg {
		s.mu.Unlock()
		return errors.OK("configuration unchanged")
	}
	s.cfg = next
	p := s.poller
	s.poller = nil
	s.gen++
	errored := s.TrackedStatus().State == syncstate.StateError
	s.mu.Unlock()

	if p == nil && !errored {
		return errors.OK("configuration updated")
	}
	if p != nil {
		p.Stop()
		s.Transition(ctx, syncstate.StateDisconnected, nil)
	}
	s.Logger().Info("Weather configuration changed, restarting polling")
	return s.Initialize(ctx)
}

// Disconnect stops polling. Initialize starts it again.
func (s *Service) Disconnect() {
	s.mu.Lock()
	p := s.poller
	s.poller = nil
	s.gen++
	s.mu.Unlock()

	if p != nil {
		p.Stop()
		s.Transition(context.Background(), syncstate.StateDisconnected, nil)
	}
}

// Health reports polling state and the age of the last live forecast
func (s *Service) Health() health.Status {
	st := health.FromConnectionStatus(Name, s.TrackedStatus())
	s.mu.Lock()
	last := s.lastLive
	maxAge := s.cfg.Freshness + s.cfg.PollInterval
	s.mu.Unlock()
	return health.WithDataAge(st, last, s.Now(), maxAge)
}

// Destroy stops polling and drops every subscriber. A response arriving
// afterwards is discarded.
func (s *Service) Destroy() {
	if !s.MarkDestroyed() {
		return
	}
	s.Disconnect()
	s.data.Clear()
	s.ClearStatusSubscribers()
	s.Logger().Info("Weather service destroyed")
}

var _ service.Facade = (*Service)(nil)
