package iot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/health"
	"github.com/c360/billboard/input/mqtt"
	"github.com/c360/billboard/pkg/clock"
	"github.com/c360/billboard/pkg/extract"
	"github.com/c360/billboard/pkg/refresh"
	"github.com/c360/billboard/pkg/subscription"
	"github.com/c360/billboard/pkg/syncstate"
	"github.com/c360/billboard/service"
)

// Name is the facade name
const Name = "iot"

// Option configures a Service
type Option func(*Service)

// WithClientFactory replaces the paho client constructor
func WithClientFactory(f mqtt.ClientFactory) Option {
	return func(s *Service) {
		s.factory = f
	}
}

// WithExtractor sets the value extractor
func WithExtractor(e *extract.Extractor) Option {
	return func(s *Service) {
		if e != nil {
			s.extractor = e
		}
	}
}

// Service is the IoT facade
type Service struct {
	*service.Base

	factory   mqtt.ClientFactory
	extractor *extract.Extractor
	data      *subscription.Registry[SensorSnapshot]

	mu          sync.Mutex
	cfg         Config
	snapshot    SensorSnapshot
	hasData     bool
	lastMessage time.Time
	transport   *mqtt.Transport
	gen         uint64
	repush      clock.Stopper
	initialized bool
}

// New creates the IoT service. Nothing connects until Initialize.
func New(cfg Config, deps service.Dependencies, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	base := service.NewBase(Name, deps, refresh.Config{Freshness: cfg.Freshness})
	s := &Service{
		Base:     base,
		cfg:      cfg,
		snapshot: NewSnapshot(),
		data:     service.NewRegistry[SensorSnapshot](base, Name+".data"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.extractor == nil {
		s.extractor = extract.New(s.Logger())
	}
	return s
}

// Config returns a copy of the current configuration
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.merge(Config{})
}

// CurrentData returns a copy of the current snapshot
func (s *Service) CurrentData() SensorSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Clone()
}

// OnDataUpdate subscribes to snapshot changes. The callback runs immediately
// when data has already been received.
func (s *Service) OnDataUpdate(cb func(SensorSnapshot)) func() {
	return s.data.Subscribe(cb)
}

// ConnectionStatus returns the status of the current session
func (s *Service) ConnectionStatus() syncstate.ConnectionStatus {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t != nil {
		return t.Status()
	}
	if st, ok := s.LastStatus(); ok {
		return st
	}
	return syncstate.ConnectionStatus{}
}

// State returns the lifecycle state
func (s *Service) State() syncstate.State {
	if s.IsDestroyed() {
		return syncstate.StateDisconnected
	}
	return s.ConnectionStatus().State
}

// Initialize validates the configuration and connects. It is idempotent while
// a session is up. A config error leaves the service in StateError until
// UpdateConfig supplies a corrected value.
func (s *Service) Initialize(ctx context.Context) errors.Result {
	if s.IsDestroyed() {
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "IoTService", "Initialize", "initialize"))
	}

	s.mu.Lock()
	s.initialized = true

	if t := s.transport; t != nil {
		st := t.Status()
		switch st.State {
		case syncstate.StateConnected, syncstate.StateConnecting, syncstate.StateReconnecting:
			s.mu.Unlock()
			return errors.OK("already initialized")
		case syncstate.StateError:
			s.mu.Unlock()
			return errors.Failed(fmt.Errorf("%s", st.Error))
		}
	} else if st, ok := s.LastStatus(); ok && st.State == syncstate.StateError {
		s.mu.Unlock()
		return errors.Failed(fmt.Errorf("%s", st.Error))
	}

	tc := s.cfg.transportConfig()
	if err := tc.Validate(); err != nil {
		gen := s.gen
		s.mu.Unlock()
		s.Logger().Error("Invalid IoT configuration", "error", err)
		s.handleStatus(gen, syncstate.ConnectionStatus{State: syncstate.StateConnecting})
		s.handleStatus(gen, syncstate.ConnectionStatus{State: syncstate.StateError, Error: err.Error()})
		return errors.Failed(err)
	}

	t := s.transport
	if t == nil {
		t = s.newTransportLocked(tc)
	}
	s.mu.Unlock()

	if err := t.Connect(ctx); err != nil {
		return errors.Failed(err)
	}
	return errors.OK("connected")
}

// newTransportLocked builds a transport whose callbacks are bound to the
// current generation. Callers hold s.mu.
func (s *Service) newTransportLocked(tc mqtt.Config) *mqtt.Transport {
	s.gen++
	gen := s.gen
	t := mqtt.NewTransport(tc,
		func(topic string, payload []byte) { s.handleMessage(gen, topic, payload) },
		mqtt.WithLogger(s.Logger()),
		mqtt.WithClientFactory(s.factory),
		mqtt.WithClock(s.Clock()),
		mqtt.WithMetrics(s.Metrics(), Name),
		mqtt.WithStatusHandler(func(st syncstate.ConnectionStatus) { s.handleStatus(gen, st) }),
	)
	s.transport = t
	return t
}

// TestConnection checks the configuration, then opens and closes a probe
// session without touching the live one
func (s *Service) TestConnection(ctx context.Context) errors.Result {
	cfg := s.Config()
	tc := cfg.transportConfig()
	if err := tc.Validate(); err != nil {
		return errors.Failed(err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	probe := mqtt.NewTransport(tc, nil,
		mqtt.WithLogger(s.Logger()),
		mqtt.WithClientFactory(s.factory),
		mqtt.WithClock(s.Clock()),
	)
	err := probe.Connect(ctx)
	probe.Disconnect()
	if err != nil {
		return errors.Failed(err)
	}
	return errors.OK("connection successful")
}

// Disconnect ends the session and stops the re-push ticker. Initialize
// reconnects.
func (s *Service) Disconnect() {
	s.mu.Lock()
	t := s.transport
	s.stopRepushLocked()
	s.mu.Unlock()
	if t != nil {
		t.Disconnect()
	}
}

// UpdateConfig merges the non-zero fields of partial. When a connection field
// changed the session is torn down and, if the service had been initialized,
// rebuilt with the new configuration.
func (s *Service) UpdateConfig(ctx context.Context, partial Config) errors.Result {
	if s.IsDestroyed() {
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "IoTService", "UpdateConfig", "update config"))
	}

	s.mu.Lock()
	next := s.cfg.merge(partial)
	changed := s.cfg.connectionChanged(next)
	s.cfg = next
	if !changed {
		s.mu.Unlock()
		return errors.OK("configuration updated")
	}

	old := s.transport
	s.transport = nil
	s.gen++
	s.stopRepushLocked()
	reinit := s.initialized
	s.mu.Unlock()

	s.Logger().Info("IoT connection settings changed, rebuilding session")
	if old != nil {
		old.Disconnect()
	}
	if !reinit {
		return errors.OK("configuration updated")
	}
	// clears a recorded config error so Initialize makes a fresh attempt
	s.PublishStatus(ctx, syncstate.ConnectionStatus{State: syncstate.StateDisconnected})
	return s.Initialize(ctx)
}

// Refresh applies the refresh policy. MQTT has no pull, so an allowed refresh
// reconnects a dropped session or re-publishes the current snapshot.
func (s *Service) Refresh(ctx context.Context) refresh.Decision {
	s.mu.Lock()
	last := s.lastMessage
	has := s.hasData
	s.mu.Unlock()

	d := s.DecideRefresh(last, has)
	if !d.Fetch || s.IsDestroyed() {
		return d
	}

	switch s.State() {
	case syncstate.StateUninitialized, syncstate.StateDisconnected:
		if res := s.Initialize(ctx); !res.Success {
			s.Logger().Warn("Refresh could not reconnect", "message", res.Message)
		}
	case syncstate.StateConnected:
		s.republish()
	}
	return d
}

// Health reports connection state and the age of the last gateway message
func (s *Service) Health() health.Status {
	st := health.FromConnectionStatus(Name, s.ConnectionStatus())
	s.mu.Lock()
	last := s.lastMessage
	s.mu.Unlock()
	return health.WithDataAge(st, last, s.Now(), s.Policy().Config().Freshness)
}

// Destroy disconnects, stops the re-push ticker and drops every subscriber.
// Messages arriving afterwards are discarded.
func (s *Service) Destroy() {
	if !s.MarkDestroyed() {
		return
	}

	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.gen++
	s.stopRepushLocked()
	s.mu.Unlock()

	if t != nil {
		t.Disconnect()
	}
	s.data.Clear()
	s.ClearStatusSubscribers()
	s.Logger().Info("IoT service destroyed")
}

func (s *Service) handleStatus(gen uint64, st syncstate.ConnectionStatus) {
	s.mu.Lock()
	if gen != s.gen || s.IsDestroyed() {
		s.mu.Unlock()
		return
	}
	if st.State == syncstate.StateConnected {
		s.startRepushLocked()
	} else {
		s.stopRepushLocked()
	}
	s.mu.Unlock()

	s.PublishStatus(context.Background(), st)
}

func (s *Service) handleMessage(gen uint64, topic string, payload []byte) {
	if s.IsDestroyed() {
		return
	}

	s.mu.Lock()
	ids := s.cfg.ConfigIDs
	s.mu.Unlock()

	field, ok := FieldForTopic(topic, ids)
	if !ok {
		s.Logger().Debug("Dropping message for unmapped topic", "topic", topic)
		if m := s.Metrics(); m != nil {
			m.RecordMessageDropped(Name, "unmapped_topic")
		}
		return
	}
	if m := s.Metrics(); m != nil {
		m.RecordMessageReceived(Name, string(field))
	}

	var value *float64
	if r := s.extractor.ExtractBytes(string(field), payload); r.OK {
		v := r.Value
		value = &v
	} else {
		s.Logger().Warn("Unparseable sensor payload", "topic", topic, "field", field)
		if m := s.Metrics(); m != nil {
			m.RecordParseFailure(Name, string(field))
		}
	}

	now := s.Now()
	s.mu.Lock()
	if gen != s.gen || s.IsDestroyed() {
		s.mu.Unlock()
		return
	}
	s.snapshot.set(field, value)
	s.snapshot.LastUpdated = now
	s.hasData = true
	s.lastMessage = now
	snap := s.snapshot.Clone()
	s.mu.Unlock()

	s.data.Publish(snap)
	s.EmitData(context.Background(), snap)
}

// republish pushes the current snapshot with a refreshed timestamp
func (s *Service) republish() {
	s.mu.Lock()
	if !s.hasData || s.IsDestroyed() {
		s.mu.Unlock()
		return
	}
	s.snapshot.LastUpdated = s.Now()
	snap := s.snapshot.Clone()
	s.mu.Unlock()

	s.data.Publish(snap)
}

func (s *Service) startRepushLocked() {
	if s.repush != nil {
		return
	}
	s.repush = s.Clock().Every(s.cfg.UpdateInterval, s.republish)
}

func (s *Service) stopRepushLocked() {
	if s.repush != nil {
		s.repush.Stop()
		s.repush = nil
	}
}

var _ service.Facade = (*Service)(nil)
