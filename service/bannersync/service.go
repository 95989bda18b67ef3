package bannersync

import (
	"context"
	"sync"
	"time"

	"github.com/c360/billboard/errors"
	"github.com/c360/billboard/health"
	"github.com/c360/billboard/pkg/clock"
	"github.com/c360/billboard/pkg/refresh"
	"github.com/c360/billboard/pkg/subscription"
	"github.com/c360/billboard/pkg/syncstate"
	"github.com/c360/billboard/service"
	"github.com/c360/billboard/service/logomanifest"
)

// Name is the facade name
const Name = "banner"

// ManifestSource supplies manifests to the banner
type ManifestSource interface {
	OnDataUpdate(cb func(logomanifest.LogoManifest)) func()
	LocalPath(id string) (string, bool)
	Refresh(ctx context.Context) refresh.Decision
	Health() health.Status
}

// Service is the banner sync facade
type Service struct {
	*service.Base

	source ManifestSource
	data   *subscription.Registry[BannerState]

	mu          sync.Mutex
	cfg         Config
	loc         *time.Location
	manifest    logomanifest.LogoManifest
	hasManifest bool
	state       BannerState
	ticker      clock.Stopper
	tickEvery   time.Duration
	unsubscribe func()
}

// New creates the banner service over source. Rotation starts with
// Initialize.
func New(source ManifestSource, cfg Config, deps service.Dependencies) *Service {
	base := service.NewBase(Name, deps, refresh.Config{})
	loc, err := cfg.location()
	if err != nil {
		base.Logger().Warn("Unknown banner timezone, using the default", "timezone", cfg.Timezone, "error", err)
		cfg.Timezone = DefaultTimezone
		loc, _ = cfg.location()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		Base:   base,
		source: source,
		cfg:    cfg,
		loc:    loc,
		data:   service.NewRegistry[BannerState](base, Name+".data"),
	}
}

// CurrentData returns the banner state and whether a manifest has been seen
func (s *Service) CurrentData() (BannerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), s.hasManifest
}

// OnDataUpdate subscribes to banner changes, including every rotation step
func (s *Service) OnDataUpdate(cb func(BannerState)) func() {
	return s.data.Subscribe(cb)
}

// State returns the lifecycle state
func (s *Service) State() syncstate.State {
	if s.IsDestroyed() {
		return syncstate.StateDisconnected
	}
	return s.TrackedStatus().State
}

// Initialize subscribes to the manifest source. The banner is Connected once
// a manifest arrives.
func (s *Service) Initialize(ctx context.Context) errors.Result {
	if s.IsDestroyed() {
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "BannerSyncService", "Initialize", "initialize"))
	}
	if s.source == nil {
		err := errors.WrapInvalid(errors.ErrMissingConfig, "BannerSyncService", "Initialize", "find manifest source")
		s.Transition(ctx, syncstate.StateConnecting, nil)
		s.Transition(ctx, syncstate.StateError, func(st *syncstate.ConnectionStatus) { st.Error = err.Error() })
		return errors.Failed(err)
	}

	s.mu.Lock()
	if s.unsubscribe != nil {
		s.mu.Unlock()
		return errors.OK("already initialized")
	}
	s.unsubscribe = func() {}
	s.mu.Unlock()

	s.Transition(ctx, syncstate.StateConnecting, func(st *syncstate.ConnectionStatus) { st.Error = "" })

	// the source replays its current manifest inside Subscribe
	unsub := s.source.OnDataUpdate(s.apply)

	s.mu.Lock()
	s.unsubscribe = unsub
	has := s.hasManifest
	s.mu.Unlock()

	if has {
		return errors.OK("connected")
	}
	return errors.OK("waiting for manifest")
}

func (s *Service) apply(m logomanifest.LogoManifest) {
	s.mu.Lock()
	if s.IsDestroyed() {
		s.mu.Unlock()
		return
	}
	now := s.Now()
	s.manifest = m
	s.hasManifest = true
	keep := ""
	if s.state.Current != nil {
		keep = s.state.Current.ID
	}
	s.state = s.derive(now, keep, false)
	s.restartTickerLocked(s.state.LoopDuration)
	st := s.state.Clone()
	s.mu.Unlock()

	s.Logger().Debug("Banner rotation rebuilt", "version", st.ManifestVersion, "logos", len(st.Rotation))
	s.publish(st)
	s.Transition(context.Background(), syncstate.StateConnected, func(cs *syncstate.ConnectionStatus) {
		cs.LastConnected = &now
		cs.LastMessage = &now
		cs.Error = ""
	})
}

// derive rebuilds the state at now, keeping the logo keep on screen when it
// is still in rotation. advance steps past it.
func (s *Service) derive(now time.Time, keep string, advance bool) BannerState {
	rotation := Rotation(s.manifest, now.In(s.loc))
	st := BannerState{
		ManifestVersion: s.manifest.Version,
		Mode:            mode(s.manifest),
		LoopDuration:    s.loopDuration(),
		Rotation:        rotation,
		LastUpdated:     now,
	}
	if len(rotation) == 0 {
		return st
	}

	idx := indexOf(rotation, keep)
	if advance && st.Mode == ModeLoop && keep != "" && rotation[idx].ID == keep {
		idx = (idx + 1) % len(rotation)
	}
	st.CurrentIndex = idx
	cur := rotation[idx]
	st.Current = &cur
	if p, ok := s.source.LocalPath(cur.ID); ok {
		st.CurrentPath = p
	}
	return st
}

func (s *Service) loopDuration() time.Duration {
	if s.cfg.LoopDuration > 0 {
		return s.cfg.LoopDuration
	}
	return s.manifest.LoopDuration()
}

func (s *Service) restartTickerLocked(every time.Duration) {
	if s.ticker != nil && every == s.tickEvery {
		return
	}
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.tickEvery = every
	s.ticker = s.Clock().Every(every, s.tick)
}

// tick shows the next logo. Schedules are re-evaluated so windows opening or
// closing take effect on the next step.
func (s *Service) tick() {
	s.mu.Lock()
	if s.IsDestroyed() || !s.hasManifest {
		s.mu.Unlock()
		return
	}
	keep := ""
	if s.state.Current != nil {
		keep = s.state.Current.ID
	}
	s.state = s.derive(s.Now(), keep, true)
	st := s.state.Clone()
	s.mu.Unlock()

	s.publish(st)
}

func (s *Service) publish(st BannerState) {
	s.data.Publish(st)
	s.EmitData(context.Background(), st)
}

// Refresh asks the manifest source to refresh under its policy and rebuilds
// the rotation for the current time
func (s *Service) Refresh(ctx context.Context) refresh.Decision {
	if s.source == nil || s.IsDestroyed() {
		return refresh.Decision{Ignored: true}
	}
	d := s.source.Refresh(ctx)
	if d.Ignored {
		return d
	}

	s.mu.Lock()
	if !s.hasManifest {
		s.mu.Unlock()
		return d
	}
	keep := ""
	if s.state.Current != nil {
		keep = s.state.Current.ID
	}
	s.state = s.derive(s.Now(), keep, false)
	st := s.state.Clone()
	s.mu.Unlock()

	s.publish(st)
	return d
}

// UpdateConfig replaces the loop duration override or the timezone and
// rebuilds the rotation
func (s *Service) UpdateConfig(_ context.Context, partial Config) errors.Result {
	if s.IsDestroyed() {
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "BannerSyncService", "UpdateConfig", "update config"))
	}
	if partial.LoopDuration < 0 {
		return errors.Failed(errors.WrapInvalid(errors.ErrInvalidConfig, "BannerSyncService", "UpdateConfig", "check loop duration"))
	}
	var loc *time.Location
	if partial.Timezone != "" {
		l, err := partial.location()
		if err != nil {
			return errors.Failed(err)
		}
		loc = l
	}

	s.mu.Lock()
	loopChanged := partial.LoopDuration > 0 && partial.LoopDuration != s.cfg.LoopDuration
	zoneChanged := loc != nil && partial.Timezone != s.cfg.Timezone
	if !loopChanged && !zoneChanged {
		s.mu.Unlock()
		return errors.OK("configuration unchanged")
	}
	if loopChanged {
		s.cfg.LoopDuration = partial.LoopDuration
	}
	if zoneChanged {
		s.cfg.Timezone = partial.Timezone
		s.loc = loc
	}
	if !s.hasManifest {
		s.mu.Unlock()
		return errors.OK("configuration updated")
	}
	keep := ""
	if s.state.Current != nil {
		keep = s.state.Current.ID
	}
	s.state = s.derive(s.Now(), keep, false)
	s.restartTickerLocked(s.state.LoopDuration)
	st := s.state.Clone()
	s.mu.Unlock()

	s.publish(st)
	return errors.OK("configuration updated")
}

// Health follows the manifest source. A banner with nothing to show is
// degraded.
func (s *Service) Health() health.Status {
	st := health.FromConnectionStatus(Name, s.TrackedStatus())
	s.mu.Lock()
	empty := s.hasManifest && len(s.state.Rotation) == 0
	s.mu.Unlock()

	if empty && st.IsHealthy() {
		st.Status = health.StatusDegraded
		st.Healthy = false
		st.Message += ", no logo in rotation"
	}
	if s.source != nil {
		st = st.WithSubStatus(s.source.Health())
	}
	return st
}

// Destroy stops the rotation and unsubscribes from the source
func (s *Service) Destroy() {
	if !s.MarkDestroyed() {
		return
	}
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.data.Clear()
	s.ClearStatusSubscribers()
	s.Logger().Info("Banner service destroyed")
}

var _ service.Facade = (*Service)(nil)
