package logomanifest

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
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
const Name = "logo-manifest"

// Option configures a Service
type Option func(*Service)

// WithHTTPClient sets the client used for manifest and asset requests
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		if c != nil {
			s.client = c
		}
	}
}

// Service is the logo manifest facade
type Service struct {
	*service.Base

	client *http.Client
	data   *subscription.Registry[LogoManifest]

	mu            sync.Mutex
	cfg           Config
	manifest      LogoManifest
	hasManifest   bool
	paths         map[string]string
	assetsPending bool
	lastFetch     time.Time
	poller        *httppoll.Poller
	gen           uint64
}

// New creates the logo manifest service. Polling starts with Initialize.
func New(cfg Config, deps service.Dependencies, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	base := service.NewBase(Name, deps, refresh.Config{Freshness: cfg.Freshness})
	s := &Service{
		Base:  base,
		cfg:   cfg,
		paths: make(map[string]string),
		data:  service.NewRegistry[LogoManifest](base, Name+".data"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = httppoll.NewHTTPClient(cfg.Timeout)
	}
	return s
}

// Config returns the current configuration
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// CurrentData returns a copy of the current manifest and whether one has been
// loaded
func (s *Service) CurrentData() (LogoManifest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest.Clone(), s.hasManifest
}

// OnDataUpdate subscribes to manifest versions. The callback runs immediately
// when a manifest is loaded.
func (s *Service) OnDataUpdate(cb func(LogoManifest)) func() {
	return s.data.Subscribe(cb)
}

// LocalPath returns the cached asset file for a logo
func (s *Service) LocalPath(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.paths[id]
	return p, ok
}

// AssetsPending reports whether the last sync left assets undownloaded
func (s *Service) AssetsPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assetsPending
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
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "LogoManifestService", "Initialize", "initialize"))
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
		s.Logger().Error("Invalid logo manifest configuration", "error", err)
		s.Transition(ctx, syncstate.StateError, func(st *syncstate.ConnectionStatus) {
			st.Error = err.Error()
		})
		return errors.Failed(err)
	}

	s.mu.Lock()
	if s.poller != nil {
		s.mu.Unlock()
		return errors.OK("already initialized")
	}
	s.gen++
	gen := s.gen
	p := httppoll.New(cfg.pollConfig(),
		func(ctx context.Context) error { return s.fetch(ctx, gen) },
		httppoll.WithLogger(s.Logger()),
		httppoll.WithClock(s.Clock()),
		httppoll.WithMetrics(s.Metrics()),
	)
	s.poller = p
	s.mu.Unlock()

	if p.Start(context.WithoutCancel(ctx)) {
		return errors.OK("connected")
	}
	if err := p.LastError(); err != nil {
		return errors.Failed(err)
	}
	return errors.OK("polling started")
}

// FetchData triggers a manifest fetch now. It returns false without a
// request when a fetch is already in flight or polling has not started.
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

func (s *Service) downloader(cfg Config) *Downloader {
	return NewDownloader(cfg.CacheDir, s.client, cfg.DownloadWorkers, s.Logger(), s.Metrics())
}

func (s *Service) fetch(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	cfg := s.cfg
	prev := s.manifest.Clone()
	had := s.hasManifest
	pending := s.assetsPending
	s.mu.Unlock()

	body, err := httppoll.Get(ctx, s.client, cfg.URL)
	if err != nil {
		s.recordFailure(ctx, err)
		return err
	}
	if err := ValidateDocument(body); err != nil {
		s.recordFailure(ctx, err)
		return err
	}
	var doc LogoManifest
	if err := json.Unmarshal(body, &doc); err != nil {
		err = errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"LogoManifestService", "fetch", "decode manifest")
		s.recordFailure(ctx, err)
		return err
	}

	now := s.Now()
	if had && doc.Version == prev.Version && !pending {
		s.Logger().Debug("Manifest version unchanged", "version", doc.Version)
		s.markFetched(ctx, gen, now)
		return nil
	}

	doc.Logos = Normalize(doc.Logos)
	paths, dlErr := s.downloader(cfg).Sync(ctx, prev.Logos, doc.Logos)

	s.mu.Lock()
	if gen != s.gen || s.IsDestroyed() {
		s.mu.Unlock()
		return nil
	}
	changed := !had || doc.Version != s.manifest.Version
	s.manifest = doc
	s.hasManifest = true
	s.paths = mergePaths(s.paths, paths, doc.Logos)
	s.assetsPending = dlErr != nil
	s.lastFetch = now
	out := doc.Clone()
	s.mu.Unlock()

	if dlErr != nil {
		s.Logger().Warn("Some logo assets failed to download, retrying next poll",
			"version", doc.Version, "error", dlErr)
	}
	if changed {
		s.announce(ctx, out)
	}
	s.markConnected(ctx, now)
	return nil
}

// mergePaths keeps old paths only for logos still listed, so a logo whose new
// asset failed to download keeps showing its previous file
func mergePaths(old, fresh map[string]string, logos []LogoItem) map[string]string {
	out := make(map[string]string, len(logos))
	for _, l := range logos {
		if p, ok := old[l.ID]; ok {
			out[l.ID] = p
		}
	}
	maps.Copy(out, fresh)
	return out
}

// announce fans a new manifest version out to subscribers and the event bus
func (s *Service) announce(ctx context.Context, m LogoManifest) {
	s.Logger().Info("Logo manifest updated", "version", m.Version, "logos", len(m.Logos))
	s.data.Publish(m)
	s.EmitData(ctx, m)
	if err := s.Emitter().LogoManifestUpdated(ctx, m); err != nil {
		s.Logger().Debug("Manifest event not delivered", "error", err)
	}
	if mt := s.Metrics(); mt != nil {
		mt.RecordManifestUpdate()
	}
}

func (s *Service) markFetched(ctx context.Context, gen uint64, now time.Time) {
	s.mu.Lock()
	if gen != s.gen || s.IsDestroyed() {
		s.mu.Unlock()
		return
	}
	s.lastFetch = now
	s.mu.Unlock()
	s.markConnected(ctx, now)
}

func (s *Service) markConnected(ctx context.Context, now time.Time) {
	s.Transition(ctx, syncstate.StateConnected, func(st *syncstate.ConnectionStatus) {
		st.LastConnected = &now
		st.LastMessage = &now
		st.ReconnectAttempts = 0
		st.Error = ""
	})
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

// UpsertLogo adds or replaces a logo locally, downloads its asset and
// announces the manifest under a new version
func (s *Service) UpsertLogo(ctx context.Context, item LogoItem) errors.Result {
	if s.IsDestroyed() {
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "LogoManifestService", "UpsertLogo", "upsert logo"))
	}
	if item.ID == "" {
		return errors.Failed(errors.WrapInvalid(fmt.Errorf("%w: logo id", errors.ErrInvalidData),
			"LogoManifestService", "UpsertLogo", "check logo"))
	}

	s.mu.Lock()
	cfg := s.cfg
	prev := s.manifest.Logos
	s.mu.Unlock()

	paths, dlErr := s.downloader(cfg).Sync(ctx, prev, []LogoItem{item})
	if dlErr != nil {
		return errors.Failed(dlErr)
	}

	now := s.Now()
	s.mu.Lock()
	if s.IsDestroyed() {
		s.mu.Unlock()
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "LogoManifestService", "UpsertLogo", "upsert logo"))
	}
	m := s.manifest.Clone()
	m.Upsert(item)
	m.Version = NextVersion(m.Version, now)
	m.LastUpdated = now
	s.manifest = m
	s.hasManifest = true
	maps.Copy(s.paths, paths)
	out := m.Clone()
	s.mu.Unlock()

	s.announce(ctx, out)
	return errors.OK("logo " + item.ID + " saved as version " + out.Version)
}

// RemoveLogo deletes a logo locally and announces the manifest under a new
// version. The cached asset is left on disk.
func (s *Service) RemoveLogo(ctx context.Context, id string) errors.Result {
	if s.IsDestroyed() {
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "LogoManifestService", "RemoveLogo", "remove logo"))
	}

	now := s.Now()
	s.mu.Lock()
	m := s.manifest.Clone()
	if !m.Remove(id) {
		s.mu.Unlock()
		return errors.Failed(errors.WrapInvalid(fmt.Errorf("%w: unknown logo %q", errors.ErrInvalidData, id),
			"LogoManifestService", "RemoveLogo", "find logo"))
	}
	m.Version = NextVersion(m.Version, now)
	m.LastUpdated = now
	s.manifest = m
	delete(s.paths, id)
	out := m.Clone()
	s.mu.Unlock()

	s.announce(ctx, out)
	return errors.OK("logo " + id + " removed in version " + out.Version)
}

// Refresh applies the refresh policy and fetches when the manifest is missing
// or stale
func (s *Service) Refresh(ctx context.Context) refresh.Decision {
	s.mu.Lock()
	last := s.lastFetch
	has := s.hasManifest
	s.mu.Unlock()

	d := s.DecideRefresh(last, has)
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
		return errors.Failed(errors.WrapFatal(errors.ErrDestroyed, "LogoManifestService", "UpdateConfig", "update config"))
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
	s.Logger().Info("Logo manifest configuration changed, restarting polling")
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

// Health reports polling state, manifest age and pending asset downloads
func (s *Service) Health() health.Status {
	st := health.FromConnectionStatus(Name, s.TrackedStatus())
	s.mu.Lock()
	last := s.lastFetch
	pending := s.assetsPending
	maxAge := s.cfg.Freshness + s.cfg.PollInterval
	s.mu.Unlock()

	st = health.WithDataAge(st, last, s.Now(), maxAge)
	if pending && st.IsHealthy() {
		st.Status = health.StatusDegraded
		st.Healthy = false
		st.Message += ", logo assets pending"
	}
	return st
}

// Destroy stops polling and drops every subscriber
func (s *Service) Destroy() {
	if !s.MarkDestroyed() {
		return
	}
	s.Disconnect()
	s.data.Clear()
	s.ClearStatusSubscribers()
	s.Logger().Info("Logo manifest service destroyed")
}

var _ service.Facade = (*Service)(nil)
