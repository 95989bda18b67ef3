package bannersync

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/billboard/health"
	"github.com/c360/billboard/pkg/clock"
	"github.com/c360/billboard/pkg/refresh"
	"github.com/c360/billboard/pkg/subscription"
	"github.com/c360/billboard/pkg/syncstate"
	"github.com/c360/billboard/service"
	"github.com/c360/billboard/service/logomanifest"
)

var billboardZone = func() *time.Location {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		panic(err)
	}
	return loc
}()

// 2026-03-02 09:00 on the billboard, a Monday
var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, billboardZone)

type fakeSource struct {
	reg       *subscription.Registry[logomanifest.LogoManifest]
	mu        sync.Mutex
	refreshes int
	decision  refresh.Decision
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		reg:      subscription.New[logomanifest.LogoManifest]("fake"),
		decision: refresh.Decision{Reason: refresh.ReasonFresh, Feedback: true},
	}
}

func (f *fakeSource) OnDataUpdate(cb func(logomanifest.LogoManifest)) func() {
	return f.reg.Subscribe(cb)
}

func (f *fakeSource) LocalPath(id string) (string, bool) {
	return "/cache/" + id + ".png", true
}

func (f *fakeSource) Refresh(context.Context) refresh.Decision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.decision
}

func (f *fakeSource) Health() health.Status {
	return health.NewHealthy("logo-manifest", "connected")
}

func manifest(version string, logos ...logomanifest.LogoItem) logomanifest.LogoManifest {
	return logomanifest.LogoManifest{
		Version:  version,
		Logos:    logomanifest.Normalize(logos),
		Settings: logomanifest.Settings{LogoMode: ModeLoop, LogoLoopDuration: 10},
	}
}

func logo(id string, priority int) logomanifest.LogoItem {
	return logomanifest.LogoItem{ID: id, Priority: priority, Active: true}
}

type harness struct {
	svc    *Service
	source *fakeSource
	clock  *clock.Fake
	states []BannerState
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessAt(t, cfg, testStart)
}

func newHarnessAt(t *testing.T, cfg Config, start time.Time) *harness {
	t.Helper()
	h := &harness{source: newFakeSource(), clock: clock.NewFake(start)}
	h.svc = New(h.source, cfg, service.Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  h.clock,
	})
	h.svc.OnDataUpdate(func(s BannerState) { h.states = append(h.states, s) })
	t.Cleanup(h.svc.Destroy)
	return h
}

func (h *harness) current(t *testing.T) string {
	t.Helper()
	st, ok := h.svc.CurrentData()
	require.True(t, ok)
	require.NotNil(t, st.Current)
	return st.Current.ID
}

func TestRotation_Schedules(t *testing.T) {
	m := manifest("1", logo("always", 1), logo("morning", 2), logo("evening", 3),
		logomanifest.LogoItem{ID: "off", Priority: 0})
	m.Settings.Schedules = []logomanifest.Schedule{
		{ID: "am", LogoIDs: []string{"morning"}, StartTime: "06:00", EndTime: "12:00", Enabled: true},
		{ID: "pm", LogoIDs: []string{"evening"}, StartTime: "18:00", EndTime: "23:00", Enabled: true},
		{ID: "old", LogoIDs: []string{"always"}, StartTime: "00:00", EndTime: "00:01", Enabled: false},
	}

	ids := func(now time.Time) []string {
		var out []string
		for _, l := range Rotation(m, now) {
			out = append(out, l.ID)
		}
		return out
	}

	assert.Equal(t, []string{"always", "morning"}, ids(testStart))
	assert.Equal(t, []string{"always", "evening"}, ids(testStart.Add(10*time.Hour)))
	assert.Equal(t, []string{"always"}, ids(testStart.Add(5*time.Hour)))
}

func TestService_WaitsForManifest(t *testing.T) {
	h := newHarness(t, Config{})

	res := h.svc.Initialize(context.Background())
	require.True(t, res.Success)
	assert.Equal(t, "waiting for manifest", res.Message)
	assert.Equal(t, syncstate.StateConnecting, h.svc.State())
	assert.Empty(t, h.states)

	h.source.reg.Publish(manifest("1", logo("a", 1), logo("b", 2)))
	assert.Equal(t, syncstate.StateConnected, h.svc.State())
	require.Len(t, h.states, 1)
	assert.Equal(t, "a", h.states[0].Current.ID)
	assert.Equal(t, "/cache/a.png", h.states[0].CurrentPath)
	assert.Equal(t, 10*time.Second, h.states[0].LoopDuration)

	assert.Equal(t, "already initialized", h.svc.Initialize(context.Background()).Message)
}

func TestService_RotatesOnLoopDuration(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reg.Publish(manifest("1", logo("a", 1), logo("b", 2), logo("c", 3)))
	require.Equal(t, "connected", h.svc.Initialize(context.Background()).Message)

	assert.Equal(t, "a", h.current(t))
	h.clock.Advance(9 * time.Second)
	assert.Equal(t, "a", h.current(t))
	h.clock.Advance(time.Second)
	assert.Equal(t, "b", h.current(t))
	h.clock.Advance(10 * time.Second)
	assert.Equal(t, "c", h.current(t))
	h.clock.Advance(10 * time.Second)
	assert.Equal(t, "a", h.current(t), "rotation wraps")

	st, _ := h.svc.CurrentData()
	assert.Equal(t, 0, st.CurrentIndex)
}

func TestService_SingleModeDoesNotAdvance(t *testing.T) {
	h := newHarness(t, Config{})
	m := manifest("1", logo("a", 1), logo("b", 2))
	m.Settings.LogoMode = ModeSingle
	h.source.reg.Publish(m)
	h.svc.Initialize(context.Background())

	h.clock.Advance(time.Minute)
	assert.Equal(t, "a", h.current(t))
}

func TestService_NewManifestKeepsCurrentLogo(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reg.Publish(manifest("1", logo("a", 1), logo("b", 2)))
	h.svc.Initialize(context.Background())
	h.clock.Advance(10 * time.Second)
	require.Equal(t, "b", h.current(t))

	h.source.reg.Publish(manifest("2", logo("new", 0), logo("a", 1), logo("b", 2)))
	st, _ := h.svc.CurrentData()
	assert.Equal(t, "2", st.ManifestVersion)
	assert.Equal(t, "b", st.Current.ID)
	assert.Equal(t, 2, st.CurrentIndex)

	h.source.reg.Publish(manifest("3", logo("a", 1)))
	assert.Equal(t, "a", h.current(t), "a removed logo falls back to the first")
}

func TestService_ScheduleWindowClosesOnTick(t *testing.T) {
	h := newHarness(t, Config{LoopDuration: time.Minute})
	m := manifest("1", logo("a", 1), logo("promo", 2))
	m.Settings.Schedules = []logomanifest.Schedule{
		{ID: "s", LogoIDs: []string{"promo"}, StartTime: "09:00", EndTime: "09:01", Enabled: true},
	}
	h.source.reg.Publish(m)
	h.svc.Initialize(context.Background())

	st, _ := h.svc.CurrentData()
	assert.Len(t, st.Rotation, 2)
	assert.Equal(t, time.Minute, st.LoopDuration, "config overrides the manifest")

	h.clock.Advance(time.Minute)
	st, _ = h.svc.CurrentData()
	assert.Len(t, st.Rotation, 1)
	assert.Equal(t, "a", st.Current.ID)
}

func TestService_EmptyRotationIsDegraded(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reg.Publish(manifest("1", logomanifest.LogoItem{ID: "off"}))
	h.svc.Initialize(context.Background())

	st, ok := h.svc.CurrentData()
	require.True(t, ok)
	assert.Nil(t, st.Current)
	hs := h.svc.Health()
	assert.True(t, hs.IsDegraded())
	require.Len(t, hs.SubStatuses, 1)
	assert.Equal(t, "logo-manifest", hs.SubStatuses[0].Component)

	h.clock.Advance(time.Minute)
	st, _ = h.svc.CurrentData()
	assert.Nil(t, st.Current)
}

func TestService_RefreshDelegates(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reg.Publish(manifest("1", logo("a", 1)))
	h.svc.Initialize(context.Background())
	before := len(h.states)

	d := h.svc.Refresh(context.Background())
	assert.Equal(t, refresh.ReasonFresh, d.Reason)
	assert.Equal(t, 1, h.source.refreshes)
	assert.Len(t, h.states, before+1)

	h.source.decision = refresh.Decision{Ignored: true, Reason: refresh.ReasonThrottled}
	d = h.svc.Refresh(context.Background())
	assert.True(t, d.Ignored)
	assert.Len(t, h.states, before+1)
}

func TestService_UpdateConfigRestartsTicker(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reg.Publish(manifest("1", logo("a", 1), logo("b", 2)))
	h.svc.Initialize(context.Background())

	res := h.svc.UpdateConfig(context.Background(), Config{LoopDuration: 3 * time.Second})
	require.True(t, res.Success)
	h.clock.Advance(3 * time.Second)
	assert.Equal(t, "b", h.current(t))

	assert.False(t, h.svc.UpdateConfig(context.Background(), Config{LoopDuration: -1}).Success)
}

func TestService_Destroy(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reg.Publish(manifest("1", logo("a", 1), logo("b", 2)))
	h.svc.Initialize(context.Background())
	n := len(h.states)

	h.svc.Destroy()
	h.svc.Destroy()
	assert.Equal(t, 0, h.clock.Pending())
	assert.Equal(t, 0, h.source.reg.Len())

	h.source.reg.Publish(manifest("2", logo("c", 1)))
	h.clock.Advance(time.Minute)
	assert.Len(t, h.states, n)
	assert.Equal(t, syncstate.StateDisconnected, h.svc.State())
	assert.False(t, h.svc.Initialize(context.Background()).Success)
}

func TestService_SchedulesUseBillboardTimezone(t *testing.T) {
	// 02:30 UTC is 09:30 in Ho Chi Minh City
	hostNow := time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC)
	m := manifest("1", logo("a", 1), logo("promo", 2))
	m.Settings.Schedules = []logomanifest.Schedule{
		{ID: "s", LogoIDs: []string{"promo"}, StartTime: "09:00", EndTime: "10:00", Enabled: true},
	}

	tests := []struct {
		name string
		cfg  Config
		want int
	}{
		{"default zone", Config{}, 2},
		{"billboard zone", Config{Timezone: "Asia/Ho_Chi_Minh"}, 2},
		{"utc", Config{Timezone: "UTC"}, 1},
		{"unknown zone falls back", Config{Timezone: "Nowhere/Special"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarnessAt(t, tt.cfg, hostNow)
			h.source.reg.Publish(m)
			require.True(t, h.svc.Initialize(context.Background()).Success)

			st, ok := h.svc.CurrentData()
			require.True(t, ok)
			assert.Len(t, st.Rotation, tt.want)
		})
	}
}

func TestService_UpdateConfigTimezone(t *testing.T) {
	hostNow := time.Date(2026, 3, 2, 2, 30, 0, 0, time.UTC)
	h := newHarnessAt(t, Config{Timezone: "UTC"}, hostNow)
	m := manifest("1", logo("a", 1), logo("promo", 2))
	m.Settings.Schedules = []logomanifest.Schedule{
		{ID: "s", LogoIDs: []string{"promo"}, StartTime: "09:00", EndTime: "10:00", Enabled: true},
	}
	h.source.reg.Publish(m)
	h.svc.Initialize(context.Background())

	st, _ := h.svc.CurrentData()
	require.Len(t, st.Rotation, 1)

	require.True(t, h.svc.UpdateConfig(context.Background(), Config{Timezone: DefaultTimezone}).Success)
	st, _ = h.svc.CurrentData()
	assert.Len(t, st.Rotation, 2)
	assert.Equal(t, "a", st.Current.ID, "current logo is kept")

	res := h.svc.UpdateConfig(context.Background(), Config{Timezone: "Nowhere/Special"})
	assert.False(t, res.Success)
	assert.Equal(t, "configuration unchanged", h.svc.UpdateConfig(context.Background(), Config{Timezone: DefaultTimezone}).Message)
}
