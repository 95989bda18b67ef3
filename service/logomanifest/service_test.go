package logomanifest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/billboard/events"
	"github.com/c360/billboard/metric"
	"github.com/c360/billboard/pkg/clock"
	"github.com/c360/billboard/pkg/refresh"
	"github.com/c360/billboard/pkg/syncstate"
	"github.com/c360/billboard/service"
	"github.com/c360/billboard/testutil"
)

var testStart = time.Date(2026, 3, 1, 1, 30, 0, 0, time.UTC)

// manifestServer is an assetServer that also serves a manifest document
type manifestServer struct {
	*assetServer
}

func newManifestServer(t *testing.T, version string) *manifestServer {
	t.Helper()
	ms := &manifestServer{assetServer: newAssetServer(t)}
	ms.SetVersion(version)
	return ms
}

func (ms *manifestServer) SetVersion(version string) {
	ms.SetDocument(testutil.LogoManifestJSON(version, ms.URL))
}

func (ms *manifestServer) SetDocument(doc []byte) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.doc = doc
}

func (ms *manifestServer) Requests() int {
	return ms.Hits("/manifest.json")
}

type harness struct {
	svc     *Service
	clock   *clock.Fake
	nats    *testutil.MockNATSClient
	metrics *metric.Metrics
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewFake(testStart),
		nats:    testutil.NewMockNATSClient(),
		metrics: metric.NewMetrics(),
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = t.TempDir()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.svc = New(cfg, service.Dependencies{
		Logger:  logger,
		Metrics: h.metrics,
		Emitter: events.NewBus(logger, h.nats),
		Clock:   h.clock,
	})
	t.Cleanup(h.svc.Destroy)
	return h
}

func configFor(ms *manifestServer) Config {
	return Config{
		URL:        ms.URL + "/manifest.json",
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
	}
}

func (h *harness) manifestEvents() int {
	return h.nats.GetMessageCount(events.SubjectLogoManifestUpdated)
}

func TestService_SameVersionAnnouncedOnce(t *testing.T) {
	ms := newManifestServer(t, "1.0.100")
	h := newHarness(t, configFor(ms))

	var got []LogoManifest
	h.svc.OnDataUpdate(func(m LogoManifest) { got = append(got, m) })
	assert.Empty(t, got, "no replay before the first manifest")

	res := h.svc.Initialize(context.Background())
	require.True(t, res.Success, res.Message)
	require.True(t, h.svc.FetchData(context.Background()))

	assert.Equal(t, 2, ms.Requests())
	require.Len(t, got, 1)
	assert.Equal(t, 1, h.manifestEvents())
	assert.Equal(t, 1, ms.Hits("/logo-a.png"), "unchanged version does not touch assets")
	assert.Equal(t, syncstate.StateConnected, h.svc.State())

	m, ok := h.svc.CurrentData()
	require.True(t, ok)
	assert.Equal(t, "1.0.100", m.Version)
	assert.Equal(t, []string{"logo-a", "logo-b", "logo-c"}, ids(m.Logos))
}


func TestService_EventCarriesManifest(t *testing.T) {
	ms := newManifestServer(t, "1.0.100")
	h := newHarness(t, configFor(ms))
	require.True(t, h.svc.Initialize(context.Background()).Success)

	msgs := h.nats.GetMessages(events.SubjectLogoManifestUpdated)
	require.Len(t, msgs, 1)
	body := string(msgs[0])
	assert.Contains(t, body, `"type":"logo-manifest-updated"`)
	assert.Contains(t, body, `"version":"1.0.100"`)
	assert.Contains(t, body, `"timestamp"`)
}

func TestService_NewVersionReusesCachedAssets(t *testing.T) {
	ms := newManifestServer(t, "1.0.100")
	h := newHarness(t, configFor(ms))
	require.True(t, h.svc.Initialize(context.Background()).Success)

	pathA, ok := h.svc.LocalPath("logo-a")
	require.True(t, ok)
	_, ok = h.svc.LocalPath("logo-c")
	assert.False(t, ok, "inactive logos are not cached")

	ms.SetVersion("1.0.200")
	require.True(t, h.svc.FetchData(context.Background()))

	assert.Equal(t, 2, h.manifestEvents())
	assert.Equal(t, 1, ms.Hits("/logo-a.png"), "same checksum with file on disk is skipped")
	assert.Equal(t, 1, ms.Hits("/logo-b.png"))

	again, ok := h.svc.LocalPath("logo-a")
	require.True(t, ok)
	assert.Equal(t, pathA, again)
}

func TestService_AssetFailureRetriedOnSameVersion(t *testing.T) {
	ms := newManifestServer(t, "1.0.100")
	ms.Fail("/logo-b.png", true)
	h := newHarness(t, configFor(ms))

	res := h.svc.Initialize(context.Background())
	require.True(t, res.Success, "a manifest is applied even when an asset fails")
	assert.True(t, h.svc.AssetsPending())
	assert.Equal(t, 1, h.manifestEvents())
	assert.False(t, h.svc.Health().Healthy)

	ms.Fail("/logo-b.png", false)
	before := ms.Hits("/logo-b.png")
	require.True(t, h.svc.FetchData(context.Background()))

	assert.False(t, h.svc.AssetsPending())
	assert.Equal(t, before+1, ms.Hits("/logo-b.png"))
	assert.Equal(t, 1, h.manifestEvents(), "same version is not announced again")
	_, ok := h.svc.LocalPath("logo-b")
	assert.True(t, ok)
	assert.True(t, h.svc.Health().Healthy)
}

func TestService_SchemaRejection(t *testing.T) {
	ms := newManifestServer(t, "1.0.100")
	ms.SetDocument([]byte(`{"version": "2", "logos": "nope"}`))
	h := newHarness(t, configFor(ms))

	res := h.svc.Initialize(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "does not match schema")
	assert.Equal(t, syncstate.StateReconnecting, h.svc.State())
	_, ok := h.svc.CurrentData()
	assert.False(t, ok)
	assert.Equal(t, 0, h.manifestEvents())

	// a valid document on the scheduled retry recovers
	ms.SetVersion("1.0.100")
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, syncstate.StateConnected, h.svc.State())
	assert.Equal(t, 1, h.manifestEvents())
}

func TestService_SchemaRejectionKeepsPreviousManifest(t *testing.T) {
	ms := newManifestServer(t, "1.0.100")
	h := newHarness(t, configFor(ms))
	require.True(t, h.svc.Initialize(context.Background()).Success)

	ms.SetDocument([]byte(`not json`))
	assert.False(t, h.svc.FetchData(context.Background()))

	m, ok := h.svc.CurrentData()
	require.True(t, ok)
	assert.Equal(t, "1.0.100", m.Version)
}

func TestService_UpsertAndRemoveLogo(t *testing.T) {
	ms := newManifestServer(t, "1.0.100")
	h := newHarness(t, configFor(ms))
	require.True(t, h.svc.Initialize(context.Background()).Success)

	var got []LogoManifest
	h.svc.OnDataUpdate(func(m LogoManifest) { got = append(got, m) })

	res := h.svc.UpsertLogo(context.Background(), LogoItem{
		ID: "logo-new", URL: ms.URL + "/logo-new.png", Filename: "logo-new.png", Priority: 0, Active: true,
	})
	require.True(t, res.Success, res.Message)

	require.Len(t, got, 2)
	m := got[1]
	wantVersion := NextVersion("1.0.100", testStart)
	assert.Equal(t, wantVersion, m.Version)
	assert.Equal(t, []string{"logo-new", "logo-a", "logo-b", "logo-c"}, ids(m.Logos))
	assert.Equal(t, 2, h.manifestEvents())
	_, ok := h.svc.LocalPath("logo-new")
	assert.True(t, ok)

	res = h.svc.RemoveLogo(context.Background(), "logo-a")
	require.True(t, res.Success, res.Message)
	m, _ = h.svc.CurrentData()
	assert.Equal(t, []string{"logo-new", "logo-b", "logo-c"}, ids(m.Logos))
	assert.NotEqual(t, wantVersion, m.Version)
	_, ok = h.svc.LocalPath("logo-a")
	assert.False(t, ok)

	assert.False(t, h.svc.RemoveLogo(context.Background(), "logo-a").Success)
	assert.False(t, h.svc.UpsertLogo(context.Background(), LogoItem{}).Success)
}

func TestService_InvalidConfigThenUpdate(t *testing.T) {
	ms := newManifestServer(t, "1.0.100")
	h := newHarness(t, Config{})

	res := h.svc.Initialize(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "missing required configuration")
	assert.Equal(t, syncstate.StateError, h.svc.State())

	res = h.svc.UpdateConfig(context.Background(), Config{URL: "ftp://nope"})
	assert.False(t, res.Success)
	assert.Equal(t, syncstate.StateError, h.svc.State())

	res = h.svc.UpdateConfig(context.Background(), Config{URL: ms.URL + "/manifest.json"})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, syncstate.StateConnected, h.svc.State())
}

func TestService_RefreshPolicy(t *testing.T) {
	ms := newManifestServer(t, "1.0.100")
	h := newHarness(t, configFor(ms))

	d := h.svc.Refresh(context.Background())
	assert.True(t, d.Fetch)
	assert.Equal(t, refresh.ReasonNoSnapshot, d.Reason)
	assert.Equal(t, syncstate.StateConnected, h.svc.State(), "refresh before init starts polling")

	h.clock.Advance(2 * time.Second)
	d = h.svc.Refresh(context.Background())
	assert.False(t, d.Fetch)
	assert.Equal(t, refresh.ReasonFresh, d.Reason)
	assert.Equal(t, 1, ms.Requests())
}

func TestService_DestroyStopsPolling(t *testing.T) {
	ms := newManifestServer(t, "1.0.100")
	h := newHarness(t, configFor(ms))
	require.True(t, h.svc.Initialize(context.Background()).Success)

	h.svc.Destroy()
	h.svc.Destroy()

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, ms.Requests())
	assert.Equal(t, syncstate.StateDisconnected, h.svc.State())
	assert.False(t, h.svc.Initialize(context.Background()).Success)
	assert.True(t, strings.Contains(h.svc.UpsertLogo(context.Background(), LogoItem{ID: "x"}).Message, "destroyed"))
}
