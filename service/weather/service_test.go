package weather

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/billboard/events"
	"github.com/c360/billboard/metric"
	"github.com/c360/billboard/pkg/clock"
	"github.com/c360/billboard/pkg/refresh"
	"github.com/c360/billboard/pkg/retry"
	"github.com/c360/billboard/pkg/syncstate"
	"github.com/c360/billboard/service"
	"github.com/c360/billboard/testutil"
)

// 01:30 UTC is 08:30 in Ho Chi Minh City
var testStart = time.Date(2026, 3, 1, 1, 30, 0, 0, time.UTC)

type forecastServer struct {
	*httptest.Server
	requests atomic.Int32
	fail     atomic.Bool
	blocking atomic.Bool
	started  chan struct{}
	release  chan struct{}
}

func newForecastServer(t *testing.T, code int) *forecastServer {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)
	body := testutil.OpenMeteoResponse(testStart.In(loc), 32.4, 7.2, code)

	fs := &forecastServer{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.requests.Add(1)
		if fs.blocking.Load() {
			fs.started <- struct{}{}
			select {
			case <-fs.release:
			case <-r.Context().Done():
				return
			}
		}
		if fs.fail.Load() {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(fs.Close)
	return fs
}

// block makes requests wait until the returned release func is called
func (fs *forecastServer) block() func() {
	fs.blocking.Store(true)
	var once sync.Once
	return func() { once.Do(func() { close(fs.release) }) }
}

type harness struct {
	svc   *Service
	clock *clock.Fake
	nats  *testutil.MockNATSClient
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock: clock.NewFake(testStart),
		nats:  testutil.NewMockNATSClient(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.svc = New(cfg, service.Dependencies{
		Logger:  logger,
		Metrics: metric.NewMetrics(),
		Emitter: events.NewBus(logger, h.nats),
		Clock:   h.clock,
	})
	t.Cleanup(h.svc.Destroy)
	return h
}

func configFor(fs *forecastServer) Config {
	return Config{
		BaseURL:    fs.URL,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
	}
}

func TestService_StartsWithFallback(t *testing.T) {
	h := newHarness(t, Config{})

	var got []WeatherSnapshot
	h.svc.OnDataUpdate(func(s WeatherSnapshot) { got = append(got, s) })

	require.Len(t, got, 1, "subscribers see the fallback immediately")
	assert.True(t, got[0].IsFallback)
	assert.Equal(t, syncstate.StateUninitialized, h.svc.State())
}

func TestService_FetchReplacesSnapshot(t *testing.T) {
	fs := newForecastServer(t, 3)
	h := newHarness(t, configFor(fs))

	var got []WeatherSnapshot
	h.svc.OnDataUpdate(func(s WeatherSnapshot) { got = append(got, s) })

	res := h.svc.Initialize(context.Background())
	require.True(t, res.Success, res.Message)
	assert.Equal(t, syncstate.StateConnected, h.svc.State())
	assert.Equal(t, int32(1), fs.requests.Load())

	require.Len(t, got, 2)
	s := got[1]
	assert.False(t, s.IsFallback)
	assert.Equal(t, "Ho Chi Minh City", s.CityName)
	assert.Equal(t, 32.4, s.Temperature)
	assert.Equal(t, 7.2, s.WindSpeed)
	assert.Equal(t, 3, s.WeatherCode)
	assert.Equal(t, "Overcast", s.WeatherCondition)
	// hour 8 of the fixture
	assert.Equal(t, 68.0, s.Humidity)
	assert.InDelta(t, 30.8, s.FeelsLike, 1e-9)
	assert.Equal(t, 4.0, s.UVIndex)
	assert.Equal(t, 8.0, s.RainProbability)
	assert.Equal(t, 9200.0, s.Visibility)
	assert.Equal(t, 2, s.AQI)
	assert.Equal(t, "fair", s.AirQuality)
	assert.Equal(t, testStart, s.LastUpdated)

	assert.Equal(t, 1, h.nats.GetMessageCount(events.SnapshotSubject(Name)))

	again := h.svc.Initialize(context.Background())
	assert.Equal(t, "already initialized", again.Message)
	assert.Equal(t, int32(1), fs.requests.Load())
}

func TestService_OverlappingFetchesMakeOneRequest(t *testing.T) {
	fs := newForecastServer(t, 0)
	release := fs.block()
	defer release()
	h := newHarness(t, configFor(fs))

	var updates atomic.Int32
	h.svc.OnDataUpdate(func(WeatherSnapshot) { updates.Add(1) })

	done := make(chan bool)
	go func() {
		done <- h.svc.Initialize(context.Background()).Success
	}()

	select {
	case <-fs.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first fetch never reached the server")
	}

	assert.False(t, h.svc.FetchData(context.Background()), "second fetch must be skipped")
	release()
	require.True(t, <-done)

	assert.Equal(t, int32(1), fs.requests.Load())
	assert.Equal(t, int32(2), updates.Load(), "fallback replay plus one replacement")
	assert.Equal(t, int64(1), h.svc.Poller().Skipped())
}

func TestService_RetriesThenFallback(t *testing.T) {
	fs := newForecastServer(t, 0)
	fs.fail.Store(true)
	h := newHarness(t, configFor(fs))

	var got []WeatherSnapshot
	h.svc.OnDataUpdate(func(s WeatherSnapshot) { got = append(got, s) })

	res := h.svc.Initialize(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, syncstate.StateReconnecting, h.svc.State())
	assert.True(t, h.svc.Poller().RetryPending())

	h.clock.Advance(5 * time.Second)
	assert.Equal(t, int32(2), fs.requests.Load())
	h.clock.Advance(10 * time.Second)
	assert.Equal(t, int32(3), fs.requests.Load())

	assert.Equal(t, retry.StateFallback, h.svc.Poller().BackoffState())
	assert.False(t, h.svc.Poller().RetryPending())
	require.Len(t, got, 2)
	assert.True(t, got[1].IsFallback)
	assert.Equal(t, 3, h.svc.ConnectionStatus().ReconnectAttempts)

	// the interval keeps polling and recovers
	fs.fail.Store(false)
	h.clock.Advance(10 * time.Minute)
	assert.Equal(t, syncstate.StateConnected, h.svc.State())
	assert.False(t, h.svc.CurrentData().IsFallback)
}

func TestService_FallbackKeepsLastLiveForecast(t *testing.T) {
	fs := newForecastServer(t, 1)
	h := newHarness(t, configFor(fs))
	require.True(t, h.svc.Initialize(context.Background()).Success)

	fs.fail.Store(true)
	h.clock.Advance(10 * time.Minute)
	h.clock.Advance(5 * time.Second)
	h.clock.Advance(10 * time.Second)
	require.Equal(t, int32(4), fs.requests.Load())

	s := h.svc.CurrentData()
	assert.False(t, s.IsFallback)
	assert.Equal(t, testStart, s.LastUpdated)
	assert.True(t, h.svc.Health().IsDegraded())
}

func TestService_RefreshHonoursPolicy(t *testing.T) {
	fs := newForecastServer(t, 0)
	cfg := configFor(fs)
	cfg.PollInterval = time.Hour
	h := newHarness(t, cfg)
	require.True(t, h.svc.Initialize(context.Background()).Success)

	d := h.svc.Refresh(context.Background())
	assert.False(t, d.Fetch)
	assert.Equal(t, refresh.ReasonFresh, d.Reason)
	assert.True(t, d.Feedback)

	h.clock.Advance(500 * time.Millisecond)
	d = h.svc.Refresh(context.Background())
	assert.True(t, d.Ignored)
	assert.Equal(t, int32(1), fs.requests.Load())

	h.clock.Advance(11 * time.Minute)
	d = h.svc.Refresh(context.Background())
	assert.True(t, d.Fetch)
	assert.Equal(t, refresh.ReasonStale, d.Reason)
	assert.Equal(t, int32(2), fs.requests.Load())
}

func TestService_RefreshBeforeInitializeStartsPolling(t *testing.T) {
	fs := newForecastServer(t, 0)
	h := newHarness(t, configFor(fs))

	d := h.svc.Refresh(context.Background())
	assert.True(t, d.Fetch)
	assert.Equal(t, refresh.ReasonNoSnapshot, d.Reason)
	assert.Equal(t, syncstate.StateConnected, h.svc.State())
}

func TestService_InvalidConfigThenUpdate(t *testing.T) {
	fs := newForecastServer(t, 0)
	cfg := configFor(fs)
	cfg.Latitude = 200
	cfg.Longitude = 10
	h := newHarness(t, cfg)

	res := h.svc.Initialize(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, syncstate.StateError, h.svc.State())
	assert.Zero(t, fs.requests.Load())

	res = h.svc.UpdateConfig(context.Background(), Config{Latitude: 10.8, Longitude: 106.6})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, syncstate.StateConnected, h.svc.State())
	assert.Equal(t, int32(1), fs.requests.Load())
}

func TestService_UpdateConfigRestartsPolling(t *testing.T) {
	fs := newForecastServer(t, 0)
	h := newHarness(t, configFor(fs))
	require.True(t, h.svc.Initialize(context.Background()).Success)
	first := h.svc.Poller()

	res := h.svc.UpdateConfig(context.Background(), Config{})
	assert.Equal(t, "configuration unchanged", res.Message)
	assert.Same(t, first, h.svc.Poller())

	res = h.svc.UpdateConfig(context.Background(), Config{City: "Hanoi", Latitude: 21.03, Longitude: 105.85})
	require.True(t, res.Success)
	assert.NotSame(t, first, h.svc.Poller())
	assert.Equal(t, "Hanoi", h.svc.CurrentData().CityName)
	assert.Equal(t, int32(2), fs.requests.Load())
}

func TestService_DestroyDiscardsInFlightResponse(t *testing.T) {
	fs := newForecastServer(t, 0)
	release := fs.block()
	defer release()
	h := newHarness(t, configFor(fs))

	var updates atomic.Int32
	h.svc.OnDataUpdate(func(WeatherSnapshot) { updates.Add(1) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.svc.Initialize(context.Background())
	}()
	<-fs.started

	h.svc.Destroy()
	release()
	<-done

	assert.Equal(t, int32(1), updates.Load())
	assert.True(t, h.svc.CurrentData().IsFallback)
	assert.Equal(t, syncstate.StateDisconnected, h.svc.State())
	assert.Zero(t, h.clock.Pending())
	assert.NotPanics(t, h.svc.Destroy)
}
