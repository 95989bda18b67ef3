package httppoll

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/billboard/pkg/clock"
	"github.com/c360/billboard/pkg/retry"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Name:       "test",
		Interval:   10 * time.Minute,
		Timeout:    time.Second,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
	}
}

func TestPoller_OverlappingFetchesRunOnce(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32

	p := New(testConfig(), func(ctx context.Context) error {
		calls.Add(1)
		close(entered)
		<-release
		return nil
	}, WithClock(clock.NewFake(epoch)))

	var wg sync.WaitGroup
	wg.Add(1)
	var first bool
	go func() {
		defer wg.Done()
		first = p.FetchData(context.Background())
	}()

	<-entered
	assert.True(t, p.InFlight())
	assert.False(t, p.FetchData(context.Background()), "overlapping call must be skipped")

	close(release)
	wg.Wait()

	assert.True(t, first)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), p.Skipped())
	assert.False(t, p.InFlight())
}

func TestPoller_StartFetchesImmediatelyThenOnInterval(t *testing.T) {
	fake := clock.NewFake(epoch)
	var calls atomic.Int32
	p := New(testConfig(), func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, WithClock(fake))

	require.True(t, p.Start(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, epoch, p.LastSuccess())

	fake.Advance(10 * time.Minute)
	assert.Equal(t, int32(2), calls.Load())

	fake.Advance(20 * time.Minute)
	assert.Equal(t, int32(4), calls.Load())

	p.Stop()
	fake.Advance(time.Hour)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 0, fake.Pending())
}

func TestPoller_RetriesWithBackoffThenFallback(t *testing.T) {
	fake := clock.NewFake(epoch)
	var calls atomic.Int32
	var fallbacks atomic.Int32

	p := New(testConfig(), func(ctx context.Context) error {
		calls.Add(1)
		return fmt.Errorf("connection refused")
	}, WithClock(fake), WithFallback(func() { fallbacks.Add(1) }))

	assert.False(t, p.FetchData(context.Background()))
	assert.True(t, p.RetryPending())
	assert.Equal(t, retry.StateRetrying, p.BackoffState())

	// First retry after 5s
	fake.Advance(4 * time.Second)
	assert.Equal(t, int32(1), calls.Load())
	fake.Advance(time.Second)
	assert.Equal(t, int32(2), calls.Load())

	// Second retry after 10s, which is the third consecutive failure
	fake.Advance(10 * time.Second)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(1), fallbacks.Load())
	assert.False(t, p.RetryPending())
	assert.Equal(t, retry.StateFallback, p.BackoffState())

	// Counter reset: nothing more is scheduled until the next trigger
	fake.Advance(time.Hour)
	assert.Equal(t, int32(3), calls.Load())
	assert.Error(t, p.LastError())
}

func TestPoller_SuccessCancelsPendingRetry(t *testing.T) {
	fake := clock.NewFake(epoch)
	var fail atomic.Bool
	fail.Store(true)
	var calls atomic.Int32

	p := New(testConfig(), func(ctx context.Context) error {
		calls.Add(1)
		if fail.Load() {
			return fmt.Errorf("timeout")
		}
		return nil
	}, WithClock(fake))

	assert.False(t, p.FetchData(context.Background()))
	require.True(t, p.RetryPending())

	fail.Store(false)
	assert.True(t, p.FetchData(context.Background()), "manual refresh")
	assert.False(t, p.RetryPending())
	assert.Equal(t, retry.StateIdle, p.BackoffState())
	assert.NoError(t, p.LastError())

	fake.Advance(time.Minute)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPoller_RetryOutlivesManualRefreshContext(t *testing.T) {
	for _, started := range []bool{false, true} {
		t.Run(fmt.Sprintf("started=%v", started), func(t *testing.T) {
			fake := clock.NewFake(epoch)
			var fail atomic.Bool
			var calls, deadCtx atomic.Int32

			p := New(testConfig(), func(ctx context.Context) error {
				calls.Add(1)
				if ctx.Err() != nil {
					deadCtx.Add(1)
					return ctx.Err()
				}
				if fail.Load() {
					return fmt.Errorf("connection refused")
				}
				return nil
			}, WithClock(fake))

			if started {
				require.True(t, p.Start(context.Background()))
				defer p.Stop()
			}

			fail.Store(true)
			reqCtx, cancel := context.WithCancel(context.Background())
			assert.False(t, p.FetchData(reqCtx))
			cancel()
			require.True(t, p.RetryPending())

			fail.Store(false)
			fake.Advance(5 * time.Second)

			assert.Equal(t, int32(0), deadCtx.Load())
			assert.NoError(t, p.LastError())
			assert.Equal(t, retry.StateIdle, p.BackoffState())
			assert.False(t, p.RetryPending())
		})
	}
}

func TestPoller_StopMakesTriggersNoops(t *testing.T) {
	fake := clock.NewFake(epoch)
	var calls atomic.Int32
	p := New(testConfig(), func(ctx context.Context) error {
		calls.Add(1)
		return fmt.Errorf("boom")
	}, WithClock(fake))

	p.Start(context.Background())
	require.True(t, p.RetryPending())

	p.Stop()
	p.Stop()
	assert.False(t, p.RetryPending())
	assert.False(t, p.FetchData(context.Background()))

	fake.Advance(time.Hour)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoller_StopCancelsInFlightFetch(t *testing.T) {
	entered := make(chan struct{})
	p := New(testConfig(), func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}, WithClock(clock.NewFake(epoch)))

	done := make(chan bool)
	go func() {
		done <- p.Start(context.Background())
	}()

	<-entered
	p.Stop()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not cancelled by Stop")
	}
	assert.False(t, p.RetryPending())
}

func TestPoller_Defaults(t *testing.T) {
	p := New(Config{}, func(context.Context) error { return nil })
	assert.Equal(t, DefaultConfig().Interval, p.cfg.Interval)
	assert.Equal(t, DefaultConfig().MaxRetries, p.cfg.MaxRetries)
	assert.Equal(t, retry.MaxScheduledDelay, p.cfg.MaxRetryDelay)
}
