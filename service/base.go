package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/c360/billboard/events"
	"github.com/c360/billboard/metric"
	"github.com/c360/billboard/pkg/clock"
	"github.com/c360/billboard/pkg/refresh"
	"github.com/c360/billboard/pkg/subscription"
	"github.com/c360/billboard/pkg/syncstate"
)

// Dependencies are the process-wide collaborators handed to every facade
type Dependencies struct {
	Logger  *slog.Logger
	Metrics *metric.Metrics
	Emitter events.Emitter
	Clock   clock.Clock
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Emitter == nil {
		d.Emitter = events.Discard
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	return d
}

// Base carries the plumbing every facade shares: logging, metrics, the event
// emitter, the refresh policy, the status registry and the destroyed flag.
type Base struct {
	name    string
	logger  *slog.Logger
	metrics *metric.Metrics
	emitter events.Emitter
	clock   clock.Clock
	policy  *refresh.Policy

	status    *subscription.Registry[syncstate.ConnectionStatus]
	tracker   *syncstate.Tracker
	destroyed atomic.Bool
}

// NewBase creates the shared plumbing for the facade called name
func NewBase(name string, deps Dependencies, policy refresh.Config) *Base {
	deps = deps.withDefaults()
	b := &Base{
		name:    name,
		logger:  deps.Logger.With("service", name),
		metrics: deps.Metrics,
		emitter: deps.Emitter,
		clock:   deps.Clock,
		policy:  refresh.NewPolicy(policy),
		tracker: syncstate.NewTracker(),
	}
	b.status = NewRegistry[syncstate.ConnectionStatus](b, name+".status")
	return b
}

// NewRegistry creates a subscription registry that logs through b and counts
// callback panics on b's metrics
func NewRegistry[T any](b *Base, name string) *subscription.Registry[T] {
	return subscription.New[T](name,
		subscription.WithLogger[T](b.logger),
		subscription.WithPanicHandler[T](func(registry string, _ any) {
			if b.metrics != nil {
				b.metrics.RecordCallbackPanic(registry)
			}
		}),
	)
}

// Name returns the facade name
func (b *Base) Name() string {
	return b.name
}

// Logger returns the facade logger
func (b *Base) Logger() *slog.Logger {
	return b.logger
}

// Metrics returns the core metrics, which may be nil
func (b *Base) Metrics() *metric.Metrics {
	return b.metrics
}

// Clock returns the facade clock
func (b *Base) Clock() clock.Clock {
	return b.clock
}

// Now is shorthand for Clock().Now()
func (b *Base) Now() time.Time {
	return b.clock.Now()
}

// Policy returns the refresh policy
func (b *Base) Policy() *refresh.Policy {
	return b.policy
}

// IsDestroyed reports whether Destroy has run. Snapshot writes check this
// first so late network results are dropped.
func (b *Base) IsDestroyed() bool {
	return b.destroyed.Load()
}

// MarkDestroyed flips the destroyed flag and reports whether this call did it.
// The call that flips it emits a final disconnected status on the event
// emitter; local status subscribers are not called.
func (b *Base) MarkDestroyed() bool {
	if !b.destroyed.CompareAndSwap(false, true) {
		return false
	}

	st, ok := b.status.Current()
	if !ok {
		st = b.tracker.Snapshot()
	}
	st = st.Clone()
	st.State = syncstate.StateDisconnected
	st.Connected = false
	if b.metrics != nil {
		b.metrics.RecordServiceState(b.name, int(st.State))
	}
	if err := b.emitter.StatusUpdate(context.Background(), b.name, st); err != nil {
		b.logger.Debug("Final status event not delivered", "error", err)
	}
	return true
}

// OnStatusUpdate subscribes to connection status changes
func (b *Base) OnStatusUpdate(cb func(syncstate.ConnectionStatus)) func() {
	return b.status.Subscribe(cb)
}

// LastStatus returns the last published status
func (b *Base) LastStatus() (syncstate.ConnectionStatus, bool) {
	return b.status.Current()
}

// PublishStatus fans a status change out to subscribers, the event emitter
// and the state gauge
func (b *Base) PublishStatus(ctx context.Context, st syncstate.ConnectionStatus) {
	if b.IsDestroyed() {
		return
	}
	b.status.Publish(st)
	if b.metrics != nil {
		b.metrics.RecordServiceState(b.name, int(st.State))
	}
	if err := b.emitter.StatusUpdate(ctx, b.name, st); err != nil {
		b.logger.Debug("Status event not delivered", "error", err)
	}
}

// TrackedStatus returns the status kept by Transition. Facades whose transport
// tracks its own status do not use it.
func (b *Base) TrackedStatus() syncstate.ConnectionStatus {
	return b.tracker.Snapshot()
}

// Transition moves the kept status to the given state and publishes it. An
// illegal transition is logged and dropped.
func (b *Base) Transition(ctx context.Context, to syncstate.State, mutate func(*syncstate.ConnectionStatus)) bool {
	st, err := b.tracker.Transition(to, mutate)
	if err != nil {
		b.logger.Debug("Ignoring state change", "error", err)
		return false
	}
	b.PublishStatus(ctx, st)
	return true
}

// UpdateStatus mutates the kept status without a state change and publishes it
func (b *Base) UpdateStatus(ctx context.Context, mutate func(*syncstate.ConnectionStatus)) {
	b.PublishStatus(ctx, b.tracker.Update(mutate))
}

// EmitData forwards a snapshot to the event emitter
func (b *Base) EmitData(ctx context.Context, snapshot any) {
	if err := b.emitter.DataUpdate(ctx, b.name, snapshot); err != nil {
		b.logger.Debug("Data event not delivered", "error", err)
	}
}

// Emitter returns the event emitter
func (b *Base) Emitter() events.Emitter {
	return b.emitter
}

// DecideRefresh applies the refresh policy to a manual refresh request
func (b *Base) DecideRefresh(lastUpdated time.Time, hasSnapshot bool) refresh.Decision {
	d := b.policy.Decide(b.clock.Now(), lastUpdated, hasSnapshot, true)
	b.logger.Debug("Refresh requested", "fetch", d.Fetch, "reason", d.Reason)
	return d
}

// ClearStatusSubscribers drops every status subscriber
func (b *Base) ClearStatusSubscribers() {
	b.status.Clear()
}

// StatusSubscribers returns the number of status subscribers
func (b *Base) StatusSubscribers() int {
	return b.status.Len()
}
