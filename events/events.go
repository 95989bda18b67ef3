// Package events defines the envelopes the synchronization services emit to
// outward surfaces (NATS subjects, WebSocket clients) and the Bus that fans
// them out.
package events

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/billboard/errors"
)

// Envelope types
const (
	TypeDataUpdate          = "data-update"
	TypeStatusUpdate        = "status-update"
	TypeLogoManifestUpdated = "logo-manifest-updated"
)

// SubjectLogoManifestUpdated carries {manifest, timestamp} after a manifest sync
const SubjectLogoManifestUpdated = "billboard.events.logo-manifest-updated"

// SnapshotSubject is where a domain's data updates are published
func SnapshotSubject(domain string) string {
	return "billboard.snapshot." + domain
}

// StatusSubject is where a domain's connection status changes are published
func StatusSubject(domain string) string {
	return "billboard.status." + domain
}

// RefreshSubject is where other processes request a manual refresh of a
// domain. The payload is ignored.
func RefreshSubject(domain string) string {
	return "billboard.refresh." + domain
}

// Envelope wraps every outbound payload
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Domain    string          `json:"domain,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope with a fresh ID
func NewEnvelope(typ, domain string, payload any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.WrapInvalid(err, "events", "NewEnvelope", "marshal "+typ)
	}
	return Envelope{
		Type:      typ,
		ID:        uuid.NewString(),
		Domain:    domain,
		Timestamp: now.UTC(),
		Payload:   raw,
	}, nil
}

// ManifestUpdated is the payload of a logo-manifest-updated envelope
type ManifestUpdated struct {
	Manifest  any       `json:"manifest"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers an encoded envelope on a subject. natsclient.Client and
// the WebSocket hub both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Emitter is what the facades depend on
type Emitter interface {
	DataUpdate(ctx context.Context, domain string, snapshot any) error
	StatusUpdate(ctx context.Context, domain string, status any) error
	LogoManifestUpdated(ctx context.Context, manifest any) error
}

// Bus fans envelopes out to every attached Publisher. Delivery is best
// effort: a failing publisher is logged and does not stop the others.
type Bus struct {
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	publishers []Publisher
}

// NewBus creates a bus over the given publishers
func NewBus(logger *slog.Logger, publishers ...Publisher) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:     logger.With("component", "event-bus"),
		now:        time.Now,
		publishers: publishers,
	}
}

// Attach adds a publisher
func (b *Bus) Attach(p Publisher) {
	if p == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishers = append(b.publishers, p)
}

// Len returns the number of attached publishers
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.publishers)
}

// Emit encodes env and publishes it on subject to every publisher. The
// returned error joins every publisher failure.
func (b *Bus) Emit(ctx context.Context, subject string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "Bus", "Emit", "marshal envelope")
	}

	b.mu.RLock()
	pubs := make([]Publisher, len(b.publishers))
	copy(pubs, b.publishers)
	b.mu.RUnlock()

	var errs []error
	for _, p := range pubs {
		if err := p.Publish(ctx, subject, data); err != nil {
			b.logger.Debug("Publish failed", "subject", subject, "type", env.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// DataUpdate publishes a domain snapshot
func (b *Bus) DataUpdate(ctx context.Context, domain string, snapshot any) error {
	env, err := NewEnvelope(TypeDataUpdate, domain, snapshot, b.now())
	if err != nil {
		return err
	}
	return b.Emit(ctx, SnapshotSubject(domain), env)
}

// StatusUpdate publishes a domain connection status
func (b *Bus) StatusUpdate(ctx context.Context, domain string, status any) error {
	env, err := NewEnvelope(TypeStatusUpdate, domain, status, b.now())
	if err != nil {
		return err
	}
	return b.Emit(ctx, StatusSubject(domain), env)
}

// LogoManifestUpdated publishes the logo-manifest-updated event
func (b *Bus) LogoManifestUpdated(ctx context.Context, manifest any) error {
	now := b.now()
	env, err := NewEnvelope(TypeLogoManifestUpdated, "logo-manifest",
		ManifestUpdated{Manifest: manifest, Timestamp: now.UTC()}, now)
	if err != nil {
		return err
	}
	return b.Emit(ctx, SubjectLogoManifestUpdated, env)
}

// Discard is an Emitter that drops everything
var Discard Emitter = discard{}

type discard struct{}

func (discard) DataUpdate(context.Context, string, any) error   { return nil }
func (discard) StatusUpdate(context.Context, string, any) error { return nil }
func (discard) LogoManifestUpdated(context.Context, any) error  { return nil }
