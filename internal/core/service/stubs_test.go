package service

import (
	"context"
	"sync"
	"time"

	"github.com/99minutos/tracking-relay/internal/core/domain"
)

// ---------------------------------------------------------------------------
// Stubs shared by the tracking and ingest tests
// ---------------------------------------------------------------------------

type stubBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
	subs   map[string]int
}

func newStubBroadcaster() *stubBroadcaster {
	return &stubBroadcaster{subs: make(map[string]int)}
}

func (b *stubBroadcaster) Publish(parcelID string, ev domain.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return b.subs[parcelID]
}

func (b *stubBroadcaster) SubscriberCount(parcelID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[parcelID]
}

func (b *stubBroadcaster) ofType(typ domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, ev := range b.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type stubArchive struct {
	saved   map[string]*domain.ParcelTracking
	saveErr error
	findErr error
}

func newStubArchive() *stubArchive {
	return &stubArchive{saved: make(map[string]*domain.ParcelTracking)}
}

func (a *stubArchive) Save(_ context.Context, t *domain.ParcelTracking) error {
	if a.saveErr != nil {
		return a.saveErr
	}
	a.saved[t.ParcelID] = t.Clone()
	return nil
}

func (a *stubArchive) Find(_ context.Context, parcelID string) (*domain.ParcelTracking, error) {
	if a.findErr != nil {
		return nil, a.findErr
	}
	if t, ok := a.saved[parcelID]; ok {
		return t.Clone(), nil
	}
	return nil, domain.ErrParcelNotFound
}

type stubAudit struct {
	insertErr error
	changes   []domain.StatusChange
}

func (a *stubAudit) Insert(_ context.Context, c domain.StatusChange) error {
	if a.insertErr != nil {
		return a.insertErr
	}
	a.changes = append(a.changes, c)
	return nil
}

func (a *stubAudit) ListByParcel(_ context.Context, parcelID string) ([]domain.StatusChange, error) {
	var out []domain.StatusChange
	for _, c := range a.changes {
		if c.ParcelID == parcelID {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubPublisher struct {
	err       error
	published []domain.StatusChange
}

func (p *stubPublisher) PublishStatus(_ context.Context, c domain.StatusChange) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, c)
	return nil
}

type stubMirror struct {
	err      error
	mirrored []domain.DriverLocation
}

func (m *stubMirror) MirrorLocation(_ context.Context, s domain.DriverLocation) error {
	m.mirrored = append(m.mirrored, s)
	return m.err
}

type stubDedup struct {
	dupResult bool
	dupErr    error
	markErr   error
	marked    []string
}

func (d *stubDedup) IsDuplicate(_ context.Context, driverID string, _ time.Time) (bool, error) {
	return d.dupResult, d.dupErr
}

func (d *stubDedup) Mark(_ context.Context, driverID string, ts time.Time) error {
	if d.markErr != nil {
		return d.markErr
	}
	d.marked = append(d.marked, driverID+":"+ts.Format(time.RFC3339Nano))
	return nil
}
