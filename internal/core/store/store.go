// Package store holds the authoritative tracking record of every active parcel.
//
// Each parcel has its own mutex; writers build a new snapshot from a copy and
// publish it through an atomic pointer, so readers never observe a partially
// applied update and never wait on a writer.
package store

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99minutos/tracking-relay/internal/core/domain"
)

// Mutation edits a private copy of a tracking record. Returning an error
// discards the copy.
type Mutation func(t *domain.ParcelTracking) error

type entry struct {
	mu      sync.Mutex
	snap    atomic.Pointer[domain.ParcelTracking]
	removed bool
}

// Store is the per-parcel tracking state table.
type Store struct {
	mu       sync.RWMutex
	parcels  map[string]*entry
	byDriver map[string]map[string]struct{}

	route RoutePolicy
	now   func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store applying the given route policy.
func New(route RoutePolicy, opts ...Option) *Store {
	s := &Store{
		parcels:  make(map[string]*entry),
		byDriver: make(map[string]map[string]struct{}),
		route:    route.normalized(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new tracking record. The record's Version starts at 1.
func (s *Store) Create(t *domain.ParcelTracking) (*domain.ParcelTracking, error) {
	if t == nil || t.ParcelID == "" {
		return nil, fmt.Errorf("create tracking: missing parcel id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.parcels[t.ParcelID]; exists {
		return nil, domain.ErrParcelExists
	}

	snap := t.Clone()
	snap.Version = 1
	snap.UpdatedAt = s.now()
	if snap.Route == nil {
		snap.Route = []domain.Location{}
	}

	e := &entry{}
	e.snap.Store(snap)
	s.parcels[snap.ParcelID] = e

	if snap.DriverID != "" {
		set, ok := s.byDriver[snap.DriverID]
		if !ok {
			set = make(map[string]struct{})
			s.byDriver[snap.DriverID] = set
		}
		set[snap.ParcelID] = struct{}{}
	}
	return snap.Clone(), nil
}

// Get returns a copy of the current snapshot.
func (s *Store) Get(parcelID string) (*domain.ParcelTracking, error) {
	e, ok := s.lookup(parcelID)
	if !ok {
		return nil, domain.ErrParcelNotFound
	}
	return e.snap.Load().Clone(), nil
}

// Update applies fns in order to a copy of the record and publishes the result
// as the new snapshot. Updates to the same parcel are serialized.
func (s *Store) Update(parcelID string, fns ...Mutation) (*domain.ParcelTracking, error) {
	e, ok := s.lookup(parcelID)
	if !ok {
		return nil, domain.ErrParcelNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed {
		return nil, domain.ErrParcelNotFound
	}

	next := e.snap.Load().Clone()
	for _, fn := range fns {
		if err := fn(next); err != nil {
			return nil, err
		}
	}
	next.Version++
	next.UpdatedAt = s.now()
	e.snap.Store(next)

	return next.Clone(), nil
}

// ApplyLocation sets the current location and appends it to the route. Extra
// mutations run in the same critical section, after the location is applied.
func (s *Store) ApplyLocation(parcelID string, loc domain.Location, extra ...Mutation) (*domain.ParcelTracking, error) {
	apply := func(t *domain.ParcelTracking) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("%w: parcel %s already delivered", domain.ErrInvalidSample, parcelID)
		}
		if t.CurrentLocation != nil && loc.Timestamp.Before(t.CurrentLocation.Timestamp) {
			return fmt.Errorf("%w: sample older than current location", domain.ErrInvalidSample)
		}
		cur := loc
		t.CurrentLocation = &cur
		t.Route = s.route.Append(t.Route, loc)
		return nil
	}
	return s.Update(parcelID, append([]Mutation{apply}, extra...)...)
}

// ApplyMilestone completes m and advances the status. Only the immediate next
// status is accepted; anything else returns ErrInvalidTransition unchanged.
func (s *Store) ApplyMilestone(parcelID string, m domain.TrackingMilestone) (*domain.ParcelTracking, error) {
	return s.Update(parcelID, func(t *domain.ParcelTracking) error {
		if !t.Status.CanTransitionTo(m.Status) {
			return fmt.Errorf("%w (from %s to %s)", domain.ErrInvalidTransition, t.Status, m.Status)
		}
		t.Status = m.Status
		for i := range t.Milestones {
			if t.Milestones[i].Status == m.Status {
				if !t.Milestones[i].Completed {
					t.Milestones[i] = m
				}
				return nil
			}
		}
		t.Milestones = append(t.Milestones, m)
		return nil
	})
}

// Remove deletes the record and returns its final snapshot.
func (s *Store) Remove(parcelID string) (*domain.ParcelTracking, error) {
	s.mu.Lock()
	e, ok := s.parcels[parcelID]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrParcelNotFound
	}
	delete(s.parcels, parcelID)
	snap := e.snap.Load()
	if set, ok := s.byDriver[snap.DriverID]; ok {
		delete(set, parcelID)
		if len(set) == 0 {
			delete(s.byDriver, snap.DriverID)
		}
	}
	s.mu.Unlock()

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	return e.snap.Load().Clone(), nil
}

// ActiveForDriver lists the driver's parcels that have not been delivered yet,
// sorted by parcel id.
func (s *Store) ActiveForDriver(driverID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id := range s.byDriver[driverID] {
		if e, ok := s.parcels[id]; ok && !e.snap.Load().Status.IsTerminal() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked parcels.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.parcels)
}

func (s *Store) lookup(parcelID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.parcels[parcelID]
	return e, ok
}
