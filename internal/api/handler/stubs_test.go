package handler

import (
	"context"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/tracking-relay/internal/api/middleware"
	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/ports"
)

// ----------------------------------------------------------------------------
// Tracking service stub
// ----------------------------------------------------------------------------

type stubTracking struct {
	mu         sync.Mutex
	parcels    map[string]*domain.ParcelTracking
	history    map[string][]domain.StatusChange
	accepted   []ports.AcceptInput
	transition []ports.TransitionInput
	err        error
}

func newStubTracking() *stubTracking {
	return &stubTracking{
		parcels: make(map[string]*domain.ParcelTracking),
		history: make(map[string][]domain.StatusChange),
	}
}

func (s *stubTracking) Accept(_ context.Context, in ports.AcceptInput) (*domain.ParcelTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.accepted = append(s.accepted, in)
	t := &domain.ParcelTracking{ParcelID: in.ParcelID, DriverID: in.DriverID, Status: domain.StatusAccepted, Destination: in.Destination, Version: 1}
	s.parcels[in.ParcelID] = t
	return t, nil
}

func (s *stubTracking) Transition(_ context.Context, in ports.TransitionInput) (*domain.ParcelTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.transition = append(s.transition, in)
	t, ok := s.parcels[in.ParcelID]
	if !ok {
		return nil, domain.ErrParcelNotFound
	}
	t.Status = in.Status
	return t, nil
}

func (s *stubTracking) RecordLocation(context.Context, []string, domain.DriverLocation) error {
	return nil
}

func (s *stubTracking) GetTracking(_ context.Context, parcelID string) (*domain.ParcelTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.parcels[parcelID]
	if !ok {
		return nil, domain.ErrParcelNotFound
	}
	return t.Clone(), nil
}

func (s *stubTracking) History(_ context.Context, parcelID string) ([]domain.StatusChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parcels[parcelID]; !ok {
		return nil, domain.ErrParcelNotFound
	}
	return s.history[parcelID], nil
}

func (s *stubTracking) ActiveParcels(string) []string { return nil }

func (s *stubTracking) ArchiveIfIdle(context.Context, string) (bool, error) { return false, nil }

// ----------------------------------------------------------------------------
// Ingest stubs
// ----------------------------------------------------------------------------

type stubIngest struct {
	mu      sync.Mutex
	current map[string]*domain.DriverLocation
	ended   []string
}

func newStubIngest() *stubIngest {
	return &stubIngest{current: make(map[string]*domain.DriverLocation)}
}

func (s *stubIngest) Ingest(context.Context, domain.DriverLocation) (*ports.IngestResult, error) {
	return nil, nil
}

func (s *stubIngest) Current(driverID string) (*domain.DriverLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.current[driverID]
	if !ok {
		return nil, domain.ErrDriverNotFound
	}
	return loc, nil
}

func (s *stubIngest) EndSession(driverID string) {
	s.mu.Lock()
	s.ended = append(s.ended, driverID)
	s.mu.Unlock()
}

func (s *stubIngest) endedSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ended...)
}

type stubSubmitter struct {
	mu      sync.Mutex
	samples []domain.DriverLocation
	err     error
}

func (s *stubSubmitter) Submit(_ context.Context, sample domain.DriverLocation) (*ports.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.samples = append(s.samples, sample)
	return &ports.IngestResult{Sample: sample, Parcels: []string{sample.ParcelID}}, nil
}

func (s *stubSubmitter) received() []domain.DriverLocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DriverLocation(nil), s.samples...)
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// as injects the claims the Auth middleware would have set.
func as(sub, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.CtxSubject, sub)
			c.Set(middleware.CtxUsername, sub)
			c.Set(middleware.CtxRole, role)
			return next(c)
		}
	}
}
