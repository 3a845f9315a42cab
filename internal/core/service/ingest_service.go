package service

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/geo"
	"github.com/99minutos/tracking-relay/internal/core/ports"
	"github.com/99minutos/tracking-relay/internal/metrics"
)

const (
	defaultMaxSpeed  = 60.0 // m/s
	defaultClockSkew = 2 * time.Second
)

// DedupChecker abstracts the idempotency store (Redis).
type DedupChecker interface {
	IsDuplicate(ctx context.Context, driverID string, ts time.Time) (bool, error)
	Mark(ctx context.Context, driverID string, ts time.Time) error
}

// IngestConfig holds the plausibility limits applied to samples.
type IngestConfig struct {
	MaxSpeed  float64
	ClockSkew time.Duration
}

type ingestService struct {
	tracking ports.TrackingService
	dedup    DedupChecker
	cfg      IngestConfig
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]domain.DriverLocation
}

// NewIngestService returns an IngestService implementation. dedup may be nil.
func NewIngestService(
	tracking ports.TrackingService,
	dedup DedupChecker,
	cfg IngestConfig,
	log zerolog.Logger,
) ports.IngestService {
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = defaultMaxSpeed
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = defaultClockSkew
	}
	return &ingestService{
		tracking: tracking,
		dedup:    dedup,
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]domain.DriverLocation),
	}
}

// Ingest validates, deduplicates, enriches and records a single driver sample.
func (s *ingestService) Ingest(ctx context.Context, sample domain.DriverLocation) (*ports.IngestResult, error) {
	start := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()

	res, err := s.ingest(ctx, sample)
	switch {
	case err != nil:
		metrics.SamplesIngestedTotal.WithLabelValues("rejected").Inc()
		s.log.Debug().Err(err).Str("driver_id", sample.DriverID).Msg("sample rejected")
	case res.Duplicate:
		metrics.SamplesIngestedTotal.WithLabelValues("duplicate").Inc()
	default:
		metrics.SamplesIngestedTotal.WithLabelValues("accepted").Inc()
		if res.Sample.Suspect {
			metrics.SamplesSuspectTotal.Inc()
		}
	}
	return res, err
}

func (s *ingestService) ingest(ctx context.Context, sample domain.DriverLocation) (*ports.IngestResult, error) {
	// 1. Range checks.
	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	sample.Suspect = false

	// 2. The sample must belong to an active assignment.
	parcels, err := s.resolveParcels(sample)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	// 3. Idempotency check: skip duplicates.
	if s.dedup != nil {
		isDup, err := s.dedup.IsDuplicate(ctx, sample.DriverID, sample.Timestamp)
		if err != nil {
			s.log.Warn().Err(err).Str("driver_id", sample.DriverID).Msg("dedup check failed, processing anyway")
		} else if isDup {
			s.log.Debug().Str("driver_id", sample.DriverID).Time("ts", sample.Timestamp).Msg("duplicate sample skipped")
			return &ports.IngestResult{Sample: sample, Parcels: parcels, Duplicate: true}, nil
		}
	}

	// 4. Ordering against the previous accepted sample, then derived fields.
	// Derivation uses the device timestamp, before any clamp forward.
	reported := sample.Timestamp
	if prev, ok := s.last(sample.DriverID); ok {
		if reported.Before(prev.Timestamp.Add(-s.cfg.ClockSkew)) {
			return nil, fmt.Errorf("ingest: %w: sample %s older than last accepted %s",
				domain.ErrInvalidSample, reported.Format(time.RFC3339Nano), prev.Timestamp.Format(time.RFC3339Nano))
		}
		if reported.Before(prev.Timestamp) {
			sample.Timestamp = prev.Timestamp
		}
		s.derive(&sample, prev, reported)
	}
	s.clampSpeed(&sample)

	// 5. Mark as processed before writing (prevents duplicate processing on retry).
	if s.dedup != nil {
		if markErr := s.dedup.Mark(ctx, sample.DriverID, sample.Timestamp); markErr != nil {
			s.log.Warn().Err(markErr).Str("driver_id", sample.DriverID).Msg("failed to set dedup key")
		}
	}

	// 6. Record on every parcel, then remember it as the session location.
	if err := s.tracking.RecordLocation(ctx, parcels, sample); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	s.mu.Lock()
	s.sessions[sample.DriverID] = sample
	s.mu.Unlock()

	if sample.Suspect {
		ev := s.log.Warn().Str("driver_id", sample.DriverID)
		if sample.Speed != nil {
			ev = ev.Float64("speed", *sample.Speed)
		}
		ev.Msg("implausible movement, sample flagged suspect")
	}
	return &ports.IngestResult{Sample: sample, Parcels: parcels}, nil
}

// derive fills speed and heading from the previous sample when the device did
// not report them, and flags position jumps faster than the plausibility limit.
func (s *ingestService) derive(sample *domain.DriverLocation, prev domain.DriverLocation, reported time.Time) {
	dist := geo.Distance(prev.Latitude, prev.Longitude, sample.Latitude, sample.Longitude)
	if sample.Heading == nil && dist > 0 {
		sample.Heading = domain.Float64(geo.Bearing(prev.Latitude, prev.Longitude, sample.Latitude, sample.Longitude))
	}

	elapsed := math.Abs(reported.Sub(prev.Timestamp).Seconds())
	if elapsed == 0 {
		// Moving without time passing.
		if dist > 0 {
			sample.Suspect = true
		}
		return
	}
	derived := dist / elapsed
	if sample.Speed == nil {
		sample.Speed = domain.Float64(derived)
	}
	// A position jump is a GPS glitch even when the device speed looks sane.
	if derived > s.cfg.MaxSpeed {
		sample.Suspect = true
	}
}

// clampSpeed caps any reported or derived speed at the plausibility limit.
func (s *ingestService) clampSpeed(sample *domain.DriverLocation) {
	if sample.Speed != nil && *sample.Speed > s.cfg.MaxSpeed {
		sample.Speed = domain.Float64(s.cfg.MaxSpeed)
		sample.Suspect = true
	}
}

func (s *ingestService) resolveParcels(sample domain.DriverLocation) ([]string, error) {
	active := s.tracking.ActiveParcels(sample.DriverID)
	if sample.ParcelID == "" {
		if len(active) == 0 {
			return nil, fmt.Errorf("%w: driver %s has no active assignment", domain.ErrInvalidSample, sample.DriverID)
		}
		return active, nil
	}
	for _, id := range active {
		if id == sample.ParcelID {
			return []string{id}, nil
		}
	}
	return nil, fmt.Errorf("%w: parcel %s is not assigned to driver %s", domain.ErrInvalidSample, sample.ParcelID, sample.DriverID)
}

func (s *ingestService) last(driverID string) (domain.DriverLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prev, ok := s.sessions[driverID]
	return prev, ok
}

// Current returns the driver's last accepted sample.
func (s *ingestService) Current(driverID string) (*domain.DriverLocation, error) {
	prev, ok := s.last(driverID)
	if !ok {
		return nil, domain.ErrDriverNotFound
	}
	return &prev, nil
}

// EndSession forgets the driver's session location.
func (s *ingestService) EndSession(driverID string) {
	s.mu.Lock()
	delete(s.sessions, driverID)
	s.mu.Unlock()
}
