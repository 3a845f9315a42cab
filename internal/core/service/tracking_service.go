package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/geo"
	"github.com/99minutos/tracking-relay/internal/core/ports"
	"github.com/99minutos/tracking-relay/internal/core/store"
	"github.com/99minutos/tracking-relay/internal/metrics"
)

const (
	defaultETASmoothing = 0.3
	defaultETAThreshold = time.Minute
	// Below this smoothed speed the driver is considered stationary and the
	// previous estimate is kept.
	minETASpeed = 0.5
)

// ETAConfig tunes arrival estimation.
type ETAConfig struct {
	// Smoothing is the EWMA weight of the newest speed sample, in (0, 1].
	Smoothing float64
	// Threshold is the minimum change that republishes an estimate.
	Threshold time.Duration
}

type trackingService struct {
	store     *store.Store
	broadcast ports.Broadcaster
	archive   ports.ArchiveRepository
	audit     ports.MilestoneAuditRepository
	publisher ports.StatusPublisher
	mirror    ports.LocationMirror
	eta       ETAConfig
	now       func() time.Time
	log       zerolog.Logger
}

// TrackingOption customises the tracking service.
type TrackingOption func(*trackingService)

// WithStatusPublisher forwards every transition to p.
func WithStatusPublisher(p ports.StatusPublisher) TrackingOption {
	return func(s *trackingService) { s.publisher = p }
}

// WithLocationMirror copies every recorded sample to m.
func WithLocationMirror(m ports.LocationMirror) TrackingOption {
	return func(s *trackingService) { s.mirror = m }
}

// WithETAConfig overrides the arrival estimation parameters.
func WithETAConfig(cfg ETAConfig) TrackingOption {
	return func(s *trackingService) {
		if cfg.Smoothing > 0 && cfg.Smoothing <= 1 {
			s.eta.Smoothing = cfg.Smoothing
		}
		if cfg.Threshold > 0 {
			s.eta.Threshold = cfg.Threshold
		}
	}
}

// WithClock overrides the server clock used for milestone timestamps and ETA.
func WithClock(now func() time.Time) TrackingOption {
	return func(s *trackingService) { s.now = now }
}

// NewTrackingService returns a TrackingService implementation. archive and
// audit may be nil, in which case delivered parcels are simply evicted and no
// audit trail is kept.
func NewTrackingService(
	st *store.Store,
	broadcast ports.Broadcaster,
	archive ports.ArchiveRepository,
	audit ports.MilestoneAuditRepository,
	log zerolog.Logger,
	opts ...TrackingOption,
) ports.TrackingService {
	s := &trackingService{
		store:     st,
		broadcast: broadcast,
		archive:   archive,
		audit:     audit,
		eta:       ETAConfig{Smoothing: defaultETASmoothing, Threshold: defaultETAThreshold},
		now:       func() time.Time { return time.Now().UTC() },
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accept creates the tracking record for a parcel a driver just took.
func (s *trackingService) Accept(ctx context.Context, in ports.AcceptInput) (*domain.ParcelTracking, error) {
	if in.ParcelID == "" || in.DriverID == "" {
		return nil, fmt.Errorf("accept parcel: parcel and driver are required")
	}
	if in.Destination != nil {
		if err := in.Destination.Validate(); err != nil {
			return nil, fmt.Errorf("accept parcel: destination: %w", err)
		}
	}

	// A delivered parcel that was already archived cannot be accepted again.
	if s.archive != nil {
		if _, err := s.archive.Find(ctx, in.ParcelID); err == nil {
			return nil, domain.ErrParcelExists
		} else if !errors.Is(err, domain.ErrParcelNotFound) {
			s.log.Warn().Err(err).Str("parcel_id", in.ParcelID).Msg("archive lookup failed, accepting anyway")
		}
	}

	now := s.now()
	plan := domain.NewMilestonePlan(in.ParcelID)
	plan[0] = domain.CompletedMilestone(in.ParcelID, domain.StatusAccepted, now, nil)

	created, err := s.store.Create(&domain.ParcelTracking{
		ParcelID:    in.ParcelID,
		DriverID:    in.DriverID,
		Destination: in.Destination,
		Status:      domain.StatusAccepted,
		Milestones:  plan,
	})
	if err != nil {
		return nil, fmt.Errorf("accept parcel: %w", err)
	}
	metrics.ActiveParcels.Set(float64(s.store.Len()))

	s.recordChange(ctx, domain.StatusChange{
		ParcelID:  in.ParcelID,
		DriverID:  in.DriverID,
		To:        domain.StatusAccepted,
		Actor:     in.DriverID,
		Timestamp: now,
	})
	s.broadcast.Publish(in.ParcelID, domain.Event{Type: domain.EventParcelTracking, ParcelID: in.ParcelID, Tracking: created})

	s.log.Info().Str("parcel_id", in.ParcelID).Str("driver_id", in.DriverID).Msg("parcel accepted")
	return created, nil
}

// Transition advances the parcel to in.Status. Only the assigned driver or an
// admin may do so, and only to the immediately following status.
func (s *trackingService) Transition(ctx context.Context, in ports.TransitionInput) (*domain.ParcelTracking, error) {
	// 1. Reject unknown statuses before touching state.
	if !in.Status.Valid() {
		metrics.TransitionsTotal.WithLabelValues("unknown", "rejected").Inc()
		return nil, fmt.Errorf("transition: %w: unknown status %q", domain.ErrInvalidTransition, in.Status)
	}

	// 2. Authorize against the current assignment.
	current, err := s.store.Get(in.ParcelID)
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}
	if in.ActorRole != domain.RoleAdmin && (in.ActorRole != domain.RoleDriver || in.ActorID != current.DriverID) {
		return nil, domain.ErrForbidden
	}

	// 3. Apply under the per-parcel lock. The timestamp is always server time.
	loc := in.Location
	if loc == nil {
		loc = current.CurrentLocation
	}
	now := s.now()
	snap, err := s.store.ApplyMilestone(in.ParcelID, domain.CompletedMilestone(in.ParcelID, in.Status, now, loc))
	if err != nil {
		metrics.TransitionsTotal.WithLabelValues(string(in.Status), "rejected").Inc()
		return nil, fmt.Errorf("transition: %w", err)
	}
	metrics.TransitionsTotal.WithLabelValues(string(in.Status), "applied").Inc()

	// 4. Audit trail and downstream publication (non-fatal).
	s.recordChange(ctx, domain.StatusChange{
		ParcelID:  in.ParcelID,
		DriverID:  snap.DriverID,
		From:      current.Status,
		To:        in.Status,
		Actor:     in.ActorID,
		Location:  loc,
		Timestamp: now,
	})

	// 5. Fan out the full snapshot.
	s.broadcast.Publish(in.ParcelID, domain.Event{Type: domain.EventParcelTracking, ParcelID: in.ParcelID, Tracking: snap})

	s.log.Info().
		Str("parcel_id", in.ParcelID).
		Str("from", string(current.Status)).
		Str("to", string(in.Status)).
		Msg("milestone applied")

	// 6. Nobody is watching a delivered parcel: archive it right away.
	if snap.Status.IsTerminal() {
		if _, err := s.ArchiveIfIdle(ctx, in.ParcelID); err != nil {
			s.log.Warn().Err(err).Str("parcel_id", in.ParcelID).Msg("archive after delivery failed")
		}
	}
	return snap, nil
}

// RecordLocation applies an accepted sample to every listed parcel and fans
// out the resulting location and ETA events. Failures are isolated per parcel.
func (s *trackingService) RecordLocation(ctx context.Context, parcelIDs []string, sample domain.DriverLocation) error {
	var errs []error
	for _, parcelID := range parcelIDs {
		var eta *domain.ETAUpdate
		if _, err := s.store.ApplyLocation(parcelID, sample.Location, s.etaMutation(parcelID, sample, &eta)); err != nil {
			errs = append(errs, fmt.Errorf("record location %s: %w", parcelID, err))
			continue
		}

		perParcel := sample
		perParcel.ParcelID = parcelID
		s.broadcast.Publish(parcelID, domain.Event{Type: domain.EventDriverLocation, ParcelID: parcelID, DriverLocation: &perParcel})

		if eta != nil {
			s.broadcast.Publish(parcelID, domain.Event{Type: domain.EventETAUpdate, ParcelID: parcelID, ETA: eta})
		}
	}

	if s.mirror != nil && len(errs) < len(parcelIDs) {
		if err := s.mirror.MirrorLocation(ctx, sample); err != nil {
			metrics.DownstreamErrorsTotal.WithLabelValues("rabbitmq").Inc()
			s.log.Warn().Err(err).Str("driver_id", sample.DriverID).Msg("failed to mirror location")
		}
	}
	return errors.Join(errs...)
}

// etaMutation folds the sample's speed into the parcel's smoothed speed and
// recomputes the arrival estimate. out is set when the estimate moved by at
// least the configured threshold.
func (s *trackingService) etaMutation(parcelID string, sample domain.DriverLocation, out **domain.ETAUpdate) store.Mutation {
	return func(t *domain.ParcelTracking) error {
		if sample.Speed != nil && !sample.Suspect {
			if t.AvgSpeed == 0 {
				t.AvgSpeed = *sample.Speed
			} else {
				a := s.eta.Smoothing
				t.AvgSpeed = a*(*sample.Speed) + (1-a)*t.AvgSpeed
			}
		}
		if t.Destination == nil || t.AvgSpeed < minETASpeed {
			return nil
		}

		remaining := geo.Distance(sample.Latitude, sample.Longitude, t.Destination.Latitude, t.Destination.Longitude)
		now := s.now()
		eta := now.Add(time.Duration(remaining / t.AvgSpeed * float64(time.Second))).Truncate(time.Second)

		prev := t.EstimatedArrival
		if prev != nil && math.Abs(float64(eta.Sub(*prev))) < float64(s.eta.Threshold) {
			return nil
		}

		upd := &domain.ETAUpdate{ParcelID: parcelID, ETA: eta, ComputedAt: now}
		direction := "initial"
		if prev != nil {
			direction = "earlier"
			if eta.After(*prev) {
				direction = "later"
				if delay := int(eta.Sub(*prev).Round(time.Minute) / time.Minute); delay > 0 {
					upd.Delay = &delay
				}
			}
		}
		t.EstimatedArrival = &eta
		*out = upd
		metrics.ETAUpdatesTotal.WithLabelValues(direction).Inc()
		return nil
	}
}

// GetTracking returns the live snapshot, falling back to the archive for
// delivered parcels that were already evicted.
func (s *trackingService) GetTracking(ctx context.Context, parcelID string) (*domain.ParcelTracking, error) {
	snap, err := s.store.Get(parcelID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, domain.ErrParcelNotFound) || s.archive == nil {
		return nil, err
	}

	archived, err := s.archive.Find(ctx, parcelID)
	if err != nil {
		if errors.Is(err, domain.ErrParcelNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get tracking: %w", err)
	}
	return archived, nil
}

// History lists the recorded status changes of a parcel, oldest first.
func (s *trackingService) History(ctx context.Context, parcelID string) ([]domain.StatusChange, error) {
	if s.audit == nil {
		return []domain.StatusChange{}, nil
	}
	changes, err := s.audit.ListByParcel(ctx, parcelID)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if len(changes) == 0 {
		if _, err := s.GetTracking(ctx, parcelID); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

func (s *trackingService) ActiveParcels(driverID string) []string {
	return s.store.ActiveForDriver(driverID)
}

// ArchiveIfIdle evicts a delivered parcel with no subscribers. The record is
// only removed from memory after the archive write succeeded.
func (s *trackingService) ArchiveIfIdle(ctx context.Context, parcelID string) (bool, error) {
	snap, err := s.store.Get(parcelID)
	if err != nil {
		if errors.Is(err, domain.ErrParcelNotFound) {
			return false, nil
		}
		return false, err
	}
	if !snap.Status.IsTerminal() || s.broadcast.SubscriberCount(parcelID) > 0 {
		return false, nil
	}

	if s.archive != nil {
		if err := s.archive.Save(ctx, snap); err != nil {
			metrics.DownstreamErrorsTotal.WithLabelValues("archive").Inc()
			return false, fmt.Errorf("archive parcel: %w", err)
		}
	}
	if _, err := s.store.Remove(parcelID); err != nil && !errors.Is(err, domain.ErrParcelNotFound) {
		return false, err
	}

	metrics.ArchivedParcelsTotal.Inc()
	metrics.ActiveParcels.Set(float64(s.store.Len()))
	s.log.Info().Str("parcel_id", parcelID).Msg("parcel archived")
	return true, nil
}

// recordChange writes the audit entry and publishes the change downstream.
// Neither failure affects the already applied transition.
func (s *trackingService) recordChange(ctx context.Context, change domain.StatusChange) {
	if s.audit != nil {
		if err := s.audit.Insert(ctx, change); err != nil {
			metrics.DownstreamErrorsTotal.WithLabelValues("audit").Inc()
			s.log.Warn().Err(err).Str("parcel_id", change.ParcelID).Msg("failed to insert milestone audit")
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishStatus(ctx, change); err != nil {
			metrics.DownstreamErrorsTotal.WithLabelValues("kafka").Inc()
			s.log.Warn().Err(err).Str("parcel_id", change.ParcelID).Msg("failed to publish status change")
		}
	}
}
