package ports

import (
	"context"

	"github.com/99minutos/tracking-relay/internal/core/domain"
)

// AcceptInput carries a driver's acceptance of a parcel.
type AcceptInput struct {
	ParcelID    string
	DriverID    string
	Destination *domain.Location
}

// TransitionInput requests a lifecycle advance on behalf of an actor.
type TransitionInput struct {
	ParcelID  string
	Status    domain.ParcelStatus
	ActorID   string
	ActorRole string
	Location  *domain.Location
}

// TrackingService owns the lifecycle of parcel tracking records.
type TrackingService interface {
	Accept(ctx context.Context, in AcceptInput) (*domain.ParcelTracking, error)
	Transition(ctx context.Context, in TransitionInput) (*domain.ParcelTracking, error)
	RecordLocation(ctx context.Context, parcelIDs []string, sample domain.DriverLocation) error
	GetTracking(ctx context.Context, parcelID string) (*domain.ParcelTracking, error)
	History(ctx context.Context, parcelID string) ([]domain.StatusChange, error)
	ActiveParcels(driverID string) []string
	ArchiveIfIdle(ctx context.Context, parcelID string) (bool, error)
}

// IngestResult describes what happened to a location sample.
type IngestResult struct {
	Sample    domain.DriverLocation `json:"sample"`
	Parcels   []string              `json:"parcels"`
	Duplicate bool                  `json:"duplicate"`
}

// IngestService validates driver samples and feeds them to tracking.
type IngestService interface {
	Ingest(ctx context.Context, sample domain.DriverLocation) (*IngestResult, error)
	Current(driverID string) (*domain.DriverLocation, error)
	EndSession(driverID string)
}
