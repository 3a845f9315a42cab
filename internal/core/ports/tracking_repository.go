package ports

import (
	"context"

	"github.com/99minutos/tracking-relay/internal/core/domain"
)

// ArchiveRepository stores tracking records of delivered parcels once they
// are evicted from memory.
type ArchiveRepository interface {
	Save(ctx context.Context, t *domain.ParcelTracking) error
	// Find returns domain.ErrParcelNotFound when the parcel was never archived.
	Find(ctx context.Context, parcelID string) (*domain.ParcelTracking, error)
}

// MilestoneAuditRepository is the append-only trail of status changes.
type MilestoneAuditRepository interface {
	Insert(ctx context.Context, change domain.StatusChange) error
	ListByParcel(ctx context.Context, parcelID string) ([]domain.StatusChange, error)
}
