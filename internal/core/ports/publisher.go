package ports

import (
	"context"

	"github.com/99minutos/tracking-relay/internal/core/domain"
)

// StatusPublisher forwards lifecycle transitions to downstream consumers.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, change domain.StatusChange) error
}

// LocationMirror copies accepted driver samples to downstream consumers.
type LocationMirror interface {
	MirrorLocation(ctx context.Context, sample domain.DriverLocation) error
}

// Broadcaster fans events out to the connections following a parcel.
type Broadcaster interface {
	Publish(parcelID string, ev domain.Event) int
	SubscriberCount(parcelID string) int
}
