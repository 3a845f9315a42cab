package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/ports"
)

const (
	archiveCollection = "parcel_archive"
	opTimeout         = 5 * time.Second
)

var archiveIndexes = []mongo.IndexModel{
	{Keys: bson.D{{Key: "driver_id", Value: 1}}},
	{Keys: bson.D{{Key: "updated_at", Value: -1}}},
}

// ArchiveRepository implements ports.ArchiveRepository using MongoDB. The
// tracking record is stored as-is, keyed by parcel id.
type ArchiveRepository struct {
	col *mongo.Collection
}

// NewArchiveRepository creates a new ArchiveRepository.
func NewArchiveRepository(db *mongo.Database) ports.ArchiveRepository {
	return &ArchiveRepository{col: db.Collection(archiveCollection)}
}

// Save upserts the final snapshot so retried archivals are harmless.
func (r *ArchiveRepository) Save(ctx context.Context, t *domain.ParcelTracking) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": t.ParcelID}, t, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("archive %s: %w", t.ParcelID, err)
	}
	return nil
}

func (r *ArchiveRepository) Find(ctx context.Context, parcelID string) (*domain.ParcelTracking, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var t domain.ParcelTracking
	if err := r.col.FindOne(ctx, bson.M{"_id": parcelID}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrParcelNotFound
		}
		return nil, fmt.Errorf("find archived %s: %w", parcelID, err)
	}
	return &t, nil
}
