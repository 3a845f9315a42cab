package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/tracking-relay/internal/core/domain"
	"github.com/99minutos/tracking-relay/internal/core/ports"
)

const auditCollection = "milestone_events"

var auditIndexes = []mongo.IndexModel{
	{Keys: bson.D{{Key: "parcel_id", Value: 1}, {Key: "timestamp", Value: 1}}},
}

// MilestoneAuditRepository implements ports.MilestoneAuditRepository using MongoDB.
type MilestoneAuditRepository struct {
	col *mongo.Collection
}

// NewMilestoneAuditRepository creates a new MilestoneAuditRepository.
func NewMilestoneAuditRepository(db *mongo.Database) ports.MilestoneAuditRepository {
	return &MilestoneAuditRepository{col: db.Collection(auditCollection)}
}

// auditDoc adds the write time to the status change.
type auditDoc struct {
	domain.StatusChange `bson:",inline"`
	RecordedAt          time.Time `bson:"recorded_at"`
}

// Insert persists a status change to the milestone_events audit collection.
func (r *MilestoneAuditRepository) Insert(ctx context.Context, change domain.StatusChange) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	change.Timestamp = change.Timestamp.UTC()
	if _, err := r.col.InsertOne(ctx, auditDoc{StatusChange: change, RecordedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("insert milestone event: %w", err)
	}
	return nil
}

// ListByParcel returns the parcel's status changes, oldest first.
func (r *MilestoneAuditRepository) ListByParcel(ctx context.Context, parcelID string) ([]domain.StatusChange, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := r.col.Find(ctx, bson.M{"parcel_id": parcelID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list milestone events: %w", err)
	}
	defer cur.Close(ctx)

	var docs []auditDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode milestone events: %w", err)
	}

	out := make([]domain.StatusChange, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.StatusChange)
	}
	return out, nil
}
