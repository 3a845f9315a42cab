package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupTTL = 10 * time.Minute

// DedupChecker provides idempotency checks for location samples backed by Redis.
// Key format: dedup:loc:<driver_id>:<unix_nano>
type DedupChecker struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewDedupChecker creates a DedupChecker wrapping the given Redis client. A
// non-positive ttl falls back to defaultDedupTTL.
func NewDedupChecker(client redis.Cmdable, ttl time.Duration) *DedupChecker {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &DedupChecker{client: client, ttl: ttl}
}

// IsDuplicate reports whether this exact sample has already been processed.
func (d *DedupChecker) IsDuplicate(ctx context.Context, driverID string, ts time.Time) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKey(driverID, ts)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check: %w", err)
	}
	return n > 0, nil
}

// Mark records that this sample has been processed (expires after ttl).
func (d *DedupChecker) Mark(ctx context.Context, driverID string, ts time.Time) error {
	return d.client.Set(ctx, dedupKey(driverID, ts), "1", d.ttl).Err()
}

func dedupKey(driverID string, ts time.Time) string {
	return fmt.Sprintf("dedup:loc:%s:%d", driverID, ts.UnixNano())
}
