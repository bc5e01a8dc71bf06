package schedule

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const claimPrefix = "schedule:claim:v1:"

// ClaimStore marks schedules as being executed so that concurrent sweep
// workers never run the same schedule twice. Claims expire after the TTL
// in case a worker dies mid-execution.
type ClaimStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewClaimStore constructs a Redis-backed claim store.
func NewClaimStore(client *redis.Client, ttl time.Duration) *ClaimStore {
	return &ClaimStore{client: client, ttl: ttl}
}

// Acquire attempts to claim the schedule. It returns false when another
// worker already holds the claim.
func (c *ClaimStore) Acquire(ctx context.Context, scheduleID string) (bool, error) {
	return c.client.SetNX(ctx, claimPrefix+scheduleID, "1", c.ttl).Result()
}

// Release drops the claim. Best effort: an expired claim releases itself.
func (c *ClaimStore) Release(ctx context.Context, scheduleID string) error {
	return c.client.Del(ctx, claimPrefix+scheduleID).Err()
}
