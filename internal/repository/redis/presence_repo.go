package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceRepository tracks who has a conversation timeline open.
// Viewers live in a sorted set scored by expiry so stale entries age out
// without a sweeper.
type PresenceRepository struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *redis.Client, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{client: client, ttl: ttl, now: time.Now}
}

func presenceKey(conversationID string) string {
	return "presence:conversation:" + conversationID
}

// Join marks userID as viewing the conversation; call again to refresh
func (r *PresenceRepository) Join(ctx context.Context, conversationID, userID string) error {
	expiry := r.now().Add(r.ttl).Unix()
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, presenceKey(conversationID), redis.Z{Score: float64(expiry), Member: userID})
	pipe.Expire(ctx, presenceKey(conversationID), 2*r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	return nil
}

// Leave removes userID from the conversation's viewers
func (r *PresenceRepository) Leave(ctx context.Context, conversationID, userID string) error {
	if err := r.client.ZRem(ctx, presenceKey(conversationID), userID).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

// Viewers returns the users whose presence has not expired
func (r *PresenceRepository) Viewers(ctx context.Context, conversationID string) ([]string, error) {
	key := presenceKey(conversationID)
	cutoff := strconv.FormatInt(r.now().Unix(), 10)
	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		return nil, fmt.Errorf("failed to prune presence: %w", err)
	}
	ids, err := r.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get viewers: %w", err)
	}
	return ids, nil
}
