package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/constants"
)

// BanRepository reads shadow-ban status written by the compliance system.
// Each user has a hash ban:<userId> with fields isActive, banType, reason
// and expiresAt (RFC 3339).
type BanRepository struct {
	client *redis.Client
}

// NewBanRepository creates a new BanRepository
func NewBanRepository(client *redis.Client) *BanRepository {
	return &BanRepository{client: client}
}

func banKey(userID string) string {
	return constants.BanKeyPrefix + userID
}

// GetBanStatus returns the user's ban, or nil when no hash exists
func (r *BanRepository) GetBanStatus(ctx context.Context, userID string) (*domain.BanStatus, error) {
	fields, err := r.client.HGetAll(ctx, banKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get ban status: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	active, _ := strconv.ParseBool(fields["isActive"])
	status := &domain.BanStatus{
		IsActive: active,
		BanType:  domain.BanType(fields["banType"]),
		Reason:   fields["reason"],
	}
	if raw := fields["expiresAt"]; raw != "" {
		expiresAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ban expiry %q: %w", raw, err)
		}
		status.ExpiresAt = &expiresAt
	}
	return status, nil
}

// SetBanStatus writes a ban hash. The compliance system owns these keys;
// this exists for tooling and tests.
func (r *BanRepository) SetBanStatus(ctx context.Context, userID string, status domain.BanStatus) error {
	values := map[string]interface{}{
		"isActive": strconv.FormatBool(status.IsActive),
		"banType":  string(status.BanType),
		"reason":   status.Reason,
	}
	if status.ExpiresAt != nil {
		values["expiresAt"] = status.ExpiresAt.UTC().Format(time.RFC3339)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, banKey(userID))
	pipe.HSet(ctx, banKey(userID), values)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set ban status: %w", err)
	}
	return nil
}

// ClearBanStatus removes the user's ban hash
func (r *BanRepository) ClearBanStatus(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, banKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear ban status: %w", err)
	}
	return nil
}
