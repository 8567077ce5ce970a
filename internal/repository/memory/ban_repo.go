package memory

import (
	"context"
	"sync"

	"portal-messaging/internal/domain"
)

// BanRepository is a settable ban lookup for single-node deployments and tests
type BanRepository struct {
	mu   sync.RWMutex
	bans map[string]domain.BanStatus
}

// NewBanRepository creates an empty repository
func NewBanRepository() *BanRepository {
	return &BanRepository{bans: make(map[string]domain.BanStatus)}
}

// Set records a ban for userID
func (r *BanRepository) Set(userID string, status domain.BanStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bans[userID] = status
}

// GetBanStatus returns the ban for userID, or nil when none is recorded
func (r *BanRepository) GetBanStatus(ctx context.Context, userID string) (*domain.BanStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bans[userID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}
