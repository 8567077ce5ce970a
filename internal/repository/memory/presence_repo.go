package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PresenceRepository tracks timeline viewers in process
type PresenceRepository struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	viewers map[string]map[string]time.Time // conversation -> user -> expiry
}

// NewPresenceRepository creates an empty repository
func NewPresenceRepository(ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{
		ttl:     ttl,
		now:     time.Now,
		viewers: make(map[string]map[string]time.Time),
	}
}

// Join marks userID as viewing the conversation
func (r *PresenceRepository) Join(ctx context.Context, conversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.viewers[conversationID]
	if !ok {
		users = make(map[string]time.Time)
		r.viewers[conversationID] = users
	}
	users[userID] = r.now().Add(r.ttl)
	return nil
}

// Leave removes userID from the conversation's viewers
func (r *PresenceRepository) Leave(ctx context.Context, conversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.viewers[conversationID], userID)
	return nil
}

// Viewers returns the unexpired viewers sorted by id
func (r *PresenceRepository) Viewers(ctx context.Context, conversationID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	ids := make([]string, 0, len(r.viewers[conversationID]))
	for id, expiry := range r.viewers[conversationID] {
		if expiry.Before(now) {
			delete(r.viewers[conversationID], id)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
