// Package memory holds process-local store implementations used by the
// single-node backend and by tests.
package memory

import (
	"context"
	"net/http"
	"sync"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/errors"
)

// ConversationRepository keeps conversation documents in a map.
// Update holds the write lock for the whole read-modify-write.
type ConversationRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.Conversation
	order []string
}

// NewConversationRepository creates an empty repository
func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{items: make(map[string]*domain.Conversation)}
}

// Create stores a new conversation
func (r *ConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[conv.ID]; ok {
		return errors.NewWithStatus(errors.ErrCodeValidation, "conversation already exists", http.StatusConflict)
	}
	r.items[conv.ID] = conv.Clone()
	r.order = append(r.order, conv.ID)
	return nil
}

// Get retrieves a conversation by ID
func (r *ConversationRepository) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, errors.NotFoundError("Conversation")
	}
	return c.Clone(), nil
}

// List returns every conversation in creation order
func (r *ConversationRepository) List(ctx context.Context) ([]*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Conversation, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id].Clone())
	}
	return out, nil
}

// ListByParticipant returns conversations userID belongs to
func (r *ConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Conversation
	for _, id := range r.order {
		if c := r.items[id]; c.HasParticipant(userID) {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// Update applies fn to a copy and swaps it in only if fn succeeds
func (r *ConversationRepository) Update(ctx context.Context, id string, fn func(*domain.Conversation) error) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[id]
	if !ok {
		return nil, errors.NotFoundError("Conversation")
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.items[id] = next
	return next.Clone(), nil
}
