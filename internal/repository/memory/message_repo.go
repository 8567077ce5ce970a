package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/errors"
)

// EnhancedMessageRepository keeps enhanced messages per conversation
type EnhancedMessageRepository struct {
	mu     sync.RWMutex
	byID   map[string]*domain.EnhancedMessage
	byConv map[string][]string
}

// NewEnhancedMessageRepository creates an empty repository
func NewEnhancedMessageRepository() *EnhancedMessageRepository {
	return &EnhancedMessageRepository{
		byID:   make(map[string]*domain.EnhancedMessage),
		byConv: make(map[string][]string),
	}
}

func cloneEnhanced(m *domain.EnhancedMessage) domain.EnhancedMessage {
	out := *m
	out.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	out.ReadBy = append([]domain.ReadReceipt{}, m.ReadBy...)
	if m.EditedAt != nil {
		at := *m.EditedAt
		out.EditedAt = &at
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Save stores a message
func (r *EnhancedMessageRepository) Save(ctx context.Context, msg *domain.EnhancedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[msg.ID]; !ok {
		r.byConv[msg.ConversationID] = append(r.byConv[msg.ConversationID], msg.ID)
	}
	c := cloneEnhanced(msg)
	c.Provenance = ""
	r.byID[msg.ID] = &c
	return nil
}

// ListByConversation returns up to limit most recent messages, oldest first
func (r *EnhancedMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.EnhancedMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byConv[conversationID]
	out := make([]domain.EnhancedMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneEnhanced(r.byID[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// GetByID retrieves a message by ID
func (r *EnhancedMessageRepository) GetByID(ctx context.Context, id string) (*domain.EnhancedMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, errors.NotFoundError("Message")
	}
	c := cloneEnhanced(m)
	return &c, nil
}

// AddReadReceipt appends a receipt unless the user already has one
func (r *EnhancedMessageRepository) AddReadReceipt(ctx context.Context, id string, receipt domain.ReadReceipt) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return false, errors.NotFoundError("Message")
	}
	if m.IsReadBy(receipt.UserID) {
		return false, nil
	}
	m.ReadBy = append(m.ReadBy, receipt)
	return true, nil
}

// ApplyEdit replaces content once, keeping the original
func (r *EnhancedMessageRepository) ApplyEdit(ctx context.Context, id, content, editedBy string, editedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return false, errors.NotFoundError("Message")
	}
	if m.EditedAt != nil {
		return false, nil
	}
	m.OriginalContent = m.Content
	m.Content = content
	m.EditedBy = editedBy
	at := editedAt
	m.EditedAt = &at
	return true, nil
}

// LegacyMessageRepository keeps legacy records per conversation
type LegacyMessageRepository struct {
	mu     sync.RWMutex
	byID   map[string]*domain.LegacyMessage
	byConv map[string][]string
}

// NewLegacyMessageRepository creates an empty repository
func NewLegacyMessageRepository() *LegacyMessageRepository {
	return &LegacyMessageRepository{
		byID:   make(map[string]*domain.LegacyMessage),
		byConv: make(map[string][]string),
	}
}

func cloneLegacy(m *domain.LegacyMessage) domain.LegacyMessage {
	out := *m
	out.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	out.ReadBy = append([]domain.ReadReceipt(nil), m.ReadBy...)
	if m.Timestamp != nil {
		ts := *m.Timestamp
		out.Timestamp = &ts
	}
	return out
}

// Save stores a legacy record
func (r *LegacyMessageRepository) Save(ctx context.Context, msg *domain.LegacyMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[msg.ID]; !ok {
		r.byConv[msg.ConversationID] = append(r.byConv[msg.ConversationID], msg.ID)
	}
	c := cloneLegacy(msg)
	r.byID[msg.ID] = &c
	return nil
}

// ListByConversation returns up to limit records in insertion order
func (r *LegacyMessageRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.LegacyMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byConv[conversationID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}
	out := make([]domain.LegacyMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneLegacy(r.byID[id]))
	}
	return out, nil
}

// GetByID retrieves a record by ID
func (r *LegacyMessageRepository) GetByID(ctx context.Context, id string) (*domain.LegacyMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, errors.NotFoundError("Message")
	}
	c := cloneLegacy(m)
	return &c, nil
}

// AddReadReceipt appends a receipt unless the user already has one
func (r *LegacyMessageRepository) AddReadReceipt(ctx context.Context, id string, receipt domain.ReadReceipt) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return false, errors.NotFoundError("Message")
	}
	if m.IsReadBy(receipt.UserID) {
		return false, nil
	}
	m.ReadBy = append(m.ReadBy, receipt)
	return true, nil
}
