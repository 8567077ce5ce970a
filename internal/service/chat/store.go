package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/cache"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/metrics"
	"portal-messaging/pkg/resilience"
)

// EnhancedStore is the canonical message collection
type EnhancedStore interface {
	Save(ctx context.Context, msg *domain.EnhancedMessage) error
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.EnhancedMessage, error)
	GetByID(ctx context.Context, id string) (*domain.EnhancedMessage, error)
	// AddReadReceipt reports false when the user already had a receipt
	AddReadReceipt(ctx context.Context, id string, receipt domain.ReadReceipt) (bool, error)
	// ApplyEdit reports false when the message was already edited
	ApplyEdit(ctx context.Context, id, content, editedBy string, editedAt time.Time) (bool, error)
}

// LegacyStore is the older message collection kept for availability
type LegacyStore interface {
	Save(ctx context.Context, msg *domain.LegacyMessage) error
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]domain.LegacyMessage, error)
	GetByID(ctx context.Context, id string) (*domain.LegacyMessage, error)
	AddReadReceipt(ctx context.Context, id string, receipt domain.ReadReceipt) (bool, error)
}

// StoreSnapshot is one read of both collections for a conversation
type StoreSnapshot struct {
	Enhanced []domain.EnhancedMessage
	Legacy   []domain.LegacyMessage
	// StaleStores names the stores that could not be read; their slice holds
	// the last good read, if any.
	StaleStores []string
}

// Stale reports whether any store read failed
func (s *StoreSnapshot) Stale() bool {
	return len(s.StaleStores) > 0
}

const (
	storeEnhanced = "enhanced"
	storeLegacy   = "legacy"

	lastGoodTTL     = 15 * time.Minute
	lastGoodEntries = 1000
)

// MessageStoreAdapter puts the two message collections behind one contract.
// Writes go to the enhanced store and fall back to the legacy store on any
// failure, never both. Reads return both collections.
type MessageStoreAdapter struct {
	enhanced EnhancedStore
	legacy   LegacyStore
	breaker  *resilience.CircuitBreaker
	enhGood  *cache.MemoryCache[[]domain.EnhancedMessage]
	legGood  *cache.MemoryCache[[]domain.LegacyMessage]
	metrics  *metrics.Metrics
}

// NewMessageStoreAdapter creates an adapter over both stores
func NewMessageStoreAdapter(enhanced EnhancedStore, legacy LegacyStore) *MessageStoreAdapter {
	return &MessageStoreAdapter{
		enhanced: enhanced,
		legacy:   legacy,
		breaker:  resilience.NewCircuitBreaker("enhanced_store", resilience.DefaultConfig()),
		enhGood:  cache.NewMemoryCache[[]domain.EnhancedMessage](lastGoodTTL, lastGoodEntries),
		legGood:  cache.NewMemoryCache[[]domain.LegacyMessage](lastGoodTTL, lastGoodEntries),
	}
}

// WithBreaker replaces the enhanced-store circuit breaker
func (a *MessageStoreAdapter) WithBreaker(b *resilience.CircuitBreaker) *MessageStoreAdapter {
	a.breaker = b
	return a
}

// WithMetrics records store latency on m
func (a *MessageStoreAdapter) WithMetrics(m *metrics.Metrics) *MessageStoreAdapter {
	a.metrics = m
	return a
}

func (a *MessageStoreAdapter) observe(store, op string, start time.Time, err error) {
	if a.metrics != nil {
		a.metrics.RecordStoreOp(store, op, time.Since(start), err)
	}
}

// Write persists msg and returns which store accepted it
func (a *MessageStoreAdapter) Write(ctx context.Context, msg *domain.EnhancedMessage) (domain.Provenance, error) {
	start := time.Now()
	enhErr := a.breaker.Execute(ctx, "save", func(ctx context.Context) error {
		return a.enhanced.Save(ctx, msg)
	})
	a.observe(storeEnhanced, "save", start, enhErr)
	if enhErr == nil {
		return domain.ProvenanceEnhanced, nil
	}

	logger.FromContext(ctx).Warn("Enhanced store write failed, falling back to legacy store",
		zap.String("message_id", msg.ID),
		zap.String("conversation_id", msg.ConversationID),
		zap.Error(enhErr))
	metrics.MessageSendFallbackTotal.Inc()

	start = time.Now()
	legErr := a.legacy.Save(ctx, msg.ToLegacy())
	a.observe(storeLegacy, "save", start, legErr)
	if legErr != nil {
		return "", errors.StoreUnavailableError("message", fmt.Errorf("enhanced: %v; legacy: %w", enhErr, legErr))
	}
	return domain.ProvenanceLegacy, nil
}

// Snapshot reads both collections. A failed store contributes its last good
// read, or nothing, and is listed in StaleStores.
func (a *MessageStoreAdapter) Snapshot(ctx context.Context, conversationID string, limit int) *StoreSnapshot {
	snap := &StoreSnapshot{}
	var enhErr, legErr error

	start := time.Now()
	snap.Enhanced, enhErr = a.enhanced.ListByConversation(ctx, conversationID, limit)
	a.observe(storeEnhanced, "list", start, enhErr)
	if enhErr != nil {
		snap.StaleStores = append(snap.StaleStores, storeEnhanced)
		metrics.ReconcileStaleSnapshotsTotal.WithLabelValues(storeEnhanced).Inc()
		if e, ok := a.enhGood.Get(conversationID); ok {
			snap.Enhanced = e.Value
		}
	} else {
		a.enhGood.Set(conversationID, snap.Enhanced)
	}

	start = time.Now()
	snap.Legacy, legErr = a.legacy.ListByConversation(ctx, conversationID, limit)
	a.observe(storeLegacy, "list", start, legErr)
	if legErr != nil {
		snap.StaleStores = append(snap.StaleStores, storeLegacy)
		metrics.ReconcileStaleSnapshotsTotal.WithLabelValues(storeLegacy).Inc()
		if e, ok := a.legGood.Get(conversationID); ok {
			snap.Legacy = e.Value
		}
	} else {
		a.legGood.Set(conversationID, snap.Legacy)
	}

	if enhErr != nil || legErr != nil {
		logger.FromContext(ctx).Warn("Serving stale timeline",
			zap.String("conversation_id", conversationID),
			zap.Strings("stale_stores", snap.StaleStores),
			zap.NamedError("enhanced_error", enhErr),
			zap.NamedError("legacy_error", legErr))
	}
	return snap
}

// Find looks a message up in the enhanced store, then the legacy store
func (a *MessageStoreAdapter) Find(ctx context.Context, id string) (*domain.EnhancedMessage, *domain.LegacyMessage, error) {
	enh, enhErr := a.enhanced.GetByID(ctx, id)
	if enhErr == nil {
		return enh, nil, nil
	}
	leg, legErr := a.legacy.GetByID(ctx, id)
	if legErr == nil {
		return nil, leg, nil
	}
	if errors.Is(enhErr, errors.ErrCodeNotFound) && errors.Is(legErr, errors.ErrCodeNotFound) {
		return nil, nil, errors.NotFoundError("Message")
	}
	if !errors.Is(enhErr, errors.ErrCodeNotFound) {
		return nil, nil, errors.StoreUnavailableError("message", enhErr)
	}
	return nil, nil, errors.StoreUnavailableError("message", legErr)
}

// AddReadReceipt records a receipt in whichever store holds the message
func (a *MessageStoreAdapter) AddReadReceipt(ctx context.Context, provenance domain.Provenance, id string, receipt domain.ReadReceipt) (bool, error) {
	if provenance == domain.ProvenanceLegacy {
		return a.legacy.AddReadReceipt(ctx, id, receipt)
	}
	return a.enhanced.AddReadReceipt(ctx, id, receipt)
}

// ApplyEdit edits an enhanced message once
func (a *MessageStoreAdapter) ApplyEdit(ctx context.Context, id, content, editedBy string, editedAt time.Time) (bool, error) {
	return a.enhanced.ApplyEdit(ctx, id, content, editedBy, editedAt)
}
