package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"portal-messaging/internal/domain"
	"portal-messaging/internal/fanout"
	"portal-messaging/internal/service/reconcile"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/metrics"
)

// TimelineSnapshot is the reconciled message list of one conversation
type TimelineSnapshot struct {
	ConversationID string                   `json:"conversationId"`
	Conversation   *domain.Conversation     `json:"conversation,omitempty"`
	Messages       []domain.EnhancedMessage `json:"messages"`
	Stale          bool                     `json:"stale"`
	StaleStores    []string                 `json:"staleStores,omitempty"`
	GeneratedAt    time.Time                `json:"generatedAt"`
}

// Timeline returns the reconciled timeline if the caller can see the conversation
func (s *Service) Timeline(ctx context.Context, caller domain.Caller, conversationID string) (*TimelineSnapshot, error) {
	conv, err := s.conversations.GetConversation(ctx, caller, conversationID)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, conv), nil
}

func (s *Service) build(ctx context.Context, conv *domain.Conversation) *TimelineSnapshot {
	snap := s.store.Snapshot(ctx, conv.ID, s.cfg.TimelineLimit)
	res := reconcile.ReconcileWithWindow(snap.Enhanced, snap.Legacy, s.cfg.DedupWindow)
	if res.DuplicatesDropped > 0 {
		metrics.ReconcileDuplicatesDroppedTotal.Add(float64(res.DuplicatesDropped))
	}
	return &TimelineSnapshot{
		ConversationID: conv.ID,
		Conversation:   conv,
		Messages:       res.Messages,
		Stale:          snap.Stale(),
		StaleStores:    snap.StaleStores,
		GeneratedAt:    s.now(),
	}
}

// SubscribeTimeline pushes a fresh reconciled snapshot to fn on subscription
// and after every change to the conversation. Calls to fn are serialized.
// The subscription ends when ctx is done, when the caller loses visibility,
// or on Unsubscribe.
func (s *Service) SubscribeTimeline(ctx context.Context, caller domain.Caller, conversationID string, fn func(*TimelineSnapshot)) (*fanout.Subscription, error) {
	if s.broker == nil {
		return nil, errors.InternalError("Realtime updates are not configured")
	}
	if _, err := s.conversations.GetConversation(ctx, caller, conversationID); err != nil {
		return nil, err
	}

	var sub *fanout.Subscription
	ready := make(chan struct{})
	sub = s.broker.Subscribe(fanout.ConversationTopic(conversationID), func(ev fanout.Event) {
		<-ready
		if ev.Type == fanout.EventPresenceChanged {
			return
		}
		conv, err := s.conversations.GetConversation(ctx, caller, conversationID)
		if err != nil {
			if errors.Is(err, errors.ErrCodeNotFound) {
				sub.Unsubscribe()
				return
			}
			logger.FromContext(ctx).Warn("Failed to refresh conversation for subscriber",
				zap.String("conversation_id", conversationID),
				zap.String("event", ev.Type),
				zap.Error(err))
			return
		}
		fn(s.build(ctx, conv))
	})
	close(ready)
	sub.Push(fanout.Event{
		Topic:          sub.Topic(),
		Type:           fanout.EventSubscribed,
		ConversationID: conversationID,
		At:             s.now(),
	})

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

// UnreadCount counts timeline messages neither sent nor read by the caller
func (s *Service) UnreadCount(ctx context.Context, caller domain.Caller, conversationID string) (int, error) {
	tl, err := s.Timeline(ctx, caller, conversationID)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range tl.Messages {
		m := &tl.Messages[i]
		if m.SenderID != caller.UserID && !m.IsReadBy(caller.UserID) {
			n++
		}
	}
	return n, nil
}

// MarkConversationRead marks every unread message of the timeline as read
// by the caller and returns how many receipts were added
func (s *Service) MarkConversationRead(ctx context.Context, caller domain.Caller, conversationID string) (int, error) {
	tl, err := s.Timeline(ctx, caller, conversationID)
	if err != nil {
		return 0, err
	}

	receipt := domain.ReadReceipt{UserID: caller.UserID, UserName: caller.DisplayName, ReadAt: s.now()}
	added := 0
	for i := range tl.Messages {
		m := &tl.Messages[i]
		if m.SenderID == caller.UserID || m.IsReadBy(caller.UserID) {
			continue
		}
		ok, err := s.store.AddReadReceipt(ctx, m.Provenance, m.ID, receipt)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}

	if added > 0 {
		metrics.MessageReadReceiptsTotal.WithLabelValues("added").Add(float64(added))
		s.publish(ctx, fanout.EventMessageRead, conversationID, "")
	}
	return added, nil
}
