package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portal-messaging/internal/domain"
	"portal-messaging/internal/fanout"
	"portal-messaging/pkg/constants"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/metrics"
)

// ConversationAccess is the slice of the conversation service the message
// pipeline depends on
type ConversationAccess interface {
	GetConversation(ctx context.Context, caller domain.Caller, id string) (*domain.Conversation, error)
	RecordIncomingMessage(ctx context.Context, conversationID string, msg *domain.EnhancedMessage) error
}

// AttachmentChecker re-checks attachment references bound to a message
type AttachmentChecker interface {
	Check(att domain.Attachment) error
}

// Config holds message pipeline limits
type Config struct {
	MaxContentLength int
	DedupWindow      time.Duration
	TimelineLimit    int
}

// DefaultConfig returns the standard limits
func DefaultConfig() Config {
	return Config{
		MaxContentLength: constants.MaxMessageLength,
		DedupWindow:      constants.DedupWindow,
		TimelineLimit:    constants.DefaultMessagePageSize,
	}
}

// Service handles chat business logic
type Service struct {
	store         *MessageStoreAdapter
	conversations ConversationAccess
	broker        fanout.Broker
	attachments   AttachmentChecker
	cfg           Config
	now           func() time.Time
}

// NewService creates a new chat service
func NewService(
	store *MessageStoreAdapter,
	conversations ConversationAccess,
	broker fanout.Broker,
	cfg Config,
) *Service {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = constants.MaxMessageLength
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = constants.DedupWindow
	}
	if cfg.TimelineLimit <= 0 {
		cfg.TimelineLimit = constants.DefaultMessagePageSize
	}
	return &Service{
		store:         store,
		conversations: conversations,
		broker:        broker,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetAttachmentChecker enables attachment re-validation on send
func (s *Service) SetAttachmentChecker(c AttachmentChecker) {
	s.attachments = c
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SendMessageInput contains message data
type SendMessageInput struct {
	ConversationID string
	Content        string
	Priority       domain.Priority
	Department     string
	ReplyTo        string
	Attachments    []domain.Attachment
}

// SendMessageOutput contains sent message info
type SendMessageOutput struct {
	Message    *domain.EnhancedMessage
	Provenance domain.Provenance
}

// SendMessage validates and stores a message, then updates the conversation
// preview and notifies subscribers.
func (s *Service) SendMessage(ctx context.Context, caller domain.Caller, input *SendMessageInput) (out *SendMessageOutput, err error) {
	defer func() {
		if err != nil {
			code := string(errors.CodeOf(err))
			if code == "" {
				code = string(errors.ErrCodeInternal)
			}
			metrics.MessageSendFailedTotal.WithLabelValues(code).Inc()
		}
	}()

	if err := s.validateContent(input.Content, len(input.Attachments) > 0); err != nil {
		return nil, err
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("Invalid priority %q", priority))
	}
	if s.attachments != nil {
		for _, att := range input.Attachments {
			if err := s.attachments.Check(att); err != nil {
				return nil, err
			}
		}
	}

	conv, err := s.conversations.GetConversation(ctx, caller, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller.UserID) {
		return nil, errors.PermissionError("Only participants can send messages to this conversation")
	}
	if conv.Status == domain.StatusArchived {
		return nil, errors.InvalidTransitionError(string(conv.Status), "send a message to")
	}

	if input.ReplyTo != "" {
		if err := s.checkReplyTarget(ctx, conv.ID, input.ReplyTo); err != nil {
			return nil, err
		}
	}

	msg := &domain.EnhancedMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       caller.UserID,
		SenderName:     caller.DisplayName,
		SenderRole:     caller.Role,
		Content:        input.Content,
		Timestamp:      s.now(),
		ReplyTo:        input.ReplyTo,
		Attachments:    append([]domain.Attachment(nil), input.Attachments...),
		Priority:       priority,
		Status:         domain.MessageSent,
		Department:     input.Department,
		ReadBy:         []domain.ReadReceipt{},
		MessageType:    domain.MessageTypeText,
	}

	provenance, err := s.accept(ctx, msg)
	if err != nil {
		return nil, err
	}
	return &SendMessageOutput{Message: msg, Provenance: provenance}, nil
}

// PostSystemMessage stores an engine-authored message through the same
// write path as user messages. Membership is not checked.
func (s *Service) PostSystemMessage(ctx context.Context, msg *domain.EnhancedMessage) (*domain.EnhancedMessage, error) {
	if msg.ConversationID == "" {
		return nil, errors.ValidationError("Conversation id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if msg.MessageType == "" {
		msg.MessageType = domain.MessageTypeSystem
	}
	if msg.Priority == "" {
		msg.Priority = domain.PriorityMedium
	}
	if msg.Status == "" {
		msg.Status = domain.MessageSent
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []domain.ReadReceipt{}
	}

	if _, err := s.accept(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// accept writes msg, refreshes the conversation preview and publishes
func (s *Service) accept(ctx context.Context, msg *domain.EnhancedMessage) (domain.Provenance, error) {
	provenance, err := s.store.Write(ctx, msg)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to store message",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return "", err
	}
	metrics.MessagesSentTotal.WithLabelValues(string(provenance), string(msg.MessageType)).Inc()

	if err := s.conversations.RecordIncomingMessage(ctx, msg.ConversationID, msg); err != nil {
		// The message is durable; the preview catches up on the next accepted message.
		metrics.PreviewUpdateFailedTotal.Inc()
		logger.FromContext(ctx).Error("Failed to update conversation preview",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}

	s.publish(ctx, fanout.EventMessageCreated, msg.ConversationID, msg.ID)

	logger.FromContext(ctx).Debug("Message accepted",
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID),
		zap.String("provenance", string(provenance)),
		zap.String("message_type", string(msg.MessageType)))
	return provenance, nil
}

func (s *Service) publish(ctx context.Context, eventType, conversationID, messageID string) {
	if s.broker == nil {
		return
	}
	err := s.broker.Publish(ctx, fanout.Event{
		Topic:          fanout.ConversationTopic(conversationID),
		Type:           eventType,
		ConversationID: conversationID,
		MessageID:      messageID,
		At:             s.now(),
	})
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to publish fan-out event",
			zap.String("conversation_id", conversationID),
			zap.String("event", eventType),
			zap.Error(err))
	}
}

func (s *Service) validateContent(content string, hasAttachments bool) error {
	if strings.TrimSpace(content) == "" && !hasAttachments {
		return errors.ValidationError("Message content or an attachment is required")
	}
	if n := utf8.RuneCountInString(content); n > s.cfg.MaxContentLength {
		return errors.ValidationError(fmt.Sprintf("Message is %d characters; the limit is %d", n, s.cfg.MaxContentLength))
	}
	return nil
}

func (s *Service) checkReplyTarget(ctx context.Context, conversationID, replyTo string) error {
	enh, leg, err := s.store.Find(ctx, replyTo)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return errors.ValidationError("Reply target does not exist")
		}
		return err
	}
	target := ""
	if enh != nil {
		target = enh.ConversationID
	} else {
		target = leg.ConversationID
	}
	if target != conversationID {
		return errors.ValidationError("Reply target belongs to another conversation")
	}
	return nil
}

// MarkRead adds the caller to the message's readBy set. Repeating the call
// is a no-op. Messages from either store can be marked.
func (s *Service) MarkRead(ctx context.Context, caller domain.Caller, messageID string) error {
	enh, leg, err := s.store.Find(ctx, messageID)
	if err != nil {
		return err
	}

	provenance := domain.ProvenanceEnhanced
	conversationID := ""
	alreadyRead := false
	if enh != nil {
		conversationID = enh.ConversationID
		alreadyRead = enh.IsReadBy(caller.UserID)
	} else {
		provenance = domain.ProvenanceLegacy
		conversationID = leg.ConversationID
		alreadyRead = leg.IsReadBy(caller.UserID)
	}

	if _, err := s.conversations.GetConversation(ctx, caller, conversationID); err != nil {
		return err
	}
	if alreadyRead {
		metrics.MessageReadReceiptsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	added, err := s.store.AddReadReceipt(ctx, provenance, messageID, domain.ReadReceipt{
		UserID:   caller.UserID,
		UserName: caller.DisplayName,
		ReadAt:   s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	if !added {
		metrics.MessageReadReceiptsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	metrics.MessageReadReceiptsTotal.WithLabelValues("added").Inc()
	s.publish(ctx, fanout.EventMessageRead, conversationID, messageID)
	return nil
}

// EditMessage replaces the content of the caller's own message once.
// The first content is kept in originalContent.
func (s *Service) EditMessage(ctx context.Context, caller domain.Caller, messageID, content string) (*domain.EnhancedMessage, error) {
	if err := s.validateContent(content, false); err != nil {
		return nil, err
	}

	enh, _, err := s.store.Find(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if enh == nil {
		return nil, errors.ValidationError("Messages from the legacy store cannot be edited")
	}
	if enh.SenderID != caller.UserID {
		return nil, errors.PermissionError("Only the sender can edit a message")
	}
	if enh.MessageType != domain.MessageTypeText {
		return nil, errors.ValidationError("System messages cannot be edited")
	}
	if enh.EditedAt != nil {
		return nil, errors.ValidationError("Message has already been edited")
	}
	conv, err := s.conversations.GetConversation(ctx, caller, enh.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == domain.StatusArchived {
		return nil, errors.InvalidTransitionError(string(conv.Status), "edit a message in")
	}

	editedAt := s.now()
	applied, err := s.store.ApplyEdit(ctx, messageID, content, caller.UserID, editedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to edit message: %w", err)
	}
	if !applied {
		return nil, errors.ValidationError("Message has already been edited")
	}

	enh.OriginalContent = enh.Content
	enh.Content = content
	enh.EditedAt = &editedAt
	enh.EditedBy = caller.UserID

	s.publish(ctx, fanout.EventMessageEdited, enh.ConversationID, enh.ID)
	return enh, nil
}
