package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portal-messaging/internal/domain"
	"portal-messaging/internal/fanout"
	"portal-messaging/pkg/constants"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/sanitize"
)

// Repository persists conversation documents.
//
// Update must run fn against the current stored document and persist the
// result atomically. If fn returns an error nothing is written and the error
// is returned unchanged. Concurrent Updates on one id are serialized.
type Repository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	Get(ctx context.Context, id string) (*domain.Conversation, error)
	List(ctx context.Context) ([]*domain.Conversation, error)
	ListByParticipant(ctx context.Context, userID string) ([]*domain.Conversation, error)
	Update(ctx context.Context, id string, fn func(*domain.Conversation) error) (*domain.Conversation, error)
}

// MessagePoster injects engine-authored messages into a conversation
type MessagePoster interface {
	PostSystemMessage(ctx context.Context, msg *domain.EnhancedMessage) (*domain.EnhancedMessage, error)
}

// Service owns conversation metadata, membership, visibility and the
// escalation lifecycle.
type Service struct {
	repo          Repository
	poster        MessagePoster
	publisher     fanout.Publisher
	previewLength int
	now           func() time.Time
}

// NewService creates a new conversation service
func NewService(repo Repository) *Service {
	return &Service{
		repo:          repo,
		previewLength: constants.MessagePreviewLength,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetMessagePoster wires the component that stores system messages.
// The chat service depends on this one, so it is attached after construction.
func (s *Service) SetMessagePoster(p MessagePoster) {
	s.poster = p
}

// SetPublisher notifies subscribers of metadata changes
func (s *Service) SetPublisher(p fanout.Publisher) {
	s.publisher = p
}

func (s *Service) notify(ctx context.Context, conv *domain.Conversation) {
	if s.publisher == nil || conv == nil {
		return
	}
	err := s.publisher.Publish(ctx, fanout.Event{
		Topic:          fanout.ConversationTopic(conv.ID),
		Type:           fanout.EventConversationUpdated,
		ConversationID: conv.ID,
		At:             s.now(),
	})
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to publish conversation update",
			zap.String("conversation_id", conv.ID),
			zap.Error(err))
	}
}

// SetPreviewLength overrides the lastMessage preview length
func (s *Service) SetPreviewLength(n int) {
	if n > 0 {
		s.previewLength = n
	}
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) newAudit(action domain.AuditAction, by domain.Caller, details map[string]interface{}) domain.ConversationAuditEntry {
	return domain.ConversationAuditEntry{
		ID:              uuid.NewString(),
		Action:          action,
		PerformedBy:     by.UserID,
		PerformedByName: by.DisplayName,
		PerformedByRole: by.Role,
		Timestamp:       s.now(),
		Details:         details,
	}
}

// ListFilter narrows a visibility-filtered conversation list
type ListFilter struct {
	Status        domain.ConversationStatus
	Priority      domain.Priority
	Department    string
	EscalatedOnly bool
	Query         string
}

func (f *ListFilter) matches(c *domain.Conversation, q string) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Priority != "" && c.Priority != f.Priority {
		return false
	}
	if f.Department != "" && !strings.EqualFold(c.Department, f.Department) {
		return false
	}
	if f.EscalatedOnly && !c.IsEscalated {
		return false
	}
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Title), q) || strings.Contains(strings.ToLower(c.LastMessage), q) {
		return true
	}
	for _, p := range c.Participants {
		if strings.Contains(strings.ToLower(p.Name), q) {
			return true
		}
	}
	return false
}

// ListForUser returns the conversations the caller may see, newest activity first.
// Governors see every conversation; admins and affiliates only those they
// participate in.
func (s *Service) ListForUser(ctx context.Context, caller domain.Caller, filter ListFilter) ([]*domain.Conversation, error) {
	if !caller.Role.Valid() {
		return nil, errors.PermissionError("Unknown role")
	}

	var (
		all []*domain.Conversation
		err error
	)
	if caller.Role == domain.RoleGovernor {
		all, err = s.repo.List(ctx)
	} else {
		all, err = s.repo.ListByParticipant(ctx, caller.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	q := sanitize.NormalizeSearch(filter.Query)
	out := make([]*domain.Conversation, 0, len(all))
	for _, c := range all {
		// The store query is not trusted to enforce visibility.
		if !c.VisibleTo(caller) {
			continue
		}
		if !filter.matches(c, q) {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// GetConversation returns one conversation if the caller may see it.
// Invisible conversations are reported as not found.
func (s *Service) GetConversation(ctx context.Context, caller domain.Caller, id string) (*domain.Conversation, error) {
	conv, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.VisibleTo(caller) {
		return nil, errors.NotFoundError("Conversation")
	}
	return conv, nil
}

// CreateConversationInput contains conversation creation data
type CreateConversationInput struct {
	Type         domain.ConversationType
	Title        string
	Description  string
	Department   string
	Tags         []string
	Priority     domain.Priority
	Participants []domain.ConversationParticipant // everyone except the initiator
}

// CreateConversation opens a conversation with the caller as first participant
func (s *Service) CreateConversation(ctx context.Context, caller domain.Caller, input *CreateConversationInput) (*domain.Conversation, error) {
	if !input.Type.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("Invalid conversation type %q", input.Type))
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.ValidationError("Title is required")
	}
	if !caller.Role.Valid() {
		return nil, errors.PermissionError("Unknown role")
	}

	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("Invalid priority %q", priority))
	}

	now := s.now()
	participants := make([]domain.ConversationParticipant, 0, len(input.Participants)+1)
	initiator := caller.AsParticipant()
	initiator.JoinedAt = now
	participants = append(participants, initiator)

	seen := map[string]struct{}{caller.UserID: {}}
	for _, p := range input.Participants {
		if p.ID == "" {
			return nil, errors.ValidationError("Participant id is required")
		}
		if !p.Role.Valid() {
			return nil, errors.ValidationError(fmt.Sprintf("Invalid role %q for participant %s", p.Role, p.ID))
		}
		if _, dup := seen[p.ID]; dup {
			return nil, errors.ValidationError(fmt.Sprintf("Duplicate participant %s", p.ID))
		}
		seen[p.ID] = struct{}{}
		p.JoinedAt = now
		p.LastSeen = nil
		participants = append(participants, p)
	}

	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		Type:         input.Type,
		Title:        title,
		Description:  input.Description,
		Department:   input.Department,
		Tags:         dedupTags(input.Tags),
		Participants: participants,
		CreatedBy:    caller.UserID,
		CreatedAt:    now,
		LastActivity: now,
		Status:       domain.StatusActive,
		Priority:     priority,
	}

	if err := validateRoster(conv); err != nil {
		return nil, err
	}

	conv.AppendAudit(s.newAudit(domain.AuditCreated, caller, map[string]interface{}{
		"type":  string(conv.Type),
		"title": conv.Title,
	}))

	if err := s.repo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	logger.FromContext(ctx).Info("Conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("type", string(conv.Type)),
		zap.Int("participants", len(conv.Participants)))
	return conv, nil
}

// validateRoster enforces the participant shape for the conversation type
func validateRoster(c *domain.Conversation) error {
	if len(c.Participants) < 2 {
		return errors.ValidationError("A conversation needs at least two participants")
	}
	if c.Type == domain.ConversationGroup {
		return nil
	}
	for _, r := range c.Type.RequiredRoles() {
		if !c.HasRole(r) {
			return errors.ValidationError(fmt.Sprintf("%s conversation requires a participant with role %s", c.Type, r))
		}
	}
	if c.DistinctRoles() < 2 {
		return errors.ValidationError("A conversation needs participants with at least two distinct roles")
	}
	return nil
}

func dedupTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func canManage(caller domain.Caller) bool {
	return caller.Role == domain.RoleAdmin || caller.Role == domain.RoleGovernor
}

// AppendParticipant adds a member to a conversation
func (s *Service) AppendParticipant(ctx context.Context, caller domain.Caller, conversationID string, participant domain.ConversationParticipant) (*domain.Conversation, error) {
	if !canManage(caller) {
		return nil, errors.PermissionError("Only admins and governors can add participants")
	}
	if participant.ID == "" || !participant.Role.Valid() {
		return nil, errors.ValidationError("Participant id and a valid role are required")
	}

	conv, err := s.repo.Update(ctx, conversationID, func(c *domain.Conversation) error {
		if !c.VisibleTo(caller) {
			return errors.NotFoundError("Conversation")
		}
		if c.Status == domain.StatusArchived {
			return errors.InvalidTransitionError(string(c.Status), "add a participant to")
		}
		if c.HasParticipant(participant.ID) {
			return errors.AlreadyParticipantError(participant.ID)
		}
		participant.JoinedAt = s.now()
		c.Participants = append(c.Participants, participant)
		c.AppendAudit(s.newAudit(domain.AuditParticipantAdded, caller, map[string]interface{}{
			"participantId":   participant.ID,
			"participantName": participant.Name,
			"participantRole": string(participant.Role),
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, conv)
	return conv, nil
}

// RemoveParticipant drops a member while keeping the roster valid for its type
func (s *Service) RemoveParticipant(ctx context.Context, caller domain.Caller, conversationID, userID string) (*domain.Conversation, error) {
	if !canManage(caller) {
		return nil, errors.PermissionError("Only admins and governors can remove participants")
	}

	conv, err := s.repo.Update(ctx, conversationID, func(c *domain.Conversation) error {
		if !c.VisibleTo(caller) {
			return errors.NotFoundError("Conversation")
		}
		if c.Status == domain.StatusArchived {
			return errors.InvalidTransitionError(string(c.Status), "remove a participant from")
		}
		removed, ok := c.Participant(userID)
		if !ok {
			return errors.NotFoundError("Participant")
		}
		kept := make([]domain.ConversationParticipant, 0, len(c.Participants)-1)
		for _, p := range c.Participants {
			if p.ID != userID {
				kept = append(kept, p)
			}
		}
		c.Participants = kept
		if err := validateRoster(c); err != nil {
			return err
		}
		c.AppendAudit(s.newAudit(domain.AuditParticipantRemoved, caller, map[string]interface{}{
			"participantId":   removed.ID,
			"participantName": removed.Name,
			"participantRole": string(removed.Role),
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, conv)
	return conv, nil
}

// RecordIncomingMessage refreshes the denormalized preview after a message is accepted
func (s *Service) RecordIncomingMessage(ctx context.Context, conversationID string, msg *domain.EnhancedMessage) error {
	_, err := s.repo.Update(ctx, conversationID, func(c *domain.Conversation) error {
		if msg.Timestamp.After(c.LastActivity) {
			c.LastActivity = msg.Timestamp
		}
		c.LastMessage = s.preview(msg)
		c.LastMessageSender = msg.SenderName
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *Service) preview(msg *domain.EnhancedMessage) string {
	text := strings.TrimSpace(msg.Content)
	if text == "" && len(msg.Attachments) > 0 {
		text = "Attachment: " + msg.Attachments[0].Name
	}
	return sanitize.Truncate(text, s.previewLength)
}

// UpdatePriority changes the conversation priority
func (s *Service) UpdatePriority(ctx context.Context, caller domain.Caller, conversationID string, priority domain.Priority) (*domain.Conversation, error) {
	if !canManage(caller) {
		return nil, errors.PermissionError("Only admins and governors can change priority")
	}
	if !priority.Valid() {
		return nil, errors.ValidationError(fmt.Sprintf("Invalid priority %q", priority))
	}
	conv, err := s.repo.Update(ctx, conversationID, func(c *domain.Conversation) error {
		if !c.VisibleTo(caller) {
			return errors.NotFoundError("Conversation")
		}
		if c.Status == domain.StatusArchived {
			return errors.InvalidTransitionError(string(c.Status), "reprioritize")
		}
		c.Priority = priority
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, conv)
	return conv, nil
}

// TouchLastSeen stamps the caller's lastSeen. Missing membership is ignored.
func (s *Service) TouchLastSeen(ctx context.Context, caller domain.Caller, conversationID string) error {
	_, err := s.repo.Update(ctx, conversationID, func(c *domain.Conversation) error {
		for i := range c.Participants {
			if c.Participants[i].ID == caller.UserID {
				now := s.now()
				c.Participants[i].LastSeen = &now
			}
		}
		return nil
	})
	return err
}

