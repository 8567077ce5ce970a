package conversation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/metrics"
)

const (
	escalationNotice = "This conversation has been escalated to management for oversight. Reason: %s"
	governorJoined   = "%s (Governor) has joined the conversation to provide management oversight."
	resolvedNotice   = "This escalation has been marked as resolved by %s."
)

func recordTransition(action domain.AuditAction, err error) {
	result := "ok"
	if err != nil {
		result = strings.ToLower(string(errors.CodeOf(err)))
		if result == "" {
			result = "error"
		}
	}
	metrics.EscalationTransitionsTotal.WithLabelValues(string(action), result).Inc()
}

// Escalate moves an active conversation under management oversight.
// Only admins that participate in the conversation may escalate.
func (s *Service) Escalate(ctx context.Context, caller domain.Caller, conversationID, reason string) (conv *domain.Conversation, err error) {
	defer func() { recordTransition(domain.AuditEscalated, err) }()

	if caller.Role != domain.RoleAdmin {
		return nil, errors.PermissionError("Only admins can escalate a conversation")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.ValidationError("Escalation reason is required")
	}

	conv, err = s.repo.Update(ctx, conversationID, func(c *domain.Conversation) error {
		if !c.HasParticipant(caller.UserID) {
			return errors.PermissionError("Only participants can escalate a conversation")
		}
		if c.Status == domain.StatusEscalated || c.HasRole(domain.RoleGovernor) {
			return errors.AlreadyEscalatedError(c.ID)
		}
		if c.Status != domain.StatusActive {
			return errors.InvalidTransitionError(string(c.Status), "escalate")
		}

		now := s.now()
		c.Status = domain.StatusEscalated
		c.IsEscalated = true
		c.EscalatedAt = &now
		c.EscalatedBy = caller.UserID
		c.EscalationReason = reason
		c.AppendAudit(s.newAudit(domain.AuditEscalated, caller, map[string]interface{}{
			"reason": reason,
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, conv)

	logger.FromContext(ctx).Info("Conversation escalated",
		zap.String("conversation_id", conv.ID),
		zap.String("escalated_by", caller.UserID))

	s.announce(ctx, conv, &domain.EnhancedMessage{
		SenderID:         caller.UserID,
		SenderName:       caller.DisplayName,
		SenderRole:       caller.Role,
		Content:          fmt.Sprintf(escalationNotice, reason),
		Priority:         domain.PriorityHigh,
		IsEscalation:     true,
		EscalationReason: reason,
		MessageType:      domain.MessageTypeSystem,
		Metadata:         map[string]interface{}{"event": string(domain.AuditEscalated)},
	})
	return conv, nil
}

// JoinAsGovernor adds the calling governor to an escalated conversation
func (s *Service) JoinAsGovernor(ctx context.Context, caller domain.Caller, conversationID string) (conv *domain.Conversation, err error) {
	defer func() { recordTransition(domain.AuditParticipantAdded, err) }()

	if caller.Role != domain.RoleGovernor {
		return nil, errors.PermissionError("Only governors can join an escalated conversation")
	}

	conv, err = s.repo.Update(ctx, conversationID, func(c *domain.Conversation) error {
		if c.HasParticipant(caller.UserID) {
			return errors.AlreadyParticipantError(caller.UserID)
		}
		if c.Status != domain.StatusEscalated {
			return errors.InvalidTransitionError(string(c.Status), "join")
		}
		p := caller.AsParticipant()
		p.JoinedAt = s.now()
		c.Participants = append(c.Participants, p)
		c.AppendAudit(s.newAudit(domain.AuditParticipantAdded, caller, map[string]interface{}{
			"participantId":   caller.UserID,
			"participantName": caller.DisplayName,
			"participantRole": string(domain.RoleGovernor),
			"via":             "escalation",
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, conv)

	logger.FromContext(ctx).Info("Governor joined conversation",
		zap.String("conversation_id", conv.ID),
		zap.String("governor_id", caller.UserID))

	s.announce(ctx, conv, &domain.EnhancedMessage{
		SenderID:     caller.UserID,
		SenderName:   caller.DisplayName,
		SenderRole:   caller.Role,
		Content:      fmt.Sprintf(governorJoined, caller.DisplayName),
		Priority:     domain.PriorityHigh,
		IsEscalation: true,
		MessageType:  domain.MessageTypeSystem,
		Metadata:     map[string]interface{}{"event": "governor_joined"},
	})
	return conv, nil
}

// Resolve closes an escalation. Escalation history and the governor stay.
func (s *Service) Resolve(ctx context.Context, caller domain.Caller, conversationID string) (conv *domain.Conversation, err error) {
	defer func() { recordTransition(domain.AuditResolved, err) }()

	if !canManage(caller) {
		return nil, errors.PermissionError("Only admins and governors can resolve a conversation")
	}

	conv, err = s.repo.Update(ctx, conversationID, func(c *domain.Conversation) error {
		if !c.VisibleTo(caller) {
			return errors.NotFoundError("Conversation")
		}
		if c.Status != domain.StatusEscalated {
			return errors.InvalidTransitionError(string(c.Status), "resolve")
		}
		c.Status = domain.StatusResolved
		c.IsEscalated = false
		c.AppendAudit(s.newAudit(domain.AuditResolved, caller, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, conv)

	logger.FromContext(ctx).Info("Conversation resolved",
		zap.String("conversation_id", conv.ID),
		zap.String("resolved_by", caller.UserID))

	s.announce(ctx, conv, &domain.EnhancedMessage{
		SenderID:    caller.UserID,
		SenderName:  caller.DisplayName,
		SenderRole:  caller.Role,
		Content:     fmt.Sprintf(resolvedNotice, caller.DisplayName),
		Priority:    domain.PriorityMedium,
		MessageType: domain.MessageTypeResolution,
		Metadata:    map[string]interface{}{"event": string(domain.AuditResolved)},
	})
	return conv, nil
}

// Archive retires a conversation from any non-archived state
func (s *Service) Archive(ctx context.Context, caller domain.Caller, conversationID string) (conv *domain.Conversation, err error) {
	defer func() { recordTransition(domain.AuditArchived, err) }()

	if !canManage(caller) {
		return nil, errors.PermissionError("Only admins and governors can archive a conversation")
	}

	conv, err = s.repo.Update(ctx, conversationID, func(c *domain.Conversation) error {
		if !c.VisibleTo(caller) {
			return errors.NotFoundError("Conversation")
		}
		if c.Status == domain.StatusArchived {
			return errors.InvalidTransitionError(string(c.Status), "archive")
		}
		from := c.Status
		c.Status = domain.StatusArchived
		c.IsEscalated = false
		c.AppendAudit(s.newAudit(domain.AuditArchived, caller, map[string]interface{}{
			"from": string(from),
		}))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, conv)

	logger.FromContext(ctx).Info("Conversation archived",
		zap.String("conversation_id", conv.ID),
		zap.String("archived_by", caller.UserID))
	return conv, nil
}

// announce posts a system message after a committed transition. A failed
// post is logged; the transition itself stands.
func (s *Service) announce(ctx context.Context, conv *domain.Conversation, msg *domain.EnhancedMessage) {
	if s.poster == nil {
		return
	}
	msg.ConversationID = conv.ID
	msg.Department = conv.Department
	if _, err := s.poster.PostSystemMessage(ctx, msg); err != nil {
		logger.FromContext(ctx).Error("Failed to post system message",
			zap.String("conversation_id", conv.ID),
			zap.String("message_type", string(msg.MessageType)),
			zap.Error(err))
	}
}
