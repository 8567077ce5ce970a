package conversation

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"portal-messaging/internal/domain"
	"portal-messaging/internal/middleware"
	"portal-messaging/internal/service/conversation"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/response"
)

// Handler handles conversation HTTP requests
type Handler struct {
	conversationService *conversation.Service
}

// NewHandler creates a new conversation handler
func NewHandler(conversationService *conversation.Service) *Handler {
	return &Handler{
		conversationService: conversationService,
	}
}

// RegisterRoutes mounts the conversation routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/conversations", h.ListConversations)
	rg.POST("/conversations", h.CreateConversation)
	rg.GET("/conversations/:id", h.GetConversation)
	rg.POST("/conversations/:id/participants", h.AddParticipant)
	rg.DELETE("/conversations/:id/participants/:userId", h.RemoveParticipant)
	rg.POST("/conversations/:id/escalate", h.Escalate)
	rg.POST("/conversations/:id/join", h.Join)
	rg.POST("/conversations/:id/resolve", h.Resolve)
	rg.POST("/conversations/:id/archive", h.Archive)
	rg.PATCH("/conversations/:id/priority", h.UpdatePriority)
}

func callerOrAbort(c *gin.Context) (domain.Caller, bool) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
	}
	return caller, ok
}

// ParticipantRequest describes a participant to add
type ParticipantRequest struct {
	ID    string `json:"id" binding:"required"`
	Name  string `json:"name" binding:"required"`
	Role  string `json:"role" binding:"required,oneof=admin affiliate governor"`
	Email string `json:"email"`
}

func (p ParticipantRequest) toDomain() domain.ConversationParticipant {
	return domain.ConversationParticipant{
		ID:    p.ID,
		Name:  p.Name,
		Role:  domain.Role(p.Role),
		Email: p.Email,
	}
}

// CreateConversationRequest represents create conversation request
type CreateConversationRequest struct {
	Type         string               `json:"type" binding:"required,oneof=admin_affiliate admin_governor affiliate_governor group"`
	Title        string               `json:"title" binding:"required"`
	Description  string               `json:"description"`
	Department   string               `json:"department"`
	Tags         []string             `json:"tags"`
	Priority     string               `json:"priority" binding:"omitempty,oneof=low medium high urgent"`
	Participants []ParticipantRequest `json:"participants" binding:"required,min=1,dive"`
}

// CreateConversation opens a conversation with the caller as initiator
// POST /v1/conversations
func (h *Handler) CreateConversation(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	participants := make([]domain.ConversationParticipant, len(req.Participants))
	for i, p := range req.Participants {
		participants[i] = p.toDomain()
	}

	conv, err := h.conversationService.CreateConversation(c.Request.Context(), caller, &conversation.CreateConversationInput{
		Type:         domain.ConversationType(req.Type),
		Title:        req.Title,
		Description:  req.Description,
		Department:   req.Department,
		Tags:         req.Tags,
		Priority:     domain.Priority(req.Priority),
		Participants: participants,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, conv)
}

// ListConversationsQuery holds list filters
type ListConversationsQuery struct {
	Status        string `form:"status" binding:"omitempty,oneof=active escalated resolved archived"`
	Priority      string `form:"priority" binding:"omitempty,oneof=low medium high urgent"`
	Department    string `form:"department"`
	EscalatedOnly bool   `form:"escalated"`
	Query         string `form:"q"`
}

// ListConversations lists the conversations visible to the caller
// GET /v1/conversations
func (h *Handler) ListConversations(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var q ListConversationsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	convs, err := h.conversationService.ListForUser(c.Request.Context(), caller, conversation.ListFilter{
		Status:        domain.ConversationStatus(q.Status),
		Priority:      domain.Priority(q.Priority),
		Department:    q.Department,
		EscalatedOnly: q.EscalatedOnly,
		Query:         q.Query,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"conversations": convs,
		"total":         len(convs),
	})
}

// GetConversation returns one conversation and stamps the caller's lastSeen
// GET /v1/conversations/:id
func (h *Handler) GetConversation(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	conv, err := h.conversationService.GetConversation(ctx, caller, id)
	if err != nil {
		response.FromError(c, err)
		return
	}

	if conv.HasParticipant(caller.UserID) {
		if err := h.conversationService.TouchLastSeen(ctx, caller, id); err != nil {
			logger.FromContext(ctx).Warn("Failed to update last seen",
				zap.String("conversation_id", id),
				zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, conv)
}

// AddParticipant adds a member
// POST /v1/conversations/:id/participants
func (h *Handler) AddParticipant(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req ParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	conv, err := h.conversationService.AppendParticipant(c.Request.Context(), caller, c.Param("id"), req.toDomain())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}

// RemoveParticipant drops a member
// DELETE /v1/conversations/:id/participants/:userId
func (h *Handler) RemoveParticipant(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	conv, err := h.conversationService.RemoveParticipant(c.Request.Context(), caller, c.Param("id"), c.Param("userId"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}

// EscalateRequest carries the escalation reason
type EscalateRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Escalate hands the conversation to the governor tier
// POST /v1/conversations/:id/escalate
func (h *Handler) Escalate(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	conv, err := h.conversationService.Escalate(c.Request.Context(), caller, c.Param("id"), req.Reason)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}

// Join adds the calling governor to an escalated conversation
// POST /v1/conversations/:id/join
func (h *Handler) Join(c *gin.Context) {
	h.transition(c, h.conversationService.JoinAsGovernor)
}

// Resolve closes an escalation
// POST /v1/conversations/:id/resolve
func (h *Handler) Resolve(c *gin.Context) {
	h.transition(c, h.conversationService.Resolve)
}

// Archive retires a conversation
// POST /v1/conversations/:id/archive
func (h *Handler) Archive(c *gin.Context) {
	h.transition(c, h.conversationService.Archive)
}

type transitionFunc func(ctx context.Context, caller domain.Caller, id string) (*domain.Conversation, error)

func (h *Handler) transition(c *gin.Context, fn transitionFunc) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	conv, err := fn(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}

// UpdatePriorityRequest carries the new priority
type UpdatePriorityRequest struct {
	Priority string `json:"priority" binding:"required,oneof=low medium high urgent"`
}

// UpdatePriority changes the conversation priority
// PATCH /v1/conversations/:id/priority
func (h *Handler) UpdatePriority(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req UpdatePriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	conv, err := h.conversationService.UpdatePriority(c.Request.Context(), caller, c.Param("id"), domain.Priority(req.Priority))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}
