package chat

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"portal-messaging/internal/domain"
	"portal-messaging/internal/middleware"
	"portal-messaging/internal/service/chat"
	"portal-messaging/pkg/response"
)

// Handler handles chat HTTP requests
type Handler struct {
	chatService *chat.Service
}

// NewHandler creates a new chat handler
func NewHandler(chatService *chat.Service) *Handler {
	return &Handler{
		chatService: chatService,
	}
}

// RegisterRoutes mounts the message routes. sendMiddleware runs only in
// front of the send endpoint.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, sendMiddleware ...gin.HandlerFunc) {
	send := append(append([]gin.HandlerFunc{}, sendMiddleware...), h.SendMessage)
	rg.GET("/conversations/:id/messages", h.GetTimeline)
	rg.POST("/conversations/:id/messages", send...)
	rg.POST("/conversations/:id/read", h.MarkConversationRead)
	rg.GET("/conversations/:id/unread", h.UnreadCount)
	rg.POST("/messages/:id/read", h.MarkRead)
	rg.PATCH("/messages/:id", h.EditMessage)
}

// SendMessageRequest represents send message request
type SendMessageRequest struct {
	Content     string              `json:"content"`
	Priority    string              `json:"priority" binding:"omitempty,oneof=low medium high urgent"`
	Department  string              `json:"department"`
	ReplyTo     string              `json:"replyTo"`
	Attachments []domain.Attachment `json:"attachments"`
}

// SendMessage handles sending a new message
// POST /v1/conversations/:id/messages
func (h *Handler) SendMessage(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	output, err := h.chatService.SendMessage(c.Request.Context(), caller, &chat.SendMessageInput{
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Priority:       domain.Priority(req.Priority),
		Department:     req.Department,
		ReplyTo:        req.ReplyTo,
		Attachments:    req.Attachments,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"message":    output.Message,
		"provenance": output.Provenance,
	})
}

// GetTimeline returns the reconciled message timeline
// GET /v1/conversations/:id/messages
func (h *Handler) GetTimeline(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	timeline, err := h.chatService.Timeline(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	if timeline.Stale {
		c.Header("Warning", `110 - "Response is stale"`)
	}

	response.Success(c, http.StatusOK, timeline)
}

// MarkRead records a read receipt for the caller
// POST /v1/messages/:id/read
func (h *Handler) MarkRead(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.chatService.MarkRead(c.Request.Context(), caller, c.Param("id")); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"messageId": c.Param("id"), "read": true})
}

// MarkConversationRead marks every unread message of a conversation
// POST /v1/conversations/:id/read
func (h *Handler) MarkConversationRead(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	added, err := h.chatService.MarkConversationRead(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"conversationId": c.Param("id"), "marked": added})
}

// UnreadCount returns the caller's unread message count
// GET /v1/conversations/:id/unread
func (h *Handler) UnreadCount(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	n, err := h.chatService.UnreadCount(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"conversationId": c.Param("id"), "unread": n})
}

// EditMessageRequest carries the replacement content
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage replaces the content of the caller's own message once
// PATCH /v1/messages/:id
func (h *Handler) EditMessage(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	msg, err := h.chatService.EditMessage(c.Request.Context(), caller, c.Param("id"), req.Content)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, msg)
}
