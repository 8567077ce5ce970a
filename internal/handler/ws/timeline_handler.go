package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"portal-messaging/internal/domain"
	"portal-messaging/internal/fanout"
	"portal-messaging/internal/middleware"
	"portal-messaging/internal/service/chat"
	"portal-messaging/pkg/constants"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/metrics"
	"portal-messaging/pkg/response"
)

// Frame types
const (
	FrameTimeline = "timeline"
	FramePresence = "presence"
	FrameError    = "error"

	FrameRead    = "read"
	FrameReadAll = "read_all"
)

// PresenceTTL outlives one missed presence refresh
const PresenceTTL = 2 * constants.WebSocketPingPeriod

// PresenceTracker records who has a conversation timeline open
type PresenceTracker interface {
	Join(ctx context.Context, conversationID, userID string) error
	Leave(ctx context.Context, conversationID, userID string) error
	Viewers(ctx context.Context, conversationID string) ([]string, error)
}

// OutboundFrame is pushed to the browser
type OutboundFrame struct {
	Type           string                 `json:"type"`
	ConversationID string                 `json:"conversationId"`
	Timeline       *chat.TimelineSnapshot `json:"timeline,omitempty"`
	Viewers        []string               `json:"viewers,omitempty"`
	Error          *response.ErrorDetail  `json:"error,omitempty"`
}

// InboundFrame is sent by the browser
type InboundFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`
}

// TimelineHandler streams reconciled timeline snapshots over WebSocket
type TimelineHandler struct {
	chat     *chat.Service
	broker   fanout.Broker
	presence PresenceTracker
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewTimelineHandler creates a handler. An empty origin list accepts only
// same-host upgrades.
func NewTimelineHandler(chatService *chat.Service, broker fanout.Broker, presence PresenceTracker, allowedOrigins []string) *TimelineHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &TimelineHandler{
		chat:     chatService,
		broker:   broker,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed[origin] {
					return true
				}
				u, err := url.Parse(origin)
				return err == nil && u.Host == r.Host
			},
		},
	}
}

// WithMetrics records connections and frames on m
func (h *TimelineHandler) WithMetrics(m *metrics.Metrics) *TimelineHandler {
	h.metrics = m
	return h
}

// client is one open timeline socket
type client struct {
	h              *TimelineHandler
	conn           *websocket.Conn
	caller         domain.Caller
	conversationID string

	mu     sync.Mutex
	latest []byte // newest undelivered timeline frame
	queue  [][]byte
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func newClient(h *TimelineHandler, caller domain.Caller, conversationID string) *client {
	return &client{
		h:              h,
		caller:         caller,
		conversationID: conversationID,
		wake:           make(chan struct{}, 1),
		closed:         make(chan struct{}),
	}
}

func (c *client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pushTimeline replaces any undelivered snapshot; only the newest matters
func (c *client) pushTimeline(snap *chat.TimelineSnapshot) {
	frame, err := json.Marshal(OutboundFrame{Type: FrameTimeline, ConversationID: c.conversationID, Timeline: snap})
	if err != nil {
		return
	}
	c.mu.Lock()
	c.latest = frame
	c.mu.Unlock()
	c.signal()
}

func (c *client) push(frame OutboundFrame) {
	frame.ConversationID = c.conversationID
	b, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.mu.Lock()
	if len(c.queue) < 32 {
		c.queue = append(c.queue, b)
	}
	c.mu.Unlock()
	c.signal()
}

func (c *client) drain() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	if c.latest != nil {
		out = append(out, c.latest)
		c.latest = nil
	}
	return out
}

func (c *client) close() {
	c.once.Do(func() { close(c.closed) })
}

// ServeWS upgrades the request and streams the conversation timeline
// GET /v1/ws/conversations/:id
func (h *TimelineHandler) ServeWS(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	conversationID := c.Param("id")

	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithRequestID(ctx, c.GetString("request_id"))
	cl := newClient(h, caller, conversationID)

	sub, err := h.chat.SubscribeTimeline(ctx, caller, conversationID, cl.pushTimeline)
	if err != nil {
		cancel()
		response.FromError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromContext(ctx).Warn("WebSocket upgrade failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err))
		sub.Unsubscribe()
		cancel()
		return
	}
	cl.conn = conn

	var presenceSub *fanout.Subscription
	if h.presence != nil && h.broker != nil {
		presenceSub = h.broker.Subscribe(fanout.ConversationTopic(conversationID), func(ev fanout.Event) {
			if ev.Type == fanout.EventPresenceChanged {
				h.sendViewers(ctx, cl)
			}
		})
		h.join(ctx, cl)
	}
	if h.metrics != nil {
		h.metrics.AddWebSocketConnections(1)
	}

	logger.FromContext(ctx).Info("Timeline socket opened",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", caller.UserID))

	go func() {
		select {
		case <-cl.closed:
		case <-sub.Done():
			cl.close()
		}
		sub.Unsubscribe()
		if presenceSub != nil {
			presenceSub.Unsubscribe()
			h.leave(cl)
		}
		cancel()
		if h.metrics != nil {
			h.metrics.AddWebSocketConnections(-1)
		}
	}()

	go cl.writePump(ctx)
	go cl.readPump(ctx)
}

func (h *TimelineHandler) announcePresence(ctx context.Context, conversationID string) {
	if h.broker == nil {
		return
	}
	_ = h.broker.Publish(ctx, fanout.Event{
		Topic:          fanout.ConversationTopic(conversationID),
		Type:           fanout.EventPresenceChanged,
		ConversationID: conversationID,
		At:             time.Now().UTC(),
	})
}

func (h *TimelineHandler) join(ctx context.Context, cl *client) {
	if err := h.presence.Join(ctx, cl.conversationID, cl.caller.UserID); err != nil {
		logger.FromContext(ctx).Warn("Failed to record presence",
			zap.String("conversation_id", cl.conversationID),
			zap.Error(err))
		return
	}
	h.announcePresence(ctx, cl.conversationID)
}

func (h *TimelineHandler) leave(cl *client) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.WebSocketWriteWait)
	defer cancel()
	if err := h.presence.Leave(ctx, cl.conversationID, cl.caller.UserID); err != nil {
		logger.Warn("Failed to clear presence",
			zap.String("conversation_id", cl.conversationID),
			zap.Error(err))
		return
	}
	h.announcePresence(ctx, cl.conversationID)
}

func (h *TimelineHandler) sendViewers(ctx context.Context, cl *client) {
	viewers, err := h.presence.Viewers(ctx, cl.conversationID)
	if err != nil {
		return
	}
	cl.push(OutboundFrame{Type: FramePresence, Viewers: viewers})
}

// readPump applies read receipts sent by the browser
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.FromContext(ctx).Debug("Timeline socket read error", zap.Error(err))
			}
			return
		}
		if c.h.metrics != nil {
			c.h.metrics.RecordWebSocketMessage("frame", "inbound")
		}

		var in InboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			c.push(errorFrame(errors.ValidationError("Invalid frame")))
			continue
		}
		c.handle(ctx, in)
	}
}

func (c *client) handle(ctx context.Context, in InboundFrame) {
	var err error
	switch in.Type {
	case FrameRead:
		if in.MessageID == "" {
			err = errors.ValidationError("messageId is required")
			break
		}
		err = c.h.chat.MarkRead(ctx, c.caller, in.MessageID)
	case FrameReadAll:
		_, err = c.h.chat.MarkConversationRead(ctx, c.caller, c.conversationID)
	default:
		err = errors.ValidationError("Unknown frame type " + in.Type)
	}
	if err != nil {
		c.push(errorFrame(err))
	}
}

func errorFrame(err error) OutboundFrame {
	appErr := errors.GetAppError(err)
	if !errors.IsAppError(err) {
		appErr = errors.InternalError("Internal server error")
	}
	return OutboundFrame{
		Type:  FrameError,
		Error: &response.ErrorDetail{Code: string(appErr.Code), Message: appErr.Message, Details: appErr.Details},
	}
}

// writePump serializes frames to the socket and keeps presence alive
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(constants.WebSocketPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-c.wake:
			for _, frame := range c.drain() {
				c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
				if c.h.metrics != nil {
					c.h.metrics.RecordWebSocketMessage("frame", "outbound")
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if c.h.presence != nil {
				_ = c.h.presence.Join(ctx, c.conversationID, c.caller.UserID)
			}
		}
	}
}
