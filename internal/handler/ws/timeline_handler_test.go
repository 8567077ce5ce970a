package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-messaging/internal/domain"
	"portal-messaging/internal/fanout"
	"portal-messaging/internal/middleware"
	"portal-messaging/internal/repository/memory"
	"portal-messaging/internal/service/chat"
	"portal-messaging/internal/service/conversation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	admin     = domain.Caller{UserID: "admin-1", DisplayName: "Ada", Role: domain.RoleAdmin}
	affiliate = domain.Caller{UserID: "aff-1", DisplayName: "Bea", Role: domain.RoleAffiliate}
	outsider  = domain.Caller{UserID: "aff-9", DisplayName: "Zed", Role: domain.RoleAffiliate}

	callers = map[string]domain.Caller{
		admin.UserID:     admin,
		affiliate.UserID: affiliate,
		outsider.UserID:  outsider,
	}
)

type fixture struct {
	server   *httptest.Server
	chat     *chat.Service
	presence *memory.PresenceRepository
	conv     *domain.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := fanout.NewHub(16)
	t.Cleanup(hub.Close)

	convs := conversation.NewService(memory.NewConversationRepository())
	convs.SetPublisher(hub)
	svc := chat.NewService(
		chat.NewMessageStoreAdapter(memory.NewEnhancedMessageRepository(), memory.NewLegacyMessageRepository()),
		convs, hub, chat.DefaultConfig())
	convs.SetMessagePoster(svc)

	conv, err := convs.CreateConversation(context.Background(), admin, &conversation.CreateConversationInput{
		Type:         domain.ConversationAdminAffiliate,
		Title:        "Payout delay",
		Participants: []domain.ConversationParticipant{affiliate.AsParticipant()},
	})
	require.NoError(t, err)

	presence := memory.NewPresenceRepository(PresenceTTL)
	h := NewTimelineHandler(svc, hub, presence, nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if caller, ok := callers[c.Query("as")]; ok {
			middleware.SetCaller(c, caller)
		}
		c.Next()
	})
	r.GET("/v1/ws/conversations/:id", h.ServeWS)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{server: srv, chat: svc, presence: presence, conv: conv}
}

func (f *fixture) dial(t *testing.T, as domain.Caller, conversationID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/ws/conversations/" + conversationID + "?as=" + as.UserID
	return websocket.DefaultDialer.Dial(u, nil)
}

// next reads frames until match accepts one
func next(t *testing.T, conn *websocket.Conn, match func(OutboundFrame) bool) OutboundFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame OutboundFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if match(frame) {
			return frame
		}
	}
}

func timelineWith(n int) func(OutboundFrame) bool {
	return func(f OutboundFrame) bool {
		return f.Type == FrameTimeline && f.Timeline != nil && len(f.Timeline.Messages) == n
	}
}

func TestTimelineSocket_StreamsSnapshots(t *testing.T) {
	f := newFixture(t)
	conn, _, err := f.dial(t, affiliate, f.conv.ID)
	require.NoError(t, err)
	defer conn.Close()

	first := next(t, conn, func(f OutboundFrame) bool { return f.Type == FrameTimeline })
	assert.Empty(t, first.Timeline.Messages)
	assert.Equal(t, f.conv.ID, first.ConversationID)

	out, err := f.chat.SendMessage(context.Background(), admin, &chat.SendMessageInput{
		ConversationID: f.conv.ID,
		Content:        "Your payout was released",
	})
	require.NoError(t, err)

	frame := next(t, conn, timelineWith(1))
	assert.Equal(t, out.Message.ID, frame.Timeline.Messages[0].ID)

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameRead, MessageID: out.Message.ID}))
	frame = next(t, conn, func(f OutboundFrame) bool {
		return f.Type == FrameTimeline && len(f.Timeline.Messages) == 1 && len(f.Timeline.Messages[0].ReadBy) == 1
	})
	assert.Equal(t, affiliate.UserID, frame.Timeline.Messages[0].ReadBy[0].UserID)
}

func TestTimelineSocket_Presence(t *testing.T) {
	f := newFixture(t)
	conn, _, err := f.dial(t, affiliate, f.conv.ID)
	require.NoError(t, err)
	defer conn.Close()

	frame := next(t, conn, func(f OutboundFrame) bool { return f.Type == FramePresence })
	assert.Equal(t, []string{affiliate.UserID}, frame.Viewers)

	other, _, err := f.dial(t, admin, f.conv.ID)
	require.NoError(t, err)

	frame = next(t, conn, func(f OutboundFrame) bool { return f.Type == FramePresence && len(f.Viewers) == 2 })
	assert.Equal(t, []string{"admin-1", "aff-1"}, frame.Viewers)

	require.NoError(t, other.Close())
	frame = next(t, conn, func(f OutboundFrame) bool { return f.Type == FramePresence && len(f.Viewers) == 1 })
	assert.Equal(t, []string{affiliate.UserID}, frame.Viewers)
}

func TestTimelineSocket_BadFrames(t *testing.T) {
	f := newFixture(t)
	conn, _, err := f.dial(t, affiliate, f.conv.ID)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame := next(t, conn, func(f OutboundFrame) bool { return f.Type == FrameError })
	assert.Equal(t, "VALIDATION_ERROR", frame.Error.Code)

	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameRead, MessageID: "missing"}))
	frame = next(t, conn, func(f OutboundFrame) bool { return f.Type == FrameError })
	assert.Equal(t, "NOT_FOUND", frame.Error.Code)
}

func TestTimelineSocket_RejectsInvisibleConversation(t *testing.T) {
	f := newFixture(t)

	_, resp, err := f.dial(t, outsider, f.conv.ID)

	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = f.dial(t, domain.Caller{UserID: "nobody"}, f.conv.ID)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
