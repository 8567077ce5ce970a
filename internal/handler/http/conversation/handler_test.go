package conversation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-messaging/internal/domain"
	"portal-messaging/internal/middleware"
	"portal-messaging/internal/repository/memory"
	"portal-messaging/internal/service/conversation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	admin     = domain.Caller{UserID: "admin-1", DisplayName: "Ada", Role: domain.RoleAdmin}
	affiliate = domain.Caller{UserID: "aff-1", DisplayName: "Bea", Role: domain.RoleAffiliate}
	outsider  = domain.Caller{UserID: "aff-2", DisplayName: "Cy", Role: domain.RoleAffiliate}
	governor  = domain.Caller{UserID: "gov-1", DisplayName: "Grace", Role: domain.RoleGovernor}

	callers = map[string]domain.Caller{
		admin.UserID:     admin,
		affiliate.UserID: affiliate,
		outsider.UserID:  outsider,
		governor.UserID:  governor,
	}
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type testServer struct {
	router *gin.Engine
	svc    *conversation.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	svc := conversation.NewService(memory.NewConversationRepository())
	h := NewHandler(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		if caller, ok := callers[c.GetHeader("X-Test-User")]; ok {
			middleware.SetCaller(c, caller)
		}
		c.Next()
	})
	h.RegisterRoutes(v1)
	return &testServer{router: r, svc: svc}
}

func (s *testServer) do(t *testing.T, as domain.Caller, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as.UserID != "" {
		req.Header.Set("X-Test-User", as.UserID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (s *testServer) create(t *testing.T) domain.Conversation {
	t.Helper()
	w, env := s.do(t, admin, http.MethodPost, "/v1/conversations", gin.H{
		"type":     "admin_affiliate",
		"title":    "Commission dispute",
		"priority": "high",
		"participants": []gin.H{
			{"id": affiliate.UserID, "name": affiliate.DisplayName, "role": "affiliate"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conv))
	return conv
}

func TestCreateConversation(t *testing.T) {
	s := newTestServer(t)

	conv := s.create(t)

	assert.Equal(t, domain.ConversationAdminAffiliate, conv.Type)
	assert.Equal(t, domain.PriorityHigh, conv.Priority)
	assert.Equal(t, domain.StatusActive, conv.Status)
	require.Len(t, conv.Participants, 2)
	assert.Equal(t, admin.UserID, conv.Participants[0].ID)
	require.Len(t, conv.AuditTrail, 1)
	assert.Equal(t, domain.AuditCreated, conv.AuditTrail[0].Action)
}

func TestCreateConversation_BadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body gin.H
		code string
	}{
		{"unknown type", gin.H{"type": "direct", "title": "x", "participants": []gin.H{{"id": "a", "name": "a", "role": "affiliate"}}}, "VALIDATION_ERROR"},
		{"no participants", gin.H{"type": "group", "title": "x", "participants": []gin.H{}}, "VALIDATION_ERROR"},
		{"wrong roster", gin.H{"type": "admin_governor", "title": "x", "participants": []gin.H{{"id": "a", "name": "a", "role": "affiliate"}}}, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(t, admin, http.MethodPost, "/v1/conversations", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestUnauthenticated(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, domain.Caller{}, http.MethodGet, "/v1/conversations", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
}

func TestListAndGet_Visibility(t *testing.T) {
	s := newTestServer(t)
	conv := s.create(t)

	type listBody struct {
		Conversations []domain.Conversation `json:"conversations"`
		Total         int                   `json:"total"`
	}

	_, env := s.do(t, governor, http.MethodGet, "/v1/conversations?q=commission", nil)
	var list listBody
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Total)

	_, env = s.do(t, outsider, http.MethodGet, "/v1/conversations", nil)
	list = listBody{}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 0, list.Total)

	w, _ := s.do(t, affiliate, http.MethodGet, "/v1/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, outsider, http.MethodGet, "/v1/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	w, _ = s.do(t, governor, http.MethodGet, "/v1/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetConversation_StampsLastSeen(t *testing.T) {
	s := newTestServer(t)
	conv := s.create(t)

	_, env := s.do(t, affiliate, http.MethodGet, "/v1/conversations/"+conv.ID, nil)
	require.True(t, env.Success)

	stored, err := s.svc.GetConversation(httptest.NewRequest(http.MethodGet, "/", nil).Context(), affiliate, conv.ID)
	require.NoError(t, err)
	p, ok := stored.Participant(affiliate.UserID)
	require.True(t, ok)
	assert.NotNil(t, p.LastSeen)
}

func TestEscalationFlow(t *testing.T) {
	s := newTestServer(t)
	conv := s.create(t)
	base := "/v1/conversations/" + conv.ID

	w, env := s.do(t, affiliate, http.MethodPost, base+"/escalate", gin.H{"reason": "Unpaid commission"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "PERMISSION_DENIED", env.Error.Code)

	w, _ = s.do(t, admin, http.MethodPost, base+"/escalate", gin.H{"reason": "Unpaid commission"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, admin, http.MethodPost, base+"/escalate", gin.H{"reason": "Again"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_ESCALATED", env.Error.Code)

	w, _ = s.do(t, governor, http.MethodPost, base+"/join", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, governor, http.MethodPost, base+"/join", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_PARTICIPANT", env.Error.Code)

	w, env = s.do(t, governor, http.MethodPost, base+"/resolve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resolved domain.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &resolved))
	assert.Equal(t, domain.StatusResolved, resolved.Status)

	w, _ = s.do(t, admin, http.MethodPost, base+"/archive", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, env = s.do(t, admin, http.MethodPatch, base+"/priority", gin.H{"priority": "low"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", env.Error.Code)
}

func TestEscalate_MissingReason(t *testing.T) {
	s := newTestServer(t)
	conv := s.create(t)

	w, env := s.do(t, admin, http.MethodPost, "/v1/conversations/"+conv.ID+"/escalate", gin.H{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestParticipantsAndPriority(t *testing.T) {
	s := newTestServer(t)
	conv := s.create(t)
	base := "/v1/conversations/" + conv.ID

	w, _ := s.do(t, admin, http.MethodPost, base+"/participants", gin.H{"id": "aff-2", "name": "Cy", "role": "affiliate"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := s.do(t, admin, http.MethodDelete, base+"/participants/"+affiliate.UserID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var updated domain.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.False(t, updated.HasParticipant(affiliate.UserID))
	assert.Equal(t, domain.AuditParticipantRemoved, updated.AuditTrail[len(updated.AuditTrail)-1].Action)

	w, env = s.do(t, admin, http.MethodDelete, base+"/participants/aff-2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	w, env = s.do(t, admin, http.MethodPatch, base+"/priority", gin.H{"priority": "urgent"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, domain.PriorityUrgent, updated.Priority)

	w, _ = s.do(t, admin, http.MethodPatch, base+"/priority", gin.H{"priority": "critical"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, admin, http.MethodPost, "/v1/conversations/missing/archive", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}
