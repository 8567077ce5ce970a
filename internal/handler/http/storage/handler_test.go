package storage

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal-messaging/internal/domain"
	"portal-messaging/internal/middleware"
	"portal-messaging/internal/repository/memory"
	"portal-messaging/internal/service/conversation"
	"portal-messaging/internal/service/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) (string, error) {
	args := m.Called(ctx, key, body, size, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockBlobStore) Remove(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

var (
	admin     = domain.Caller{UserID: "admin-1", DisplayName: "Ada", Role: domain.RoleAdmin}
	affiliate = domain.Caller{UserID: "aff-1", DisplayName: "Bea", Role: domain.RoleAffiliate}
)

type envelope struct {
	Success bool `json:"success"`
	Data    *struct {
		Attachments []domain.Attachment `json:"attachments"`
	} `json:"data"`
	Error *struct {
		Code   string `json:"code"`
		Errors []struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"errors"`
	} `json:"error"`
}

func newRouter(t *testing.T, blobs storage.BlobStore) (*gin.Engine, string) {
	t.Helper()
	convs := conversation.NewService(memory.NewConversationRepository())
	conv, err := convs.CreateConversation(context.Background(), admin, &conversation.CreateConversationInput{
		Type:         domain.ConversationAdminAffiliate,
		Title:        "KYC documents",
		Participants: []domain.ConversationParticipant{affiliate.AsParticipant()},
	})
	require.NoError(t, err)

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		middleware.SetCaller(c, affiliate)
		c.Next()
	})
	NewHandler(storage.NewService(storage.NewValidator(0), blobs, convs)).RegisterRoutes(v1)
	return r, conv.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestValidateAttachments(t *testing.T) {
	r, _ := newRouter(t, new(MockBlobStore))

	body := `{"files":[
		{"name":"statement.pdf","size":1048576,"type":"application/pdf"},
		{"name":"video.mp4","size":52428800,"type":"video/mp4"},
		{"name":"tool.exe","size":100,"type":"application/x-msdownload"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/attachments/validate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMultiStatus, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Data)
	require.Len(t, env.Data.Attachments, 1)
	assert.Equal(t, "statement.pdf", env.Data.Attachments[0].Name)
	require.Len(t, env.Error.Errors, 2)
	assert.Equal(t, "FILE_TOO_LARGE", env.Error.Errors[0].Code)
	assert.Equal(t, "video.mp4", env.Error.Errors[0].Details["fileName"])
	assert.Equal(t, "UNSUPPORTED_TYPE", env.Error.Errors[1].Code)
}

func TestValidateAttachments_AllAccepted(t *testing.T) {
	r, _ := newRouter(t, new(MockBlobStore))

	req := httptest.NewRequest(http.MethodPost, "/v1/attachments/validate",
		bytes.NewBufferString(`{"files":[{"name":"a.png","size":10,"type":"image/png"}]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w).Data.Attachments, 1)
}

type part struct {
	name, contentType string
	data              []byte
}

func multipartRequest(t *testing.T, conversationID string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if conversationID != "" {
		require.NoError(t, mw.WriteField("conversationId", conversationID))
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		h.Set("Content-Type", p.contentType)
		fw, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadAttachments(t *testing.T) {
	blobs := new(MockBlobStore)
	r, convID := newRouter(t, blobs)
	blobs.On("Put", mock.Anything, mock.AnythingOfType("string"), mock.Anything, int64(4), "application/pdf").
		Return("https://files.example.com/w9.pdf", nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, convID, part{"w9.pdf", "application/pdf", []byte("%PDF")}))

	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	env := decode(t, w)
	require.Len(t, env.Data.Attachments, 1)
	assert.Equal(t, "https://files.example.com/w9.pdf", env.Data.Attachments[0].URL)
	blobs.AssertExpectations(t)
}

func TestUploadAttachments_PartialFailure(t *testing.T) {
	blobs := new(MockBlobStore)
	r, convID := newRouter(t, blobs)
	blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("https://files.example.com/a.png", nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, convID,
		part{"a.png", "image/png", []byte("png")},
		part{"b.sh", "application/x-sh", []byte("#!/bin/sh")},
	))

	assert.Equal(t, http.StatusMultiStatus, w.Code)
	env := decode(t, w)
	require.Len(t, env.Data.Attachments, 1)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "UNSUPPORTED_TYPE", env.Error.Errors[0].Code)
}

func TestUploadAttachments_StoreDown(t *testing.T) {
	blobs := new(MockBlobStore)
	r, convID := newRouter(t, blobs)
	blobs.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", stderrors.New("connection refused"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, convID, part{"a.png", "image/png", []byte("png")}))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	env := decode(t, w)
	require.Len(t, env.Error.Errors, 1)
	assert.Equal(t, "STORE_UNAVAILABLE", env.Error.Errors[0].Code)
}

func TestUploadAttachments_BadRequests(t *testing.T) {
	r, convID := newRouter(t, new(MockBlobStore))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "", part{"a.png", "image/png", []byte("png")}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, convID))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, multipartRequest(t, "missing", part{"a.png", "image/png", []byte("png")}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
