package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-messaging/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func run(handler gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set("request_id", "req-1")
	handler(c)

	var body Response
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestSuccess(t *testing.T) {
	w, body := run(func(c *gin.Context) { Success(c, http.StatusCreated, gin.H{"id": "1"}) })

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, body.Success)
	assert.Equal(t, "req-1", body.Meta.RequestID)
}

func TestFromError_AppError(t *testing.T) {
	w, body := run(func(c *gin.Context) { FromError(c, errors.AlreadyEscalatedError("conv-1")) })

	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "ALREADY_ESCALATED", body.Error.Code)
}

func TestFromError_WrappedAppError(t *testing.T) {
	err := stderrors.Join(stderrors.New("context"), errors.NotFoundError("Conversation"))
	w, body := run(func(c *gin.Context) { FromError(c, err) })

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestFromError_PlainErrorHidden(t *testing.T) {
	w, body := run(func(c *gin.Context) { FromError(c, stderrors.New("pq: password=secret")) })

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestFromError_Batch(t *testing.T) {
	batch := &errors.BatchError{}
	batch.Add(errors.FileTooLargeError("big.pdf", 10*1024*1024))
	batch.Add(errors.UnsupportedTypeError("run.exe", "application/x-msdownload"))

	w, body := run(func(c *gin.Context) { FromError(c, batch) })
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, body.Error.Errors, 2)
	assert.Equal(t, "FILE_TOO_LARGE", body.Error.Errors[0].Code)
	assert.Equal(t, "UNSUPPORTED_TYPE", body.Error.Errors[1].Code)

	w, body = run(func(c *gin.Context) { FromErrorWithData(c, batch, []string{"ok.pdf"}) })
	assert.Equal(t, http.StatusMultiStatus, w.Code)
	assert.NotNil(t, body.Data)
}
