package response

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/logger"
)

// Response represents standard API response envelope
type Response struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Meta         `json:"meta"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details any            `json:"details,omitempty"`
	Errors  []*ErrorDetail `json:"errors,omitempty"`
}

// Meta contains response metadata
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func meta(c *gin.Context) Meta {
	return Meta{
		Timestamp: time.Now().UTC(),
		RequestID: getRequestID(c),
	}
}

// Success sends a successful response
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Data:    data,
		Meta:    meta(c),
	})
}

// Error sends an error response
func Error(c *gin.Context, statusCode int, errorCode, errorMessage string) {
	c.AbortWithStatusJSON(statusCode, Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    errorCode,
			Message: errorMessage,
		},
		Meta: meta(c),
	})
}

func detail(e *errors.AppError) *ErrorDetail {
	return &ErrorDetail{Code: string(e.Code), Message: e.Message, Details: e.Details}
}

// FromError translates err into the envelope. AppErrors keep their status;
// batch errors report every item and partial results under data.
func FromError(c *gin.Context, err error) {
	FromErrorWithData(c, err, nil)
}

// FromErrorWithData is FromError carrying partial results
func FromErrorWithData(c *gin.Context, err error, data interface{}) {
	var batch *errors.BatchError
	if stderrors.As(err, &batch) {
		items := make([]*ErrorDetail, 0, len(batch.Errors))
		status := http.StatusBadRequest
		for _, e := range batch.Errors {
			items = append(items, detail(e))
			if e.StatusCode >= http.StatusInternalServerError {
				status = http.StatusBadGateway
			}
		}
		if data != nil {
			status = http.StatusMultiStatus
		}
		c.AbortWithStatusJSON(status, Response{
			Success: false,
			Data:    data,
			Error: &ErrorDetail{
				Code:    string(errors.ErrCodeValidation),
				Message: batch.Error(),
				Errors:  items,
			},
			Meta: meta(c),
		})
		return
	}

	appErr := errors.GetAppError(err)
	if !errors.IsAppError(err) {
		logger.FromContext(c.Request.Context()).Error("Unhandled error", zap.Error(err))
		appErr = errors.InternalError("Internal server error")
	}
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error:   detail(appErr),
		Meta:    meta(c),
	})
}

// ValidationError sends a validation error response (400)
func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, string(errors.ErrCodeValidation), message)
}

// Unauthorized sends unauthorized error (401)
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, string(errors.ErrCodeUnauthorized), message)
}

// Forbidden sends forbidden error (403)
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, string(errors.ErrCodePermission), message)
}

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}
