package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeFileTooLarge    ErrorCode = "FILE_TOO_LARGE"
	ErrCodeUnsupportedType ErrorCode = "UNSUPPORTED_TYPE"

	// Authentication / authorization errors
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodePermission        ErrorCode = "PERMISSION_DENIED"
	ErrCodeAccountRestricted ErrorCode = "ACCOUNT_RESTRICTED"

	// State machine guards
	ErrCodeInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrCodeAlreadyEscalated   ErrorCode = "ALREADY_ESCALATED"
	ErrCodeAlreadyParticipant ErrorCode = "ALREADY_PARTICIPANT"

	// Not found errors
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Rate limiting errors
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal errors
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WrapWithStatus wraps an existing error with an AppError and specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Validation errors
func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func FileTooLargeError(fileName string, limit int64) *AppError {
	return NewWithStatus(ErrCodeFileTooLarge,
		fmt.Sprintf("%s exceeds the %d MB limit", fileName, limit/(1024*1024)),
		http.StatusRequestEntityTooLarge,
	).WithDetails(map[string]any{"fileName": fileName})
}

func UnsupportedTypeError(fileName, contentType string) *AppError {
	return NewWithStatus(ErrCodeUnsupportedType,
		fmt.Sprintf("%s has unsupported type %q", fileName, contentType),
		http.StatusUnsupportedMediaType,
	).WithDetails(map[string]any{"fileName": fileName, "type": contentType})
}

// Authentication / authorization errors
func UnauthorizedError(message string) *AppError {
	return NewWithStatus(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func PermissionError(message string) *AppError {
	return NewWithStatus(ErrCodePermission, message, http.StatusForbidden)
}

func AccountRestrictedError(reason string) *AppError {
	msg := "Messaging is unavailable for this account"
	if reason != "" {
		msg += ": " + reason
	}
	return NewWithStatus(ErrCodeAccountRestricted, msg, http.StatusForbidden)
}

// State machine guards
func InvalidTransitionError(from, action string) *AppError {
	return NewWithStatus(ErrCodeInvalidTransition,
		fmt.Sprintf("cannot %s a conversation in status %s", action, from),
		http.StatusConflict,
	).WithDetails(map[string]any{"status": from, "action": action})
}

func AlreadyEscalatedError(conversationID string) *AppError {
	return NewWithStatus(ErrCodeAlreadyEscalated,
		fmt.Sprintf("conversation %s is already escalated", conversationID),
		http.StatusConflict)
}

func AlreadyParticipantError(userID string) *AppError {
	return NewWithStatus(ErrCodeAlreadyParticipant,
		fmt.Sprintf("user %s is already a participant", userID),
		http.StatusConflict)
}

// Not found errors
func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// Rate limiting errors
func RateLimitExceededError() *AppError {
	return NewWithStatus(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// Internal errors
func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func StoreUnavailableError(store string, err error) *AppError {
	return WrapWithStatus(ErrCodeStoreUnavailable, store+" store unavailable", http.StatusServiceUnavailable, err)
}

// IsAppError checks if an error is, or wraps, an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err.Error())
}

// CodeOf returns the error code carried by err, or empty string
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// BatchError collects per-item failures of a multi-file submission
type BatchError struct {
	Errors []*AppError `json:"errors"`
}

func (b *BatchError) Error() string {
	msgs := make([]string, len(b.Errors))
	for i, e := range b.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d file(s) rejected: %s", len(b.Errors), strings.Join(msgs, "; "))
}

// Add appends a failure
func (b *BatchError) Add(err *AppError) {
	b.Errors = append(b.Errors, err)
}

// ErrOrNil returns nil when nothing was collected
func (b *BatchError) ErrOrNil() error {
	if b == nil || len(b.Errors) == 0 {
		return nil
	}
	return b
}
