package storage

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/constants"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/metrics"
	"portal-messaging/pkg/resilience"
	"portal-messaging/pkg/sanitize"
)

// ConversationAccess resolves a conversation for a caller, visibility applied
type ConversationAccess interface {
	GetConversation(ctx context.Context, caller domain.Caller, id string) (*domain.Conversation, error)
}

// Service validates attachments and hands accepted files to blob storage
type Service struct {
	validator     *Validator
	blobs         BlobStore
	conversations ConversationAccess
}

// NewService creates a new storage service
func NewService(validator *Validator, blobs BlobStore, conversations ConversationAccess) *Service {
	return &Service{
		validator:     validator,
		blobs:         blobs,
		conversations: conversations,
	}
}

// Validator returns the attachment validator
func (s *Service) Validator() *Validator {
	return s.validator
}

// Blob store health values
const (
	BlobHealthy     = "healthy"
	BlobDegraded    = "degraded"
	BlobUnavailable = "unavailable"
	BlobDisabled    = "disabled"
	BlobUnknown     = "unknown"
)

type healthChecker interface {
	HealthCheck(ctx context.Context) error
	BreakerState() resilience.CircuitBreakerState
}

// BlobHealth describes the blob store for health reporting
type BlobHealth struct {
	Status  string `json:"status"`
	Breaker string `json:"breaker,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BlobHealth probes the blob store. An open or half-open breaker reports
// degraded even when the probe succeeds.
func (s *Service) BlobHealth(ctx context.Context) BlobHealth {
	if s.blobs == nil {
		return BlobHealth{Status: BlobDisabled}
	}
	hc, ok := s.blobs.(healthChecker)
	if !ok {
		return BlobHealth{Status: BlobUnknown}
	}

	h := BlobHealth{Status: BlobHealthy, Breaker: string(hc.BreakerState())}
	if err := hc.HealthCheck(ctx); err != nil {
		h.Status = BlobUnavailable
		h.Error = err.Error()
		return h
	}
	if hc.BreakerState() != resilience.CircuitBreakerClosed {
		h.Status = BlobDegraded
	}
	return h
}

// UploadFile is one file of an upload request
type UploadFile struct {
	Descriptor FileDescriptor
	Body       io.ReadSeeker
}

// ObjectKey builds attachments/<conversation>/<attachment>/<name>
func ObjectKey(conversationID, attachmentID, name string) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		constants.AttachmentKeyPrefix,
		sanitize.ObjectKeySegment(conversationID),
		attachmentID,
		sanitize.ObjectKeySegment(name))
}

// Upload validates and stores every file for a conversation the caller
// participates in. Rejected files are reported together in a
// *errors.BatchError and accepted files are returned either way. A blob
// store failure aborts the stored part of the batch: objects already written
// are removed and every valid file is reported as STORE_UNAVAILABLE.
func (s *Service) Upload(ctx context.Context, caller domain.Caller, conversationID string, files []UploadFile) ([]domain.Attachment, error) {
	if s.blobs == nil {
		return nil, errors.InternalError("Attachment storage is not configured")
	}
	if len(files) == 0 {
		return nil, errors.ValidationError("At least one file is required")
	}

	conv, err := s.conversations.GetConversation(ctx, caller, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(caller.UserID) {
		return nil, errors.PermissionError("Only participants can upload attachments")
	}

	uploaded := make([]domain.Attachment, 0, len(files))
	keys := make([]string, 0, len(files))
	batch := &errors.BatchError{}
	var storeErr error
	for _, f := range files {
		att, err := s.validator.Validate(f.Descriptor)
		if err != nil {
			batch.Add(errors.GetAppError(err))
			continue
		}
		if storeErr != nil {
			batch.Add(storeUnavailable(att.Name, storeErr))
			continue
		}

		key := ObjectKey(conv.ID, att.ID, att.Name)
		url, err := s.blobs.Put(ctx, key, f.Body, att.Size, att.Type)
		if err != nil {
			metrics.AttachmentUploadedTotal.WithLabelValues("failed").Inc()
			logger.FromContext(ctx).Error("Failed to upload attachment",
				zap.String("conversation_id", conv.ID),
				zap.String("attachment_id", att.ID),
				zap.String("key", key),
				zap.Error(err))
			storeErr = err
			batch.Add(storeUnavailable(att.Name, err))
			continue
		}

		metrics.AttachmentUploadedTotal.WithLabelValues("success").Inc()
		att.URL = url
		uploaded = append(uploaded, *att)
		keys = append(keys, key)
	}

	if storeErr != nil && len(uploaded) > 0 {
		s.rollback(ctx, conv.ID, keys)
		for _, att := range uploaded {
			batch.Add(storeUnavailable(att.Name, storeErr))
		}
		uploaded = uploaded[:0]
	}

	logger.FromContext(ctx).Info("Attachments uploaded",
		zap.String("conversation_id", conv.ID),
		zap.Int("accepted", len(uploaded)),
		zap.Int("rejected", len(batch.Errors)))
	return uploaded, batch.ErrOrNil()
}

// rollback removes objects written before the batch failed. Removal errors
// leave orphaned objects behind and are only logged.
func (s *Service) rollback(ctx context.Context, conversationID string, keys []string) {
	for _, key := range keys {
		if err := s.blobs.Remove(ctx, key); err != nil {
			logger.FromContext(ctx).Warn("Failed to remove attachment after aborted upload",
				zap.String("conversation_id", conversationID),
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		metrics.AttachmentUploadedTotal.WithLabelValues("rolled_back").Inc()
	}
}

func storeUnavailable(fileName string, err error) *errors.AppError {
	return errors.StoreUnavailableError("attachment", err).WithDetails(map[string]any{"fileName": fileName})
}
