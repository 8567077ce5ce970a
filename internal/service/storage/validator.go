package storage

import (
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"

	"portal-messaging/internal/domain"
	"portal-messaging/pkg/constants"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/metrics"
	"portal-messaging/pkg/sanitize"
)

// FileDescriptor describes a file offered for attachment
type FileDescriptor struct {
	Name string `json:"name" binding:"required"`
	Size int64  `json:"size"`
	Type string `json:"type" binding:"required"`
}

// Validator checks files against the size limit and MIME allow-list.
// It issues attachment references but never touches blob storage.
type Validator struct {
	maxSize int64
	allowed map[string]bool
	urlFor  func(id, name string) string
}

// NewValidator creates a validator. maxSize <= 0 selects the default limit.
func NewValidator(maxSize int64) *Validator {
	if maxSize <= 0 {
		maxSize = constants.MaxAttachmentSize
	}
	return &Validator{
		maxSize: maxSize,
		allowed: constants.AllowedMIMETypes,
		urlFor: func(id, name string) string {
			return fmt.Sprintf("/v1/attachments/%s/%s", id, sanitize.ObjectKeySegment(name))
		},
	}
}

// MaxSize returns the per-file limit in bytes
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// normalizeType drops MIME parameters such as "; charset=utf-8"
func normalizeType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

func (v *Validator) check(name string, size int64, contentType string) *errors.AppError {
	// Size first: an oversized file of an unsupported type reports FileTooLarge.
	if size > v.maxSize {
		metrics.AttachmentRejectedTotal.WithLabelValues("too_large").Inc()
		return errors.FileTooLargeError(name, v.maxSize)
	}
	if !v.allowed[normalizeType(contentType)] {
		metrics.AttachmentRejectedTotal.WithLabelValues("unsupported_type").Inc()
		return errors.UnsupportedTypeError(name, contentType)
	}
	return nil
}

// Validate returns an attachment reference for an acceptable file or a
// FileTooLarge / UnsupportedType error carrying the file name
func (v *Validator) Validate(fd FileDescriptor) (*domain.Attachment, error) {
	name := sanitize.SanitizeFilename(fd.Name)
	if name == "" {
		return nil, errors.ValidationError("File name is required")
	}
	if fd.Size < 0 {
		return nil, errors.ValidationError(fmt.Sprintf("Invalid size for %s", name))
	}
	if appErr := v.check(name, fd.Size, fd.Type); appErr != nil {
		return nil, appErr
	}

	id := uuid.NewString()
	return &domain.Attachment{
		ID:   id,
		Name: name,
		Size: fd.Size,
		Type: normalizeType(fd.Type),
		URL:  v.urlFor(id, name),
	}, nil
}

// ValidateBatch validates every file. Accepted attachments keep input order;
// the error, if any, is a *errors.BatchError with one entry per rejected file.
func (v *Validator) ValidateBatch(files []FileDescriptor) ([]domain.Attachment, error) {
	accepted := make([]domain.Attachment, 0, len(files))
	batch := &errors.BatchError{}
	for _, fd := range files {
		att, err := v.Validate(fd)
		if err != nil {
			batch.Add(errors.GetAppError(err))
			continue
		}
		accepted = append(accepted, *att)
	}
	return accepted, batch.ErrOrNil()
}

// Check re-validates an attachment reference submitted with a message
func (v *Validator) Check(att domain.Attachment) error {
	if att.ID == "" || att.URL == "" {
		return errors.ValidationError(fmt.Sprintf("Attachment %q has no reference", att.Name))
	}
	if appErr := v.check(att.Name, att.Size, att.Type); appErr != nil {
		return appErr
	}
	return nil
}
