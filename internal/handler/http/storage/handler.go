package storage

import (
	stderrors "errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"portal-messaging/internal/domain"
	"portal-messaging/internal/middleware"
	"portal-messaging/internal/service/storage"
	"portal-messaging/pkg/errors"
	"portal-messaging/pkg/response"
)

const maxFilesPerUpload = 10

// Handler handles attachment HTTP requests
type Handler struct {
	storageService *storage.Service
}

// NewHandler creates a new storage handler
func NewHandler(storageService *storage.Service) *Handler {
	return &Handler{
		storageService: storageService,
	}
}

// RegisterRoutes mounts the attachment routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/attachments/validate", h.ValidateAttachments)
	rg.POST("/attachments", h.UploadAttachments)
}

// ValidateAttachmentsRequest lists files a client is about to attach
type ValidateAttachmentsRequest struct {
	Files []storage.FileDescriptor `json:"files" binding:"required,min=1,max=10,dive"`
}

func respondBatch(c *gin.Context, accepted []domain.Attachment, err error) {
	if err == nil {
		response.Success(c, http.StatusOK, gin.H{"attachments": accepted})
		return
	}
	var batch *errors.BatchError
	if stderrors.As(err, &batch) && len(accepted) > 0 {
		response.FromErrorWithData(c, err, gin.H{"attachments": accepted})
		return
	}
	response.FromError(c, err)
}

// ValidateAttachments checks file descriptors against the size and type
// rules and returns attachment references for the accepted ones
// POST /v1/attachments/validate
func (h *Handler) ValidateAttachments(c *gin.Context) {
	var req ValidateAttachmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	accepted, err := h.storageService.Validator().ValidateBatch(req.Files)
	respondBatch(c, accepted, err)
}

// UploadAttachments stores multipart files for a conversation
// POST /v1/attachments
func (h *Handler) UploadAttachments(c *gin.Context) {
	caller, ok := middleware.CallerFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conversationID := c.PostForm("conversationId")
	if conversationID == "" {
		response.ValidationError(c, "conversationId is required")
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		response.ValidationError(c, "Invalid multipart form")
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		response.ValidationError(c, "At least one file is required")
		return
	}
	if len(headers) > maxFilesPerUpload {
		response.ValidationError(c, "Too many files in one upload")
		return
	}

	files := make([]storage.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			response.ValidationError(c, "Unreadable file "+fh.Filename)
			return
		}
		defer f.Close()
		files = append(files, storage.UploadFile{Descriptor: descriptor(fh), Body: f})
	}

	accepted, err := h.storageService.Upload(c.Request.Context(), caller, conversationID, files)
	if err == nil {
		response.Success(c, http.StatusCreated, gin.H{"attachments": accepted})
		return
	}
	respondBatch(c, accepted, err)
}

func descriptor(fh *multipart.FileHeader) storage.FileDescriptor {
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return storage.FileDescriptor{Name: fh.Filename, Size: fh.Size, Type: contentType}
}
