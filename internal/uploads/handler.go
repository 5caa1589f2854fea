package uploads

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oratify/backend/internal/middleware"
	"github.com/oratify/backend/internal/presentations"
	"github.com/oratify/backend/pkg/response"
	"github.com/oratify/backend/pkg/storage"
)

// UploadURLRequest is the body for POST /presentations/:id/assets/upload-url.
type UploadURLRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
}

// Handler issues pre-signed URLs for slide image assets. Clients upload
// directly to S3; only the key round-trips through the API.
type Handler struct {
	s3               *storage.S3
	presentationRepo *presentations.Repository
	logger           *zap.Logger
}

// NewHandler creates an uploads handler. s3 may be nil when storage is not
// configured; endpoints then return 503.
func NewHandler(s3 *storage.S3, presentationRepo *presentations.Repository, logger *zap.Logger) *Handler {
	return &Handler{s3: s3, presentationRepo: presentationRepo, logger: logger}
}

// GenerateUploadURL handles POST /presentations/:id/assets/upload-url.
func (h *Handler) GenerateUploadURL(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "asset storage is not configured")
		return
	}
	presentationID, ok := h.owned(c)
	if !ok {
		return
	}

	var req UploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !storage.ValidateAssetFileType(req.ContentType, req.Filename) {
		response.BadRequest(c, "unsupported file type for slide assets")
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(req.Filename)
	}
	key := storage.AssetKey(presentationID.String(), fmt.Sprintf("%s-%s", uuid.New().String(), req.Filename))

	url, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), key, contentType, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign upload", zap.Error(err))
		response.Internal(c, "failed to generate upload URL")
		return
	}
	response.OK(c, gin.H{"upload_url": url, "key": key, "content_type": contentType})
}

// GenerateDownloadURL handles GET /presentations/:id/assets/download-url?key=...
func (h *Handler) GenerateDownloadURL(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "asset storage is not configured")
		return
	}
	presentationID, ok := h.owned(c)
	if !ok {
		return
	}

	key := c.Query("key")
	prefix := storage.AssetKey(presentationID.String(), "") + "/"
	if !strings.HasPrefix(key, prefix) {
		response.BadRequest(c, "key must reference this presentation's assets")
		return
	}

	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), key, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign download", zap.Error(err))
		response.Internal(c, "failed to generate download URL")
		return
	}
	response.OK(c, gin.H{"download_url": url})
}

func (h *Handler) owned(c *gin.Context) (uuid.UUID, bool) {
	presentationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid presentation id")
		return uuid.Nil, false
	}
	speakerID := c.MustGet(middleware.ContextSpeakerID).(uuid.UUID)

	p, err := h.presentationRepo.GetByID(c.Request.Context(), presentationID)
	if errors.Is(err, presentations.ErrNotFound) {
		response.NotFound(c, "presentation not found")
		return uuid.Nil, false
	}
	if err != nil {
		response.Internal(c, "failed to load presentation")
		return uuid.Nil, false
	}
	if p.SpeakerID != speakerID {
		response.Forbidden(c, "you do not own this presentation")
		return uuid.Nil, false
	}
	return presentationID, true
}
