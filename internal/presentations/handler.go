package presentations

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oratify/backend/internal/middleware"
	"github.com/oratify/backend/internal/models"
	"github.com/oratify/backend/pkg/response"
)

// CreateRequest is the body for POST /presentations.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// UpdateRequest is the body for PATCH /presentations/:id.
type UpdateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// Handler handles presentation HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a presentations handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// Create handles POST /presentations.
func (h *Handler) Create(c *gin.Context) {
	speakerID := c.MustGet(middleware.ContextSpeakerID).(uuid.UUID)

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	p := &models.Presentation{
		SpeakerID:   speakerID,
		Title:       req.Title,
		Description: req.Description,
	}
	if err := h.repo.Create(c.Request.Context(), p); err != nil {
		response.Internal(c, "failed to create presentation")
		return
	}
	response.Created(c, p)
}

// List handles GET /presentations.
func (h *Handler) List(c *gin.Context) {
	speakerID := c.MustGet(middleware.ContextSpeakerID).(uuid.UUID)
	list, err := h.repo.ListBySpeaker(c.Request.Context(), speakerID)
	if err != nil {
		response.Internal(c, "failed to list presentations")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /presentations/:id.
func (h *Handler) GetByID(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	response.OK(c, p)
}

// Update handles PATCH /presentations/:id.
func (h *Handler) Update(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.repo.Update(c.Request.Context(), p.ID, req.Title, req.Description); err != nil {
		response.Internal(c, "failed to update presentation")
		return
	}
	p.Title = req.Title
	p.Description = req.Description
	response.OK(c, p)
}

// Delete handles DELETE /presentations/:id.
func (h *Handler) Delete(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), p.ID); err != nil {
		response.Internal(c, "failed to delete presentation")
		return
	}
	response.NoContent(c)
}

// owned loads the presentation from the :id param and verifies the caller
// owns it.
func (h *Handler) owned(c *gin.Context) (*models.Presentation, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid presentation id")
		return nil, false
	}
	speakerID := c.MustGet(middleware.ContextSpeakerID).(uuid.UUID)

	p, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "presentation not found")
		return nil, false
	}
	if err != nil {
		response.Internal(c, "failed to load presentation")
		return nil, false
	}
	if p.SpeakerID != speakerID {
		response.Forbidden(c, "you do not own this presentation")
		return nil, false
	}
	return p, true
}
