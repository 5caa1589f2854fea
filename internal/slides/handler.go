package slides

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oratify/backend/internal/middleware"
	"github.com/oratify/backend/internal/models"
	"github.com/oratify/backend/internal/presentations"
	"github.com/oratify/backend/pkg/response"
)

// CreateRequest is the body for POST /presentations/:id/slides.
type CreateRequest struct {
	Type    string          `json:"type" binding:"required"`
	Content json.RawMessage `json:"content" binding:"required"`
}

// UpdateRequest is the body for PATCH /slides/:id.
type UpdateRequest struct {
	Type    string          `json:"type" binding:"required"`
	Content json.RawMessage `json:"content" binding:"required"`
}

// ReorderRequest is the body for PUT /presentations/:id/slides/order.
type ReorderRequest struct {
	SlideIDs []uuid.UUID `json:"slide_ids" binding:"required,min=1"`
}

// Handler handles slide HTTP endpoints.
type Handler struct {
	repo             *Repository
	presentationRepo *presentations.Repository
}

// NewHandler creates a slides handler.
func NewHandler(repo *Repository, presentationRepo *presentations.Repository) *Handler {
	return &Handler{repo: repo, presentationRepo: presentationRepo}
}

// Create handles POST /presentations/:id/slides.
func (h *Handler) Create(c *gin.Context) {
	presentationID, ok := h.ownedPresentation(c, c.Param("id"))
	if !ok {
		return
	}

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := ValidateContent(req.Type, req.Content); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	s := &models.Slide{
		PresentationID: presentationID,
		Type:           req.Type,
		Content:        req.Content,
	}
	if err := h.repo.Create(c.Request.Context(), s); err != nil {
		response.Internal(c, "failed to create slide")
		return
	}
	response.Created(c, s)
}

// List handles GET /presentations/:id/slides.
func (h *Handler) List(c *gin.Context) {
	presentationID, ok := h.ownedPresentation(c, c.Param("id"))
	if !ok {
		return
	}
	list, err := h.repo.ListByPresentation(c.Request.Context(), presentationID)
	if err != nil {
		response.Internal(c, "failed to list slides")
		return
	}
	response.OK(c, list)
}

// Update handles PATCH /slides/:id.
func (h *Handler) Update(c *gin.Context) {
	slide, ok := h.ownedSlide(c)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := ValidateContent(req.Type, req.Content); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.repo.Update(c.Request.Context(), slide.ID, req.Type, req.Content); err != nil {
		response.Internal(c, "failed to update slide")
		return
	}
	slide.Type = req.Type
	slide.Content = req.Content
	response.OK(c, slide)
}

// Reorder handles PUT /presentations/:id/slides/order.
func (h *Handler) Reorder(c *gin.Context) {
	presentationID, ok := h.ownedPresentation(c, c.Param("id"))
	if !ok {
		return
	}

	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.repo.Reorder(c.Request.Context(), presentationID, req.SlideIDs); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.BadRequest(c, "slide_ids must match this presentation's slides")
			return
		}
		response.Internal(c, "failed to reorder slides")
		return
	}
	response.OK(c, gin.H{"reordered": true})
}

// Delete handles DELETE /slides/:id.
func (h *Handler) Delete(c *gin.Context) {
	slide, ok := h.ownedSlide(c)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), slide.ID); err != nil {
		response.Internal(c, "failed to delete slide")
		return
	}
	response.NoContent(c)
}

// ValidateContent checks the JSONB content against the slide type's schema.
func ValidateContent(slideType string, content json.RawMessage) error {
	switch slideType {
	case models.SlideTypeContent, models.SlideTypeSummary, models.SlideTypeConclusion:
		if !json.Valid(content) {
			return errors.New("content must be a JSON object")
		}
		return nil
	case models.SlideTypeText:
		var tc models.TextContent
		if err := json.Unmarshal(content, &tc); err != nil {
			return errors.New("content does not match the text question schema")
		}
		if tc.Question == "" {
			return errors.New("content.question is required")
		}
		return nil
	case models.SlideTypeChoice:
		var cc models.ChoiceContent
		if err := json.Unmarshal(content, &cc); err != nil {
			return errors.New("content does not match the choice question schema")
		}
		if cc.Question == "" {
			return errors.New("content.question is required")
		}
		if len(cc.Options) < 2 {
			return errors.New("content.options requires at least two options")
		}
		seen := make(map[string]struct{}, len(cc.Options))
		for _, opt := range cc.Options {
			if opt.ID == "" || opt.Text == "" {
				return errors.New("every option needs an id and text")
			}
			if _, dup := seen[opt.ID]; dup {
				return fmt.Errorf("duplicate option id %q", opt.ID)
			}
			seen[opt.ID] = struct{}{}
		}
		return nil
	default:
		return fmt.Errorf("unknown slide type %q", slideType)
	}
}

func (h *Handler) ownedPresentation(c *gin.Context, param string) (uuid.UUID, bool) {
	presentationID, err := uuid.Parse(param)
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

func (h *Handler) ownedSlide(c *gin.Context) (*models.Slide, bool) {
	slideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid slide id")
		return nil, false
	}
	slide, err := h.repo.GetByID(c.Request.Context(), slideID)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "slide not found")
		return nil, false
	}
	if err != nil {
		response.Internal(c, "failed to load slide")
		return nil, false
	}
	if _, ok := h.ownedPresentation(c, slide.PresentationID.String()); !ok {
		return nil, false
	}
	return slide, true
}
