package sessions

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oratify/backend/internal/middleware"
	"github.com/oratify/backend/internal/models"
	"github.com/oratify/backend/internal/presentations"
	"github.com/oratify/backend/internal/realtime"
	"github.com/oratify/backend/pkg/response"
)

// ChangeSlideRequest is the body for PUT /sessions/:id/slide.
type ChangeSlideRequest struct {
	SlideID uuid.UUID `json:"slide_id" binding:"required"`
}

// Handler handles session HTTP endpoints. Lifecycle and slide operations go
// through the orchestrator so REST calls and WebSocket messages produce
// identical broadcasts.
type Handler struct {
	repo             *Repository
	presentationRepo *presentations.Repository
	orchestrator     *realtime.Orchestrator
	logger           *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(repo *Repository, presentationRepo *presentations.Repository, orchestrator *realtime.Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, presentationRepo: presentationRepo, orchestrator: orchestrator, logger: logger}
}

// Create handles POST /presentations/:id/sessions.
func (h *Handler) Create(c *gin.Context) {
	presentationID, ok := h.ownedPresentation(c, c.Param("id"))
	if !ok {
		return
	}
	session, err := h.repo.Create(c.Request.Context(), presentationID)
	if err != nil {
		h.logger.Error("create session", zap.Error(err))
		response.Internal(c, "failed to create session")
		return
	}
	response.Created(c, session)
}

// List handles GET /presentations/:id/sessions. Supports ?status=, ?limit=
// and ?offset= query parameters.
func (h *Handler) List(c *gin.Context) {
	presentationID, ok := h.ownedPresentation(c, c.Param("id"))
	if !ok {
		return
	}
	filter := ListFilter{Status: models.SessionStatus(c.Query("status"))}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	list, err := h.repo.ListByPresentation(c.Request.Context(), presentationID, filter)
	if err != nil {
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// GetByJoinCode handles GET /join/:code, the unauthenticated lookup the
// audience join page uses before opening the socket. Only non-sensitive
// fields are exposed.
func (h *Handler) GetByJoinCode(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	session, err := h.repo.GetSessionByJoinCode(c.Request.Context(), code)
	if errors.Is(err, realtime.ErrSessionNotFound) {
		response.NotFound(c, "session not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load session")
		return
	}

	title := ""
	if p, err := h.repo.GetPresentation(c.Request.Context(), session.PresentationID); err == nil {
		title = p.Title
	}
	response.OK(c, gin.H{
		"session_id":         session.ID,
		"join_code":          session.JoinCode,
		"status":             session.Status,
		"presentation_title": title,
	})
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	response.OK(c, session)
}

// Start handles POST /sessions/:id/start.
func (h *Handler) Start(c *gin.Context) {
	h.lifecycle(c, h.orchestrator.StartSession)
}

// Pause handles POST /sessions/:id/pause.
func (h *Handler) Pause(c *gin.Context) {
	h.lifecycle(c, h.orchestrator.PauseSession)
}

// Resume handles POST /sessions/:id/resume.
func (h *Handler) Resume(c *gin.Context) {
	h.lifecycle(c, h.orchestrator.ResumeSession)
}

// End handles POST /sessions/:id/end.
func (h *Handler) End(c *gin.Context) {
	h.lifecycle(c, h.orchestrator.EndSession)
}

// ChangeSlide handles PUT /sessions/:id/slide.
func (h *Handler) ChangeSlide(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	var req ChangeSlideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	updated, err := h.orchestrator.ChangeSlide(c.Request.Context(), session.ID, req.SlideID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, updated)
}

// Statistics handles GET /sessions/:id/statistics.
func (h *Handler) Statistics(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	stats, err := h.repo.GetStatistics(c.Request.Context(), session.ID)
	if err != nil {
		response.Internal(c, "failed to load statistics")
		return
	}
	response.OK(c, stats)
}

// Responses handles GET /sessions/:id/slides/:slideId/responses.
func (h *Handler) Responses(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	slideID, err := uuid.Parse(c.Param("slideId"))
	if err != nil {
		response.BadRequest(c, "invalid slide id")
		return
	}
	list, err := h.repo.ListResponses(c.Request.Context(), session.ID, slideID)
	if err != nil {
		response.Internal(c, "failed to list responses")
		return
	}
	response.OK(c, list)
}

// lifecycle runs one of the orchestrator's session transitions after an
// ownership check.
func (h *Handler) lifecycle(c *gin.Context, op func(ctx context.Context, id uuid.UUID) (*models.Session, error)) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	updated, err := op(c.Request.Context(), session.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, updated)
}

// writeError maps engine errors to HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var transition *realtime.InvalidTransitionError
	switch {
	case errors.As(err, &transition):
		response.Conflict(c, transition.Error())
	case errors.Is(err, realtime.ErrSessionNotFound):
		response.NotFound(c, "session not found")
	case errors.Is(err, realtime.ErrSessionNotActive):
		response.Conflict(c, "session is not active")
	case errors.Is(err, realtime.ErrSessionEnded):
		response.Conflict(c, "session has ended")
	case errors.Is(err, realtime.ErrSlideNotFound), errors.Is(err, realtime.ErrSlideNotInPresentation):
		response.BadRequest(c, "slide does not belong to this presentation")
	case errors.Is(err, realtime.ErrPresentationHasNoSlides):
		response.BadRequest(c, "presentation has no slides")
	default:
		h.logger.Error("session operation", zap.Error(err))
		response.Internal(c, "operation failed")
	}
}

// ownedSession loads the session from the :id param and verifies the caller
// owns its presentation.
func (h *Handler) ownedSession(c *gin.Context) (*models.Session, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return nil, false
	}
	session, err := h.repo.GetSession(c.Request.Context(), id)
	if errors.Is(err, realtime.ErrSessionNotFound) {
		response.NotFound(c, "session not found")
		return nil, false
	}
	if err != nil {
		response.Internal(c, "failed to load session")
		return nil, false
	}
	if _, ok := h.ownedPresentation(c, session.PresentationID.String()); !ok {
		return nil, false
	}
	return session, true
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
