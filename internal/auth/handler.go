package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oratify/backend/internal/models"
	"github.com/oratify/backend/pkg/response"
	"github.com/oratify/backend/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name" binding:"required"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Handler handles speaker auth endpoints.
type Handler struct {
	repo   *Repository
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, jwt *JWTService, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, jwt: jwt, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	if existing, err := h.repo.GetByEmail(c.Request.Context(), req.Email); err == nil && existing != nil {
		response.Conflict(c, "email already registered")
		return
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		response.Internal(c, "failed to register")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to register")
		return
	}

	speaker := &models.Speaker{
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
	}
	if err := h.repo.Create(c.Request.Context(), speaker); err != nil {
		h.logger.Error("create speaker", zap.Error(err))
		response.Internal(c, "failed to register")
		return
	}

	token, err := h.jwt.Generate(speaker.ID, speaker.Email)
	if err != nil {
		response.Internal(c, "failed to issue token")
		return
	}
	response.Created(c, gin.H{"token": token, "speaker": speaker.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	speaker, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil || !utils.CheckPassword(req.Password, speaker.PasswordHash) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(speaker.ID, speaker.Email)
	if err != nil {
		response.Internal(c, "failed to issue token")
		return
	}
	response.OK(c, gin.H{"token": token, "speaker": speaker.ToPublic()})
}
