package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oratify/backend/internal/auth"
	"github.com/oratify/backend/pkg/response"
)

// ContextSpeakerID is the gin context key holding the authenticated speaker's UUID.
const ContextSpeakerID = "speaker_id"

// JWT validates the Authorization bearer token and stores the speaker ID in
// the request context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextSpeakerID, claims.SpeakerID)
		c.Next()
	}
}
