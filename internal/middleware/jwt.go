package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/watchparty/backend/internal/auth"
	"github.com/watchparty/backend/pkg/response"
)

const (
	// ContextSessionID is the key for the media server session id in gin context.
	ContextSessionID = "session_id"
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
)

// JWT returns a middleware that validates the session token and sets its claims in context.
// The token is read from the Authorization header or the token query parameter.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(c, "invalid authorization header")
				c.Abort()
				return
			}
			token = parts[1]
		}
		if token == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextSessionID, claims.SessionID)
		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

// SessionID returns the session id set by JWT.
func SessionID(c *gin.Context) string {
	return c.GetString(ContextSessionID)
}
