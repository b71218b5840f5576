package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-remote/backend/internal/auth"
	"github.com/aura-remote/backend/pkg/response"
)

const (
	// ContextUserID is the key for the authenticated user id in gin context.
	ContextUserID = "user_id"
	// ContextUserName is the key for the display name carried by the token.
	ContextUserName = "user_name"
)

// JWT returns a middleware that validates the bearer token and sets the user id in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.Identity())
		c.Set(ContextUserName, claims.Name)
		c.Next()
	}
}
