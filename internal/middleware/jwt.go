package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campus-talks/backend/internal/auth"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
	// ContextUserName is the key for the display name in gin context.
	ContextUserName = "user_name"
)

// JWT returns a middleware that validates JWT and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			// Browsers cannot set headers on websocket upgrades.
			token = c.Query("token")
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
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserEmail, claims.Email)
		c.Set(ContextUserName, claims.Name)
		c.Next()
	}
}

func bearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Identity returns the caller set by JWT.
func Identity(c *gin.Context) authz.Identity {
	return authz.Identity{
		UID:   c.GetString(ContextUserID),
		Role:  models.Role(c.GetString(ContextUserRole)),
		Email: c.GetString(ContextUserEmail),
		Name:  c.GetString(ContextUserName),
	}
}
