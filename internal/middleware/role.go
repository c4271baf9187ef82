package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given token roles.
// It is a coarse early filter; services still consult the authorization
// guard against the stored profile.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		role, _ := roleVal.(string)
		if _, ok := allowed[models.Role(role)]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
