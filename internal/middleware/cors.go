package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// originSet is the parsed CORS_ALLOWED_ORIGINS value. An empty set or "*"
// allows any origin.
type originSet map[string]struct{}

func parseOrigins(s string) originSet {
	set := make(originSet)
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			set[o] = struct{}{}
		}
	}
	return set
}

// allow returns the Access-Control-Allow-Origin value for origin, or "" when
// the origin is not allowed.
func (s originSet) allow(origin string) string {
	if _, wild := s["*"]; wild || len(s) == 0 {
		return "*"
	}
	if _, ok := s[origin]; ok && origin != "" {
		return origin
	}
	return ""
}

// CORS returns a middleware that sets CORS headers for the web client.
// allowedOrigins is "*" or a comma-separated list of origins.
func CORS(allowedOrigins string) gin.HandlerFunc {
	origins := parseOrigins(allowedOrigins)
	return func(c *gin.Context) {
		if allow := origins.allow(c.GetHeader("Origin")); allow != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Max-Age", "86400")
			if allow != "*" {
				h.Add("Vary", "Origin")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
