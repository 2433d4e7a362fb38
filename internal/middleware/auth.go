package middleware

import (
	"net/http"
	"slices"

	"farmgate/internal/service"

	"github.com/gin-gonic/gin"
)

// RequireSession rejects anonymous callers. It must run after OptionalSession.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if service.GetSession(c.Request.Context()) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := service.GetSession(c.Request.Context())
		if s == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		if !slices.Contains(roles, s.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
