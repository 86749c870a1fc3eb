package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/pkg/response"
)

var errRoleNotAllowed = apperr.New(apperr.KindForbidden, "role_not_allowed", "this action is not available to your role")

// RequireRole lets through callers whose token carries one of roles. It must run after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := c.Get(ContextUserRole)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		response.Error(c, errRoleNotAllowed)
		c.Abort()
	}
}
