package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/estate-erp-api/internal/models"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
	"github.com/noah-isme/estate-erp-api/pkg/response"
)

// RequireRoles allows callers holding one of roles. Elevated callers always pass.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		perm, ok := Permission(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[models.UserRole(perm.RoleName)]; ok || perm.IsElevated() {
			c.Next()
			return
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireElevated restricts a route to administrative callers.
func RequireElevated() gin.HandlerFunc {
	return RequireRoles()
}
