package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/models"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
	"github.com/noah-isme/estate-erp-api/pkg/response"
)

// Context keys for verified identity.
const (
	ContextUserKey       = "currentUser"
	ContextPermissionKey = "permissionContext"
)

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token. The permission
// context is derived once here and never from request input.
func JWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, claims)
		c.Set(ContextPermissionKey, claims.PermissionContext())
		c.Next()
	}
}

// Permission returns the caller's permission context set by JWT.
func Permission(c *gin.Context) (filter.PermissionContext, bool) {
	value, exists := c.Get(ContextPermissionKey)
	if !exists {
		return filter.PermissionContext{}, false
	}
	perm, ok := value.(filter.PermissionContext)
	return perm, ok
}
