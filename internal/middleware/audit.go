package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/estate-erp-api/internal/service"
	"github.com/noah-isme/estate-erp-api/pkg/middleware/requestid"
)

// AuditContext stamps the request context with the client address, user
// agent and request id so audit events emitted by services record them.
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := service.WithRequestMeta(c.Request.Context(), c.ClientIP(), c.GetHeader("User-Agent"), requestid.Value(c))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
