package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/middleware"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
)

const maxBodyBytes = 1 << 20

func permissionFromContext(c *gin.Context) (filter.PermissionContext, error) {
	perm, ok := middleware.Permission(c)
	if !ok || perm.UserID == "" {
		return filter.PermissionContext{}, appErrors.ErrUnauthorized
	}
	return perm, nil
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge, "request body too large")
		}
		return nil, appErrors.Clone(appErrors.ErrValidation, "unable to read request body")
	}
	return body, nil
}

func withMeta(c *gin.Context, result filter.Result) map[string]interface{} {
	middleware.SetMeta(c, "scope", result.ScopeLabel)
	middleware.SetMeta(c, "layers", result.Layers())
	return middleware.ExtractMeta(c)
}
