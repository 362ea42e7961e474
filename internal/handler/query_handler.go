package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/estate-erp-api/internal/dto"
	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/service"
	"github.com/noah-isme/estate-erp-api/pkg/response"
)

type queryService interface {
	Query(ctx context.Context, entity string, payload filter.Payload, perm filter.PermissionContext) (*service.QueryResult, error)
	Explain(ctx context.Context, entity string, payload filter.Payload, perm filter.PermissionContext) (filter.Result, error)
}

// QueryHandler exposes resolved entity listings.
type QueryHandler struct {
	service queryService
}

// NewQueryHandler constructs the handler.
func NewQueryHandler(service queryService) *QueryHandler {
	return &QueryHandler{service: service}
}

// List godoc
// @Summary List entity rows through the filter engine
// @Tags Query
// @Accept json
// @Produce json
// @Param entity path string true "Entity name"
// @Param payload body filter.Payload false "Filter payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /query/{entity} [post]
func (h *QueryHandler) List(c *gin.Context) {
	perm, err := permissionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	payload, err := h.decode(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.Query(c.Request.Context(), c.Param("entity"), payload, perm)
	if err != nil {
		response.Error(c, err)
		return
	}
	body := dto.QueryResponse{Entity: c.Param("entity"), Scope: result.Result.ScopeLabel, Rows: result.Rows}
	response.JSON(c, http.StatusOK, body, &result.Pagination, withMeta(c, result.Result))
}

// Resolve godoc
// @Summary Show the predicate, sort and layer trace for a payload
// @Tags Query
// @Accept json
// @Produce json
// @Param entity path string true "Entity name"
// @Param payload body filter.Payload false "Filter payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /query/{entity}/resolve [post]
func (h *QueryHandler) Resolve(c *gin.Context) {
	perm, err := permissionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	payload, err := h.decode(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.Explain(c.Request.Context(), c.Param("entity"), payload, perm)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ResolveResponse{Entity: c.Param("entity"), Result: result}, nil)
}

func (h *QueryHandler) decode(c *gin.Context) (filter.Payload, error) {
	body, err := readBody(c)
	if err != nil {
		return filter.Payload{}, err
	}
	return filter.Decode(body)
}
