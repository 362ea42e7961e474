package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/models"
	"github.com/noah-isme/estate-erp-api/internal/service"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
	"github.com/noah-isme/estate-erp-api/pkg/export"
)

type queryServiceMock struct {
	payload filter.Payload
	entity  string
	result  *service.QueryResult
	explain filter.Result
	err     error
}

func (m *queryServiceMock) Query(_ context.Context, entity string, payload filter.Payload, _ filter.PermissionContext) (*service.QueryResult, error) {
	m.entity, m.payload = entity, payload
	return m.result, m.err
}

func (m *queryServiceMock) Explain(_ context.Context, entity string, payload filter.Payload, perm filter.PermissionContext) (filter.Result, error) {
	m.entity, m.payload = entity, payload
	if !perm.IsElevated() {
		return filter.Result{}, appErrors.ErrForbidden
	}
	return m.explain, m.err
}

func TestQueryHandlerListReturnsRowsAndPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &queryServiceMock{result: &service.QueryResult{
		Rows:       []export.Row{{"code": "L-1"}},
		Pagination: models.Pagination{Page: 2, PageSize: 10, TotalCount: 11},
		Result:     filter.Result{ScopeLabel: "own", Trace: []filter.LayerTrace{{Layer: filter.LayerPermission}, {Layer: filter.LayerUser}}},
	}}
	h := NewQueryHandler(svc)

	c, w := newGinContext(http.MethodPost, "/query/leads", []byte(`{"search":"acme","page":2,"page_size":10}`))
	c.Params = gin.Params{{Key: "entity", Value: "leads"}}
	authenticate(c, agentContext())
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "leads", svc.entity)
	assert.Equal(t, "acme", svc.payload.Search)

	env := decodeEnvelope(t, w)
	assert.Equal(t, float64(11), env["pagination"].(map[string]interface{})["total_count"])
	meta := env["meta"].(map[string]interface{})
	assert.Equal(t, "own", meta["scope"])
	assert.Equal(t, []interface{}{"permission", "user"}, meta["layers"])
}

func TestQueryHandlerRejectsUnknownKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &queryServiceMock{}
	h := NewQueryHandler(svc)

	c, w := newGinContext(http.MethodPost, "/query/leads", []byte(`{"company_id":"other"}`))
	c.Params = gin.Params{{Key: "entity", Value: "leads"}}
	authenticate(c, agentContext())
	h.List(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.entity)
	env := decodeEnvelope(t, w)
	assert.Contains(t, env["error"].(map[string]interface{})["message"], "company_id")
}

func TestQueryHandlerResolve(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &queryServiceMock{explain: filter.Result{ScopeLabel: "all", Predicate: filter.Predicate{
		Where: []filter.Clause{{Field: "is_deleted", Op: filter.OpEq, Value: false}},
	}}}
	h := NewQueryHandler(svc)

	c, w := newGinContext(http.MethodPost, "/query/units/resolve", nil)
	c.Params = gin.Params{{Key: "entity", Value: "units"}}
	authenticate(c, agentContext())
	h.Resolve(c)
	assert.Equal(t, http.StatusForbidden, w.Code)

	c, w = newGinContext(http.MethodPost, "/query/units/resolve", nil)
	c.Params = gin.Params{{Key: "entity", Value: "units"}}
	authenticate(c, filter.PermissionContext{UserID: "admin-1", RoleName: "ADMIN"})
	h.Resolve(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "units", data["entity"])
	assert.Equal(t, "all", data["result"].(map[string]interface{})["scope"])
}
