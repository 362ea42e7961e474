package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/models"
	"github.com/noah-isme/estate-erp-api/internal/registry"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
	"github.com/noah-isme/estate-erp-api/pkg/export"
)

var exportNow = time.Date(2024, time.May, 15, 10, 30, 0, 0, time.UTC)

type recordingStore struct {
	mu      sync.Mutex
	columns []string
	rows    []export.Row
	total   int64
	err     error
	queries []registry.Query
	counts  []filter.Predicate
}

func (s *recordingStore) FindMany(_ context.Context, q registry.Query) ([]export.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

func (s *recordingStore) Count(_ context.Context, pred filter.Predicate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = append(s.counts, pred)
	if s.err != nil {
		return 0, s.err
	}
	return s.total, nil
}

func (s *recordingStore) Columns() []string { return s.columns }

func (s *recordingStore) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries), len(s.counts)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAudit) Emit(_ context.Context, event AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAudit) last() AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.events[len(a.events)-1]
}

type memoryCache struct {
	mu       sync.Mutex
	items    map[string][]byte
	patterns []string
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.items == nil {
		c.items = make(map[string][]byte)
	}
	c.items[key] = raw
	return nil
}

func (c *memoryCache) DeleteByPattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = append(c.patterns, pattern)
	c.items = nil
	return nil
}

// newLeadsRegistry wires the real entity definitions; leads reads from store.
func newLeadsRegistry(t *testing.T, store *recordingStore) *registry.Registry {
	t.Helper()
	reg, err := registry.Build(func(table string, schema []string) registry.Store {
		if table == "leads" {
			store.columns = schema
			return store
		}
		return &recordingStore{columns: schema}
	}, registry.Definitions()...)
	require.NoError(t, err)
	return reg
}

func newExportServiceForTest(t *testing.T, store *recordingStore, cfg ExportServiceConfig) (*ExportService, *recordingAudit) {
	t.Helper()
	audit := &recordingAudit{}
	if cfg.System == (filter.SystemConstraints{}) {
		cfg.System = filter.NewSystemConstraints(true, true, true, true)
	}
	svc := NewExportService(newLeadsRegistry(t, store), export.DefaultRegistry(), nil, audit, NewMetricsService(), cfg, nil)
	svc.now = func() time.Time { return exportNow }
	return svc, audit
}

func agentPerm() filter.PermissionContext {
	return filter.PermissionContext{UserID: "agent-1", RoleName: "AGENT"}
}

func adminPerm() filter.PermissionContext {
	return filter.PermissionContext{UserID: "admin-1", RoleName: "ADMIN"}
}

func leadRows() []export.Row {
	return []export.Row{
		{"code": "L-1", "name": "Acme Tower", "status": "open", "budget": 1250000.5, "created_at": exportNow},
		{"code": "L-2", "name": "Bayview", "status": "open", "budget": "990000", "created_at": exportNow},
	}
}

func findWhere(p filter.Predicate, field string, op filter.Operator) *filter.Clause {
	for i := range p.Where {
		if p.Where[i].Field == field && p.Where[i].Op == op {
			return &p.Where[i]
		}
	}
	return nil
}

func openLeadsLastWeek() filter.Payload {
	return filter.Payload{
		StatusSets: filter.StatusSets{Status: []string{"open"}},
		Date:       &filter.DateWindow{Field: "created_at", Preset: filter.PresetLast7Days},
		Page:       3,
		PageSize:   10,
	}
}

func TestExportServiceFilteredScopeIgnoresPagination(t *testing.T) {
	store := &recordingStore{rows: leadRows()}
	svc, _ := newExportServiceForTest(t, store, ExportServiceConfig{})

	ds, err := svc.Fetch(context.Background(), ExportRequest{
		Entity:  "leads",
		Format:  export.FormatCSV,
		Scope:   models.ExportScopeFiltered,
		Filters: openLeadsLastWeek(),
	}, agentPerm())
	require.NoError(t, err)
	require.Len(t, ds.Rows, 2)

	require.Len(t, store.queries, 1)
	q := store.queries[0]
	assert.Zero(t, q.Limit)
	assert.Zero(t, q.Offset)

	status := findWhere(q.Predicate, "status", filter.OpIn)
	require.NotNil(t, status)
	assert.Equal(t, []string{"open"}, status.Value)
	deleted := findWhere(q.Predicate, filter.SoftDeleteColumn, filter.OpEq)
	require.NotNil(t, deleted)
	assert.Equal(t, false, deleted.Value)
	from := findWhere(q.Predicate, "created_at", filter.OpGte)
	require.NotNil(t, from)
	assert.Equal(t, exportNow.AddDate(0, 0, -7), from.Value)
	to := findWhere(q.Predicate, "created_at", filter.OpLte)
	require.NotNil(t, to)
	assert.Equal(t, exportNow, to.Value)
	assert.Equal(t, filter.ScopeOwn, ds.Result.ScopeLabel)
}

func TestExportServiceViewScopeAppliesPagination(t *testing.T) {
	store := &recordingStore{rows: leadRows()}
	svc, _ := newExportServiceForTest(t, store, ExportServiceConfig{})

	_, err := svc.Fetch(context.Background(), ExportRequest{
		Entity:  "leads",
		Scope:   models.ExportScopeView,
		Filters: openLeadsLastWeek(),
	}, agentPerm())
	require.NoError(t, err)
	require.Len(t, store.queries, 1)
	assert.Equal(t, uint64(20), store.queries[0].Offset)
	assert.Equal(t, uint64(10), store.queries[0].Limit)
}

func TestExportServiceAllScopeRequiresElevationBeforeAnyQuery(t *testing.T) {
	store := &recordingStore{rows: leadRows(), total: 2}
	svc, _ := newExportServiceForTest(t, store, ExportServiceConfig{})
	req := ExportRequest{Entity: "leads", Format: export.FormatCSV, Scope: models.ExportScopeAll}

	_, err := svc.Export(context.Background(), req, agentPerm())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Count(context.Background(), req, agentPerm())
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	finds, counts := store.calls()
	assert.Zero(t, finds)
	assert.Zero(t, counts)
}

func TestExportServiceAllScopeDiscardsCallerFilters(t *testing.T) {
	store := &recordingStore{rows: leadRows()}
	svc, _ := newExportServiceForTest(t, store, ExportServiceConfig{})

	payload := openLeadsLastWeek()
	payload.Search = "acme"
	ds, err := svc.Fetch(context.Background(), ExportRequest{Entity: "leads", Scope: models.ExportScopeAll, Filters: payload}, adminPerm())
	require.NoError(t, err)

	q := store.queries[0]
	assert.Nil(t, findWhere(q.Predicate, "status", filter.OpIn))
	assert.Nil(t, findWhere(q.Predicate, "created_at", filter.OpGte))
	assert.Empty(t, q.Predicate.AnyOf)
	assert.NotNil(t, findWhere(q.Predicate, filter.SoftDeleteColumn, filter.OpEq))
	assert.Zero(t, q.Limit)
	assert.Equal(t, filter.ScopeAll, ds.Result.ScopeLabel)
}

func TestExportServiceColumnSelection(t *testing.T) {
	store := &recordingStore{rows: leadRows()}
	svc, _ := newExportServiceForTest(t, store, ExportServiceConfig{})

	ds, err := svc.Fetch(context.Background(), ExportRequest{
		Entity:  "leads",
		Scope:   models.ExportScopeFiltered,
		Columns: []string{"name", "password_hash", "code"},
	}, agentPerm())
	require.NoError(t, err)
	require.Len(t, ds.Columns, 2)
	assert.Equal(t, "name", ds.Columns[0].Key)
	assert.Equal(t, "code", ds.Columns[1].Key)
	assert.Equal(t, []string{"name", "code"}, store.queries[0].Columns)

	_, err = svc.Fetch(context.Background(), ExportRequest{
		Entity:  "leads",
		Scope:   models.ExportScopeFiltered,
		Columns: []string{"password_hash"},
	}, agentPerm())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Len(t, store.queries, 1)
}

func TestExportServiceRejectsInvalidRequests(t *testing.T) {
	store := &recordingStore{}
	svc, _ := newExportServiceForTest(t, store, ExportServiceConfig{})

	cases := map[string]ExportRequest{
		"unknown entity": {Entity: "invoices", Format: export.FormatCSV, Scope: models.ExportScopeFiltered},
		"unknown scope":  {Entity: "leads", Format: export.FormatCSV, Scope: "EVERYTHING"},
		"unknown format": {Entity: "leads", Format: "docx", Scope: models.ExportScopeFiltered},
		"inverted range": {Entity: "leads", Format: export.FormatCSV, Scope: models.ExportScopeFiltered, Filters: filter.Payload{
			NumericRanges: filter.NumericRanges{Amount: &filter.Range{Min: floatRef(10), Max: floatRef(1)}},
		}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Export(context.Background(), req, agentPerm())
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
		})
	}
	finds, counts := store.calls()
	assert.Zero(t, finds)
	assert.Zero(t, counts)
}

func TestExportServiceExportRendersAndAudits(t *testing.T) {
	store := &recordingStore{rows: leadRows(), total: 2}
	svc, audit := newExportServiceForTest(t, store, ExportServiceConfig{SyncMaxRows: 100})

	out, err := svc.Export(context.Background(), ExportRequest{
		Entity:  "leads",
		Format:  export.FormatCSV,
		Scope:   models.ExportScopeFiltered,
		Columns: []string{"code", "budget"},
		Filters: openLeadsLastWeek(),
	}, agentPerm())
	require.NoError(t, err)
	require.NotNil(t, out.Artifact.RowCount)
	assert.Equal(t, 2, *out.Artifact.RowCount)
	assert.Contains(t, string(out.Artifact.Data), "Lead Code,Budget")
	assert.Contains(t, string(out.Artifact.Data), "L-1")

	event := audit.last()
	assert.Equal(t, models.AuditActionExport, event.Action)
	assert.Equal(t, "leads", event.Entity)
	assert.Equal(t, "agent-1", event.UserID)
	assert.Equal(t, "csv", event.Format)
	assert.Equal(t, "FILTERED", event.Scope)
	assert.Equal(t, []string{"code", "budget"}, event.Columns)
	assert.Equal(t, []string{"permission", "system", "user"}, event.Layers)
	assert.Equal(t, filter.ScopeOwn, event.ScopeLabel)
}

func TestExportServiceNoRowsIsDataError(t *testing.T) {
	store := &recordingStore{}
	svc, _ := newExportServiceForTest(t, store, ExportServiceConfig{})

	_, err := svc.Export(context.Background(), ExportRequest{Entity: "leads", Format: export.FormatXLSX, Scope: models.ExportScopeView}, agentPerm())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoData))
	assert.Equal(t, 422, appErrors.FromError(err).Status)
}

func TestExportServiceSyncExportRefusesLargeResults(t *testing.T) {
	store := &recordingStore{rows: leadRows(), total: 5000}
	svc, _ := newExportServiceForTest(t, store, ExportServiceConfig{SyncMaxRows: 1000})

	_, err := svc.Export(context.Background(), ExportRequest{Entity: "leads", Format: export.FormatCSV, Scope: models.ExportScopeFiltered}, agentPerm())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPayloadTooLarge))
	finds, counts := store.calls()
	assert.Zero(t, finds)
	assert.Equal(t, 1, counts)

	out, err := svc.Render(context.Background(), ExportRequest{Entity: "leads", Format: export.FormatCSV, Scope: models.ExportScopeFiltered}, agentPerm())
	require.NoError(t, err)
	assert.Equal(t, 2, out.Rows)
}

func TestExportServiceCountUsesCache(t *testing.T) {
	store := &recordingStore{total: 42}
	audit := &recordingAudit{}
	backing := &memoryCache{}
	cache := NewCacheService(backing, nil, time.Minute, nil, true)
	svc := NewExportService(newLeadsRegistry(t, store), nil, cache, audit, nil, ExportServiceConfig{System: filter.NewSystemConstraints(true, true, true, true)}, nil)
	svc.now = func() time.Time { return exportNow }

	req := ExportRequest{Entity: "leads", Scope: models.ExportScopeFiltered, Filters: openLeadsLastWeek()}
	first, err := svc.Count(context.Background(), req, agentPerm())
	require.NoError(t, err)
	assert.Equal(t, int64(42), first.Count)
	assert.False(t, first.Cached)

	second, err := svc.Count(context.Background(), req, agentPerm())
	require.NoError(t, err)
	assert.Equal(t, int64(42), second.Count)
	assert.True(t, second.Cached)

	_, counts := store.calls()
	assert.Equal(t, 1, counts)
	assert.Equal(t, models.AuditActionExportCount, audit.last().Action)

	view := req
	view.Scope = models.ExportScopeView
	page, err := svc.Count(context.Background(), view, agentPerm())
	require.NoError(t, err)
	assert.Equal(t, int64(10), page.Count)

	require.NoError(t, cache.InvalidateCounts(context.Background(), "leads"))
	require.NoError(t, cache.InvalidateCounts(context.Background(), ""))
	assert.Equal(t, []string{"count:leads:*", "count:*"}, backing.patterns)

	third, err := svc.Count(context.Background(), req, agentPerm())
	require.NoError(t, err)
	assert.False(t, third.Cached)
}

func TestExportServiceQueryPaginates(t *testing.T) {
	store := &recordingStore{rows: leadRows(), total: 57}
	svc, audit := newExportServiceForTest(t, store, ExportServiceConfig{})

	res, err := svc.Query(context.Background(), "leads", filter.Payload{Page: 2, PageSize: 25, Search: "acme"}, agentPerm())
	require.NoError(t, err)
	assert.Equal(t, models.Pagination{Page: 2, PageSize: 25, TotalCount: 57}, res.Pagination)
	assert.Equal(t, uint64(25), store.queries[0].Offset)
	assert.Contains(t, res.Result.Layers(), "search")
	assert.Equal(t, models.AuditActionQuery, audit.last().Action)
}

func TestExportServiceExplainIsElevatedOnly(t *testing.T) {
	store := &recordingStore{}
	svc, audit := newExportServiceForTest(t, store, ExportServiceConfig{})

	_, err := svc.Explain(context.Background(), "leads", filter.Payload{}, agentPerm())
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	res, err := svc.Explain(context.Background(), "leads", openLeadsLastWeek(), adminPerm())
	require.NoError(t, err)
	assert.NotNil(t, findWhere(res.Predicate, "status", filter.OpIn))
	assert.Equal(t, models.AuditActionFilterResolve, audit.last().Action)
	finds, counts := store.calls()
	assert.Zero(t, finds)
	assert.Zero(t, counts)
}

func floatRef(v float64) *float64 { return &v }
