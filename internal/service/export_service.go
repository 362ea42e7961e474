package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/models"
	"github.com/noah-isme/estate-erp-api/internal/registry"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
	"github.com/noah-isme/estate-erp-api/pkg/export"
)

type entityLookup interface {
	Lookup(name string) (*registry.Entry, error)
}

type auditEmitter interface {
	Emit(ctx context.Context, event AuditEvent)
}

// ExportRequest is an export against one entity.
type ExportRequest struct {
	Entity  string
	Format  export.Format
	Scope   models.ExportScope
	Columns []string
	Filters filter.Payload
}

// ExportServiceConfig bounds listing and synchronous exports.
type ExportServiceConfig struct {
	MaxPageSize int
	// SyncMaxRows caps synchronous FILTERED/ALL exports. Zero disables the cap.
	SyncMaxRows int
	System      filter.SystemConstraints
}

// Dataset is the scoped, column-restricted result of Fetch.
type Dataset struct {
	Entity  string
	Title   string
	Columns []export.Column
	Rows    []export.Row
	Result  filter.Result
}

// CountResult is the answer to a row-count guard request.
type CountResult struct {
	Entity     string             `json:"entity"`
	Scope      models.ExportScope `json:"scope"`
	Count      int64              `json:"count"`
	ScopeLabel string             `json:"scope_label"`
	Cached     bool               `json:"cached"`
}

// ExportOutput is a rendered artifact plus what produced it.
type ExportOutput struct {
	Artifact *export.Artifact
	Rows     int
	Columns  []string
	Result   filter.Result
}

// QueryResult is one page of a plain entity listing.
type QueryResult struct {
	Rows       []export.Row
	Pagination models.Pagination
	Result     filter.Result
}

// ExportService resolves filters, applies export scope and column selection,
// and renders artifacts.
type ExportService struct {
	entities  entityLookup
	resolver  *filter.Resolver
	renderers *export.Registry
	cache     *CacheService
	audit     auditEmitter
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       ExportServiceConfig
	now       func() time.Time
}

// NewExportService constructs an ExportService. cache, audit and metrics are optional.
func NewExportService(entities entityLookup, renderers *export.Registry, cache *CacheService, audit auditEmitter, metrics *MetricsService, cfg ExportServiceConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderers == nil {
		renderers = export.DefaultRegistry()
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = filter.DefaultMaxPageSize
	}
	s := &ExportService{
		entities:  entities,
		renderers: renderers,
		cache:     cache,
		audit:     audit,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
	s.resolver = filter.NewResolver(func() time.Time { return s.now() })
	return s
}

// exportPlan is everything needed to run one scoped query.
type exportPlan struct {
	entry   *registry.Entry
	scope   models.ExportScope
	columns []export.Column
	result  filter.Result
	query   registry.Query
}

// plan authorises the scope, validates the payload, restricts columns and
// resolves the predicate. It never touches the store.
func (s *ExportService) plan(req ExportRequest, perm filter.PermissionContext) (*exportPlan, error) {
	entry, err := s.entities.Lookup(req.Entity)
	if err != nil {
		return nil, err
	}

	payload := req.Filters
	switch req.Scope {
	case models.ExportScopeView, models.ExportScopeFiltered:
	case models.ExportScopeAll:
		if !perm.IsElevated() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "scope ALL requires elevated permission")
		}
		payload = payload.ScopeOnly()
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export scope %q", req.Scope))
	}

	if err := filter.Validate(&entry.Filter, payload, s.cfg.MaxPageSize); err != nil {
		return nil, err
	}

	columns, unknown := entry.SelectColumns(req.Columns)
	if len(unknown) > 0 {
		s.logger.Warn("dropping unknown export columns", zap.String("entity", entry.Name), zap.Strings("columns", unknown))
	}
	if len(columns) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no valid export columns selected")
	}

	result := s.resolve(entry, payload, perm)
	keys := make([]string, len(columns))
	for i, col := range columns {
		keys[i] = col.Key
	}
	query := registry.Query{Predicate: result.Predicate, Sort: result.Sort, Columns: keys}
	if req.Scope == models.ExportScopeView {
		page, size := pageBounds(payload)
		query.Offset = pageOffset(page, size)
		query.Limit = uint64(size)
	}
	return &exportPlan{entry: entry, scope: req.Scope, columns: columns, result: result, query: query}, nil
}

func (s *ExportService) resolve(entry *registry.Entry, payload filter.Payload, perm filter.PermissionContext) filter.Result {
	result := s.resolver.Resolve(&entry.Filter, payload, perm, s.cfg.System)
	dropped := 0
	for _, t := range result.Trace {
		dropped += len(t.Dropped)
	}
	if dropped > 0 {
		s.logger.Debug("user filters overridden by trusted layers", zap.String("entity", entry.Name), zap.Int("dropped", dropped))
	}
	s.metrics.RecordResolution(entry.Name, result.ScopeLabel, dropped)
	return result
}

// Fetch returns the scoped rows for req without rendering them.
func (s *ExportService) Fetch(ctx context.Context, req ExportRequest, perm filter.PermissionContext) (*Dataset, error) {
	p, err := s.plan(req, perm)
	if err != nil {
		return nil, err
	}
	rows, err := s.load(ctx, p)
	if err != nil {
		return nil, err
	}
	return &Dataset{Entity: p.entry.Name, Title: p.entry.Title, Columns: p.columns, Rows: rows, Result: p.result}, nil
}

// Count runs the same predicate as an export without materialising rows.
func (s *ExportService) Count(ctx context.Context, req ExportRequest, perm filter.PermissionContext) (*CountResult, error) {
	p, err := s.plan(req, perm)
	if err != nil {
		return nil, err
	}
	count, cached, err := s.count(ctx, p.entry, p.result.Predicate)
	if err != nil {
		return nil, err
	}
	if p.scope == models.ExportScopeView && p.query.Limit > 0 {
		remaining := count - int64(p.query.Offset)
		switch {
		case remaining < 0:
			count = 0
		case remaining < int64(p.query.Limit):
			count = remaining
		default:
			count = int64(p.query.Limit)
		}
	}

	n := int(count)
	s.emit(ctx, AuditEvent{
		Action:     models.AuditActionExportCount,
		Entity:     p.entry.Name,
		UserID:     perm.UserID,
		ScopeLabel: p.result.ScopeLabel,
		Layers:     p.result.Layers(),
		Filters:    p.result.Predicate.Summary(),
		Scope:      string(p.scope),
		RowCount:   &n,
	})
	return &CountResult{Entity: p.entry.Name, Scope: p.scope, Count: count, ScopeLabel: p.result.ScopeLabel, Cached: cached}, nil
}

// Export renders req synchronously. Unbounded scopes over SyncMaxRows are
// refused so the caller can switch to a job.
func (s *ExportService) Export(ctx context.Context, req ExportRequest, perm filter.PermissionContext) (*ExportOutput, error) {
	if _, ok := s.renderers.Get(req.Format); !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", req.Format))
	}
	p, err := s.plan(req, perm)
	if err != nil {
		return nil, err
	}
	if p.scope != models.ExportScopeView && s.cfg.SyncMaxRows > 0 {
		count, _, err := s.count(ctx, p.entry, p.result.Predicate)
		if err != nil {
			return nil, err
		}
		if count > int64(s.cfg.SyncMaxRows) {
			s.metrics.RecordExportFailure(p.entry.Name, appErrors.ErrPayloadTooLarge.Code)
			return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge,
				fmt.Sprintf("%d rows exceed the synchronous limit of %d; submit an export job instead", count, s.cfg.SyncMaxRows))
		}
	}
	return s.produce(ctx, p, req.Format, perm, "sync")
}

// Render produces the artifact for a background job. No row cap applies.
func (s *ExportService) Render(ctx context.Context, req ExportRequest, perm filter.PermissionContext) (*ExportOutput, error) {
	if _, ok := s.renderers.Get(req.Format); !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", req.Format))
	}
	p, err := s.plan(req, perm)
	if err != nil {
		return nil, err
	}
	return s.produce(ctx, p, req.Format, perm, "job")
}

// Prepare validates req exactly as Export would, without querying.
func (s *ExportService) Prepare(req ExportRequest, perm filter.PermissionContext) error {
	if _, ok := s.renderers.Get(req.Format); !ok {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", req.Format))
	}
	_, err := s.plan(req, perm)
	return err
}

func (s *ExportService) produce(ctx context.Context, p *exportPlan, format export.Format, perm filter.PermissionContext, mode string) (*ExportOutput, error) {
	start := time.Now()
	rows, err := s.load(ctx, p)
	if err != nil {
		s.metrics.RecordExportFailure(p.entry.Name, appErrors.FromError(err).Code)
		return nil, err
	}
	if len(rows) == 0 {
		s.metrics.RecordExportFailure(p.entry.Name, appErrors.ErrNoData.Code)
		return nil, appErrors.ErrNoData
	}

	artifact, err := s.renderers.Render(format, export.Table{
		Title:   p.entry.Title,
		Name:    p.entry.Name,
		Columns: p.columns,
		Rows:    rows,
	})
	if err != nil {
		s.metrics.RecordExportFailure(p.entry.Name, appErrors.ErrInternal.Code)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to render %s export", format))
	}

	keys := p.query.Columns
	s.metrics.ObserveExport(p.entry.Name, string(format), mode, len(rows), time.Since(start))
	s.emit(ctx, AuditEvent{
		Action:     models.AuditActionExport,
		Entity:     p.entry.Name,
		UserID:     perm.UserID,
		ScopeLabel: p.result.ScopeLabel,
		Layers:     p.result.Layers(),
		Filters:    p.result.Predicate.Summary(),
		Format:     string(format),
		Scope:      string(p.scope),
		RowCount:   artifact.RowCount,
		Columns:    keys,
	})
	return &ExportOutput{Artifact: artifact, Rows: len(rows), Columns: keys, Result: p.result}, nil
}

// Query executes a plain paginated listing through the same resolver.
func (s *ExportService) Query(ctx context.Context, entity string, payload filter.Payload, perm filter.PermissionContext) (*QueryResult, error) {
	entry, err := s.entities.Lookup(entity)
	if err != nil {
		return nil, err
	}
	if err := filter.Validate(&entry.Filter, payload, s.cfg.MaxPageSize); err != nil {
		return nil, err
	}
	result := s.resolve(entry, payload, perm)
	page, size := pageBounds(payload)

	rows, err := s.load(ctx, &exportPlan{entry: entry, query: registry.Query{
		Predicate: result.Predicate,
		Sort:      result.Sort,
		Columns:   entry.ColumnKeys(),
		Offset:    pageOffset(page, size),
		Limit:     uint64(size),
	}})
	if err != nil {
		return nil, err
	}
	total, _, err := s.count(ctx, entry, result.Predicate)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, AuditEvent{
		Action:     models.AuditActionQuery,
		Entity:     entry.Name,
		UserID:     perm.UserID,
		ScopeLabel: result.ScopeLabel,
		Layers:     result.Layers(),
		Filters:    result.Predicate.Summary(),
	})
	return &QueryResult{
		Rows:       rows,
		Pagination: models.Pagination{Page: page, PageSize: size, TotalCount: int(total)},
		Result:     result,
	}, nil
}

// Explain resolves a payload without executing it. Only elevated callers
// may inspect predicates.
func (s *ExportService) Explain(ctx context.Context, entity string, payload filter.Payload, perm filter.PermissionContext) (filter.Result, error) {
	if !perm.IsElevated() {
		return filter.Result{}, appErrors.Clone(appErrors.ErrForbidden, "resolving filters requires elevated permission")
	}
	entry, err := s.entities.Lookup(entity)
	if err != nil {
		return filter.Result{}, err
	}
	if err := filter.Validate(&entry.Filter, payload, s.cfg.MaxPageSize); err != nil {
		return filter.Result{}, err
	}
	result := s.resolve(entry, payload, perm)
	s.emit(ctx, AuditEvent{
		Action:     models.AuditActionFilterResolve,
		Entity:     entry.Name,
		UserID:     perm.UserID,
		ScopeLabel: result.ScopeLabel,
		Layers:     result.Layers(),
		Filters:    result.Predicate.Summary(),
	})
	return result, nil
}

func (s *ExportService) load(ctx context.Context, p *exportPlan) ([]export.Row, error) {
	start := time.Now()
	rows, err := p.entry.Store.FindMany(ctx, p.query)
	s.metrics.ObserveDBQuery(p.entry.Name+".find_many", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to load %s", p.entry.Name))
	}
	return rows, nil
}

func (s *ExportService) count(ctx context.Context, entry *registry.Entry, pred filter.Predicate) (int64, bool, error) {
	if count, ok := s.cache.GetCount(ctx, entry.Name, pred); ok {
		return count, true, nil
	}
	start := time.Now()
	count, err := entry.Store.Count(ctx, pred)
	s.metrics.ObserveDBQuery(entry.Name+".count", time.Since(start))
	if err != nil {
		return 0, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to count %s", entry.Name))
	}
	s.cache.SetCount(ctx, entry.Name, pred, count)
	return count, false, nil
}

func (s *ExportService) emit(ctx context.Context, event AuditEvent) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, event)
}

func pageBounds(p filter.Payload) (page, size int) {
	page, size = p.Page, p.PageSize
	if page < 1 {
		page = 1
	}
	if page > filter.MaxPage {
		page = filter.MaxPage
	}
	if size < 1 {
		size = filter.DefaultPageSize
	}
	return page, size
}

func pageOffset(page, size int) uint64 {
	return uint64(page-1) * uint64(size)
}

// ParseFormat normalises a requested format name.
func ParseFormat(raw string) export.Format {
	return export.Format(strings.ToLower(strings.TrimSpace(raw)))
}
