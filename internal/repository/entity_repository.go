package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/registry"
	"github.com/noah-isme/estate-erp-api/pkg/export"
)

// EntityRepository reads one business table through resolved predicates.
// It never writes.
type EntityRepository struct {
	db      *sqlx.DB
	table   string
	columns []string
	allowed columnSet
}

// NewEntityRepository constructs a read-only accessor for table. columns is
// the table's physical column list.
func NewEntityRepository(db *sqlx.DB, table string, columns []string) *EntityRepository {
	return &EntityRepository{
		db:      db,
		table:   table,
		columns: append([]string(nil), columns...),
		allowed: newColumnSet(columns),
	}
}

// EntityStoreFactory adapts the repository to the registry's store factory.
func EntityStoreFactory(db *sqlx.DB) registry.StoreFactory {
	return func(table string, schema []string) registry.Store {
		return NewEntityRepository(db, table, schema)
	}
}

// Columns implements registry.Store.
func (r *EntityRepository) Columns() []string {
	return append([]string(nil), r.columns...)
}

// FindMany returns rows matching the query with sort, offset and limit applied.
func (r *EntityRepository) FindMany(ctx context.Context, q registry.Query) ([]export.Row, error) {
	selectCols := q.Columns
	if len(selectCols) == 0 {
		selectCols = r.columns
	}
	for _, col := range selectCols {
		if err := r.allowed.check(col); err != nil {
			return nil, fmt.Errorf("find %s: %w", r.table, err)
		}
	}

	builder := psql.Select(selectCols...).From(r.table)
	cond, err := predicateSQL(q.Predicate, r.allowed)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", r.table, err)
	}
	if cond != nil {
		builder = builder.Where(cond)
	}

	order, err := r.orderBy(q.Sort)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", r.table, err)
	}
	if len(order) > 0 {
		builder = builder.OrderBy(order...)
	}
	if q.Limit > 0 {
		builder = builder.Limit(q.Limit)
	}
	if q.Offset > 0 {
		builder = builder.Offset(q.Offset)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find %s: %w", r.table, err)
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", r.table, err)
	}
	defer rows.Close()

	var out []export.Row
	for rows.Next() {
		record := make(map[string]interface{}, len(selectCols))
		if err := rows.MapScan(record); err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.table, err)
		}
		out = append(out, normalizeRow(record))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", r.table, err)
	}
	return out, nil
}

// Count returns how many rows match the predicate.
func (r *EntityRepository) Count(ctx context.Context, pred filter.Predicate) (int64, error) {
	builder := psql.Select("COUNT(*)").From(r.table)
	cond, err := predicateSQL(pred, r.allowed)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.table, err)
	}
	if cond != nil {
		builder = builder.Where(cond)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count %s: %w", r.table, err)
	}
	var total int64
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", r.table, err)
	}
	return total, nil
}

func (r *EntityRepository) orderBy(s filter.Sort) ([]string, error) {
	if s.Field == "" {
		return nil, nil
	}
	if err := r.allowed.check(s.Field); err != nil {
		return nil, err
	}
	direction := "ASC"
	if s.Desc() {
		direction = "DESC"
	}
	order := []string{fmt.Sprintf("%s %s", s.Field, direction)}
	// A unique tie-breaker keeps pages stable.
	if _, ok := r.allowed["id"]; ok && s.Field != "id" {
		order = append(order, "id "+direction)
	}
	return order, nil
}

func normalizeRow(record map[string]interface{}) export.Row {
	row := make(export.Row, len(record))
	for key, value := range record {
		if b, ok := value.([]byte); ok {
			row[strings.ToLower(key)] = string(b)
			continue
		}
		row[strings.ToLower(key)] = value
	}
	return row
}

var _ registry.Store = (*EntityRepository)(nil)
