package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
	"github.com/noah-isme/estate-erp-api/pkg/export"
)

// Query is a bounded read against one entity's table.
type Query struct {
	Predicate filter.Predicate
	Sort      filter.Sort
	Columns   []string
	Offset    uint64
	// Limit of zero means no limit.
	Limit uint64
}

// Store is the storage accessor every entity needs.
type Store interface {
	FindMany(ctx context.Context, q Query) ([]export.Row, error)
	Count(ctx context.Context, pred filter.Predicate) (int64, error)
	// Columns lists the physical columns the table exposes.
	Columns() []string
}

// StoreFactory opens a store for a table with the given schema.
type StoreFactory func(table string, schema []string) Store

// Entry is one registered entity.
type Entry struct {
	Name    string
	Table   string
	Title   string
	Filter  filter.ModuleConfig
	Columns []export.Column
	// Schema is the physical column allow-list of Table.
	Schema []string
	Store  Store
}

// Registry is constructed once at start-up and never mutated afterwards.
type Registry struct {
	entries map[string]*Entry
	names   []string
}

// New validates and indexes entries.
func New(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]*Entry, len(entries))}
	for i := range entries {
		entry := entries[i]
		if err := check(&entry); err != nil {
			return nil, err
		}
		if _, dup := r.entries[entry.Name]; dup {
			return nil, fmt.Errorf("entity %q registered twice", entry.Name)
		}
		r.entries[entry.Name] = &entry
		r.names = append(r.names, entry.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Build opens a store for every definition and registers it.
func Build(open StoreFactory, defs ...Entry) (*Registry, error) {
	if open == nil {
		return nil, fmt.Errorf("store factory is required")
	}
	for i := range defs {
		defs[i].Store = open(defs[i].Table, defs[i].Schema)
	}
	return New(defs...)
}

func check(e *Entry) error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if e.Store == nil {
		return fmt.Errorf("entity %q has no store", e.Name)
	}
	if len(e.Columns) == 0 {
		return fmt.Errorf("entity %q has no export columns", e.Name)
	}
	if e.Table == "" {
		e.Table = e.Name
	}
	if e.Title == "" {
		e.Title = e.Name
	}
	if e.Filter.Model == "" {
		e.Filter.Model = e.Name
	}

	schema := make(map[string]struct{})
	for _, col := range e.Store.Columns() {
		schema[col] = struct{}{}
	}
	var missing []string
	for _, col := range e.Filter.ReferencedColumns() {
		if _, ok := schema[col]; !ok {
			missing = append(missing, col)
		}
	}
	for _, col := range e.Columns {
		if _, ok := schema[col.Key]; !ok {
			missing = append(missing, col.Key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("entity %q references columns missing from %s: %s", e.Name, e.Table, strings.Join(missing, ", "))
	}
	return nil
}

// Lookup returns the entry for name. Unknown names are a client error.
func (r *Registry) Lookup(name string) (*Entry, error) {
	entry, ok := r.entries[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown entity %q", name))
	}
	return entry, nil
}

// Names lists registered entities alphabetically.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// ColumnKeys lists the export column keys in display order.
func (e *Entry) ColumnKeys() []string {
	keys := make([]string, len(e.Columns))
	for i, col := range e.Columns {
		keys[i] = col.Key
	}
	return keys
}

// SelectColumns restricts the export columns to the requested keys, keeping
// request order. Unknown keys are returned separately. An empty request
// selects every column.
func (e *Entry) SelectColumns(keys []string) (selected []export.Column, unknown []string) {
	if len(keys) == 0 {
		return append([]export.Column(nil), e.Columns...), nil
	}
	index := make(map[string]export.Column, len(e.Columns))
	for _, col := range e.Columns {
		index[col.Key] = col
	}
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		col, ok := index[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		selected = append(selected, col)
	}
	return selected, unknown
}
