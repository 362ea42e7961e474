package filter

import (
	"sort"
	"strings"
)

// Physical columns backing the capability flags.
const (
	SoftDeleteColumn = "is_deleted"
	ArchivedColumn   = "is_archived"
	PeriodLockColumn = "period_locked"
	PostedColumn     = "is_posted"
)

// Capabilities declares which system flags an entity's table carries.
type Capabilities struct {
	SoftDelete bool
	Archived   bool
	PeriodLock bool
	Posted     bool
}

// Columns lists the physical columns implied by the declared flags.
func (c Capabilities) Columns() []string {
	var cols []string
	if c.SoftDelete {
		cols = append(cols, SoftDeleteColumn)
	}
	if c.Archived {
		cols = append(cols, ArchivedColumn)
	}
	if c.PeriodLock {
		cols = append(cols, PeriodLockColumn)
	}
	if c.Posted {
		cols = append(cols, PostedColumn)
	}
	return cols
}

// ModuleConfig describes how one entity maps logical filter concepts onto
// physical columns. It is authored once and never mutated at runtime.
type ModuleConfig struct {
	Model           string
	IdentityFields  []string
	StatusFields    map[StatusConcept]string
	OwnershipFields map[string]string
	DateFields      map[string]string
	NumericFields   map[string]string
	RelationFields  map[string]string
	SortFallback    map[string]string
	DefaultSort     Sort
	Capabilities    Capabilities

	// Scope defaults to Unrestricted when nil.
	Scope ScopeStrategy
	// Constraints defaults to DefaultConstraints when nil.
	Constraints ConstraintStrategy
}

func (c *ModuleConfig) scopeStrategy() ScopeStrategy {
	if c.Scope == nil {
		return Unrestricted{}
	}
	return c.Scope
}

func (c *ModuleConfig) constraintStrategy() ConstraintStrategy {
	if c.Constraints == nil {
		return DefaultConstraints{}
	}
	return c.Constraints
}

// ResolveSortField maps an external sort key onto a physical column: the
// date-field map first, then the generic fallback map, then passthrough.
func (c *ModuleConfig) ResolveSortField(key string) string {
	key = strings.TrimSpace(key)
	if col, ok := c.DateFields[key]; ok {
		return col
	}
	if col, ok := c.SortFallback[key]; ok {
		return col
	}
	return key
}

// SortableColumns is the allow-list a resolved sort column must belong to.
func (c *ModuleConfig) SortableColumns() map[string]struct{} {
	out := make(map[string]struct{})
	add := func(cols ...string) {
		for _, col := range cols {
			if col != "" {
				out[col] = struct{}{}
			}
		}
	}
	add(c.IdentityFields...)
	add(c.DefaultSort.Field)
	for _, m := range []map[string]string{c.OwnershipFields, c.DateFields, c.NumericFields, c.SortFallback} {
		for _, col := range m {
			add(col)
		}
	}
	for _, col := range c.StatusFields {
		add(col)
	}
	return out
}

// ReferencedColumns returns every physical column the config mentions, sorted.
func (c *ModuleConfig) ReferencedColumns() []string {
	set := c.SortableColumns()
	for _, col := range c.RelationFields {
		set[col] = struct{}{}
	}
	for _, col := range c.Capabilities.Columns() {
		set[col] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for col := range set {
		out = append(out, col)
	}
	sort.Strings(out)
	return out
}

// SystemConstraints is process-wide policy, never user input.
type SystemConstraints struct {
	// ExcludeSoftDeleted and ExcludeArchived default to true when nil.
	ExcludeSoftDeleted   *bool
	ExcludeArchived      *bool
	IncludeLockedPeriods bool
	IncludePosted        bool
}

// NewSystemConstraints builds constraints from configuration flags.
func NewSystemConstraints(excludeSoftDeleted, excludeArchived, includeLockedPeriods, includePosted bool) SystemConstraints {
	return SystemConstraints{
		ExcludeSoftDeleted:   &excludeSoftDeleted,
		ExcludeArchived:      &excludeArchived,
		IncludeLockedPeriods: includeLockedPeriods,
		IncludePosted:        includePosted,
	}
}

func (s SystemConstraints) excludeSoftDeleted() bool {
	return s.ExcludeSoftDeleted == nil || *s.ExcludeSoftDeleted
}

func (s SystemConstraints) excludeArchived() bool {
	return s.ExcludeArchived == nil || *s.ExcludeArchived
}

// Permission strings understood by the built-in scope strategies.
const (
	PermSuperuser       = "superuser"
	PermExportAll       = "exports:all"
	PermScopeAll        = "scope:all"
	PermScopeDepartment = "scope:department"
)

var elevatedRoles = map[string]struct{}{"SUPERADMIN": {}, "ADMIN": {}}

// PermissionContext is resolved once per request from verified identity.
type PermissionContext struct {
	UserID       string   `json:"user_id"`
	RoleID       string   `json:"role_id,omitempty"`
	RoleName     string   `json:"role_name,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	CompanyID    string   `json:"company_id,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	PropertyIDs  []string `json:"property_ids,omitempty"`
}

// Has reports whether the permission is granted. superuser implies every permission.
func (p PermissionContext) Has(permission string) bool {
	for _, granted := range p.Permissions {
		if granted == permission || granted == PermSuperuser {
			return true
		}
	}
	return false
}

// IsElevated reports administrative reach (whole-table exports, resolve debugging).
func (p PermissionContext) IsElevated() bool {
	if _, ok := elevatedRoles[strings.ToUpper(p.RoleName)]; ok {
		return true
	}
	return p.Has(PermExportAll)
}
