package filter

// ScopeStrategy produces the permission layer for an entity. The returned
// label identifies which scope applied and is carried into audit records.
type ScopeStrategy interface {
	Name() string
	Scope(perm PermissionContext) (label string, frag Predicate)
}

// ConstraintStrategy produces the system-constraints layer for an entity.
type ConstraintStrategy interface {
	Name() string
	Constraints(caps Capabilities, sys SystemConstraints) Predicate
}

// Scope labels used by the built-in strategies.
const (
	ScopeUnrestricted = "unrestricted"
	ScopeAll          = "all"
	ScopeCompany      = "company"
	ScopeDepartment   = "department"
	ScopeOwn          = "own"
	ScopeProperty     = "property"
)

// Unrestricted leaves authorization to the calling route.
type Unrestricted struct{}

func (Unrestricted) Name() string { return "unrestricted" }

func (Unrestricted) Scope(PermissionContext) (string, Predicate) {
	return ScopeUnrestricted, Predicate{}
}

// OwnershipScope limits rows to the caller's own records unless the caller
// holds a department or view-all grant. CompanyField applies whenever the
// caller belongs to a company.
type OwnershipScope struct {
	OwnerFields     []string
	DepartmentField string
	CompanyField    string
	ViewAll         string
}

func (s OwnershipScope) Name() string { return "ownership" }

func (s OwnershipScope) Scope(perm PermissionContext) (string, Predicate) {
	var pred Predicate
	company := s.companyClause(perm)
	if company != nil {
		pred.Where = append(pred.Where, *company)
	}

	if perm.IsElevated() || perm.Has(PermScopeAll) || (s.ViewAll != "" && perm.Has(s.ViewAll)) {
		if company != nil {
			return ScopeCompany, pred
		}
		return ScopeAll, pred
	}

	if s.DepartmentField != "" && perm.DepartmentID != "" && perm.Has(PermScopeDepartment) {
		pred.Where = append(pred.Where, Clause{Field: s.DepartmentField, Op: OpEq, Value: perm.DepartmentID})
		return ScopeDepartment, pred
	}

	if len(s.OwnerFields) == 0 || perm.UserID == "" {
		pred.Where = append(pred.Where, nothing(s.firstField()))
		return ScopeOwn, pred
	}
	group := Group{Name: "owner"}
	for _, field := range s.OwnerFields {
		group.Any = append(group.Any, Clause{Field: field, Op: OpEq, Value: perm.UserID})
	}
	pred.AnyOf = append(pred.AnyOf, group)
	return ScopeOwn, pred
}

func (s OwnershipScope) companyClause(perm PermissionContext) *Clause {
	if s.CompanyField == "" || perm.CompanyID == "" {
		return nil
	}
	return &Clause{Field: s.CompanyField, Op: OpEq, Value: perm.CompanyID}
}

func (s OwnershipScope) firstField() string {
	if len(s.OwnerFields) > 0 {
		return s.OwnerFields[0]
	}
	if s.DepartmentField != "" {
		return s.DepartmentField
	}
	return "id"
}

// PropertyScope limits rows to the caller's accessible properties.
type PropertyScope struct {
	Field   string
	ViewAll string
}

func (s PropertyScope) Name() string { return "property" }

func (s PropertyScope) Scope(perm PermissionContext) (string, Predicate) {
	if perm.IsElevated() || perm.Has(PermScopeAll) || (s.ViewAll != "" && perm.Has(s.ViewAll)) {
		return ScopeAll, Predicate{}
	}
	ids := cleanValues(perm.PropertyIDs)
	if ids == nil {
		ids = []string{}
	}
	return ScopeProperty, Predicate{Where: []Clause{{Field: s.Field, Op: OpIn, Value: ids}}}
}

// DefaultConstraints applies the declared capability flags.
type DefaultConstraints struct{}

func (DefaultConstraints) Name() string { return "default" }

func (DefaultConstraints) Constraints(caps Capabilities, sys SystemConstraints) Predicate {
	var pred Predicate
	if caps.SoftDelete && sys.excludeSoftDeleted() {
		pred.Where = append(pred.Where, Clause{Field: SoftDeleteColumn, Op: OpEq, Value: false})
	}
	if caps.Archived && sys.excludeArchived() {
		pred.Where = append(pred.Where, Clause{Field: ArchivedColumn, Op: OpEq, Value: false})
	}
	if caps.PeriodLock && !sys.IncludeLockedPeriods {
		pred.Where = append(pred.Where, Clause{Field: PeriodLockColumn, Op: OpEq, Value: false})
	}
	if caps.Posted && !sys.IncludePosted {
		pred.Where = append(pred.Where, Clause{Field: PostedColumn, Op: OpEq, Value: false})
	}
	return pred
}

// LedgerConstraints extends the defaults for ledger tables, which never
// soft-delete but mark reversed entries void.
type LedgerConstraints struct {
	VoidField string
}

func (LedgerConstraints) Name() string { return "ledger" }

func (l LedgerConstraints) Constraints(caps Capabilities, sys SystemConstraints) Predicate {
	pred := DefaultConstraints{}.Constraints(caps, sys)
	if l.VoidField != "" {
		pred.Where = append(pred.Where, Clause{Field: l.VoidField, Op: OpEq, Value: false})
	}
	return pred
}

// nothing is a clause no row satisfies.
func nothing(field string) Clause {
	return Clause{Field: field, Op: OpIn, Value: []string{}}
}
