package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, time.May, 15, 10, 30, 0, 0, time.UTC)

func leadsConfig() *ModuleConfig {
	return &ModuleConfig{
		Model:          "leads",
		IdentityFields: []string{"code", "name", "email"},
		StatusFields: map[StatusConcept]string{
			ConceptStatus:   "status",
			ConceptPriority: "priority",
		},
		OwnershipFields: map[string]string{
			OwnerAssignedTo: "assigned_to",
			OwnerCreatedBy:  "created_by",
		},
		DateFields:     map[string]string{"created_at": "created_at", "followUpDate": "follow_up_at"},
		NumericFields:  map[string]string{NumericAmount: "budget"},
		RelationFields: map[string]string{"property": "property_id", "campaign": "campaign_id"},
		SortFallback:   map[string]string{"lead_name": "name"},
		DefaultSort:    Sort{Field: "created_at", Direction: SortDesc},
		Capabilities:   Capabilities{SoftDelete: true, Archived: true},
		Scope: OwnershipScope{
			OwnerFields:     []string{"assigned_to", "created_by"},
			DepartmentField: "department_id",
			CompanyField:    "company_id",
		},
	}
}

func agent() PermissionContext {
	return PermissionContext{UserID: "u-1", RoleName: "AGENT"}
}

func newTestResolver() *Resolver {
	return NewResolver(func() time.Time { return fixedNow })
}

func findClause(p Predicate, field string, op Operator) *Clause {
	for i := range p.Where {
		if p.Where[i].Field == field && p.Where[i].Op == op {
			return &p.Where[i]
		}
	}
	return nil
}

func TestResolveLeadsStatusAndPreset(t *testing.T) {
	payload := Payload{
		StatusSets: StatusSets{Status: []string{"open"}},
		Date:       &DateWindow{Field: "created_at", Preset: PresetLast7Days},
		Page:       3,
		PageSize:   10,
	}
	res := newTestResolver().Resolve(leadsConfig(), payload, agent(), SystemConstraints{})

	status := findClause(res.Predicate, "status", OpIn)
	require.NotNil(t, status)
	assert.Equal(t, []string{"open"}, status.Value)

	deleted := findClause(res.Predicate, SoftDeleteColumn, OpEq)
	require.NotNil(t, deleted)
	assert.Equal(t, false, deleted.Value)

	from := findClause(res.Predicate, "created_at", OpGte)
	to := findClause(res.Predicate, "created_at", OpLte)
	require.NotNil(t, from)
	require.NotNil(t, to)
	assert.Equal(t, fixedNow.AddDate(0, 0, -7), from.Value)
	assert.Equal(t, fixedNow, to.Value)

	assert.Equal(t, []string{"permission", "system", "user"}, res.Layers())
	assert.Equal(t, ScopeOwn, res.ScopeLabel)
	assert.Equal(t, Sort{Field: "created_at", Direction: SortDesc}, res.Sort)
}

func TestResolvePermissionLayerCannotBeOverridden(t *testing.T) {
	cfg := leadsConfig()
	cfg.OwnershipFields["department"] = "department_id"
	perm := PermissionContext{UserID: "u-1", DepartmentID: "d-1", Permissions: []string{PermScopeDepartment}}

	payload := Payload{OwnershipTerms: OwnershipTerms{Department: []string{"d-2"}}, Search: "acme"}
	res := newTestResolver().Resolve(cfg, payload, perm, SystemConstraints{})

	var deptClauses []Clause
	for _, c := range res.Predicate.Where {
		if c.Field == "department_id" {
			deptClauses = append(deptClauses, c)
		}
	}
	require.Len(t, deptClauses, 1)
	assert.Equal(t, "d-1", deptClauses[0].Value)
	assert.Equal(t, ScopeDepartment, res.ScopeLabel)

	user := res.Trace[len(res.Trace)-2]
	assert.Equal(t, LayerUser, user.Layer)
	assert.Contains(t, user.Dropped, "department_id in [d-2]")
}

func TestResolveSystemConstantsWinOverUserFilters(t *testing.T) {
	cfg := leadsConfig()
	cfg.StatusFields[ConceptLifecycle] = ArchivedColumn

	payload := Payload{StatusSets: StatusSets{Lifecycle: []string{"true"}}}
	res := newTestResolver().Resolve(cfg, payload, agent(), SystemConstraints{})

	archived := 0
	for _, c := range res.Predicate.Where {
		if c.Field == ArchivedColumn {
			archived++
			assert.Equal(t, OpEq, c.Op)
			assert.Equal(t, false, c.Value)
		}
	}
	assert.Equal(t, 1, archived)
}

func TestResolveSearchNeverWidens(t *testing.T) {
	cfg := leadsConfig()
	base := Payload{IdentityTerms: IdentityTerms{Codes: []string{"L-1"}}}
	withSearch := base
	withSearch.Search = "  acme "

	r := newTestResolver()
	without := r.Resolve(cfg, base, agent(), SystemConstraints{})
	with := r.Resolve(cfg, withSearch, agent(), SystemConstraints{})

	assert.Equal(t, without.Predicate.Where, with.Predicate.Where)
	require.Len(t, with.Predicate.AnyOf, len(without.Predicate.AnyOf)+1)
	assert.Equal(t, without.Predicate.AnyOf, with.Predicate.AnyOf[:len(without.Predicate.AnyOf)])

	search := with.Predicate.AnyOf[len(with.Predicate.AnyOf)-1]
	assert.Equal(t, GroupSearch, search.Name)
	require.Len(t, search.Any, len(cfg.IdentityFields))
	for _, c := range search.Any {
		assert.Equal(t, OpILike, c.Op)
		assert.Equal(t, "acme", c.Value)
	}
	assert.Equal(t, LayerSearch, with.Trace[len(with.Trace)-1].Layer)
}

func TestResolveIgnoresUnmappedConcepts(t *testing.T) {
	cfg := leadsConfig()
	payload := Payload{
		StatusSets:     StatusSets{Stage: []string{"won"}},
		OwnershipTerms: OwnershipTerms{Dealer: []string{"x"}},
		NumericRanges:  NumericRanges{Tax: &Range{Min: floatPtr(1)}},
	}
	res := newTestResolver().Resolve(cfg, payload, agent(), SystemConstraints{})
	for _, layer := range res.Trace {
		assert.NotEqual(t, LayerUser, layer.Layer)
	}
}

func TestResolveNumericAndRelational(t *testing.T) {
	payload := Payload{
		NumericRanges: NumericRanges{Amount: &Range{Min: floatPtr(1000), Max: floatPtr(5000)}},
		RelationalTerms: RelationalTerms{
			HasRelated: []RelatedRef{
				{Type: "property", ID: "p-1"},
				{Type: "campaign", ID: "c-1"},
				{Type: "campaign", ID: "c-2"},
			},
			MissingRelated: []string{"property"},
		},
	}
	res := newTestResolver().Resolve(leadsConfig(), payload, agent(), SystemConstraints{})

	assert.Equal(t, 1000.0, findClause(res.Predicate, "budget", OpGte).Value)
	assert.Equal(t, 5000.0, findClause(res.Predicate, "budget", OpLte).Value)
	assert.Equal(t, "p-1", findClause(res.Predicate, "property_id", OpEq).Value)
	assert.Equal(t, []string{"c-1", "c-2"}, findClause(res.Predicate, "campaign_id", OpIn).Value)
	assert.NotNil(t, findClause(res.Predicate, "property_id", OpIsNull))
}

func TestResolveElevatedCallerHasNoOwnerScope(t *testing.T) {
	perm := PermissionContext{UserID: "admin", RoleName: "admin", CompanyID: "co-1"}
	res := newTestResolver().Resolve(leadsConfig(), Payload{}, perm, SystemConstraints{})

	assert.Equal(t, ScopeCompany, res.ScopeLabel)
	assert.Empty(t, res.Predicate.AnyOf)
	assert.Equal(t, "co-1", findClause(res.Predicate, "company_id", OpEq).Value)
}

func TestResolveMissingUserMatchesNothing(t *testing.T) {
	res := newTestResolver().Resolve(leadsConfig(), Payload{}, PermissionContext{}, SystemConstraints{})
	c := findClause(res.Predicate, "assigned_to", OpIn)
	require.NotNil(t, c)
	assert.Equal(t, []string{}, c.Value)
}

func TestResolveSystemConstraintToggles(t *testing.T) {
	cfg := leadsConfig()
	sys := NewSystemConstraints(false, true, true, true)
	res := newTestResolver().Resolve(cfg, Payload{}, agent(), sys)

	assert.Nil(t, findClause(res.Predicate, SoftDeleteColumn, OpEq))
	assert.NotNil(t, findClause(res.Predicate, ArchivedColumn, OpEq))
}

func TestResolveLedgerConstraints(t *testing.T) {
	cfg := &ModuleConfig{
		Model:          "vouchers",
		IdentityFields: []string{"voucher_no"},
		DateFields:     map[string]string{"posted_at": "posted_at"},
		Capabilities:   Capabilities{PeriodLock: true, Posted: true},
		Constraints:    LedgerConstraints{VoidField: "is_void"},
	}
	res := newTestResolver().Resolve(cfg, Payload{}, agent(), NewSystemConstraints(true, true, false, true))

	assert.Nil(t, findClause(res.Predicate, SoftDeleteColumn, OpEq))
	assert.NotNil(t, findClause(res.Predicate, PeriodLockColumn, OpEq))
	assert.Nil(t, findClause(res.Predicate, PostedColumn, OpEq))
	assert.NotNil(t, findClause(res.Predicate, "is_void", OpEq))
	assert.Equal(t, ScopeUnrestricted, res.ScopeLabel)
	assert.Equal(t, "ledger", res.Trace[0].Source)
}

func TestResolveSortMapping(t *testing.T) {
	cfg := leadsConfig()
	r := newTestResolver()

	res := r.Resolve(cfg, Payload{Sort: &Sort{Field: "followUpDate", Direction: "DESC"}}, agent(), SystemConstraints{})
	assert.Equal(t, Sort{Field: "follow_up_at", Direction: SortDesc}, res.Sort)

	res = r.Resolve(cfg, Payload{Sort: &Sort{Field: "lead_name"}}, agent(), SystemConstraints{})
	assert.Equal(t, Sort{Field: "name", Direction: SortAsc}, res.Sort)

	res = r.Resolve(cfg, Payload{Sort: &Sort{Field: "email"}}, agent(), SystemConstraints{})
	assert.Equal(t, "email", res.Sort.Field)
}

func TestResolveIsDeterministic(t *testing.T) {
	payload := Payload{
		IdentityTerms: IdentityTerms{IDs: []string{"a", "b"}},
		StatusSets:    StatusSets{Status: []string{"open", "new"}},
		Date:          &DateWindow{Field: "created_at", Preset: PresetMonthToDate},
		Search:        "x",
	}
	r := newTestResolver()
	first := r.Resolve(leadsConfig(), payload, agent(), SystemConstraints{})
	second := r.Resolve(leadsConfig(), payload, agent(), SystemConstraints{})
	assert.Equal(t, first, second)
}

func TestResolveCustomDateWindow(t *testing.T) {
	from := &Timestamp{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), DateOnly: true}
	to := &Timestamp{Time: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), DateOnly: true}
	payload := Payload{Date: &DateWindow{Field: "created_at", Preset: PresetCustom, From: from, To: to}}

	res := newTestResolver().Resolve(leadsConfig(), payload, agent(), SystemConstraints{})
	upper := findClause(res.Predicate, "created_at", OpLte)
	require.NotNil(t, upper)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), upper.Value)
}

func TestPropertyScopeWithoutGrantsMatchesNothing(t *testing.T) {
	scope := PropertyScope{Field: "property_id"}
	label, frag := scope.Scope(PermissionContext{UserID: "u"})
	assert.Equal(t, ScopeProperty, label)
	require.Len(t, frag.Where, 1)
	assert.Equal(t, []string{}, frag.Where[0].Value)

	label, frag = scope.Scope(PermissionContext{UserID: "u", Permissions: []string{PermSuperuser}})
	assert.Equal(t, ScopeAll, label)
	assert.True(t, frag.IsEmpty())
}

func floatPtr(v float64) *float64 { return &v }
