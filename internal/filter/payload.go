package filter

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Status-like concepts a module may map to a physical column.
type StatusConcept string

const (
	ConceptStatus    StatusConcept = "status"
	ConceptPriority  StatusConcept = "priority"
	ConceptStage     StatusConcept = "stage"
	ConceptLifecycle StatusConcept = "lifecycle"
)

var statusConcepts = []StatusConcept{ConceptStatus, ConceptPriority, ConceptStage, ConceptLifecycle}

// Ownership keys accepted by the payload.
const (
	OwnerAssignedTo = "assigned_to"
	OwnerTeam       = "team"
	OwnerDepartment = "department"
	OwnerDealer     = "dealer"
	OwnerAgent      = "agent"
	OwnerCreatedBy  = "created_by"
	OwnerApprovedBy = "approved_by"
)

var ownershipKeys = []string{OwnerAssignedTo, OwnerTeam, OwnerDepartment, OwnerDealer, OwnerAgent, OwnerCreatedBy, OwnerApprovedBy}

// Numeric concepts accepted by the payload.
const (
	NumericAmount  = "amount"
	NumericBalance = "balance"
	NumericDebit   = "debit"
	NumericCredit  = "credit"
	NumericTax     = "tax"
)

var numericKeys = []string{NumericAmount, NumericBalance, NumericDebit, NumericCredit, NumericTax}

// Date presets.
const (
	PresetToday       = "today"
	PresetLast7Days   = "last_7_days"
	PresetMonthToDate = "month_to_date"
	PresetQuarter     = "quarter"
	PresetLastMonth   = "last_month"
	PresetThisYear    = "this_year"
	PresetCustom      = "custom"
)

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Payload is the caller-supplied filter request. Each category is its own
// embedded struct; on the wire every field is a top-level key.
type Payload struct {
	IdentityTerms
	StatusSets
	OwnershipTerms
	NumericRanges
	RelationalTerms

	Date     *DateWindow `json:"date,omitempty" validate:"omitempty"`
	Page     int         `json:"page,omitempty" validate:"omitempty,min=1,max=100000"`
	PageSize int         `json:"page_size,omitempty" validate:"omitempty,min=1"`
	Sort     *Sort       `json:"sort,omitempty" validate:"omitempty"`
	Search   string      `json:"search,omitempty" validate:"max=200"`
}

// IdentityTerms are free-form id/code lookups matched against the identity fields.
type IdentityTerms struct {
	IDs    []string `json:"ids,omitempty" validate:"max=100,dive,max=120"`
	Codes  []string `json:"codes,omitempty" validate:"max=100,dive,max=120"`
	TrxIDs []string `json:"trx_ids,omitempty" validate:"max=100,dive,max=120"`
}

// StatusSets are multi-select sets for status-like concepts.
type StatusSets struct {
	Status    []string `json:"status,omitempty" validate:"max=50"`
	Priority  []string `json:"priority,omitempty" validate:"max=50"`
	Stage     []string `json:"stage,omitempty" validate:"max=50"`
	Lifecycle []string `json:"lifecycle,omitempty" validate:"max=50"`
}

// OwnershipTerms restrict rows to sets of owning principals.
type OwnershipTerms struct {
	AssignedTo []string `json:"assigned_to,omitempty" validate:"max=200"`
	Team       []string `json:"team,omitempty" validate:"max=200"`
	Department []string `json:"department,omitempty" validate:"max=200"`
	Dealer     []string `json:"dealer,omitempty" validate:"max=200"`
	Agent      []string `json:"agent,omitempty" validate:"max=200"`
	CreatedBy  []string `json:"created_by,omitempty" validate:"max=200"`
	ApprovedBy []string `json:"approved_by,omitempty" validate:"max=200"`
}

// NumericRanges bound the named numeric concepts.
type NumericRanges struct {
	Amount  *Range `json:"amount,omitempty"`
	Balance *Range `json:"balance,omitempty"`
	Debit   *Range `json:"debit,omitempty"`
	Credit  *Range `json:"credit,omitempty"`
	Tax     *Range `json:"tax,omitempty"`
}

// RelationalTerms filter on foreign keys.
type RelationalTerms struct {
	HasRelated     []RelatedRef `json:"has_related,omitempty" validate:"max=50,dive"`
	MissingRelated []string     `json:"missing_related,omitempty" validate:"max=20"`
}

// RelatedRef points at one related entity.
type RelatedRef struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

// Range is an inclusive numeric window.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// DateWindow filters one named date field by preset or explicit bounds.
type DateWindow struct {
	Field  string     `json:"field" validate:"required"`
	Preset string     `json:"preset,omitempty" validate:"omitempty,oneof=today last_7_days month_to_date quarter last_month this_year custom"`
	From   *Timestamp `json:"from,omitempty"`
	To     *Timestamp `json:"to,omitempty"`
}

// Sort is a requested ordering.
type Sort struct {
	Field     string `json:"field" validate:"required,max=64"`
	Direction string `json:"direction,omitempty" validate:"omitempty,oneof=asc desc"`
}

// Desc reports whether the sort is descending.
func (s Sort) Desc() bool {
	return strings.EqualFold(s.Direction, SortDesc)
}

// Timestamp accepts RFC3339 or a bare date. A bare date is marked so upper
// bounds can be extended to the end of that day.
type Timestamp struct {
	time.Time
	DateOnly bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(data, `"`))
	if raw == "" || raw == "null" {
		*t = Timestamp{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		*t = Timestamp{Time: parsed}
		return nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: expected RFC3339 or YYYY-MM-DD", raw)
	}
	*t = Timestamp{Time: parsed, DateOnly: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.DateOnly {
		return []byte(`"` + t.Format("2006-01-02") + `"`), nil
	}
	return []byte(`"` + t.Format(time.RFC3339) + `"`), nil
}

// identityTerms flattens every identity term in payload order.
func (p Payload) identityTerms() []string {
	out := make([]string, 0, len(p.IDs)+len(p.Codes)+len(p.TrxIDs))
	out = append(out, p.IDs...)
	out = append(out, p.Codes...)
	out = append(out, p.TrxIDs...)
	return cleanValues(out)
}

func (p Payload) statusSet(concept StatusConcept) []string {
	switch concept {
	case ConceptStatus:
		return p.Status
	case ConceptPriority:
		return p.Priority
	case ConceptStage:
		return p.Stage
	case ConceptLifecycle:
		return p.Lifecycle
	}
	return nil
}

func (p Payload) ownershipSet(key string) []string {
	switch key {
	case OwnerAssignedTo:
		return p.AssignedTo
	case OwnerTeam:
		return p.Team
	case OwnerDepartment:
		return p.Department
	case OwnerDealer:
		return p.Dealer
	case OwnerAgent:
		return p.Agent
	case OwnerCreatedBy:
		return p.CreatedBy
	case OwnerApprovedBy:
		return p.ApprovedBy
	}
	return nil
}

func (p Payload) numericRange(key string) *Range {
	switch key {
	case NumericAmount:
		return p.Amount
	case NumericBalance:
		return p.Balance
	case NumericDebit:
		return p.Debit
	case NumericCredit:
		return p.Credit
	case NumericTax:
		return p.Tax
	}
	return nil
}

// ScopeOnly keeps the ordering of a payload and discards every filter.
func (p Payload) ScopeOnly() Payload {
	out := Payload{}
	if p.Sort != nil {
		sort := *p.Sort
		out.Sort = &sort
	}
	return out
}

// cleanValues trims, drops empties and de-duplicates while keeping order.
func cleanValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
