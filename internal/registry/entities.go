package registry

import (
	"strconv"
	"time"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/pkg/export"
)

// Entity names.
const (
	Leads        = "leads"
	Clients      = "clients"
	Deals        = "deals"
	Properties   = "properties"
	Units        = "units"
	Vouchers     = "vouchers"
	Transactions = "transactions"
	Employees    = "employees"
)

// Permissions granting full reach over a single entity.
const (
	PermLeadsViewAll      = "leads:view_all"
	PermClientsViewAll    = "clients:view_all"
	PermDealsViewAll      = "deals:view_all"
	PermPropertiesViewAll = "properties:view_all"
	PermEmployeesViewAll  = "employees:view_all"
)

var crmScope = func(viewAll string) filter.OwnershipScope {
	return filter.OwnershipScope{
		OwnerFields:     []string{"assigned_to", "created_by"},
		DepartmentField: "department_id",
		CompanyField:    "company_id",
		ViewAll:         viewAll,
	}
}

var crmOwnership = map[string]string{
	filter.OwnerAssignedTo: "assigned_to",
	filter.OwnerCreatedBy:  "created_by",
	filter.OwnerDepartment: "department_id",
	filter.OwnerAgent:      "agent_id",
	filter.OwnerDealer:     "dealer_id",
}

var auditDates = map[string]string{
	"created_at": "created_at",
	"createdAt":  "created_at",
	"updated_at": "updated_at",
	"updatedAt":  "updated_at",
}

func withDates(extra map[string]string) map[string]string {
	out := make(map[string]string, len(auditDates)+len(extra))
	for k, v := range auditDates {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

var newestFirst = filter.Sort{Field: "created_at", Direction: filter.SortDesc}

// Definitions returns the real-estate entities without stores attached.
func Definitions() []Entry {
	return []Entry{
		leadsEntry(),
		clientsEntry(),
		dealsEntry(),
		propertiesEntry(),
		unitsEntry(),
		vouchersEntry(),
		transactionsEntry(),
		employeesEntry(),
	}
}

func leadsEntry() Entry {
	return Entry{
		Name:  Leads,
		Table: "leads",
		Title: "Leads",
		Schema: []string{
			"id", "code", "name", "email", "phone", "source", "status", "priority", "stage",
			"budget", "property_id", "campaign_id", "assigned_to", "created_by", "department_id",
			"company_id", "agent_id", "dealer_id", "follow_up_at", "created_at", "updated_at",
			"is_deleted", "is_archived",
		},
		Filter: filter.ModuleConfig{
			IdentityFields: []string{"code", "name", "email", "phone"},
			StatusFields: map[filter.StatusConcept]string{
				filter.ConceptStatus:   "status",
				filter.ConceptPriority: "priority",
				filter.ConceptStage:    "stage",
			},
			OwnershipFields: crmOwnership,
			DateFields:      withDates(map[string]string{"follow_up_at": "follow_up_at", "followUpDate": "follow_up_at"}),
			NumericFields:   map[string]string{filter.NumericAmount: "budget"},
			RelationFields:  map[string]string{"property": "property_id", "campaign": "campaign_id"},
			SortFallback:    map[string]string{"lead_name": "name", "source": "source"},
			DefaultSort:     newestFirst,
			Capabilities:    filter.Capabilities{SoftDelete: true, Archived: true},
			Scope:           crmScope(PermLeadsViewAll),
		},
		Columns: []export.Column{
			{Key: "code", Header: "Lead Code", Type: export.TypeString},
			{Key: "name", Header: "Name", Type: export.TypeString},
			{Key: "email", Header: "Email", Type: export.TypeString},
			{Key: "phone", Header: "Phone", Type: export.TypeString},
			{Key: "source", Header: "Source", Type: export.TypeString},
			{Key: "status", Header: "Status", Type: export.TypeString},
			{Key: "priority", Header: "Priority", Type: export.TypeString},
			{Key: "budget", Header: "Budget", Type: export.TypeNumber, Format: money},
			{Key: "assigned_to", Header: "Assigned To", Type: export.TypeString},
			{Key: "follow_up_at", Header: "Follow Up", Type: export.TypeDate, Format: dateOnly},
			{Key: "created_at", Header: "Created", Type: export.TypeDate, Format: dateOnly},
		},
	}
}

func clientsEntry() Entry {
	return Entry{
		Name:  Clients,
		Table: "clients",
		Title: "Clients",
		Schema: []string{
			"id", "code", "name", "email", "phone", "cnic", "status", "client_type", "balance",
			"source_lead_id", "assigned_to", "created_by", "department_id", "company_id", "agent_id",
			"dealer_id", "created_at", "updated_at", "is_deleted", "is_archived",
		},
		Filter: filter.ModuleConfig{
			IdentityFields: []string{"code", "name", "email", "phone", "cnic"},
			StatusFields: map[filter.StatusConcept]string{
				filter.ConceptStatus:    "status",
				filter.ConceptLifecycle: "client_type",
			},
			OwnershipFields: crmOwnership,
			DateFields:      auditDates,
			NumericFields:   map[string]string{filter.NumericBalance: "balance"},
			RelationFields:  map[string]string{"lead": "source_lead_id"},
			SortFallback:    map[string]string{"client_name": "name"},
			DefaultSort:     newestFirst,
			Capabilities:    filter.Capabilities{SoftDelete: true, Archived: true},
			Scope:           crmScope(PermClientsViewAll),
		},
		Columns: []export.Column{
			{Key: "code", Header: "Client Code", Type: export.TypeString},
			{Key: "name", Header: "Name", Type: export.TypeString},
			{Key: "email", Header: "Email", Type: export.TypeString},
			{Key: "phone", Header: "Phone", Type: export.TypeString},
			{Key: "client_type", Header: "Type", Type: export.TypeString},
			{Key: "status", Header: "Status", Type: export.TypeString},
			{Key: "balance", Header: "Balance", Type: export.TypeNumber, Format: money},
			{Key: "created_at", Header: "Created", Type: export.TypeDate, Format: dateOnly},
		},
	}
}

func dealsEntry() Entry {
	return Entry{
		Name:  Deals,
		Table: "deals",
		Title: "Deals",
		Schema: []string{
			"id", "code", "title", "status", "stage", "value", "tax_amount", "client_id", "unit_id",
			"property_id", "assigned_to", "created_by", "approved_by", "department_id", "company_id",
			"agent_id", "dealer_id", "expected_close_at", "closed_at", "created_at", "updated_at",
			"is_deleted", "is_archived",
		},
		Filter: filter.ModuleConfig{
			IdentityFields: []string{"code", "title"},
			StatusFields: map[filter.StatusConcept]string{
				filter.ConceptStatus: "status",
				filter.ConceptStage:  "stage",
			},
			OwnershipFields: withApprover(crmOwnership),
			DateFields: withDates(map[string]string{
				"expected_close_at": "expected_close_at",
				"expectedCloseDate": "expected_close_at",
				"closed_at":         "closed_at",
			}),
			NumericFields: map[string]string{filter.NumericAmount: "value", filter.NumericTax: "tax_amount"},
			RelationFields: map[string]string{
				"client":   "client_id",
				"unit":     "unit_id",
				"property": "property_id",
			},
			SortFallback: map[string]string{"deal_value": "value"},
			DefaultSort:  newestFirst,
			Capabilities: filter.Capabilities{SoftDelete: true, Archived: true},
			Scope:        crmScope(PermDealsViewAll),
		},
		Columns: []export.Column{
			{Key: "code", Header: "Deal Code", Type: export.TypeString},
			{Key: "title", Header: "Title", Type: export.TypeString},
			{Key: "stage", Header: "Stage", Type: export.TypeString},
			{Key: "status", Header: "Status", Type: export.TypeString},
			{Key: "value", Header: "Value", Type: export.TypeNumber, Format: money},
			{Key: "client_id", Header: "Client", Type: export.TypeString},
			{Key: "expected_close_at", Header: "Expected Close", Type: export.TypeDate, Format: dateOnly},
			{Key: "created_at", Header: "Created", Type: export.TypeDate, Format: dateOnly},
		},
	}
}

func propertiesEntry() Entry {
	return Entry{
		Name:  Properties,
		Table: "properties",
		Title: "Properties",
		Schema: []string{
			"id", "code", "name", "type", "status", "city", "address", "total_units", "price",
			"manager_id", "created_by", "company_id", "created_at", "updated_at", "is_deleted", "is_archived",
		},
		Filter: filter.ModuleConfig{
			IdentityFields:  []string{"code", "name", "city", "address"},
			StatusFields:    map[filter.StatusConcept]string{filter.ConceptStatus: "status", filter.ConceptLifecycle: "type"},
			OwnershipFields: map[string]string{filter.OwnerAssignedTo: "manager_id", filter.OwnerCreatedBy: "created_by"},
			DateFields:      auditDates,
			NumericFields:   map[string]string{filter.NumericAmount: "price"},
			SortFallback:    map[string]string{"property_name": "name", "total_units": "total_units"},
			DefaultSort:     filter.Sort{Field: "name", Direction: filter.SortAsc},
			Capabilities:    filter.Capabilities{SoftDelete: true, Archived: true},
			Scope:           filter.PropertyScope{Field: "id", ViewAll: PermPropertiesViewAll},
		},
		Columns: []export.Column{
			{Key: "code", Header: "Property Code", Type: export.TypeString},
			{Key: "name", Header: "Name", Type: export.TypeString},
			{Key: "type", Header: "Type", Type: export.TypeString},
			{Key: "status", Header: "Status", Type: export.TypeString},
			{Key: "city", Header: "City", Type: export.TypeString},
			{Key: "total_units", Header: "Units", Type: export.TypeNumber},
			{Key: "price", Header: "Price", Type: export.TypeNumber, Format: money},
		},
	}
}

func unitsEntry() Entry {
	return Entry{
		Name:  Units,
		Table: "units",
		Title: "Units",
		Schema: []string{
			"id", "unit_number", "property_id", "block_id", "floor_id", "status", "unit_type",
			"area_sqft", "unit_price", "buyer_id", "created_at", "updated_at", "is_deleted",
		},
		Filter: filter.ModuleConfig{
			IdentityFields: []string{"unit_number"},
			StatusFields:   map[filter.StatusConcept]string{filter.ConceptStatus: "status", filter.ConceptLifecycle: "unit_type"},
			DateFields:     auditDates,
			NumericFields:  map[string]string{filter.NumericAmount: "unit_price"},
			RelationFields: map[string]string{
				"property": "property_id",
				"block":    "block_id",
				"floor":    "floor_id",
				"buyer":    "buyer_id",
			},
			SortFallback: map[string]string{"unit_no": "unit_number", "area": "area_sqft"},
			DefaultSort:  filter.Sort{Field: "unit_number", Direction: filter.SortAsc},
			Capabilities: filter.Capabilities{SoftDelete: true},
			Scope:        filter.PropertyScope{Field: "property_id", ViewAll: PermPropertiesViewAll},
		},
		Columns: []export.Column{
			{Key: "unit_number", Header: "Unit", Type: export.TypeString},
			{Key: "property_id", Header: "Property", Type: export.TypeString},
			{Key: "unit_type", Header: "Type", Type: export.TypeString},
			{Key: "status", Header: "Status", Type: export.TypeString},
			{Key: "area_sqft", Header: "Area (sqft)", Type: export.TypeNumber},
			{Key: "unit_price", Header: "Price", Type: export.TypeNumber, Format: money},
		},
	}
}

func vouchersEntry() Entry {
	return Entry{
		Name:  Vouchers,
		Table: "vouchers",
		Title: "Vouchers",
		Schema: []string{
			"id", "voucher_no", "reference", "voucher_type", "status", "amount", "tax_amount",
			"account_code", "property_id", "prepared_by", "approved_by", "voucher_date", "created_at",
			"updated_at", "period_locked", "is_posted", "is_void",
		},
		Filter: filter.ModuleConfig{
			IdentityFields: []string{"voucher_no", "reference", "account_code"},
			StatusFields: map[filter.StatusConcept]string{
				filter.ConceptStatus:    "status",
				filter.ConceptLifecycle: "voucher_type",
			},
			OwnershipFields: map[string]string{
				filter.OwnerCreatedBy:  "prepared_by",
				filter.OwnerApprovedBy: "approved_by",
			},
			DateFields:     withDates(map[string]string{"voucher_date": "voucher_date", "date": "voucher_date"}),
			NumericFields:  map[string]string{filter.NumericAmount: "amount", filter.NumericTax: "tax_amount"},
			RelationFields: map[string]string{"property": "property_id"},
			SortFallback:   map[string]string{"voucher_number": "voucher_no"},
			DefaultSort:    filter.Sort{Field: "voucher_date", Direction: filter.SortDesc},
			Capabilities:   filter.Capabilities{PeriodLock: true, Posted: true},
			Constraints:    filter.LedgerConstraints{VoidField: "is_void"},
		},
		Columns: []export.Column{
			{Key: "voucher_no", Header: "Voucher No", Type: export.TypeString},
			{Key: "voucher_date", Header: "Date", Type: export.TypeDate, Format: dateOnly},
			{Key: "voucher_type", Header: "Type", Type: export.TypeString},
			{Key: "reference", Header: "Reference", Type: export.TypeString},
			{Key: "account_code", Header: "Account", Type: export.TypeString},
			{Key: "amount", Header: "Amount", Type: export.TypeNumber, Format: money},
			{Key: "tax_amount", Header: "Tax", Type: export.TypeNumber, Format: money},
			{Key: "status", Header: "Status", Type: export.TypeString},
			{Key: "is_posted", Header: "Posted", Type: export.TypeBoolean},
		},
	}
}

func transactionsEntry() Entry {
	return Entry{
		Name:  Transactions,
		Table: "transactions",
		Title: "Transactions",
		Schema: []string{
			"id", "trx_id", "voucher_id", "account_code", "description", "debit", "credit",
			"balance", "transaction_date", "created_by", "created_at", "updated_at", "period_locked", "is_posted", "is_void",
		},
		Filter: filter.ModuleConfig{
			IdentityFields: []string{"trx_id", "account_code", "description"},
			OwnershipFields: map[string]string{
				filter.OwnerCreatedBy: "created_by",
			},
			DateFields: withDates(map[string]string{"transaction_date": "transaction_date", "date": "transaction_date"}),
			NumericFields: map[string]string{
				filter.NumericDebit:   "debit",
				filter.NumericCredit:  "credit",
				filter.NumericBalance: "balance",
			},
			RelationFields: map[string]string{"voucher": "voucher_id"},
			DefaultSort:    filter.Sort{Field: "transaction_date", Direction: filter.SortDesc},
			Capabilities:   filter.Capabilities{PeriodLock: true, Posted: true},
			Constraints:    filter.LedgerConstraints{VoidField: "is_void"},
		},
		Columns: []export.Column{
			{Key: "trx_id", Header: "Transaction", Type: export.TypeString},
			{Key: "transaction_date", Header: "Date", Type: export.TypeDate, Format: dateOnly},
			{Key: "account_code", Header: "Account", Type: export.TypeString},
			{Key: "description", Header: "Description", Type: export.TypeString},
			{Key: "debit", Header: "Debit", Type: export.TypeNumber, Format: money},
			{Key: "credit", Header: "Credit", Type: export.TypeNumber, Format: money},
			{Key: "balance", Header: "Balance", Type: export.TypeNumber, Format: money},
		},
	}
}

func employeesEntry() Entry {
	return Entry{
		Name:  Employees,
		Table: "employees",
		Title: "Employees",
		Schema: []string{
			"id", "employee_code", "first_name", "last_name", "email", "phone", "position",
			"status", "employment_type", "salary", "department_id", "company_id", "manager_id",
			"joined_at", "created_at", "updated_at", "is_deleted", "is_archived",
		},
		Filter: filter.ModuleConfig{
			IdentityFields: []string{"employee_code", "first_name", "last_name", "email"},
			StatusFields: map[filter.StatusConcept]string{
				filter.ConceptStatus:    "status",
				filter.ConceptLifecycle: "employment_type",
			},
			OwnershipFields: map[string]string{
				filter.OwnerDepartment: "department_id",
				filter.OwnerAssignedTo: "manager_id",
			},
			DateFields:    withDates(map[string]string{"joined_at": "joined_at", "joinDate": "joined_at"}),
			NumericFields: map[string]string{filter.NumericAmount: "salary"},
			SortFallback:  map[string]string{"employee_name": "first_name", "position": "position"},
			DefaultSort:   filter.Sort{Field: "employee_code", Direction: filter.SortAsc},
			Capabilities:  filter.Capabilities{SoftDelete: true, Archived: true},
			Scope: filter.OwnershipScope{
				OwnerFields:     []string{"id", "manager_id"},
				DepartmentField: "department_id",
				CompanyField:    "company_id",
				ViewAll:         PermEmployeesViewAll,
			},
		},
		Columns: []export.Column{
			{Key: "employee_code", Header: "Code", Type: export.TypeString},
			{Key: "first_name", Header: "First Name", Type: export.TypeString},
			{Key: "last_name", Header: "Last Name", Type: export.TypeString},
			{Key: "email", Header: "Email", Type: export.TypeString},
			{Key: "position", Header: "Position", Type: export.TypeString},
			{Key: "department_id", Header: "Department", Type: export.TypeString},
			{Key: "status", Header: "Status", Type: export.TypeString},
			{Key: "joined_at", Header: "Joined", Type: export.TypeDate, Format: dateOnly},
		},
	}
}

func withApprover(base map[string]string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[filter.OwnerApprovedBy] = "approved_by"
	return out
}

func money(value interface{}) string {
	switch v := value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', 2, 64)
	case int64:
		return strconv.FormatInt(v, 10) + ".00"
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return strconv.FormatFloat(f, 'f', 2, 64)
		}
		return v
	}
	return export.FormatValue(value)
}

func dateOnly(value interface{}) string {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format("2006-01-02")
	case *time.Time:
		if v == nil || v.IsZero() {
			return ""
		}
		return v.Format("2006-01-02")
	}
	return export.FormatValue(value)
}
