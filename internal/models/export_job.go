package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/noah-isme/estate-erp-api/internal/filter"
)

var paramsJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ExportFormat enumerates supported artifact formats.
type ExportFormat string

const (
	ExportFormatXLSX ExportFormat = "xlsx"
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
)

// ExportScope selects which rows an export covers.
type ExportScope string

const (
	// ExportScopeView is the caller's current page.
	ExportScopeView ExportScope = "VIEW"
	// ExportScopeFiltered is every row matching the filters, ignoring pagination.
	ExportScopeFiltered ExportScope = "FILTERED"
	// ExportScopeAll is every permitted row, ignoring the caller's filters.
	ExportScopeAll ExportScope = "ALL"
)

// ExportJobStatus captures background job lifecycle states. Transitions are
// forward only: pending, running, then completed or failed.
type ExportJobStatus string

const (
	ExportJobPending   ExportJobStatus = "pending"
	ExportJobRunning   ExportJobStatus = "running"
	ExportJobCompleted ExportJobStatus = "completed"
	ExportJobFailed    ExportJobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s ExportJobStatus) Terminal() bool {
	return s == ExportJobCompleted || s == ExportJobFailed
}

// ExportJob persisted background export metadata.
type ExportJob struct {
	ID           string          `db:"id" json:"id"`
	Entity       string          `db:"entity" json:"entity"`
	Format       ExportFormat    `db:"format" json:"format"`
	Scope        ExportScope     `db:"scope" json:"scope"`
	Params       ExportJobParams `db:"params" json:"params"`
	Status       ExportJobStatus `db:"status" json:"status"`
	RowCount     *int            `db:"row_count" json:"row_count,omitempty"`
	FileRef      *string         `db:"file_ref" json:"file_ref,omitempty"`
	ResultURL    *string         `db:"result_url" json:"result_url,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	StartedAt    *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// ExportJobParams stores the request and the permission snapshot taken at
// submission, persisted as JSONB.
type ExportJobParams struct {
	Columns    []string                 `json:"columns,omitempty"`
	Filters    filter.Payload           `json:"filters"`
	Permission filter.PermissionContext `json:"permission"`
}

// Value marshals params to JSON for persistence.
func (p ExportJobParams) Value() (driver.Value, error) {
	data, err := paramsJSON.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal export job params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *ExportJobParams) Scan(value interface{}) error {
	if value == nil {
		*p = ExportJobParams{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ExportJobParams", value)
	}
	if len(data) == 0 {
		*p = ExportJobParams{}
		return nil
	}
	if err := paramsJSON.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal export job params: %w", err)
	}
	return nil
}
