package dto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/models"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
	"github.com/noah-isme/estate-erp-api/pkg/export"
)

var validate = validator.New()

// ExportRequest captures the body of POST /exports, /exports/count and /exports/jobs.
type ExportRequest struct {
	Entity  string         `json:"entity" validate:"required,max=64"`
	Format  string         `json:"format,omitempty" validate:"omitempty,oneof=csv xlsx pdf CSV XLSX PDF"`
	Scope   string         `json:"scope" validate:"required,oneof=VIEW FILTERED ALL view filtered all"`
	Columns []string       `json:"columns,omitempty" validate:"max=100,dive,max=64"`
	Filters filter.Payload `json:"filters"`
}

// Normalize trims and upper/lower-cases the enum fields.
func (r *ExportRequest) Normalize() {
	r.Entity = strings.ToLower(strings.TrimSpace(r.Entity))
	r.Format = strings.ToLower(strings.TrimSpace(r.Format))
	r.Scope = strings.ToUpper(strings.TrimSpace(r.Scope))
}

// Validate checks the envelope fields. Filters are validated against the
// entity configuration by the service.
func (r ExportRequest) Validate(requireFormat bool) error {
	if err := validate.Struct(r); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, describe(err))
	}
	if requireFormat && r.Format == "" {
		return appErrors.Clone(appErrors.ErrValidation, "format is required")
	}
	return nil
}

// ExportJobResponse is returned after submitting an export job.
type ExportJobResponse struct {
	ID        string                 `json:"id"`
	Status    models.ExportJobStatus `json:"status"`
	StatusURL string                 `json:"status_url"`
}

// ExportJobStatusResponse exposes job progress to its owner.
type ExportJobStatusResponse struct {
	ID         string                 `json:"id"`
	Entity     string                 `json:"entity"`
	Format     models.ExportFormat    `json:"format"`
	Scope      models.ExportScope     `json:"scope"`
	Status     models.ExportJobStatus `json:"status"`
	RowCount   *int                   `json:"row_count"`
	ResultURL  *string                `json:"result_url,omitempty"`
	Error      *string                `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// NewExportJobStatus maps a job for its owner. Params, which hold the
// permission snapshot, are never echoed.
func NewExportJobStatus(job models.ExportJob) ExportJobStatusResponse {
	return ExportJobStatusResponse{
		ID:         job.ID,
		Entity:     job.Entity,
		Format:     job.Format,
		Scope:      job.Scope,
		Status:     job.Status,
		RowCount:   job.RowCount,
		ResultURL:  job.ResultURL,
		Error:      job.ErrorMessage,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

// QueryResponse is one page of a resolved listing.
type QueryResponse struct {
	Entity string       `json:"entity"`
	Scope  string       `json:"scope"`
	Rows   []export.Row `json:"rows"`
}

// ResolveResponse shows what the engine produced for a payload.
type ResolveResponse struct {
	Entity string        `json:"entity"`
	Result filter.Result `json:"result"`
}

func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "invalid request"
	}
	issues := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(issues, "; ")
}
