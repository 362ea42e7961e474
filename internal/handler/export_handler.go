package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/estate-erp-api/internal/dto"
	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/middleware"
	"github.com/noah-isme/estate-erp-api/internal/models"
	"github.com/noah-isme/estate-erp-api/internal/service"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
	"github.com/noah-isme/estate-erp-api/pkg/response"
)

type exportService interface {
	Count(ctx context.Context, req service.ExportRequest, perm filter.PermissionContext) (*service.CountResult, error)
	Export(ctx context.Context, req service.ExportRequest, perm filter.PermissionContext) (*service.ExportOutput, error)
}

type exportJobService interface {
	Create(ctx context.Context, req service.ExportRequest, perm filter.PermissionContext) (*models.ExportJob, error)
	Status(ctx context.Context, id, userID string) (*models.ExportJob, error)
	List(ctx context.Context, userID, entity string, limit int) ([]models.ExportJob, error)
	Download(ctx context.Context, token, userID string) (*service.ExportDownload, error)
}

const defaultJobListLimit = 20

// ExportHandler exposes synchronous exports, the count guard and export jobs.
type ExportHandler struct {
	exports   exportService
	jobs      exportJobService
	apiPrefix string
}

// NewExportHandler constructs the handler. apiPrefix roots the status URLs it returns.
func NewExportHandler(exports exportService, jobs exportJobService, apiPrefix string) *ExportHandler {
	return &ExportHandler{exports: exports, jobs: jobs, apiPrefix: strings.TrimRight(apiPrefix, "/")}
}

// Count godoc
// @Summary Count the rows an export would contain
// @Tags Exports
// @Accept json
// @Produce json
// @Param request body dto.ExportRequest true "Export request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exports/count [post]
func (h *ExportHandler) Count(c *gin.Context) {
	perm, req, err := h.bind(c, false)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.exports.Count(c.Request.Context(), req, perm)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "cache_hit", result.Cached)
	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Render an export synchronously
// @Description FILTERED and ALL exports above the synchronous row limit return 413; submit a job instead.
// @Tags Exports
// @Accept json
// @Produce application/octet-stream
// @Param request body dto.ExportRequest true "Export request"
// @Success 200 {file} binary
// @Failure 413 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /exports [post]
func (h *ExportHandler) Export(c *gin.Context) {
	perm, req, err := h.bind(c, true)
	if err != nil {
		response.Error(c, err)
		return
	}
	out, err := h.exports.Export(c.Request.Context(), req, perm)
	if err != nil {
		response.Error(c, err)
		return
	}
	file := response.File{
		Name:     out.Artifact.Filename,
		MIMEType: out.Artifact.MIMEType,
		Headers:  map[string]string{"X-Export-Scope": out.Result.ScopeLabel},
	}
	if out.Artifact.RowCount != nil {
		file.Headers["X-Row-Count"] = strconv.Itoa(*out.Artifact.RowCount)
	}
	response.Attachment(c, file, out.Artifact.Data)
}

// CreateJob godoc
// @Summary Submit a background export job
// @Tags Exports
// @Accept json
// @Produce json
// @Param request body dto.ExportRequest true "Export request"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exports/jobs [post]
func (h *ExportHandler) CreateJob(c *gin.Context) {
	perm, req, err := h.bind(c, true)
	if err != nil {
		response.Error(c, err)
		return
	}
	job, err := h.jobs.Create(c.Request.Context(), req, perm)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.ExportJobResponse{
		ID:        job.ID,
		Status:    job.Status,
		StatusURL: fmt.Sprintf("%s/exports/jobs/%s", h.apiPrefix, job.ID),
	})
}

// ListJobs godoc
// @Summary List the caller's export jobs
// @Tags Exports
// @Produce json
// @Param entity query string false "Entity filter"
// @Param limit query int false "Maximum jobs (default 20, max 100)"
// @Success 200 {object} response.Envelope
// @Router /exports/jobs [get]
func (h *ExportHandler) ListJobs(c *gin.Context) {
	perm, err := permissionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	limit := defaultJobListLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	items, err := h.jobs.List(c.Request.Context(), perm.UserID, c.Query("entity"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.ExportJobStatusResponse, len(items))
	for i, job := range items {
		out[i] = dto.NewExportJobStatus(job)
	}
	response.JSON(c, http.StatusOK, out, nil)
}

// JobStatus godoc
// @Summary Export job status
// @Tags Exports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/jobs/{id} [get]
func (h *ExportHandler) JobStatus(c *gin.Context) {
	perm, err := permissionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	job, err := h.jobs.Status(c.Request.Context(), c.Param("id"), perm.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewExportJobStatus(*job), nil)
}

// Download godoc
// @Summary Download a completed export
// @Tags Exports
// @Produce application/octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /exports/download/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	perm, err := permissionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	download, err := h.jobs.Download(c.Request.Context(), c.Param("token"), perm.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read export file"))
		return
	}
	response.AttachmentFrom(c, response.File{Name: download.Filename, MIMEType: download.MIMEType}, info.Size(), download.File)
}

func (h *ExportHandler) bind(c *gin.Context, requireFormat bool) (filter.PermissionContext, service.ExportRequest, error) {
	perm, err := permissionFromContext(c)
	if err != nil {
		return perm, service.ExportRequest{}, err
	}
	body, err := readBody(c)
	if err != nil {
		return perm, service.ExportRequest{}, err
	}
	var req dto.ExportRequest
	if err := filter.DecodeStrict(body, &req); err != nil {
		return perm, service.ExportRequest{}, err
	}
	req.Normalize()
	if err := req.Validate(requireFormat); err != nil {
		return perm, service.ExportRequest{}, err
	}
	return perm, service.ExportRequest{
		Entity:  req.Entity,
		Format:  service.ParseFormat(req.Format),
		Scope:   models.ExportScope(req.Scope),
		Columns: req.Columns,
		Filters: req.Filters,
	}, nil
}
