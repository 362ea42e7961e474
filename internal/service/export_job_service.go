package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/models"
	"github.com/noah-isme/estate-erp-api/internal/repository"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
	"github.com/noah-isme/estate-erp-api/pkg/export"
	"github.com/noah-isme/estate-erp-api/pkg/jobs"
	"github.com/noah-isme/estate-erp-api/pkg/storage"
)

// ExportTaskType names export jobs on every dispatch backend.
const ExportTaskType = "export:run"

const (
	maxErrorLength   = 512
	maxJobListLimit  = 100
	dispatchTimeout  = 2 * time.Second
	interruptedError = "interrupted: the worker stopped before the export finished"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	GetForOwner(ctx context.Context, id, userID string) (*models.ExportJob, error)
	ListByOwner(ctx context.Context, userID, entity string, limit int) ([]models.ExportJob, error)
	ListPending(ctx context.Context, limit int) ([]models.ExportJob, error)
	MarkRunning(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, params repository.CompleteExportJobParams) error
	MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error
	Discard(ctx context.Context, id string) error
	FailInterrupted(ctx context.Context, message string, finishedAt time.Time) (int64, error)
}

type exportRenderer interface {
	Prepare(req ExportRequest, perm filter.PermissionContext) error
	Render(ctx context.Context, req ExportRequest, perm filter.PermissionContext) (*ExportOutput, error)
}

type artifactStore interface {
	Save(key string, data []byte) (string, error)
	Open(key string) (*os.File, error)
}

type exportTaskPayload struct {
	JobID string `json:"job_id"`
}

// ExportJobConfig tunes the orchestrator.
type ExportJobConfig struct {
	StatusCacheSize int
}

// ExportDownload is an opened artifact ready to stream.
type ExportDownload struct {
	File      *os.File
	Filename  string
	MIMEType  string
	ExpiresAt time.Time
}

// ExportJobService manages the export job lifecycle on the request side:
// submission, owner-scoped polling, listing and download.
type ExportJobService struct {
	repo       exportJobStore
	exporter   exportRenderer
	dispatcher jobs.Dispatcher
	storage    artifactStore
	signer     *storage.SignedURLSigner
	audit      auditEmitter
	metrics    *MetricsService
	logger     *zap.Logger
	statuses   *lru.Cache[string, models.ExportJob]
	now        func() time.Time
}

// NewExportJobService constructs the orchestrator.
func NewExportJobService(repo exportJobStore, exporter exportRenderer, dispatcher jobs.Dispatcher, store artifactStore, signer *storage.SignedURLSigner, audit auditEmitter, metrics *MetricsService, cfg ExportJobConfig, logger *zap.Logger) (*ExportJobService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StatusCacheSize <= 0 {
		cfg.StatusCacheSize = 1024
	}
	statuses, err := lru.New[string, models.ExportJob](cfg.StatusCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create job status cache: %w", err)
	}
	return &ExportJobService{
		repo:       repo,
		exporter:   exporter,
		dispatcher: dispatcher,
		storage:    store,
		signer:     signer,
		audit:      audit,
		metrics:    metrics,
		logger:     logger,
		statuses:   statuses,
		now:        time.Now,
	}, nil
}

// Create validates the request, persists a pending job carrying a snapshot of
// perm and hands it to the dispatcher. It returns as soon as dispatch accepts.
func (s *ExportJobService) Create(ctx context.Context, req ExportRequest, perm filter.PermissionContext) (*models.ExportJob, error) {
	if perm.UserID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.exporter.Prepare(req, perm); err != nil {
		return nil, err
	}

	job := &models.ExportJob{
		Entity: strings.ToLower(strings.TrimSpace(req.Entity)),
		Format: models.ExportFormat(req.Format),
		Scope:  req.Scope,
		Params: models.ExportJobParams{
			Columns:    req.Columns,
			Filters:    req.Filters,
			Permission: perm,
		},
		CreatedBy: perm.UserID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	s.metrics.RecordJobStatus(string(models.ExportJobPending))

	if err := s.dispatch(ctx, job.ID); err != nil {
		if discardErr := s.repo.Discard(context.WithoutCancel(ctx), job.ID); discardErr != nil {
			// A pending row left behind is picked up by RecoverPending.
			s.logger.Warn("failed to discard undispatched job", zap.String("job_id", job.ID), zap.Error(discardErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dispatch export job")
	}

	if s.audit != nil {
		s.audit.Emit(ctx, AuditEvent{
			Action:     models.AuditActionExportJob,
			Entity:     job.Entity,
			UserID:     perm.UserID,
			ResourceID: job.ID,
			Format:     string(job.Format),
			Scope:      string(job.Scope),
			Columns:    job.Params.Columns,
		})
	}
	return job, nil
}

func (s *ExportJobService) dispatch(ctx context.Context, jobID string) error {
	if s.dispatcher == nil {
		return errors.New("no job dispatcher configured")
	}
	payload, err := auditJSON.Marshal(exportTaskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	return s.dispatcher.Dispatch(ctx, jobs.Job{ID: jobID, Type: ExportTaskType, Payload: payload})
}

// Status returns the job only when userID created it. Any other caller gets
// not found, whether or not the id exists.
func (s *ExportJobService) Status(ctx context.Context, id, userID string) (*models.ExportJob, error) {
	if cached, ok := s.statuses.Get(id); ok {
		if cached.CreatedBy != userID {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		job := cached
		return &job, nil
	}
	job, err := s.repo.GetForOwner(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		s.statuses.Add(job.ID, *job)
	}
	return job, nil
}

// List returns the caller's jobs, newest first.
func (s *ExportJobService) List(ctx context.Context, userID, entity string, limit int) ([]models.ExportJob, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	if limit > maxJobListLimit {
		limit = maxJobListLimit
	}
	items, err := s.repo.ListByOwner(ctx, userID, strings.ToLower(strings.TrimSpace(entity)), limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list export jobs")
	}
	return items, nil
}

// Download validates a signed token for userID and opens the artifact.
func (s *ExportJobService) Download(ctx context.Context, token, userID string) (*ExportDownload, error) {
	claims, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	if claims.OwnerID != userID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	job, err := s.Status(ctx, claims.JobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ExportJobCompleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "export job has not completed")
	}
	if job.FileRef == nil || *job.FileRef != claims.Path {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token does not match export artifact")
	}
	file, err := s.storage.Open(claims.Path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	if s.audit != nil {
		s.audit.Emit(ctx, AuditEvent{
			Action:     models.AuditActionDownload,
			Entity:     job.Entity,
			UserID:     userID,
			ResourceID: job.ID,
			Format:     string(job.Format),
			Scope:      string(job.Scope),
			RowCount:   job.RowCount,
		})
	}
	return &ExportDownload{
		File:      file,
		Filename:  path.Base(claims.Path),
		MIMEType:  export.MIMEType(export.Format(job.Format)),
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// RecoverPending re-dispatches jobs still pending after a restart.
func (s *ExportJobService) RecoverPending(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPending(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("recover pending export jobs: %w", err)
	}
	recovered := 0
	for _, job := range pending {
		if err := s.dispatch(ctx, job.ID); err != nil {
			s.logger.Warn("failed to requeue pending export job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Info("requeued pending export jobs", zap.Int("count", recovered))
	}
	return recovered, nil
}

// ExportWorker runs export jobs. Every job it claims ends completed or failed.
type ExportWorker struct {
	repo      exportJobStore
	exporter  exportRenderer
	storage   artifactStore
	signer    *storage.SignedURLSigner
	metrics   *MetricsService
	logger    *zap.Logger
	apiPrefix string
	now       func() time.Time
}

// NewExportWorker constructs a worker. apiPrefix roots the download URLs it records.
func NewExportWorker(repo exportJobStore, exporter exportRenderer, store artifactStore, signer *storage.SignedURLSigner, metrics *MetricsService, apiPrefix string, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	apiPrefix = strings.TrimRight(apiPrefix, "/")
	if apiPrefix == "" {
		apiPrefix = "/api/v1"
	}
	return &ExportWorker{
		repo:      repo,
		exporter:  exporter,
		storage:   store,
		signer:    signer,
		metrics:   metrics,
		logger:    logger,
		apiPrefix: apiPrefix,
		now:       time.Now,
	}
}

// Handle is the jobs.Handler entry point. Failures already recorded on the
// job are permanent; a job someone else claimed is skipped.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	id := job.ID
	var payload exportTaskPayload
	if len(job.Payload) > 0 {
		if err := auditJSON.Unmarshal(job.Payload, &payload); err != nil {
			return jobs.Permanent(fmt.Errorf("decode export task: %w", err))
		}
		if payload.JobID != "" {
			id = payload.JobID
		}
	}
	if id == "" {
		return jobs.Permanent(errors.New("export task without job id"))
	}

	err := w.Process(ctx, id)
	switch {
	case err == nil:
		return nil
	case appErrors.Is(err, appErrors.ErrConflict):
		w.logger.Info("export job already claimed", zap.String("job_id", id))
		return nil
	case appErrors.Is(err, appErrors.ErrNotFound):
		return jobs.Permanent(err)
	default:
		return err
	}
}

// Process claims a pending job and runs it to a terminal state. Errors after
// the claim are recorded on the job and returned wrapped as permanent.
func (w *ExportWorker) Process(ctx context.Context, id string) (err error) {
	record, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if record.Status != models.ExportJobPending {
		return appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("export job is %s", record.Status))
	}
	if err := w.repo.MarkRunning(ctx, id, w.now().UTC()); err != nil {
		return err
	}
	w.metrics.RecordJobStatus(string(models.ExportJobRunning))
	w.metrics.JobStarted()
	defer w.metrics.JobFinished()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("export job panicked", zap.String("job_id", id), zap.Any("panic", r))
			err = fmt.Errorf("panic: %v", r)
		}
		if err == nil {
			return
		}
		msg := truncateError(describeJobError(err))
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if markErr := w.repo.MarkFailed(fctx, id, msg, w.now().UTC()); markErr != nil {
			w.logger.Error("failed to record export job failure", zap.String("job_id", id), zap.Error(markErr))
		}
		w.metrics.RecordJobStatus(string(models.ExportJobFailed))
		w.logger.Warn("export job failed", zap.String("job_id", id), zap.String("error", msg))
		err = jobs.Permanent(err)
	}()

	req := ExportRequest{
		Entity:  record.Entity,
		Format:  export.Format(record.Format),
		Scope:   record.Scope,
		Columns: record.Params.Columns,
		Filters: record.Params.Filters,
	}
	out, err := w.exporter.Render(ctx, req, record.Params.Permission)
	if err != nil {
		return err
	}

	key, err := w.storage.Save(storage.ArtifactKey(record.Entity, record.ID, out.Artifact.Filename), out.Artifact.Data)
	if err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	token, _, err := w.signer.Generate(record.ID, record.CreatedBy, key)
	if err != nil {
		return fmt.Errorf("sign download: %w", err)
	}

	if err := w.repo.MarkCompleted(ctx, id, repository.CompleteExportJobParams{
		RowCount:   out.Artifact.RowCount,
		FileRef:    key,
		ResultURL:  fmt.Sprintf("%s/exports/download/%s", w.apiPrefix, token),
		FinishedAt: w.now().UTC(),
	}); err != nil {
		return err
	}
	w.metrics.RecordJobStatus(string(models.ExportJobCompleted))
	w.logger.Info("export job completed", zap.String("job_id", id), zap.Int("rows", out.Rows))
	return nil
}

// FailInterrupted fails jobs a previous worker process left running. Only the
// process that owns the workers should call it.
func (w *ExportWorker) FailInterrupted(ctx context.Context) (int64, error) {
	n, err := w.repo.FailInterrupted(ctx, interruptedError, w.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.logger.Warn("failed interrupted export jobs", zap.Int64("count", n))
	}
	return n, nil
}

// describeJobError prefixes typed errors with their code so owners can tell
// NO_DATA from an infrastructure fault.
func describeJobError(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr.Code + ": " + err.Error()
	}
	return err.Error()
}

func truncateError(msg string) string {
	if len(msg) <= maxErrorLength {
		return msg
	}
	cut := maxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
