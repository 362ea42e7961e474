package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/estate-erp-api/internal/models"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
)

const exportJobColumns = `id, entity, format, scope, params, status, row_count, file_ref, result_url, error_message, created_by, created_at, started_at, finished_at`

// ExportJobRepository persists export job metadata. Status changes are
// conditional updates so a job can only move forward.
type ExportJobRepository struct {
	db *sqlx.DB
}

// NewExportJobRepository constructs the repository.
func NewExportJobRepository(db *sqlx.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

// Create inserts a new job row in the pending state.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = models.ExportJobPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO export_jobs (id, entity, format, scope, params, status, created_by, created_at)
VALUES (:id, :entity, :format, :scope, :params, :status, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *ExportJobRepository) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE id = $1`
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, fmt.Errorf("get export job: %w", err)
	}
	return &job, nil
}

// GetForOwner returns the job only when it belongs to userID.
func (r *ExportJobRepository) GetForOwner(ctx context.Context, id, userID string) (*models.ExportJob, error) {
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE id = $1 AND created_by = $2`
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, fmt.Errorf("get export job: %w", err)
	}
	return &job, nil
}

// ListByOwner returns a user's jobs, newest first, optionally for one entity.
func (r *ExportJobRepository) ListByOwner(ctx context.Context, userID, entity string, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		jobs []models.ExportJob
		err  error
	)
	if entity == "" {
		query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE created_by = $1 ORDER BY created_at DESC LIMIT $2`
		err = r.db.SelectContext(ctx, &jobs, query, userID, limit)
	} else {
		query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE created_by = $1 AND entity = $2 ORDER BY created_at DESC LIMIT $3`
		err = r.db.SelectContext(ctx, &jobs, query, userID, entity, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	return jobs, nil
}

// ListPending fetches pending jobs, oldest first (used for cold start recovery).
func (r *ExportJobRepository) ListPending(ctx context.Context, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list pending export jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning claims a pending job. ErrConflict means it was not pending.
func (r *ExportJobRepository) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	const query = `UPDATE export_jobs SET status = 'running', started_at = $1 WHERE id = $2 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, startedAt, id)
	if err != nil {
		return fmt.Errorf("mark export job running: %w", err)
	}
	return expectOneRow(res, "export job is not pending")
}

// CompleteExportJobParams are recorded when a job succeeds.
type CompleteExportJobParams struct {
	RowCount   *int
	FileRef    string
	ResultURL  string
	FinishedAt time.Time
}

// MarkCompleted finishes a running job.
func (r *ExportJobRepository) MarkCompleted(ctx context.Context, id string, params CompleteExportJobParams) error {
	const query = `UPDATE export_jobs SET status = 'completed', row_count = $1, file_ref = $2, result_url = $3, finished_at = $4 WHERE id = $5 AND status = 'running'`
	res, err := r.db.ExecContext(ctx, query, params.RowCount, params.FileRef, params.ResultURL, params.FinishedAt, id)
	if err != nil {
		return fmt.Errorf("mark export job completed: %w", err)
	}
	return expectOneRow(res, "export job is not running")
}

// MarkFailed finishes a running job with an error.
func (r *ExportJobRepository) MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error {
	const query = `UPDATE export_jobs SET status = 'failed', error_message = $1, finished_at = $2 WHERE id = $3 AND status = 'running'`
	res, err := r.db.ExecContext(ctx, query, message, finishedAt, id)
	if err != nil {
		return fmt.Errorf("mark export job failed: %w", err)
	}
	return expectOneRow(res, "export job is not running")
}

// Discard removes a pending job that never reached a queue.
func (r *ExportJobRepository) Discard(ctx context.Context, id string) error {
	const query = `DELETE FROM export_jobs WHERE id = $1 AND status = 'pending'`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("discard export job: %w", err)
	}
	return expectOneRow(res, "export job is no longer pending")
}

// FailInterrupted fails every job left running by a previous process.
func (r *ExportJobRepository) FailInterrupted(ctx context.Context, message string, finishedAt time.Time) (int64, error) {
	const query = `UPDATE export_jobs SET status = 'failed', error_message = $1, finished_at = $2 WHERE status = 'running'`
	res, err := r.db.ExecContext(ctx, query, message, finishedAt)
	if err != nil {
		return 0, fmt.Errorf("fail interrupted export jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail interrupted export jobs: %w", err)
	}
	return affected, nil
}

func expectOneRow(res sql.Result, conflict string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrConflict, conflict)
	}
	return nil
}
