package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/models"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
)

var exportJobRowColumns = []string{"id", "entity", "format", "scope", "params", "status", "row_count", "file_ref", "result_url", "error_message", "created_by", "created_at", "started_at", "finished_at"}

const exportJobParamsJSON = `{"columns":["code"],"filters":{"status":["open"]},"permission":{"user_id":"user-1"}}`

func TestExportJobRepositoryCreateAndGetForOwner(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO export_jobs")).
		WithArgs(sqlmock.AnyArg(), "leads", "csv", "FILTERED", sqlmock.AnyArg(), "pending", "user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ExportJob{
		Entity: "leads",
		Format: models.ExportFormatCSV,
		Scope:  models.ExportScopeFiltered,
		Params: models.ExportJobParams{
			Columns:    []string{"code"},
			Filters:    filter.Payload{StatusSets: filter.StatusSets{Status: []string{"open"}}},
			Permission: filter.PermissionContext{UserID: "user-1"},
		},
		Status:    models.ExportJobCompleted,
		CreatedBy: "user-1",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.ExportJobPending, job.Status)

	rows := sqlmock.NewRows(exportJobRowColumns).
		AddRow(job.ID, "leads", "csv", "FILTERED", exportJobParamsJSON, "pending", nil, nil, nil, nil, "user-1", time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM export_jobs WHERE id = $1 AND created_by = $2")).
		WithArgs(job.ID, "user-1").
		WillReturnRows(rows)

	fetched, err := repo.GetForOwner(context.Background(), job.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"open"}, fetched.Params.Filters.Status)
	assert.Equal(t, "user-1", fetched.Params.Permission.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryGetForOwnerHidesOtherUsersJobs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM export_jobs WHERE id = $1 AND created_by = $2")).
		WithArgs("job-1", "intruder").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetForOwner(context.Background(), "job-1", "intruder")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryTransitions(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)
	now := time.Now()
	rowCount := 12

	mock.ExpectExec(regexp.QuoteMeta("UPDATE export_jobs SET status = 'running', started_at = $1 WHERE id = $2 AND status = 'pending'")).
		WithArgs(now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE export_jobs SET status = 'completed', row_count = $1, file_ref = $2, result_url = $3, finished_at = $4 WHERE id = $5 AND status = 'running'")).
		WithArgs(&rowCount, "exports/job-1.csv", "/api/v1/exports/download/tok", now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE export_jobs SET status = 'failed'")).
		WithArgs("boom", now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkRunning(context.Background(), "job-1", now))
	require.NoError(t, repo.MarkCompleted(context.Background(), "job-1", CompleteExportJobParams{
		RowCount:   &rowCount,
		FileRef:    "exports/job-1.csv",
		ResultURL:  "/api/v1/exports/download/tok",
		FinishedAt: now,
	}))

	err := repo.MarkFailed(context.Background(), "job-1", "boom", now)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryFailsOnlyRunningAndDiscardsOnlyPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE export_jobs SET status = 'failed', error_message = $1, finished_at = $2 WHERE id = $3 AND status = 'running'")).
		WithArgs("dispatch failed", now, "job-3").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM export_jobs WHERE id = $1 AND status = 'pending'")).
		WithArgs("job-3").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM export_jobs WHERE id = $1 AND status = 'pending'")).
		WithArgs("job-4").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkFailed(context.Background(), "job-3", "dispatch failed", now)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.NoError(t, repo.Discard(context.Background(), "job-3"))
	err = repo.Discard(context.Background(), "job-4")
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryMarkRunningConflict(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE export_jobs SET status = 'running'")).
		WithArgs(sqlmock.AnyArg(), "job-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRunning(context.Background(), "job-2", time.Now())
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestExportJobRepositoryListByOwner(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	rows := sqlmock.NewRows(exportJobRowColumns).
		AddRow("job-1", "deals", "xlsx", "VIEW", exportJobParamsJSON, "completed", 5, "f", "u", nil, "user-1", time.Now(), time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("WHERE created_by = $1 AND entity = $2 ORDER BY created_at DESC LIMIT $3")).
		WithArgs("user-1", "deals", 20).
		WillReturnRows(rows)

	jobs, err := repo.ListByOwner(context.Background(), "user-1", "deals", 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].RowCount)
	assert.Equal(t, 5, *jobs[0].RowCount)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE created_by = $1 ORDER BY created_at DESC LIMIT $2")).
		WithArgs("user-1", 5).
		WillReturnRows(sqlmock.NewRows(exportJobRowColumns))
	jobs, err = repo.ListByOwner(context.Background(), "user-1", "", 5)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryRecovery(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1")).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(exportJobRowColumns).
			AddRow("job-3", "units", "pdf", "ALL", exportJobParamsJSON, "pending", nil, nil, nil, nil, "user-2", time.Now(), nil, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE export_jobs SET status = 'failed', error_message = $1, finished_at = $2 WHERE status = 'running'")).
		WithArgs("interrupted", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	pending, err := repo.ListPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	n, err := repo.FailInterrupted(context.Background(), "interrupted", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	user := "user-1"
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_logs")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	log := &models.AuditLog{UserID: &user, Action: models.AuditActionExport, Resource: "leads", NewValues: []byte(`{}`)}
	require.NoError(t, repo.CreateAuditLog(context.Background(), log))
	assert.NotEmpty(t, log.ID)
	assert.False(t, log.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}
