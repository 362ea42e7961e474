package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/estate-erp-api/internal/filter"
	"github.com/noah-isme/estate-erp-api/internal/models"
	"github.com/noah-isme/estate-erp-api/internal/repository"
	appErrors "github.com/noah-isme/estate-erp-api/pkg/errors"
	"github.com/noah-isme/estate-erp-api/pkg/export"
	"github.com/noah-isme/estate-erp-api/pkg/jobs"
	"github.com/noah-isme/estate-erp-api/pkg/storage"
)

type memoryJobStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.ExportJob
	seq         int
	ownerReads  int
	interrupted string
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: make(map[string]*models.ExportJob)}
}

func (s *memoryJobStore) Create(_ context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.ID = fmt.Sprintf("job-%d", s.seq)
	job.Status = models.ExportJobPending
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *memoryJobStore) GetByID(_ context.Context, id string) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	clone := *job
	return &clone, nil
}

func (s *memoryJobStore) GetForOwner(ctx context.Context, id, userID string) (*models.ExportJob, error) {
	s.mu.Lock()
	s.ownerReads++
	s.mu.Unlock()
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.CreatedBy != userID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	return job, nil
}

func (s *memoryJobStore) ListByOwner(_ context.Context, userID, entity string, limit int) ([]models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExportJob
	for _, job := range s.jobs {
		if job.CreatedBy == userID && (entity == "" || job.Entity == entity) {
			out = append(out, *job)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryJobStore) ListPending(_ context.Context, _ int) ([]models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExportJob
	for _, job := range s.jobs {
		if job.Status == models.ExportJobPending {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (s *memoryJobStore) transition(id string, from models.ExportJobStatus, apply func(*models.ExportJob)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != from {
		return appErrors.Clone(appErrors.ErrConflict, "export job is not "+string(from))
	}
	apply(job)
	return nil
}

func (s *memoryJobStore) MarkRunning(_ context.Context, id string, startedAt time.Time) error {
	return s.transition(id, models.ExportJobPending, func(job *models.ExportJob) {
		job.Status = models.ExportJobRunning
		job.StartedAt = &startedAt
	})
}

func (s *memoryJobStore) MarkCompleted(_ context.Context, id string, params repository.CompleteExportJobParams) error {
	return s.transition(id, models.ExportJobRunning, func(job *models.ExportJob) {
		job.Status = models.ExportJobCompleted
		job.RowCount = params.RowCount
		ref, url := params.FileRef, params.ResultURL
		job.FileRef = &ref
		job.ResultURL = &url
		job.FinishedAt = &params.FinishedAt
	})
}

func (s *memoryJobStore) MarkFailed(_ context.Context, id, message string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.ExportJobRunning {
		return appErrors.Clone(appErrors.ErrConflict, "export job is not running")
	}
	job.Status = models.ExportJobFailed
	job.ErrorMessage = &message
	job.FinishedAt = &finishedAt
	return nil
}

func (s *memoryJobStore) Discard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.ExportJobPending {
		return appErrors.Clone(appErrors.ErrConflict, "export job is no longer pending")
	}
	delete(s.jobs, id)
	return nil
}

func (s *memoryJobStore) FailInterrupted(_ context.Context, message string, finishedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupted = message
	var n int64
	for _, job := range s.jobs {
		if job.Status == models.ExportJobRunning {
			msg := message
			job.Status = models.ExportJobFailed
			job.ErrorMessage = &msg
			job.FinishedAt = &finishedAt
			n++
		}
	}
	return n, nil
}

func (s *memoryJobStore) get(id string) models.ExportJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type stubRenderer struct {
	prepareErr error
	out        *ExportOutput
	err        error
	panicWith  interface{}
	perms      []filter.PermissionContext
}

func (r *stubRenderer) Prepare(ExportRequest, filter.PermissionContext) error { return r.prepareErr }

func (r *stubRenderer) Render(_ context.Context, _ ExportRequest, perm filter.PermissionContext) (*ExportOutput, error) {
	r.perms = append(r.perms, perm)
	if r.panicWith != nil {
		panic(r.panicWith)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.out, nil
}

type stubDispatcher struct {
	mu         sync.Mutex
	err        error
	dispatched []jobs.Job
}

func (d *stubDispatcher) Dispatch(_ context.Context, job jobs.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, job)
	return nil
}

type jobFixture struct {
	repo       *memoryJobStore
	renderer   *stubRenderer
	dispatcher *stubDispatcher
	storage    *storage.LocalStorage
	signer     *storage.SignedURLSigner
	audit      *recordingAudit
	service    *ExportJobService
	worker     *ExportWorker
}

func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	rows := 2
	f := &jobFixture{
		repo: newMemoryJobStore(),
		renderer: &stubRenderer{out: &ExportOutput{
			Artifact: &export.Artifact{Data: []byte("Lead Code\nL-1\nL-2\n"), Filename: "leads_export.csv", MIMEType: "text/csv", RowCount: &rows},
			Rows:     2,
		}},
		dispatcher: &stubDispatcher{},
		storage:    store,
		signer:     storage.NewSignedURLSigner("test-secret", time.Hour),
		audit:      &recordingAudit{},
	}
	f.service, err = NewExportJobService(f.repo, f.renderer, f.dispatcher, f.storage, f.signer, f.audit, nil, ExportJobConfig{StatusCacheSize: 8}, nil)
	require.NoError(t, err)
	f.worker = NewExportWorker(f.repo, f.renderer, f.storage, f.signer, nil, "/api/v1", nil)
	return f
}

func (f *jobFixture) submit(t *testing.T) *models.ExportJob {
	t.Helper()
	job, err := f.service.Create(context.Background(), ExportRequest{
		Entity:  " Leads ",
		Format:  export.FormatCSV,
		Scope:   models.ExportScopeFiltered,
		Columns: []string{"code"},
		Filters: filter.Payload{StatusSets: filter.StatusSets{Status: []string{"open"}}},
	}, agentPerm())
	require.NoError(t, err)
	return job
}

func TestExportJobCreatePersistsSnapshotAndDispatches(t *testing.T) {
	f := newJobFixture(t)
	job := f.submit(t)

	stored := f.repo.get(job.ID)
	assert.Equal(t, models.ExportJobPending, stored.Status)
	assert.Equal(t, "leads", stored.Entity)
	assert.Equal(t, "agent-1", stored.CreatedBy)
	assert.Equal(t, agentPerm(), stored.Params.Permission)
	assert.Equal(t, []string{"open"}, stored.Params.Filters.Status)

	require.Len(t, f.dispatcher.dispatched, 1)
	task := f.dispatcher.dispatched[0]
	assert.Equal(t, ExportTaskType, task.Type)
	assert.Equal(t, job.ID, task.ID)
	assert.JSONEq(t, fmt.Sprintf(`{"job_id":%q}`, job.ID), string(task.Payload))

	event := f.audit.last()
	assert.Equal(t, models.AuditActionExportJob, event.Action)
	assert.Equal(t, job.ID, event.ResourceID)
}

func TestExportJobCreateRejectsInvalidRequestWithoutPersisting(t *testing.T) {
	f := newJobFixture(t)
	f.renderer.prepareErr = appErrors.Clone(appErrors.ErrForbidden, "scope ALL requires elevated permission")

	_, err := f.service.Create(context.Background(), ExportRequest{Entity: "leads", Format: export.FormatCSV, Scope: models.ExportScopeAll}, agentPerm())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Empty(t, f.repo.jobs)
	assert.Empty(t, f.dispatcher.dispatched)

	_, err = f.service.Create(context.Background(), ExportRequest{Entity: "leads"}, filter.PermissionContext{})
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestExportJobCreateDiscardsJobWhenDispatchFails(t *testing.T) {
	f := newJobFixture(t)
	f.dispatcher.err = errors.New("queue is full")

	_, err := f.service.Create(context.Background(), ExportRequest{Entity: "leads", Format: export.FormatCSV, Scope: models.ExportScopeFiltered}, agentPerm())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))

	_, err = f.repo.GetByID(context.Background(), "job-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	// No status other than running may move to failed.
	assert.Error(t, f.repo.MarkFailed(context.Background(), "job-1", "late", time.Now()))
}

func TestExportWorkerCompletesJobAndDownloadStreamsArtifact(t *testing.T) {
	f := newJobFixture(t)
	job := f.submit(t)

	require.NoError(t, f.worker.Handle(context.Background(), f.dispatcher.dispatched[0]))

	stored := f.repo.get(job.ID)
	assert.Equal(t, models.ExportJobCompleted, stored.Status)
	require.NotNil(t, stored.RowCount)
	assert.Equal(t, 2, *stored.RowCount)
	require.NotNil(t, stored.FileRef)
	assert.Equal(t, "leads/"+job.ID+"/leads_export.csv", *stored.FileRef)
	require.NotNil(t, stored.ResultURL)
	assert.True(t, strings.HasPrefix(*stored.ResultURL, "/api/v1/exports/download/"))
	require.Len(t, f.renderer.perms, 1)
	assert.Equal(t, agentPerm(), f.renderer.perms[0])

	token := strings.TrimPrefix(*stored.ResultURL, "/api/v1/exports/download/")
	download, err := f.service.Download(context.Background(), token, "agent-1")
	require.NoError(t, err)
	defer download.File.Close()
	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Equal(t, "Lead Code\nL-1\nL-2\n", string(body))
	assert.Equal(t, "leads_export.csv", download.Filename)
	assert.Equal(t, "text/csv; charset=utf-8", download.MIMEType)
	assert.Equal(t, models.AuditActionDownload, f.audit.last().Action)

	_, err = f.service.Download(context.Background(), token, "someone-else")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	_, err = f.service.Download(context.Background(), token+"x", "agent-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestExportWorkerRecordsFailures(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(*stubRenderer)
		expect string
	}{
		{
			name:   "no data",
			setup:  func(r *stubRenderer) { r.err = appErrors.ErrNoData },
			expect: "NO_DATA: no rows match the export criteria",
		},
		{
			name:   "store failure",
			setup:  func(r *stubRenderer) { r.err = errors.New("connection reset") },
			expect: "connection reset",
		},
		{
			name:   "panic",
			setup:  func(r *stubRenderer) { r.panicWith = "renderer exploded" },
			expect: "panic: renderer exploded",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newJobFixture(t)
			job := f.submit(t)
			tc.setup(f.renderer)

			err := f.worker.Handle(context.Background(), f.dispatcher.dispatched[0])
			require.Error(t, err)
			assert.True(t, errors.Is(err, jobs.ErrPermanent))

			stored := f.repo.get(job.ID)
			assert.Equal(t, models.ExportJobFailed, stored.Status)
			require.NotNil(t, stored.ErrorMessage)
			assert.Equal(t, tc.expect, *stored.ErrorMessage)
			assert.NotNil(t, stored.FinishedAt)
		})
	}
}

func TestExportWorkerSkipsJobsAlreadyClaimed(t *testing.T) {
	f := newJobFixture(t)
	job := f.submit(t)
	require.NoError(t, f.repo.MarkRunning(context.Background(), job.ID, time.Now()))

	require.NoError(t, f.worker.Handle(context.Background(), f.dispatcher.dispatched[0]))
	assert.Empty(t, f.renderer.perms)
	assert.Equal(t, models.ExportJobRunning, f.repo.get(job.ID).Status)

	err := f.worker.Handle(context.Background(), jobs.Job{ID: "missing"})
	assert.True(t, errors.Is(err, jobs.ErrPermanent))
}

func TestExportJobStatusIsOwnerScopedAndMemoisesTerminalJobs(t *testing.T) {
	f := newJobFixture(t)
	job := f.submit(t)

	pending, err := f.service.Status(context.Background(), job.ID, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportJobPending, pending.Status)

	_, err = f.service.Status(context.Background(), job.ID, "intruder")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	require.NoError(t, f.worker.Process(context.Background(), job.ID))
	for i := 0; i < 3; i++ {
		done, err := f.service.Status(context.Background(), job.ID, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExportJobCompleted, done.Status)
	}
	assert.Equal(t, 3, f.repo.ownerReads)

	_, err = f.service.Status(context.Background(), job.ID, "intruder")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestExportJobListCapsLimit(t *testing.T) {
	f := newJobFixture(t)
	f.submit(t)
	f.submit(t)

	items, err := f.service.List(context.Background(), "agent-1", "LEADS", 500)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = f.service.List(context.Background(), "agent-2", "", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestExportJobRecoveryAfterRestart(t *testing.T) {
	f := newJobFixture(t)
	first := f.submit(t)
	second := f.submit(t)
	require.NoError(t, f.repo.MarkRunning(context.Background(), first.ID, time.Now()))
	f.dispatcher.dispatched = nil

	n, err := f.worker.FailInterrupted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, models.ExportJobFailed, f.repo.get(first.ID).Status)
	assert.Equal(t, interruptedError, f.repo.interrupted)

	recovered, err := f.service.RecoverPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	require.Len(t, f.dispatcher.dispatched, 1)
	assert.Equal(t, second.ID, f.dispatcher.dispatched[0].ID)
}

func TestTruncateErrorKeepsRunesWhole(t *testing.T) {
	short := "NO_DATA: nothing"
	assert.Equal(t, short, truncateError(short))

	long := strings.Repeat("a", maxErrorLength-1) + "é" + "tail"
	got := truncateError(long)
	assert.LessOrEqual(t, len(got), maxErrorLength)
	assert.Equal(t, strings.Repeat("a", maxErrorLength-1), got)
}
