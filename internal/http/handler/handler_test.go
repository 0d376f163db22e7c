package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidefall/convoy/internal/application/dispatch"
	"github.com/tidefall/convoy/internal/application/queue"
	"github.com/tidefall/convoy/internal/domain"
)

// stubDispatchRepo implements dispatch.Repository with overridable func
// fields; unset methods panic so tests exercise only what they declare.
type stubDispatchRepo struct {
	claimNextJob         func(ctx context.Context, workerID string, capabilities []string) (*domain.Job, error)
	recordHeartbeat      func(ctx context.Context, hb domain.Heartbeat) error
	verifyJobOwnership   func(ctx context.Context, jobID, workerID string) error
	markJobStarted       func(ctx context.Context, jobID, workerID string) error
	saveCheckpoint       func(ctx context.Context, jobID, workerID string, checkpoint json.RawMessage) error
	completeJob          func(ctx context.Context, jobID, workerID string) error
	failJob              func(ctx context.Context, jobID, workerID, errMsg string) (bool, error)
	cancelJob            func(ctx context.Context, jobID string) error
	appendJobLog         func(ctx context.Context, entry *domain.JobLog) error
	insertIssue          func(ctx context.Context, issue *domain.DataQualityIssue) error
	resolveIssue         func(ctx context.Context, issueID string, res domain.IssueResolution) error
	findJobDetail        func(ctx context.Context, jobID string, staleThreshold time.Duration) (*domain.JobDetail, error)
	listJobs             func(ctx context.Context, params dispatch.ListJobsParams) ([]*domain.Job, error)
	listAvailableWorkers func(ctx context.Context) ([]*domain.Worker, error)
	listIssues           func(ctx context.Context, params dispatch.ListIssuesParams) ([]*domain.DataQualityIssue, error)
}

func (m *stubDispatchRepo) ClaimNextJob(ctx context.Context, workerID string, capabilities []string) (*domain.Job, error) {
	return m.claimNextJob(ctx, workerID, capabilities)
}
func (m *stubDispatchRepo) RecordHeartbeat(ctx context.Context, hb domain.Heartbeat) error {
	return m.recordHeartbeat(ctx, hb)
}
func (m *stubDispatchRepo) VerifyJobOwnership(ctx context.Context, jobID, workerID string) error {
	return m.verifyJobOwnership(ctx, jobID, workerID)
}
func (m *stubDispatchRepo) MarkJobStarted(ctx context.Context, jobID, workerID string) error {
	return m.markJobStarted(ctx, jobID, workerID)
}
func (m *stubDispatchRepo) SaveCheckpoint(ctx context.Context, jobID, workerID string, checkpoint json.RawMessage) error {
	return m.saveCheckpoint(ctx, jobID, workerID, checkpoint)
}
func (m *stubDispatchRepo) CompleteJob(ctx context.Context, jobID, workerID string) error {
	return m.completeJob(ctx, jobID, workerID)
}
func (m *stubDispatchRepo) FailJob(ctx context.Context, jobID, workerID, errMsg string) (bool, error) {
	return m.failJob(ctx, jobID, workerID, errMsg)
}
func (m *stubDispatchRepo) CancelJob(ctx context.Context, jobID string) error {
	return m.cancelJob(ctx, jobID)
}
func (m *stubDispatchRepo) AppendJobLog(ctx context.Context, entry *domain.JobLog) error {
	return m.appendJobLog(ctx, entry)
}
func (m *stubDispatchRepo) InsertIssue(ctx context.Context, issue *domain.DataQualityIssue) error {
	return m.insertIssue(ctx, issue)
}
func (m *stubDispatchRepo) ResolveIssue(ctx context.Context, issueID string, res domain.IssueResolution) error {
	return m.resolveIssue(ctx, issueID, res)
}
func (m *stubDispatchRepo) FindJobDetail(ctx context.Context, jobID string, staleThreshold time.Duration) (*domain.JobDetail, error) {
	return m.findJobDetail(ctx, jobID, staleThreshold)
}
func (m *stubDispatchRepo) ListJobs(ctx context.Context, params dispatch.ListJobsParams) ([]*domain.Job, error) {
	return m.listJobs(ctx, params)
}
func (m *stubDispatchRepo) ListAvailableWorkers(ctx context.Context) ([]*domain.Worker, error) {
	return m.listAvailableWorkers(ctx)
}
func (m *stubDispatchRepo) ListIssues(ctx context.Context, params dispatch.ListIssuesParams) ([]*domain.DataQualityIssue, error) {
	return m.listIssues(ctx, params)
}

// stubQueueRepo is an in-memory queue.Repository.
type stubQueueRepo struct {
	insertErr error
}

func (m *stubQueueRepo) InsertJob(ctx context.Context, msg domain.JobMessage, maxRetries int) error {
	return m.insertErr
}
func (m *stubQueueRepo) InsertDeadLetter(ctx context.Context, dl *domain.DeadLetterSubmission) error {
	return nil
}
func (m *stubQueueRepo) ListDeadLetters(ctx context.Context, limit int) ([]*domain.DeadLetterSubmission, error) {
	return nil, nil
}

func newTestRouter(t *testing.T, repo dispatch.Repository) *chi.Mux {
	t.Helper()

	q := queue.NewQueue(context.Background(), &stubQueueRepo{}, queue.Config{HandoffSize: 8}, nil)
	t.Cleanup(func() { _ = q.Shutdown(context.Background()) })

	d := dispatch.NewService(repo, dispatch.Config{}, nil)
	server := NewServer(q, d)

	r := chi.NewRouter()
	r.Post("/jobs/submit", server.SubmitJob)
	r.Post("/jobs/claim", server.ClaimJob)
	r.Get("/jobs", server.ListJobs)
	r.Route("/jobs/{job_id}", func(r chi.Router) {
		r.Get("/status", server.GetJobStatus)
		r.Post("/heartbeat", server.JobHeartbeat)
		r.Post("/start", server.StartJob)
		r.Post("/checkpoint", server.Checkpoint)
		r.Post("/complete", server.CompleteJob)
		r.Post("/fail", server.FailJob)
		r.Post("/cancel", server.CancelJob)
		r.Post("/logs", server.AppendJobLog)
		r.Post("/issues", server.ReportIssue)
	})
	r.Post("/data-quality/issues/{issue_id}/resolve", server.ResolveIssue)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestSubmitJob(t *testing.T) {
	router := newTestRouter(t, &stubDispatchRepo{})

	rec := doJSON(t, router, http.MethodPost, "/jobs/submit", map[string]any{
		"job_type": "csv_import",
		"config":   map[string]string{"source": "s3://bucket/file.csv"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp["job_id"], 26)
	assert.Equal(t, "queued", resp["status"])
}

func TestSubmitJob_MissingType(t *testing.T) {
	router := newTestRouter(t, &stubDispatchRepo{})

	rec := doJSON(t, router, http.MethodPost, "/jobs/submit", map[string]any{
		"config": map[string]string{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec))
}

func TestSubmitJob_InvalidJSON(t *testing.T) {
	router := newTestRouter(t, &stubDispatchRepo{})

	req := httptest.NewRequest(http.MethodPost, "/jobs/submit", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec))
}

func TestClaimJob(t *testing.T) {
	claimedAt := time.Now().UTC()
	workerID := "worker-1"
	repo := &stubDispatchRepo{
		recordHeartbeat: func(ctx context.Context, hb domain.Heartbeat) error { return nil },
		claimNextJob: func(ctx context.Context, wID string, capabilities []string) (*domain.Job, error) {
			return &domain.Job{
				ID:        "01JF6GVXN8K2P5Q7R9T0V1W2X3",
				Type:      "csv_import",
				Status:    domain.JobClaimed,
				WorkerID:  &workerID,
				Config:    json.RawMessage(`{"source":"s3://bucket/f.csv"}`),
				CreatedAt: claimedAt.Add(-time.Minute),
				ClaimedAt: &claimedAt,
			}, nil
		},
	}
	router := newTestRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/jobs/claim", map[string]any{
		"worker_id":    "worker-1",
		"capabilities": []string{"csv_import"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ClaimedJobDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "01JF6GVXN8K2P5Q7R9T0V1W2X3", resp.JobID)
	assert.Equal(t, "csv_import", resp.JobType)
	assert.Equal(t, "worker-1", resp.Claim.WorkerID)
	assert.Equal(t, "claimed", resp.Claim.Status)
	require.NotNil(t, resp.Claim.ClaimedAt)
}

func TestClaimJob_NoWork(t *testing.T) {
	repo := &stubDispatchRepo{
		recordHeartbeat: func(ctx context.Context, hb domain.Heartbeat) error { return nil },
		claimNextJob: func(ctx context.Context, workerID string, capabilities []string) (*domain.Job, error) {
			return nil, nil
		},
	}
	router := newTestRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/jobs/claim", map[string]any{
		"worker_id":    "worker-1",
		"capabilities": []string{"csv_import"},
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestClaimJob_MissingWorkerID(t *testing.T) {
	router := newTestRouter(t, &stubDispatchRepo{})

	rec := doJSON(t, router, http.MethodPost, "/jobs/claim", map[string]any{
		"capabilities": []string{"csv_import"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec))
}

func TestCompleteJob_NotOwner(t *testing.T) {
	repo := &stubDispatchRepo{
		completeJob: func(ctx context.Context, jobID, workerID string) error {
			return domain.ErrNotOwner
		},
	}
	router := newTestRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/jobs/j1/complete", map[string]any{
		"worker_id": "worker-2",
	})
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "NOT_OWNER", decodeError(t, rec))
}

func TestJobHeartbeat_Cancelled(t *testing.T) {
	repo := &stubDispatchRepo{
		verifyJobOwnership: func(ctx context.Context, jobID, workerID string) error {
			return domain.ErrJobCancelled
		},
	}
	router := newTestRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/jobs/j1/heartbeat", map[string]any{
		"worker_id": "worker-1",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_CANCELLED", decodeError(t, rec))
}

func TestStartJob_WrongState(t *testing.T) {
	repo := &stubDispatchRepo{
		markJobStarted: func(ctx context.Context, jobID, workerID string) error {
			return domain.ErrInvalidTransition
		},
	}
	router := newTestRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/jobs/j1/start", map[string]any{
		"worker_id": "worker-1",
	})
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decodeError(t, rec))
}

func TestFailJob_ReportsRetry(t *testing.T) {
	repo := &stubDispatchRepo{
		failJob: func(ctx context.Context, jobID, workerID, errMsg string) (bool, error) {
			assert.Equal(t, "connection reset", errMsg)
			return true, nil
		},
	}
	router := newTestRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/jobs/j1/fail", map[string]any{
		"worker_id":     "worker-1",
		"error_message": "connection reset",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status    string `json:"status"`
		WillRetry bool   `json:"will_retry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.WillRetry)
	assert.Equal(t, "pending", resp.Status)
}

func TestCancelJob_NotFound(t *testing.T) {
	repo := &stubDispatchRepo{
		cancelJob: func(ctx context.Context, jobID string) error {
			return domain.ErrJobNotFound
		},
	}
	router := newTestRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/jobs/missing/cancel", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec))
}

func TestGetJobStatus_IncludesWorkerLiveness(t *testing.T) {
	workerID := "worker-1"
	hb := time.Now().UTC().Add(-10 * time.Second)
	repo := &stubDispatchRepo{
		findJobDetail: func(ctx context.Context, jobID string, staleThreshold time.Duration) (*domain.JobDetail, error) {
			return &domain.JobDetail{
				Job: domain.Job{
					ID:       jobID,
					Type:     "csv_import",
					Status:   domain.JobRunning,
					WorkerID: &workerID,
				},
				Worker: &domain.WorkerLiveness{
					WorkerID:      workerID,
					Hostname:      "ingest-01",
					Status:        domain.WorkerActive,
					LastHeartbeat: &hb,
				},
			}, nil
		},
	}
	router := newTestRouter(t, repo)

	rec := doJSON(t, router, http.MethodGet, "/jobs/j1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobDetailDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	require.NotNil(t, resp.Worker)
	assert.Equal(t, "ingest-01", resp.Worker.Hostname)
	assert.Equal(t, "active", resp.Worker.Status)
}

func TestListJobs_InvalidStatus(t *testing.T) {
	router := newTestRouter(t, &stubDispatchRepo{})

	rec := doJSON(t, router, http.MethodGet, "/jobs?status=sleeping", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec))
}

func TestListJobs_InvalidLimit(t *testing.T) {
	router := newTestRouter(t, &stubDispatchRepo{})

	rec := doJSON(t, router, http.MethodGet, "/jobs?limit=lots", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec))
}

func TestReportIssue(t *testing.T) {
	var stored *domain.DataQualityIssue
	repo := &stubDispatchRepo{
		insertIssue: func(ctx context.Context, issue *domain.DataQualityIssue) error {
			stored = issue
			return nil
		},
	}
	router := newTestRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/jobs/j1/issues", map[string]any{
		"issue_type": "missing_field",
		"severity":   "error",
		"field_name": "email",
		"message":    "required field absent",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, stored)
	assert.Equal(t, "j1", stored.JobID)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp["issue_id"], 26)
	assert.Equal(t, "pending", resp["resolution_status"])
}

func TestResolveIssue_AlreadyResolved(t *testing.T) {
	repo := &stubDispatchRepo{
		resolveIssue: func(ctx context.Context, issueID string, res domain.IssueResolution) error {
			return domain.ErrIssueAlreadyResolved
		},
	}
	router := newTestRouter(t, repo)

	rec := doJSON(t, router, http.MethodPost, "/data-quality/issues/i1/resolve", map[string]any{
		"resolution_status": "resolved",
		"resolved_by":       "ops",
	})
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decodeError(t, rec))
}
