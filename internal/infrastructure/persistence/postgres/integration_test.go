package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidefall/convoy/internal/domain"
	"github.com/tidefall/convoy/internal/jobid"
)

// setupTestStore connects to a real database and applies migrations.
// Tests using it are skipped unless CONVOY_TEST_DB_DSN is set.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("CONVOY_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("set CONVOY_TEST_DB_DSN to run database integration tests")
	}

	store, err := NewStoreWithConfig(context.Background(), DBConfig{
		DSN:           dsn,
		RunMigrations: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = store.pool.Exec(context.Background(),
			"TRUNCATE TABLE job_logs, data_quality_issues, jobs, workers, dead_letter_submissions, coordinator_leases CASCADE")
		store.Close()
	})
	return store
}

func submitJob(t *testing.T, store *Store, jobType string, maxRetries int) string {
	t.Helper()
	msg := domain.JobMessage{
		ID:        jobid.New(),
		Type:      jobType,
		Config:    []byte(`{"source":"s3://bucket/file.csv"}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.InsertJob(context.Background(), msg, maxRetries))
	return msg.ID
}

func heartbeatWorker(t *testing.T, store *Store, workerID string, capabilities ...string) {
	t.Helper()
	require.NoError(t, store.RecordHeartbeat(context.Background(), domain.Heartbeat{
		WorkerID:     workerID,
		Capabilities: capabilities,
	}))
}

// silenceWorker backdates the worker's heartbeat past any stale threshold
// the tests use.
func silenceWorker(t *testing.T, store *Store, workerID string) {
	t.Helper()
	_, err := store.pool.Exec(context.Background(),
		"UPDATE workers SET last_heartbeat = now() - interval '1 hour' WHERE worker_id = $1", workerID)
	require.NoError(t, err)
}

func TestClaimNextJob_SingleWinnerUnderContention(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	heartbeatWorker(t, store, "w1", "csv_import")
	heartbeatWorker(t, store, "w2", "csv_import")

	// Several rounds so a lost race cannot hide behind scheduling luck.
	for round := 0; round < 10; round++ {
		jobID := submitJob(t, store, "csv_import", 3)

		claimers := []string{"w1", "w2"}
		results := make([]*domain.Job, len(claimers))
		errs := make([]error, len(claimers))

		var wg sync.WaitGroup
		for i, workerID := range claimers {
			wg.Add(1)
			go func(i int, workerID string) {
				defer wg.Done()
				results[i], errs[i] = store.ClaimNextJob(ctx, workerID, []string{"csv_import"})
			}(i, workerID)
		}
		wg.Wait()

		winners := 0
		for i := range claimers {
			require.NoError(t, errs[i])
			if results[i] != nil {
				winners++
				assert.Equal(t, jobID, results[i].ID)
				assert.Equal(t, domain.JobClaimed, results[i].Status)
			}
		}
		require.Equal(t, 1, winners, "round %d: exactly one claimer must win", round)
	}
}

func TestClaimNextJob_FiltersByCapability(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	jobID := submitJob(t, store, "csv_import", 3)

	heartbeatWorker(t, store, "w-other", "api_fetch")
	job, err := store.ClaimNextJob(ctx, "w-other", []string{"api_fetch"})
	require.NoError(t, err)
	assert.Nil(t, job, "worker without the job's type must get no work")

	heartbeatWorker(t, store, "w-both", "csv_import", "api_fetch")
	job, err = store.ClaimNextJob(ctx, "w-both", []string{"csv_import", "api_fetch"})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
}

func TestRecoverAbandonedJobs_RequeuesWithinBudget(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	heartbeatWorker(t, store, "w1", "csv_import")
	jobID := submitJob(t, store, "csv_import", 1)

	job, err := store.ClaimNextJob(ctx, "w1", []string{"csv_import"})
	require.NoError(t, err)
	require.NotNil(t, job)

	silenceWorker(t, store, "w1")

	stats, err := store.RecoverAbandonedJobs(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.WorkersMarkedOffline)
	assert.Equal(t, 1, stats.JobsRequeued)
	assert.Equal(t, 0, stats.JobsFailed)

	detail, err := store.FindJobDetail(ctx, jobID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, detail.Status)
	assert.Equal(t, 1, detail.RetryCount)
	assert.Nil(t, detail.WorkerID)

	workers, err := store.ListAvailableWorkers(ctx)
	require.NoError(t, err)
	assert.Empty(t, workers, "silenced worker must no longer be available")

	// A healthy worker picks the requeued job back up and finishes it.
	heartbeatWorker(t, store, "w2", "csv_import")
	reclaimed, err := store.ClaimNextJob(ctx, "w2", []string{"csv_import"})
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, jobID, reclaimed.ID)

	require.NoError(t, store.MarkJobStarted(ctx, jobID, "w2"))
	require.NoError(t, store.CompleteJob(ctx, jobID, "w2"))

	detail, err = store.FindJobDetail(ctx, jobID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, detail.Status)
}

func TestRecoverAbandonedJobs_FailsExhaustedBudget(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	heartbeatWorker(t, store, "w1", "csv_import")
	jobID := submitJob(t, store, "csv_import", 0)

	job, err := store.ClaimNextJob(ctx, "w1", []string{"csv_import"})
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, store.MarkJobStarted(ctx, jobID, "w1"))

	silenceWorker(t, store, "w1")

	stats, err := store.RecoverAbandonedJobs(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.JobsRequeued)
	assert.Equal(t, 1, stats.JobsFailed)

	detail, err := store.FindJobDetail(ctx, jobID, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, detail.Status)
	require.NotNil(t, detail.ErrorMessage)
	assert.Contains(t, *detail.ErrorMessage, "unresponsive")
	assert.NotNil(t, detail.CompletedAt)
	assert.NotNil(t, detail.WorkerID, "terminal jobs keep the last owner for audit")

	// The dead worker's late completion report is rejected.
	err = store.CompleteJob(ctx, jobID, "w1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
