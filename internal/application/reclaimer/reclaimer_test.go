package reclaimer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCoordinator struct {
	acquired bool
	err      error
	attempts atomic.Int32
	released atomic.Int32
}

func (m *mockCoordinator) TryAcquireExclusiveRun(ctx context.Context, runType, instanceID string, leaseDuration time.Duration) (func(), bool, error) {
	m.attempts.Add(1)
	if m.err != nil {
		return nil, false, m.err
	}
	if !m.acquired {
		return nil, false, nil
	}
	return func() { m.released.Add(1) }, true, nil
}

type mockRepo struct {
	stats  RecoveryStats
	err    error
	passes atomic.Int32
}

func (m *mockRepo) RecoverAbandonedJobs(ctx context.Context, staleThreshold time.Duration) (RecoveryStats, error) {
	m.passes.Add(1)
	return m.stats, m.err
}

func TestReclaimOnce_RunsUnderLease(t *testing.T) {
	coord := &mockCoordinator{acquired: true}
	repo := &mockRepo{stats: RecoveryStats{WorkersMarkedOffline: 1, JobsRequeued: 2, JobsFailed: 1}}
	w := NewWorker(coord, repo, DefaultConfig("coordinator-1"), nil)

	require.NoError(t, w.reclaimOnce(context.Background()))
	assert.Equal(t, int32(1), repo.passes.Load())
	assert.Equal(t, int32(1), coord.released.Load())
}

func TestReclaimOnce_SkipsWithoutLease(t *testing.T) {
	coord := &mockCoordinator{acquired: false}
	repo := &mockRepo{}
	w := NewWorker(coord, repo, DefaultConfig("coordinator-2"), nil)

	require.NoError(t, w.reclaimOnce(context.Background()))
	assert.Equal(t, int32(0), repo.passes.Load(), "pass must not run when another instance holds the lease")
}

func TestReclaimOnce_LeaseErrorPropagates(t *testing.T) {
	coord := &mockCoordinator{err: errors.New("connection refused")}
	w := NewWorker(coord, &mockRepo{}, DefaultConfig("coordinator-1"), nil)

	err := w.reclaimOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to acquire lease")
}

func TestReclaimOnce_RecoveryErrorPropagates(t *testing.T) {
	coord := &mockCoordinator{acquired: true}
	repo := &mockRepo{err: errors.New("deadlock detected")}
	w := NewWorker(coord, repo, DefaultConfig("coordinator-1"), nil)

	err := w.reclaimOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to recover abandoned jobs")
	assert.Equal(t, int32(1), coord.released.Load(), "lease must be released on failure")
}

func TestReclaimOnce_CancelledContextIsNotAFailure(t *testing.T) {
	coord := &mockCoordinator{acquired: true}
	repo := &mockRepo{err: context.Canceled}
	w := NewWorker(coord, repo, DefaultConfig("coordinator-1"), nil)

	assert.NoError(t, w.reclaimOnce(context.Background()))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	coord := &mockCoordinator{acquired: true}
	repo := &mockRepo{}
	cfg := Config{
		InstanceID:       "coordinator-1",
		Interval:         10 * time.Millisecond,
		MaxStartupJitter: 0,
		StaleThreshold:   time.Minute,
		LeaseDuration:    time.Minute,
	}
	w := NewWorker(coord, repo, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for repo.passes.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.GreaterOrEqual(t, repo.passes.Load(), int32(2), "loop should run an initial pass plus ticks")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
