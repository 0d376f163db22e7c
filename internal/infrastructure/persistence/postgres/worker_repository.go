package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tidefall/convoy/internal/application/reclaimer"
	"github.com/tidefall/convoy/internal/domain"
)

// === Liveness ===

// RecordHeartbeat upserts the worker row. Empty hostname, address,
// capabilities, or metadata in the heartbeat leave the stored values
// untouched, so a bare liveness ping does not erase registration data.
func (s *Store) RecordHeartbeat(ctx context.Context, hb domain.Heartbeat) error {
	capabilities := hb.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO workers (worker_id, hostname, ip_address, capabilities, status, last_heartbeat, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', now(), $5, now(), now())
		ON CONFLICT (worker_id) DO UPDATE SET
			hostname       = CASE WHEN EXCLUDED.hostname <> '' THEN EXCLUDED.hostname ELSE workers.hostname END,
			ip_address     = CASE WHEN EXCLUDED.ip_address <> '' THEN EXCLUDED.ip_address ELSE workers.ip_address END,
			capabilities   = CASE WHEN cardinality(EXCLUDED.capabilities) > 0 THEN EXCLUDED.capabilities ELSE workers.capabilities END,
			metadata       = COALESCE(EXCLUDED.metadata, workers.metadata),
			status         = 'active',
			last_heartbeat = now(),
			updated_at     = now()`,
		hb.WorkerID, hb.Hostname, hb.IPAddress, capabilities, hb.Metadata)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// ListAvailableWorkers returns workers currently able to take work.
func (s *Store) ListAvailableWorkers(ctx context.Context) ([]*domain.Worker, error) {
	rows, err := s.db.Query(ctx, `
		SELECT worker_id, hostname, ip_address, capabilities, status, last_heartbeat, metadata, created_at, updated_at
		FROM workers
		WHERE status IN ('active', 'idle')
		ORDER BY worker_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	defer rows.Close()

	var workers []*domain.Worker
	for rows.Next() {
		var w domain.Worker
		if err := rows.Scan(&w.ID, &w.Hostname, &w.IPAddress, &w.Capabilities, &w.Status,
			&w.LastHeartbeat, &w.Metadata, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, &w)
	}
	return workers, rows.Err()
}

// === Recovery ===

// RecoverAbandonedJobs marks silent workers offline and hands their jobs
// back, all in one transaction so a crash cannot leave a worker offline
// with its jobs still bound to it.
func (s *Store) RecoverAbandonedJobs(ctx context.Context, staleThreshold time.Duration) (reclaimer.RecoveryStats, error) {
	var stats reclaimer.RecoveryStats

	err := s.executeInTransaction(ctx, "recover_abandoned_jobs", func(tx *Store) error {
		staleCutoff := time.Now().UTC().Add(-staleThreshold)

		// Workers that never heartbeated age out on created_at instead.
		tag, err := tx.db.Exec(ctx, `
			UPDATE workers SET status = 'offline', updated_at = now()
			WHERE status IN ('active', 'idle')
			  AND COALESCE(last_heartbeat, created_at) < $1`,
			staleCutoff)
		if err != nil {
			return fmt.Errorf("failed to mark stale workers offline: %w", err)
		}
		stats.WorkersMarkedOffline = int(tag.RowsAffected())

		// Abandon every live job held by any offline worker, not only the
		// ones flipped above; a pass that crashed between the two steps
		// heals on the next run.
		rows, err := tx.db.Query(ctx, `
			UPDATE jobs SET
				status        = CASE WHEN retry_count < max_retries THEN 'pending' ELSE 'failed' END,
				retry_count   = CASE WHEN retry_count < max_retries THEN retry_count + 1 ELSE retry_count END,
				worker_id     = CASE WHEN retry_count < max_retries THEN NULL ELSE worker_id END,
				claimed_at    = CASE WHEN retry_count < max_retries THEN NULL ELSE claimed_at END,
				started_at    = CASE WHEN retry_count < max_retries THEN NULL ELSE started_at END,
				completed_at  = CASE WHEN retry_count < max_retries THEN NULL ELSE now() END,
				error_message = 'worker became unresponsive',
				updated_at    = now()
			WHERE status IN ('claimed', 'running')
			  AND worker_id IN (SELECT worker_id FROM workers WHERE status = 'offline')
			RETURNING status`)
		if err != nil {
			return fmt.Errorf("failed to reclaim abandoned jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var status string
			if err := rows.Scan(&status); err != nil {
				return fmt.Errorf("failed to scan reclaimed job: %w", err)
			}
			if status == string(domain.JobPending) {
				stats.JobsRequeued++
			} else {
				stats.JobsFailed++
			}
		}
		return rows.Err()
	})
	if err != nil {
		return reclaimer.RecoveryStats{}, err
	}
	return stats, nil
}

// === Exclusive execution ===

// TryAcquireExclusiveRun takes the named lease when it is free or expired.
// The conditional upsert only returns a row when this holder won, so lease
// contention shows up as pgx.ErrNoRows rather than an error.
func (s *Store) TryAcquireExclusiveRun(ctx context.Context, runType, holderID string, leaseDuration time.Duration) (release func(), acquired bool, err error) {
	expiresAt := time.Now().UTC().Add(leaseDuration)

	var holder string
	err = s.db.QueryRow(ctx, `
		INSERT INTO coordinator_leases (run_type, holder_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_type) DO UPDATE
		SET holder_id = EXCLUDED.holder_id, expires_at = EXCLUDED.expires_at
		WHERE coordinator_leases.expires_at < now()
		RETURNING holder_id`,
		runType, holderID, expiresAt).Scan(&holder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lease is held by another instance; normal contention.
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if holder != holderID {
		return nil, false, nil
	}

	releaseFunc := func() {
		_, _ = s.db.Exec(context.Background(), `
			DELETE FROM coordinator_leases WHERE run_type = $1 AND holder_id = $2`,
			runType, holderID)
	}
	return releaseFunc, true, nil
}
