package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/target/inkwell/internal/core"
	"github.com/target/inkwell/internal/data/pgxutil"
	"github.com/target/inkwell/internal/domain/model"
)

// Advisory lock namespace for reaper operations, using the two-arg
// pg_try_advisory_xact_lock(major, minor) form.
const (
	advisoryLockReaperMajor   = 2100
	advisoryLockReaperRecover = 1
)

// RecoverStaleJobs returns processing jobs whose claim is older than
// StaleAfter to the queue, or fails them once MaxAttempts is reached.
// Processes up to BatchSize jobs per call. Concurrent reapers skip the batch
// instead of waiting on the advisory lock.
func (r *JobRepo) RecoverStaleJobs(
	ctx context.Context,
	params core.RecoverStaleJobsParams,
) (core.RecoverStaleJobsResult, error) {
	var result core.RecoverStaleJobsResult
	if params.StaleAfter <= 0 {
		return result, errors.New("stale after must be greater than zero")
	}
	if params.MaxAttempts <= 0 {
		return result, errors.New("max attempts must be greater than zero")
	}
	if params.BatchSize <= 0 {
		return result, errors.New("batch size must be greater than zero")
	}

	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, advisoryLockReaperRecover).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			now := r.timeProvider.Now().UTC()
			cutoff := now.Add(-params.StaleAfter)

			rows, err := tx.QueryContext(ctx, `
				WITH stale AS (
					SELECT id FROM jobs
					WHERE status = 'processing'
					  AND claimed_at < $2
					ORDER BY claimed_at
					LIMIT $4
					FOR UPDATE SKIP LOCKED
				)
				UPDATE jobs j
				SET status = CASE WHEN j.attempts < $3 THEN 'queued' ELSE 'failed' END,
				    claimed_at = CASE WHEN j.attempts < $3 THEN NULL ELSE j.claimed_at END,
				    error = CASE WHEN j.attempts < $3 THEN j.error ELSE $5 END,
				    completed_at = CASE WHEN j.attempts < $3 THEN NULL ELSE $1::timestamptz END,
				    updated_at = $1
				FROM stale
				WHERE j.id = stale.id
				RETURNING j.status
			`, now, cutoff, params.MaxAttempts, params.BatchSize, model.LeaseExpiredError)
			if err != nil {
				return fmt.Errorf("recover stale jobs: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				var status model.JobStatus
				if scanErr := rows.Scan(&status); scanErr != nil {
					return fmt.Errorf("scan recovered job: %w", scanErr)
				}
				if status == model.JobStatusQueued {
					result.Requeued++
				} else {
					result.Failed++
				}
			}
			return rows.Err()
		},
	})
	if err != nil {
		return core.RecoverStaleJobsResult{}, err
	}
	return result, nil
}
