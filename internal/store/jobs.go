package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/ssbprep/internal/jobs"
	"github.com/pavelanni/ssbprep/internal/model"
)

const jobColumns = `id, key, kind, payload, requires_network, status, attempts, last_error, run_after, created_at, updated_at`

// InsertJob adds a job, honouring policy when an active job with the same key
// exists. It returns the job now queued under the key and whether the new job
// was stored.
func (s *Store) InsertJob(ctx context.Context, job jobs.Job, policy jobs.Policy) (jobs.Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return jobs.Job{}, false, err
	}
	defer tx.Rollback()

	existing, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE key = ? AND status IN ('pending', 'running')`, job.Key))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Key, job.Kind, job.Payload, job.Constraints.RequiresNetwork, job.Status,
			job.Attempts, job.LastError, job.RunAfter.UnixMilli(), job.CreatedAt, job.UpdatedAt,
		)
		if err != nil {
			return jobs.Job{}, false, fmt.Errorf("insert job: %w", err)
		}
		return job, true, tx.Commit()
	case err != nil:
		return jobs.Job{}, false, fmt.Errorf("find active job: %w", err)
	}

	if policy == jobs.KeepExisting || existing.Status == jobs.StatusRunning {
		return *existing, false, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET kind = ?, payload = ?, requires_network = ?, attempts = 0, last_error = '',
			run_after = ?, updated_at = ? WHERE id = ?`,
		job.Kind, job.Payload, job.Constraints.RequiresNetwork, job.RunAfter.UnixMilli(), job.UpdatedAt, existing.ID,
	)
	if err != nil {
		return jobs.Job{}, false, fmt.Errorf("replace job: %w", err)
	}
	replaced := job
	replaced.ID = existing.ID
	replaced.CreatedAt = existing.CreatedAt
	return replaced, true, tx.Commit()
}

// ClaimNextJob atomically moves the oldest due pending job to running and
// bumps its attempt count. Network-bound jobs are skipped when offline.
// It returns nil when nothing is runnable.
func (s *Store) ClaimNextJob(ctx context.Context, now time.Time, online bool) (*jobs.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = 'running', attempts = attempts + 1, updated_at = ?
		 WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_after <= ? AND (requires_network = 0 OR ?)
			ORDER BY run_after, created_at LIMIT 1
		 )
		 RETURNING `+jobColumns,
		now, now.UnixMilli(), online,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// CompleteJob marks a job succeeded.
func (s *Store) CompleteJob(ctx context.Context, id string, now time.Time) error {
	return s.setJobState(ctx, id, jobs.StatusSucceeded, "", nil, now)
}

// RetryJob puts a job back in the queue to run no earlier than runAfter.
func (s *Store) RetryJob(ctx context.Context, id string, runAfter time.Time, errMsg string) error {
	return s.setJobState(ctx, id, jobs.StatusPending, errMsg, &runAfter, s.now())
}

// FailJob marks a job failed for good.
func (s *Store) FailJob(ctx context.Context, id string, errMsg string) error {
	return s.setJobState(ctx, id, jobs.StatusFailed, errMsg, nil, s.now())
}

func (s *Store) setJobState(ctx context.Context, id string, status jobs.Status, errMsg string, runAfter *time.Time, now time.Time) error {
	query := `UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`
	args := []any{status, errMsg, now, id}
	if runAfter != nil {
		query = `UPDATE jobs SET status = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`
		args = []any{status, errMsg, runAfter.UnixMilli(), now, id}
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set job %s %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ResetRunningJobs returns jobs interrupted by a crash to the pending state.
func (s *Store) ResetRunningJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', updated_at = ? WHERE status = 'running'`, s.now())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListJobs returns all jobs recorded under key, oldest first.
func (s *Store) ListJobs(ctx context.Context, key string) ([]jobs.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE key = ? ORDER BY created_at, id`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

func scanJob(sc scanner) (*jobs.Job, error) {
	var j jobs.Job
	var runAfter int64
	err := sc.Scan(&j.ID, &j.Key, &j.Kind, &j.Payload, &j.Constraints.RequiresNetwork, &j.Status,
		&j.Attempts, &j.LastError, &runAfter, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.RunAfter = time.UnixMilli(runAfter).UTC()
	return &j, nil
}
