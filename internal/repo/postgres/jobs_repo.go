package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/campusportal/internal/domain/job"
	"github.com/geocoder89/campusportal/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrJobNotFailed = job.ErrJobNotFailed

type JobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom}
}

const jobColumns = `id, type, payload, status, attempts, max_attempts, run_at, locked_at, locked_by,
	last_error, idempotency_key, user_id, created_at, updated_at`

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	var status string

	err := row.Scan(
		&j.ID, &j.Type, &j.Payload, &status,
		&j.Attempts, &j.MaxAttempts,
		&j.RunAt, &j.LockedAt, &j.LockedBy,
		&j.LastError, &j.IdempotencyKey, &j.UserID,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return job.Job{}, err
	}

	j.Status = job.Status(status)
	return j, nil
}

// Create enqueues a job. A second job with the same idempotency key is
// rejected with job.ErrDuplicateJob.
func (r *JobsRepo) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)

	err := r.prom.ObserveDB("jobs.create", func() error {
		_, err := r.pool.Exec(ctx, `INSERT INTO jobs (`+jobColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			j.ID, j.Type, j.Payload, string(j.Status), j.Attempts, j.MaxAttempts, j.RunAt,
			j.LockedAt, j.LockedBy, j.LastError, j.IdempotencyKey, j.UserID, j.CreatedAt, j.UpdatedAt,
		)
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return job.Job{}, job.ErrDuplicateJob
		}
		return job.Job{}, err
	}
	return j, nil
}

// ClaimNext atomically moves the oldest runnable job to processing using
// SKIP LOCKED so concurrent workers never claim the same row.
func (r *JobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	var j job.Job

	err := r.prom.ObserveDB("jobs.claim_next", func() error {
		var err error
		j, err = scanJob(r.pool.QueryRow(ctx, `
			WITH next AS (
				SELECT id
				FROM jobs
				WHERE status = 'pending'
				  AND run_at <= NOW()
				  AND attempts < max_attempts
				ORDER BY run_at ASC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			UPDATE jobs
			SET status = 'processing',
			    locked_at = NOW(),
			    locked_by = $1,
			    updated_at = NOW()
			WHERE id = (SELECT id FROM next)
			RETURNING `+jobColumns, workerID))
		return err
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}
	return j, nil
}

func (r *JobsRepo) MarkDone(ctx context.Context, id string) error {
	return r.update(ctx, "jobs.mark_done", `
		UPDATE jobs
		SET status = 'done', locked_at = NULL, locked_by = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
}

func (r *JobsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return r.update(ctx, "jobs.mark_failed", `
		UPDATE jobs
		SET status = 'failed', locked_at = NULL, locked_by = NULL, last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, id, errMsg)
}

func (r *JobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	return r.update(ctx, "jobs.reschedule", `
		UPDATE jobs
		SET status = 'pending',
		    attempts = attempts + 1,
		    run_at = $2,
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, id, runAt, errMsg)
}

func (r *JobsRepo) update(ctx context.Context, op, sql string, args ...any) error {
	var tag pgconn.CommandTag

	err := r.prom.ObserveDB(op, func() error {
		var err error
		tag, err = r.pool.Exec(ctx, sql, args...)
		return err
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// RequeueStaleProcessing releases jobs whose lock is older than lockTTL,
// which happens when a worker dies mid-job.
func (r *JobsRepo) RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error) {
	secs := int64(lockTTL.Seconds())
	if secs <= 0 {
		secs = 30
	}

	var rows int64

	err := r.prom.ObserveDB("jobs.requeue_stale", func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'pending', locked_at = NULL, locked_by = NULL, updated_at = NOW()
			WHERE status = 'processing'
			  AND locked_at IS NOT NULL
			  AND locked_at < NOW() - ($1 * INTERVAL '1 second')
		`, secs)
		if err != nil {
			return err
		}
		rows = tag.RowsAffected()
		return nil
	})

	return rows, err
}

// ListByType returns the newest jobs of one type, optionally filtered by status.
func (r *JobsRepo) ListByType(ctx context.Context, jobType string, status *job.Status, limit int) ([]job.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var st *string
	if status != nil {
		s := string(*status)
		st = &s
	}

	var rows pgx.Rows

	err := r.prom.ObserveDB("jobs.list_by_type", func() error {
		var err error
		rows, err = r.pool.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE type = $1 AND ($2::text IS NULL OR status = $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`, jobType, st, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (job.Job, error) {
		return scanJob(row)
	})
}

// Retry puts a failed job back on the queue.
func (r *JobsRepo) Retry(ctx context.Context, id string) error {
	var status string

	err := r.prom.ObserveDB("jobs.retry.check_status", func() error {
		return r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.ErrJobNotFound
		}
		return err
	}

	if job.Status(status) != job.StatusFailed {
		return ErrJobNotFailed
	}

	return r.update(ctx, "jobs.retry.requeue", `
		UPDATE jobs
		SET status = 'pending', run_at = NOW(), locked_at = NULL, locked_by = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
}
