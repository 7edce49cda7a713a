package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/campusportal/internal/domain/job"
	"github.com/geocoder89/campusportal/internal/jobs"
	"github.com/geocoder89/campusportal/internal/notifications"
)

const executeTimeout = 30 * time.Second

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent job failure")

// ProcessOne claims and runs a single job. It reports false when nothing
// was ready to claim.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	w.metrics.IncClaimed()
	w.prom.AddJobsInFlight(1)
	defer w.prom.AddJobsInFlight(-1)

	start := w.now()
	err = w.execute(ctx, j)
	elapsed := w.now().Sub(start)
	w.metrics.ObserveDuration(elapsed)

	if err != nil {
		result := w.handleFailure(ctx, j, err)
		w.prom.ObserveJob(j.Type, result, elapsed)
		return true, nil
	}

	if err := w.repo.MarkDone(ctx, j.ID); err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		w.prom.ObserveJob(j.Type, "failed", elapsed)
		return true, err
	}

	w.metrics.IncDone()
	w.prom.ObserveJob(j.Type, "done", elapsed)
	w.log.Info("job_done", "job_id", j.ID, "job_type", j.Type, "attempt", j.Attempts+1, "duration_ms", elapsed.Milliseconds())

	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	payload, err := jobs.DecodePayload(j)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	if err := jobs.ValidatePayload(jobs.JobType(j.Type), payload); err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	ctx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	switch p := payload.(type) {
	case jobs.ProfileMissingAlertPayload:
		return w.notifier.SendProfileMissingAlert(ctx, notifications.ProfileMissingAlert{
			UserID:     p.UserID,
			Email:      p.Email,
			Role:       p.Role,
			DetectedAt: p.DetectedAt,
		})
	default:
		return fmt.Errorf("%w: no handler for %s", errPermanent, j.Type)
	}
}

// handleFailure reschedules with backoff until MaxAttempts, then parks the
// job as failed. It returns the metrics result label.
func (w *Worker) handleFailure(ctx context.Context, j job.Job, cause error) string {
	w.metrics.IncFailed()
	msg := cause.Error()

	if !errors.Is(cause, errPermanent) && j.Attempts+1 < j.MaxAttempts {
		delay := ExponentialBackoff(j.Attempts)
		if err := w.repo.Reschedule(ctx, j.ID, w.now().UTC().Add(delay), msg); err != nil {
			w.log.Error("job_reschedule_failed", "job_id", j.ID, "err", err)
		}
		w.metrics.IncRetried()
		w.log.Warn("job_retry_scheduled",
			"job_id", j.ID,
			"job_type", j.Type,
			"attempt", j.Attempts+1,
			"max_attempts", j.MaxAttempts,
			"delay_ms", delay.Milliseconds(),
			"err", cause,
		)
		return "retry"
	}

	if err := w.repo.MarkFailed(ctx, j.ID, msg); err != nil {
		w.log.Error("job_mark_failed_failed", "job_id", j.ID, "err", err)
	}
	w.metrics.IncDeadLettered()
	w.log.Error("job_dead_lettered",
		"job_id", j.ID,
		"job_type", j.Type,
		"attempt", j.Attempts+1,
		"err", cause,
	)
	return "failed"
}
