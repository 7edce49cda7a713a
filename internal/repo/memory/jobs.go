package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/campusportal/internal/domain/job"
)

type JobsRepo struct {
	mu    sync.Mutex
	items map[string]job.Job
}

func NewJobsRepo() *JobsRepo {
	return &JobsRepo{
		items: make(map[string]job.Job),
	}
}

func (r *JobsRepo) Create(_ context.Context, req job.CreateRequest) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.IdempotencyKey != nil {
		for _, j := range r.items {
			if j.IdempotencyKey != nil && *j.IdempotencyKey == *req.IdempotencyKey {
				return job.Job{}, job.ErrDuplicateJob
			}
		}
	}

	j := job.New(req)
	r.items[j.ID] = j
	return j, nil
}

func (r *JobsRepo) ClaimNext(_ context.Context, workerID string) (job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	var next *job.Job
	for _, j := range r.items {
		if j.Status != job.StatusPending || j.RunAt.After(now) || j.Attempts >= j.MaxAttempts {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) {
			c := j
			next = &c
		}
	}
	if next == nil {
		return job.Job{}, job.ErrJobNotFound
	}

	next.Status = job.StatusProcessing
	next.LockedAt = &now
	next.LockedBy = &workerID
	next.UpdatedAt = now
	r.items[next.ID] = *next

	return *next, nil
}

func (r *JobsRepo) MarkDone(_ context.Context, id string) error {
	return r.mutate(id, func(j *job.Job) {
		j.Status = job.StatusDone
		j.LastError = nil
	})
}

func (r *JobsRepo) MarkFailed(_ context.Context, id string, errMsg string) error {
	return r.mutate(id, func(j *job.Job) {
		j.Status = job.StatusFailed
		j.LastError = &errMsg
	})
}

func (r *JobsRepo) Reschedule(_ context.Context, id string, runAt time.Time, errMsg string) error {
	return r.mutate(id, func(j *job.Job) {
		j.Status = job.StatusPending
		j.Attempts++
		j.RunAt = runAt
		j.LastError = &errMsg
	})
}

func (r *JobsRepo) RequeueStaleProcessing(_ context.Context, lockTTL time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().UTC().Add(-lockTTL)
	var n int64
	for id, j := range r.items {
		if j.Status == job.StatusProcessing && j.LockedAt != nil && j.LockedAt.Before(cutoff) {
			j.Status = job.StatusPending
			j.LockedAt = nil
			j.LockedBy = nil
			r.items[id] = j
			n++
		}
	}
	return n, nil
}

func (r *JobsRepo) ListByType(_ context.Context, jobType string, status *job.Status, limit int) ([]job.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]job.Job, 0)
	for _, j := range r.items {
		if j.Type != jobType {
			continue
		}
		if status != nil && j.Status != *status {
			continue
		}
		out = append(out, j)
	}

	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobsRepo) Retry(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.items[id]
	if !ok {
		return job.ErrJobNotFound
	}
	if j.Status != job.StatusFailed {
		return job.ErrJobNotFailed
	}

	now := time.Now().UTC()
	j.Status = job.StatusPending
	j.RunAt = now
	j.LastError = nil
	j.UpdatedAt = now
	r.items[id] = j
	return nil
}

func (r *JobsRepo) mutate(id string, fn func(*job.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.items[id]
	if !ok {
		return job.ErrJobNotFound
	}

	fn(&j)
	j.LockedAt = nil
	j.LockedBy = nil
	j.UpdatedAt = time.Now().UTC()
	r.items[id] = j

	return nil
}
