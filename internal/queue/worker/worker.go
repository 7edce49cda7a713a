package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geocoder89/campusportal/internal/domain/job"
	"github.com/geocoder89/campusportal/internal/notifications"
	"github.com/geocoder89/campusportal/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

type Config struct {
	PollInterval  time.Duration
	WorkerID      string
	Concurrency   int
	ShutdownGrace time.Duration
	LockTTL       time.Duration
}

// Worker drains the jobs table. Each loop claims one job at a time; a
// separate loop puts jobs back whose lock outlived LockTTL.
type Worker struct {
	cfg      Config
	repo     JobsRepository
	notifier notifications.Notifier
	metrics  *observability.JobMetrics
	prom     *observability.Prom
	log      *slog.Logger
	now      func() time.Time

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, notifier notifications.Notifier, metrics *observability.JobMetrics, prom *observability.Prom, log *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if cfg.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if metrics == nil {
		metrics = observability.NewJobMetrics()
	}
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg:      cfg,
		repo:     repo,
		notifier: notifier,
		metrics:  metrics,
		prom:     prom,
		log:      log.With("worker_id", cfg.WorkerID),
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled. Jobs already executing get
// ShutdownGrace to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	w.log.Info("worker_started", "concurrency", w.cfg.Concurrency, "poll", w.cfg.PollInterval.String())

	// jobs keep running on their own context so shutdown does not cut a
	// notification mid-flight
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	g := new(errgroup.Group)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx, jobCtx)
			return nil
		})
	}
	g.Go(func() error {
		w.reap(ctx)
		return nil
	})

	<-ctx.Done()
	w.setReady(false)
	w.log.Info("worker_draining", "grace", w.cfg.ShutdownGrace.String())

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.ShutdownGrace):
		w.log.Warn("worker_shutdown_grace_exceeded")
		cancelJobs()
		<-done
	}

	w.log.Info("worker_stopped")
	return nil
}

func (w *Worker) loop(ctx, jobCtx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// drain without waiting while there is work
		for ctx.Err() == nil {
			processed, err := w.ProcessOne(jobCtx)
			if err != nil {
				w.log.Error("job_process_error", "err", err)
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) reap(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.LockTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					w.log.Error("job_requeue_stale_failed", "err", err)
				}
				continue
			}
			if n > 0 {
				w.log.Warn("job_requeued_stale", "count", n)
			}
		}
	}
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

func (w *Worker) Ready() bool {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()
	return w.ready
}
