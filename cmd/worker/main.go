package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geocoder89/campusportal/internal/config"
	"github.com/geocoder89/campusportal/internal/db"
	"github.com/geocoder89/campusportal/internal/notifications"
	"github.com/geocoder89/campusportal/internal/observability"
	"github.com/geocoder89/campusportal/internal/queue/worker"
	"github.com/geocoder89/campusportal/internal/repo/postgres"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env).With("service", "worker")
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	prom := observability.NewProm(prometheus.DefaultRegisterer)

	sender := notifications.NewLogNotifier(log)
	sender.Delay = time.Duration(cfg.NotifierDelayMS) * time.Millisecond
	sender.Fail = cfg.NotifierFail

	notifier := notifications.NewProtectedNotifier(sender, notifications.ProtectedNotifierConfig{})

	w := worker.New(worker.Config{
		PollInterval:  time.Duration(cfg.WorkerPollMS) * time.Millisecond,
		Concurrency:   cfg.WorkerConcurrency,
		ShutdownGrace: time.Duration(cfg.WorkerShutdownSecs) * time.Second,
		LockTTL:       time.Duration(cfg.WorkerLockTTLSecs) * time.Second,
	}, postgres.NewJobsRepo(pool, prom), notifier, observability.NewJobMetrics(), prom, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", w.HealthHandler(pool))

	health := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WorkerHealthPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("worker health server starting", "port", cfg.WorkerHealthPort)
		if err := health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker health server failed", "err", err)
		}
	}()

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()
	_ = health.Shutdown(shutdownCtx)

	log.Info("worker shutdown complete")
}
