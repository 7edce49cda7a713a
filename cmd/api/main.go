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
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/geocoder89/campusportal/internal/auth"
	"github.com/geocoder89/campusportal/internal/config"
	"github.com/geocoder89/campusportal/internal/credstore"
	"github.com/geocoder89/campusportal/internal/db"
	httpx "github.com/geocoder89/campusportal/internal/http"
	"github.com/geocoder89/campusportal/internal/http/handlers"
	"github.com/geocoder89/campusportal/internal/jobs"
	"github.com/geocoder89/campusportal/internal/observability"
	"github.com/geocoder89/campusportal/internal/portal"
	"github.com/geocoder89/campusportal/internal/profile"
	"github.com/geocoder89/campusportal/internal/redisclient"
	"github.com/geocoder89/campusportal/internal/repo/postgres"
	"github.com/geocoder89/campusportal/internal/sessionbus"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, cancel := config.WithTimeout(10 * time.Second)
	shutdownTracer, err := observability.InitTracer(ctx, "campusportal-api", cfg.OTLPEndpoint)
	cancel()
	if err != nil {
		log.Warn("tracer init failed, continuing without tracing", "err", err)
	}

	pool, err := db.NewPool(cfg.DBURL)
	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	ctx, cancel = config.WithTimeout(30 * time.Second)
	err = db.Migrate(ctx, pool)
	if err == nil {
		err = db.EnsureAdminUser(ctx, pool, cfg)
	}
	cancel()
	if err != nil {
		log.Error("db bootstrap failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	rc := redisclient.New(redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rc.Close()

	// cross-process sign-out needs redis; a single instance can do without
	var bus sessionbus.Bus = sessionbus.NewMemory()
	checks := map[string]handlers.Pinger{"db": pool}

	ctx, cancel = config.WithTimeout(2 * time.Second)
	if err := rc.Ping(ctx); err != nil {
		log.Warn("redis unavailable, session bus is process-local", "addr", cfg.RedisAddr, "err", err)
	} else {
		bus = sessionbus.NewRedis(rc.Raw(), log)
		checks["redis"] = rc
	}
	cancel()

	users := postgres.NewUsersRepo(pool, prom)
	profiles := postgres.NewProfilesRepo(pool, prom)
	academics := postgres.NewAcademicsRepo(pool, prom)
	jobsRepo := postgres.NewJobsRepo(pool, prom)

	jwt := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	svc := credstore.NewService(users, postgres.NewRefreshTokensRepo(pool, prom), jwt, bus, prom, log)
	resolver := profile.NewResolver(profiles, log, prom, jobs.NewMissingProfileAlerts(jobsRepo))
	sessions := portal.NewRegistry(svc, bus, resolver, cfg.SessionIdleTTL(), prom, log)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sessions.Run(sweepCtx, time.Minute)
	}()

	router := httpx.NewRouter(httpx.Deps{
		Log:       log,
		Cfg:       cfg,
		Prom:      prom,
		Gatherer:  reg,
		Sessions:  sessions,
		Academics: academics,
		Users:     users,
		Profiles:  profiles,
		Alerts:    jobsRepo,
		Checks:    checks,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}

		// closes every live session context
		stopSweep()
		<-sweepDone

		if shutdownTracer != nil {
			if err := shutdownTracer(ctx); err != nil {
				log.Warn("tracer shutdown failed", "err", err)
			}
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
