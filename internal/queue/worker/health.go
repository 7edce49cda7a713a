package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the worker's liveness and readiness endpoints. db may be nil.
func (w *Worker) HealthHandler(db Pinger) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// ready while the loops run and the database answers
	r.GET("/readyz", func(c *gin.Context) {
		if !w.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}

		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 500*time.Millisecond)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "db": err.Error()})
				return
			}
		}

		s := w.metrics.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
			"jobs": gin.H{
				"claimed":       s.Claimed,
				"done":          s.Done,
				"failed":        s.Failed,
				"retried":       s.Retried,
				"deadLettered":  s.DeadLettered,
				"avgDurationMs": s.AverageDuration.Milliseconds(),
				"maxDurationMs": s.MaxDuration.Milliseconds(),
			},
		})
	})

	return r
}
