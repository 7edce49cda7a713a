package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/campusportal/internal/config"
	"github.com/geocoder89/campusportal/internal/domain/job"
	"github.com/geocoder89/campusportal/internal/jobs"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AlertsRepo interface {
	ListByType(ctx context.Context, jobType string, status *job.Status, limit int) ([]job.Job, error)
	Retry(ctx context.Context, id string) error
}

// AlertsHandler exposes the profile.missing_alert queue to administrators.
type AlertsHandler struct {
	repo AlertsRepo
}

func NewAlertsHandler(repo AlertsRepo) *AlertsHandler {
	return &AlertsHandler{repo: repo}
}

type alertView struct {
	ID        string                           `json:"id"`
	Status    job.Status                       `json:"status"`
	Attempts  int                              `json:"attempts"`
	LastError *string                          `json:"lastError,omitempty"`
	Alert     *jobs.ProfileMissingAlertPayload `json:"alert,omitempty"`
	CreatedAt time.Time                        `json:"createdAt"`
	UpdatedAt time.Time                        `json:"updatedAt"`
}

// GET /admin/alerts?status=pending&limit=50

func (h *AlertsHandler) List(ctx *gin.Context) {
	limit := 50
	if s := ctx.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 100 {
			RespondBadRequest(ctx, "limit must be between 1 and 100", nil)
			return
		}
		limit = n
	}

	var status *job.Status
	if s := ctx.Query("status"); s != "" {
		st := job.Status(s)
		switch st {
		case job.StatusPending, job.StatusProcessing, job.StatusDone, job.StatusFailed:
			status = &st
		default:
			RespondBadRequest(ctx, "status must be one of pending, processing, done, failed", nil)
			return
		}
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, err := h.repo.ListByType(cctx, string(jobs.JobProfileMissingAlert), status, limit)
	if err != nil {
		RespondInternal(ctx, "Could not list alerts")
		return
	}

	out := make([]alertView, 0, len(items))
	for _, j := range items {
		v := alertView{
			ID:        j.ID,
			Status:    j.Status,
			Attempts:  j.Attempts,
			LastError: j.LastError,
			CreatedAt: j.CreatedAt,
			UpdatedAt: j.UpdatedAt,
		}
		if p, err := jobs.DecodePayload(j); err == nil {
			if a, ok := p.(jobs.ProfileMissingAlertPayload); ok {
				v.Alert = &a
			}
		}
		out = append(out, v)
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"limit": limit,
		"count": len(out),
		"items": out,
	})
}

// POST /admin/alerts/:id/retry

func (h *AlertsHandler) Retry(ctx *gin.Context) {
	id := ctx.Param("id")
	if uuid.Validate(id) != nil {
		RespondBadRequest(ctx, "invalid_id", nil)
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	if err := h.repo.Retry(cctx, id); err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			RespondNotFound(ctx, "Alert not found")
			return
		}
		if errors.Is(err, job.ErrJobNotFailed) {
			RespondConflict(ctx, "alert_not_failed", "Only failed alerts can be retried")
			return
		}
		RespondInternal(ctx, "Could not retry alert")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"id":     id,
		"status": job.StatusPending,
	})
}
