package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/campusportal/internal/domain/job"
	"github.com/geocoder89/campusportal/internal/domain/user"
)

type Enqueuer interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
}

// MissingProfileAlerts turns degraded resolutions into profile.missing_alert
// jobs. One alert per user: later reports hit the idempotency key and are
// dropped.
type MissingProfileAlerts struct {
	jobs Enqueuer
	now  func() time.Time
}

func NewMissingProfileAlerts(jobs Enqueuer) *MissingProfileAlerts {
	return &MissingProfileAlerts{jobs: jobs, now: time.Now}
}

func (a *MissingProfileAlerts) ReportMissingProfile(ctx context.Context, id user.Identity) error {
	payload := ProfileMissingAlertPayload{
		UserID:     id.ID,
		Email:      id.Email,
		Role:       string(id.Role),
		DetectedAt: a.now().UTC(),
	}

	if err := ValidatePayload(JobProfileMissingAlert, payload); err != nil {
		return err
	}

	b, err := EncodePayload(JobProfileMissingAlert, payload)
	if err != nil {
		return err
	}

	key := ProfileMissingKey(id.ID)
	userID := id.ID

	_, err = a.jobs.Create(ctx, job.CreateRequest{
		Type:           string(JobProfileMissingAlert),
		Payload:        b,
		MaxAttempts:    5,
		IdempotencyKey: &key,
		UserID:         &userID,
	})
	if errors.Is(err, job.ErrDuplicateJob) {
		return nil
	}
	return err
}
