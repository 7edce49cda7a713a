package notifications

import (
	"context"
	"time"
)

// ProfileMissingAlert tells administrators an identity signed in before its
// student or faculty row was provisioned.
type ProfileMissingAlert struct {
	UserID     string
	Email      string
	Role       string
	DetectedAt time.Time
}

type Notifier interface {
	SendProfileMissingAlert(ctx context.Context, alert ProfileMissingAlert) error
}
