package notifications

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrProviderDown = errors.New("notification provider down")

// LogNotifier writes alerts to the structured log. Delay and Fail simulate a
// slow or broken provider.
type LogNotifier struct {
	log   *slog.Logger
	Delay time.Duration
	Fail  bool
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendProfileMissingAlert(ctx context.Context, alert ProfileMissingAlert) error {
	if n.Delay > 0 {
		select {
		case <-time.After(n.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if n.Fail {
		return ErrProviderDown
	}

	n.log.InfoContext(ctx, "notification.profile_missing",
		"user_id", alert.UserID,
		"email", alert.Email,
		"role", alert.Role,
		"detected_at", alert.DetectedAt,
	)
	return nil
}
