package jobs

import "time"

// ProfileMissingAlertPayload tells administrators that an identity signed in
// without a provisioned student/faculty row.
type ProfileMissingAlertPayload struct {
	UserID     string    `json:"userId"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	DetectedAt time.Time `json:"detectedAt"`
}

func ProfileMissingKey(userID string) string {
	return "profile_missing:" + userID
}
