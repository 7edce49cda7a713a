package credstore

import (
	"time"

	"github.com/geocoder89/campusportal/internal/domain/user"
)

// Session is an authenticated credential pair plus the identity it was
// issued for.
type Session struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"-"`
	ExpiresAt    time.Time     `json:"expiresAt"`
	User         user.Identity `json:"user"`
}

type EventKind string

const (
	EventSignedIn       EventKind = "signed_in"
	EventSignedOut      EventKind = "signed_out"
	EventTokenRefreshed EventKind = "token_refreshed"
	EventUserUpdated    EventKind = "user_updated"
)

// UserUpdate carries the mutable attributes of the current user.
type UserUpdate struct {
	Password string
}

type Subscription interface {
	Unsubscribe()
}
