package sessionbus

import (
	"context"
	"time"
)

type Kind string

const (
	KindSignedOutEverywhere Kind = "signed_out_everywhere"
	KindPasswordChanged     Kind = "password_changed"
)

// Event is broadcast to every session of one user. Origin names the client
// that caused it so that client can ignore its own echo.
type Event struct {
	Kind   Kind      `json:"kind"`
	UserID string    `json:"userId"`
	Origin string    `json:"origin,omitempty"`
	At     time.Time `json:"at"`
}

type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe delivers events for userID to fn until cancel is called.
	Subscribe(ctx context.Context, userID string, fn func(Event)) (cancel func(), err error)
}

func Channel(userID string) string {
	return "campusportal:session:" + userID
}
