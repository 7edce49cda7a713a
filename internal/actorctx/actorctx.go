package actorctx

import (
	"context"

	"github.com/geocoder89/campusportal/internal/domain/account"
)

type ctxKey struct{}

// WithActor stores the signed-in user on a request context so code below
// the HTTP layer can log or authorize without gin.
func WithActor(ctx context.Context, u account.ResolvedUser) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

func ActorFrom(ctx context.Context) (account.ResolvedUser, bool) {
	u, ok := ctx.Value(ctxKey{}).(account.ResolvedUser)
	return u, ok && u.ID != ""
}

func ActorIDFrom(ctx context.Context) (string, bool) {
	u, ok := ActorFrom(ctx)
	return u.ID, ok
}
