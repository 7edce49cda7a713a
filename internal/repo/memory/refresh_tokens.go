package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/campusportal/internal/domain/user"
)

type RefreshTokensRepo struct {
	mu    sync.Mutex
	items map[string]user.RefreshToken
}

func NewRefreshTokensRepo() *RefreshTokensRepo {
	return &RefreshTokensRepo{
		items: make(map[string]user.RefreshToken),
	}
}

func (r *RefreshTokensRepo) Create(_ context.Context, row user.RefreshToken) error {
	r.mu.Lock()
	r.items[row.ID] = row
	r.mu.Unlock()

	return nil
}

// Rotate holds the lock for the whole check-revoke-insert sequence, which
// gives the same guarantee as the row lock in the Postgres version.
func (r *RefreshTokensRepo) Rotate(_ context.Context, oldID string, next user.RefreshToken, check func(user.RefreshToken) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.items[oldID]
	if !ok {
		return user.ErrTokenNotFound
	}

	if err := check(old); err != nil {
		return err
	}

	now := time.Now().UTC()
	old.RevokedAt = &now
	old.ReplacedBy = &next.ID
	r.items[oldID] = old
	r.items[next.ID] = next

	return nil
}

func (r *RefreshTokensRepo) Revoke(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.items[id]
	if !ok || t.RevokedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	t.RevokedAt = &now
	r.items[id] = t

	return nil
}

func (r *RefreshTokensRepo) RevokeAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for id, t := range r.items {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &now
			r.items[id] = t
		}
	}
	return nil
}

// Get is a test helper.
func (r *RefreshTokensRepo) Get(id string) (user.RefreshToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.items[id]
	return t, ok
}
