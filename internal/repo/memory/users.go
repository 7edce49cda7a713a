package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/geocoder89/campusportal/internal/domain/user"
)

type UsersRepo struct {
	mu    sync.RWMutex
	items map[string]user.Identity
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items: make(map[string]user.Identity),
	}
}

func (r *UsersRepo) Create(_ context.Context, email, passwordHash, name string, role user.Role) (user.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := user.NewIdentity(email, passwordHash, name, role)
	if err := r.insertLocked(u); err != nil {
		return user.Identity{}, err
	}
	return u, nil
}

// Insert stores a prepared identity.
func (r *UsersRepo) Insert(_ context.Context, u user.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(u)
}

func (r *UsersRepo) insertLocked(u user.Identity) error {
	for _, existing := range r.items {
		if strings.EqualFold(existing.Email, u.Email) {
			return user.ErrEmailTaken
		}
	}
	r.items[u.ID] = u
	return nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.items {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return user.Identity{}, user.ErrNotFound
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.Identity{}, user.ErrNotFound
	}
	return u, nil
}

func (r *UsersRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok {
		return user.ErrNotFound
	}

	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u

	return nil
}
