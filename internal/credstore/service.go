package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/campusportal/internal/auth"
	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/observability"
	"github.com/geocoder89/campusportal/internal/security"
	"github.com/geocoder89/campusportal/internal/sessionbus"
)

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (user.Identity, error)
	GetByID(ctx context.Context, id string) (user.Identity, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

type RefreshStore interface {
	Create(ctx context.Context, row user.RefreshToken) error
	Rotate(ctx context.Context, oldID string, next user.RefreshToken, check func(user.RefreshToken) error) error
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// Service is the credential store: it checks passwords, issues and rotates
// token pairs and broadcasts account-wide changes on the session bus.
type Service struct {
	users  UserStore
	tokens RefreshStore
	jwt    *auth.Manager
	bus    sessionbus.Bus
	prom   *observability.Prom
	log    *slog.Logger
	now    func() time.Time
}

// NewService wires a credential store. bus and prom may be nil.
func NewService(users UserStore, tokens RefreshStore, jwt *auth.Manager, bus sessionbus.Bus, prom *observability.Prom, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		users:  users,
		tokens: tokens,
		jwt:    jwt,
		bus:    bus,
		prom:   prom,
		log:    log,
		now:    time.Now,
	}
}

func (s *Service) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, invalidCredentials()
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := security.CheckPassword(u.PasswordHash, password); err != nil {
		return nil, invalidCredentials()
	}

	sess, err := s.issue(ctx, u)
	if err != nil {
		return nil, err
	}

	s.prom.ObserveSessionEvent(string(EventSignedIn))
	return sess, nil
}

// Refresh rotates the refresh token. A token that was already rotated,
// revoked or does not match the stored hash ends the session.
func (s *Service) Refresh(ctx context.Context, refreshRaw string) (*Session, error) {
	claims, err := s.jwt.VerifyRefreshToken(refreshRaw)
	if err != nil {
		return nil, sessionExpired()
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, sessionExpired()
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	newRaw, newJTI, expiresAt, err := s.jwt.GenerateRefreshToken(u)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now().UTC()
	next := user.RefreshToken{
		ID:        newJTI,
		UserID:    u.ID,
		TokenHash: s.jwt.HashRefreshToken(newRaw),
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}

	presented := s.jwt.HashRefreshToken(refreshRaw)
	err = s.tokens.Rotate(ctx, claims.JTI, next, func(old user.RefreshToken) error {
		if old.TokenHash != presented || !old.Active(now) {
			return ErrSessionExpired
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionExpired) || errors.Is(err, user.ErrTokenNotFound) {
			return nil, sessionExpired()
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	access, accessExp, err := s.jwt.GenerateAccessToken(u)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	s.prom.ObserveSessionEvent(string(EventTokenRefreshed))

	return &Session{
		AccessToken:  access,
		RefreshToken: newRaw,
		ExpiresAt:    accessExp,
		User:         u,
	}, nil
}

// SignOut revokes one refresh token. Unknown or malformed tokens are
// ignored.
func (s *Service) SignOut(ctx context.Context, refreshRaw string) error {
	claims, err := s.jwt.VerifyRefreshToken(refreshRaw)
	if err != nil {
		return nil
	}

	if err := s.tokens.Revoke(ctx, claims.JTI); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	s.prom.ObserveSessionEvent(string(EventSignedOut))
	return nil
}

// SignOutEverywhere revokes every refresh token of the caller and tells the
// user's other sessions to drop their state.
func (s *Service) SignOutEverywhere(ctx context.Context, accessToken, origin string) error {
	u, err := s.Identity(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := s.tokens.RevokeAllForUser(ctx, u.ID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	s.publish(ctx, sessionbus.KindSignedOutEverywhere, u.ID, origin)
	s.prom.ObserveSessionEvent(string(EventSignedOut))
	return nil
}

// UpdatePassword enforces the password policy, stores the new hash and ends
// every other session of the user. The caller gets a fresh session.
func (s *Service) UpdatePassword(ctx context.Context, accessToken, newPassword, origin string) (*Session, error) {
	u, err := s.Identity(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	if err := security.CheckPolicy(newPassword); err != nil {
		return nil, weakPassword()
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, sessionExpired()
		}
		return nil, fmt.Errorf("update password: %w", err)
	}

	if err := s.tokens.RevokeAllForUser(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("revoke refresh tokens: %w", err)
	}

	sess, err := s.issue(ctx, u)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, sessionbus.KindPasswordChanged, u.ID, origin)
	s.prom.ObserveSessionEvent(string(EventUserUpdated))

	return sess, nil
}

// Identity returns the current stored identity behind an access token.
func (s *Service) Identity(ctx context.Context, accessToken string) (user.Identity, error) {
	claims, err := s.jwt.VerifyAccessToken(accessToken)
	if err != nil {
		return user.Identity{}, sessionExpired()
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.Identity{}, sessionExpired()
		}
		return user.Identity{}, fmt.Errorf("lookup user: %w", err)
	}
	return u, nil
}

func (s *Service) issue(ctx context.Context, u user.Identity) (*Session, error) {
	access, accessExp, err := s.jwt.GenerateAccessToken(u)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}

	refreshRaw, jti, refreshExp, err := s.jwt.GenerateRefreshToken(u)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	err = s.tokens.Create(ctx, user.RefreshToken{
		ID:        jti,
		UserID:    u.ID,
		TokenHash: s.jwt.HashRefreshToken(refreshRaw),
		ExpiresAt: refreshExp,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &Session{
		AccessToken:  access,
		RefreshToken: refreshRaw,
		ExpiresAt:    accessExp,
		User:         u,
	}, nil
}

func (s *Service) publish(ctx context.Context, kind sessionbus.Kind, userID, origin string) {
	if s.bus == nil {
		return
	}

	err := s.bus.Publish(ctx, sessionbus.Event{
		Kind:   kind,
		UserID: userID,
		Origin: origin,
		At:     s.now().UTC(),
	})
	if err != nil {
		s.log.WarnContext(ctx, "session_bus_publish_failed", "kind", string(kind), "user_id", userID, "err", err)
	}
}
