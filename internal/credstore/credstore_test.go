package credstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/campusportal/internal/auth"
	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/repo/memory"
	"github.com/geocoder89/campusportal/internal/security"
	"github.com/geocoder89/campusportal/internal/sessionbus"
)

type fixture struct {
	svc    *Service
	users  *memory.UsersRepo
	tokens *memory.RefreshTokensRepo
	bus    *sessionbus.Memory
	user   user.Identity
}

const testPassword = "secret123"

func newFixture(t *testing.T, role user.Role) fixture {
	t.Helper()

	users := memory.NewUsersRepo()
	tokens := memory.NewRefreshTokensRepo()
	bus := sessionbus.NewMemory()

	hash, err := security.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	u, err := users.Create(context.Background(), "s1@x.com", hash, "", role)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	jwt := auth.NewManager("test-secret", 15*time.Minute, 24*time.Hour)
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))

	return fixture{
		svc:    NewService(users, tokens, jwt, bus, nil, log),
		users:  users,
		tokens: tokens,
		bus:    bus,
		user:   u,
	}
}

func requireAuthCode(t *testing.T, err error, code string) {
	t.Helper()

	var aerr *AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AuthError, got %T (%v)", err, err)
	}
	if aerr.Code != code {
		t.Fatalf("expected code %q, got %q", code, aerr.Code)
	}
}

func TestService_SignIn(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	sess, err := f.svc.SignInWithPassword(ctx, "S1@x.com", testPassword)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if sess.User.ID != f.user.ID || sess.User.Role != user.RoleStudent {
		t.Fatalf("unexpected identity: %+v", sess.User)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatalf("expected token pair")
	}

	id, err := f.svc.Identity(ctx, sess.AccessToken)
	if err != nil || id.ID != f.user.ID {
		t.Fatalf("identity from access token: %+v %v", id, err)
	}
}

func TestService_SignInRejectsBadCredentials(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	_, err := f.svc.SignInWithPassword(ctx, "s1@x.com", "wrong-pass1")
	requireAuthCode(t, err, CodeInvalidCredentials)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials in chain")
	}

	_, err = f.svc.SignInWithPassword(ctx, "nobody@x.com", testPassword)
	requireAuthCode(t, err, CodeInvalidCredentials)
}

func TestService_RefreshRotatesAndRejectsReuse(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	first, err := f.svc.SignInWithPassword(ctx, "s1@x.com", testPassword)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	requireAuthCode(t, err, CodeSessionExpired)

	if _, err := f.svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("rotated token should still work: %v", err)
	}
}

func TestService_SignOutRevokes(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	sess, _ := f.svc.SignInWithPassword(ctx, "s1@x.com", testPassword)

	if err := f.svc.SignOut(ctx, sess.RefreshToken); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if err := f.svc.SignOut(ctx, sess.RefreshToken); err != nil {
		t.Fatalf("second sign out should be a no-op: %v", err)
	}
	if err := f.svc.SignOut(ctx, "garbage"); err != nil {
		t.Fatalf("malformed token should be ignored: %v", err)
	}

	_, err := f.svc.Refresh(ctx, sess.RefreshToken)
	requireAuthCode(t, err, CodeSessionExpired)
}

func TestService_UpdatePassword(t *testing.T) {
	f := newFixture(t, user.RoleFaculty)
	ctx := context.Background()

	sess, _ := f.svc.SignInWithPassword(ctx, "s1@x.com", testPassword)
	other, _ := f.svc.SignInWithPassword(ctx, "s1@x.com", testPassword)

	var events []sessionbus.Event
	cancel, _ := f.bus.Subscribe(ctx, f.user.ID, func(ev sessionbus.Event) { events = append(events, ev) })
	defer cancel()

	_, err := f.svc.UpdatePassword(ctx, sess.AccessToken, "short", "sid-a")
	requireAuthCode(t, err, CodeWeakPassword)
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword in chain")
	}

	next, err := f.svc.UpdatePassword(ctx, sess.AccessToken, "newpass99", "sid-a")
	if err != nil {
		t.Fatalf("update password: %v", err)
	}

	if _, err := f.svc.SignInWithPassword(ctx, "s1@x.com", testPassword); err == nil {
		t.Fatalf("old password should be rejected")
	}
	if _, err := f.svc.SignInWithPassword(ctx, "s1@x.com", "newpass99"); err != nil {
		t.Fatalf("new password: %v", err)
	}

	if _, err := f.svc.Refresh(ctx, other.RefreshToken); err == nil {
		t.Fatalf("other sessions should be revoked")
	}
	if _, err := f.svc.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("caller's fresh session should survive: %v", err)
	}

	if len(events) != 1 || events[0].Kind != sessionbus.KindPasswordChanged || events[0].Origin != "sid-a" {
		t.Fatalf("unexpected bus events: %+v", events)
	}
}

type recorder struct {
	mu   sync.Mutex
	seen []*Session
}

func (r *recorder) handle(s *Session) {
	r.mu.Lock()
	r.seen = append(r.seen, s)
	r.mu.Unlock()
}

func (r *recorder) last() (*Session, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seen) == 0 {
		return nil, 0
	}
	return r.seen[len(r.seen)-1], len(r.seen)
}

func TestClient_SignInNotifiesAndSignOutIsIdempotent(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	c := NewClient(f.svc, f.bus, "sid-1", nil)
	rec := &recorder{}
	sub := c.OnSessionChange(rec.handle)

	if s, err := c.CurrentSession(ctx); s != nil || err != nil {
		t.Fatalf("expected no session, got %+v %v", s, err)
	}

	if _, err := c.SignInWithPassword(ctx, "s1@x.com", testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if s, n := rec.last(); n != 1 || s == nil || s.User.ID != f.user.ID {
		t.Fatalf("expected sign-in notification, got %d %+v", n, s)
	}

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if s, n := rec.last(); n != 2 || s != nil {
		t.Fatalf("expected nil notification, got %d %+v", n, s)
	}

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("second sign out: %v", err)
	}
	if _, n := rec.last(); n != 2 {
		t.Fatalf("signing out twice should not notify again")
	}

	sub.Unsubscribe()
	_, _ = c.SignInWithPassword(ctx, "s1@x.com", testPassword)
	if _, n := rec.last(); n != 2 {
		t.Fatalf("unsubscribed handler was called")
	}
}

func TestClient_CurrentSessionRefreshesExpiredAccessToken(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	c := NewClient(f.svc, nil, "sid-1", nil)
	first, err := c.SignInWithPassword(ctx, "s1@x.com", testPassword)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	rec := &recorder{}
	c.OnSessionChange(rec.handle)

	c.now = func() time.Time { return time.Now().Add(20 * time.Minute) }

	got, err := c.CurrentSession(ctx)
	if err != nil || got == nil {
		t.Fatalf("current session: %+v %v", got, err)
	}
	if got.RefreshToken == first.RefreshToken {
		t.Fatalf("expected rotated refresh token")
	}
	if s, n := rec.last(); n != 1 || s == nil {
		t.Fatalf("expected token_refreshed notification")
	}
}

func TestClient_RefreshFailureSignsOut(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	c := NewClient(f.svc, nil, "sid-1", nil)
	if _, err := c.SignInWithPassword(ctx, "s1@x.com", testPassword); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	_ = f.tokens.RevokeAllForUser(ctx, f.user.ID)

	rec := &recorder{}
	c.OnSessionChange(rec.handle)
	c.now = func() time.Time { return time.Now().Add(20 * time.Minute) }

	got, err := c.CurrentSession(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected signed out, got %+v %v", got, err)
	}
	if s, n := rec.last(); n != 1 || s != nil {
		t.Fatalf("expected nil notification")
	}
}

func TestClient_PasswordChangeEndsOtherSessions(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	a := NewClient(f.svc, f.bus, "sid-a", nil)
	b := NewClient(f.svc, f.bus, "sid-b", nil)

	if _, err := a.SignInWithPassword(ctx, "s1@x.com", testPassword); err != nil {
		t.Fatalf("a sign in: %v", err)
	}
	if _, err := b.SignInWithPassword(ctx, "s1@x.com", testPassword); err != nil {
		t.Fatalf("b sign in: %v", err)
	}

	recB := &recorder{}
	b.OnSessionChange(recB.handle)

	if err := a.UpdateCurrentUser(ctx, UserUpdate{Password: "brandnew42"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	if s, _ := a.CurrentSession(ctx); s == nil {
		t.Fatalf("originating session should survive")
	}
	if s, _ := b.CurrentSession(ctx); s != nil {
		t.Fatalf("other session should be dropped")
	}
	if s, n := recB.last(); n != 1 || s != nil {
		t.Fatalf("expected nil notification on b")
	}
}

func TestClient_UpdateWithoutSession(t *testing.T) {
	f := newFixture(t, user.RoleStudent)

	c := NewClient(f.svc, nil, "sid-1", nil)
	err := c.UpdateCurrentUser(context.Background(), UserUpdate{Password: "whatever1"})
	requireAuthCode(t, err, CodeNoSession)
}

func TestClient_UpdateRejectsEmptyPassword(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	c := NewClient(f.svc, nil, "sid-1", nil)
	before, err := c.SignInWithPassword(ctx, "s1@x.com", testPassword)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}

	err = c.UpdateCurrentUser(ctx, UserUpdate{})
	requireAuthCode(t, err, CodeWeakPassword)

	after, _ := c.CurrentSession(ctx)
	if after == nil || after.RefreshToken != before.RefreshToken {
		t.Fatalf("rejected update should keep the session")
	}
	if _, err := f.svc.SignInWithPassword(ctx, "s1@x.com", testPassword); err != nil {
		t.Fatalf("old password should still work: %v", err)
	}
}

func TestClient_SignOutEverywhereEndsEverySession(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	a := NewClient(f.svc, f.bus, "sid-a", nil)
	b := NewClient(f.svc, f.bus, "sid-b", nil)

	if _, err := a.SignInWithPassword(ctx, "s1@x.com", testPassword); err != nil {
		t.Fatalf("a sign in: %v", err)
	}
	held, err := b.SignInWithPassword(ctx, "s1@x.com", testPassword)
	if err != nil {
		t.Fatalf("b sign in: %v", err)
	}

	recA := &recorder{}
	a.OnSessionChange(recA.handle)
	recB := &recorder{}
	b.OnSessionChange(recB.handle)

	if err := a.SignOutEverywhere(ctx); err != nil {
		t.Fatalf("sign out everywhere: %v", err)
	}

	if s, _ := a.CurrentSession(ctx); s != nil {
		t.Fatalf("originating session should be gone")
	}
	if s, _ := b.CurrentSession(ctx); s != nil {
		t.Fatalf("other session should be dropped")
	}
	if s, n := recA.last(); n != 1 || s != nil {
		t.Fatalf("expected nil notification on a, got %d", n)
	}
	if s, n := recB.last(); n != 1 || s != nil {
		t.Fatalf("expected nil notification on b, got %d", n)
	}

	_, err = f.svc.Refresh(ctx, held.RefreshToken)
	requireAuthCode(t, err, CodeSessionExpired)

	err = a.SignOutEverywhere(ctx)
	requireAuthCode(t, err, CodeNoSession)
}

func TestClient_SecondSignInRevokesPreviousRefreshToken(t *testing.T) {
	f := newFixture(t, user.RoleStudent)
	ctx := context.Background()

	c := NewClient(f.svc, f.bus, "sid-1", nil)
	first, err := c.SignInWithPassword(ctx, "s1@x.com", testPassword)
	if err != nil {
		t.Fatalf("first sign in: %v", err)
	}
	second, err := c.SignInWithPassword(ctx, "s1@x.com", testPassword)
	if err != nil {
		t.Fatalf("second sign in: %v", err)
	}

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	requireAuthCode(t, err, CodeSessionExpired)

	if _, err := f.svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("current refresh token should still work: %v", err)
	}
}
