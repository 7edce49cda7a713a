package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/campusportal/internal/credstore"
	"github.com/geocoder89/campusportal/internal/domain/account"
	"github.com/geocoder89/campusportal/internal/domain/user"
)

const resolveTimeout = 5 * time.Second

var (
	ErrRoleMismatch = errors.New("role mismatch")
	ErrClosed       = errors.New("session context closed")
)

// RoleMismatchError is returned by Login when the credentials are valid but
// belong to a different role than the one the caller asked for.
type RoleMismatchError struct {
	Expected user.Role
	Actual   user.Role
}

func (e *RoleMismatchError) Error() string {
	return fmt.Sprintf("role mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *RoleMismatchError) Unwrap() error {
	return ErrRoleMismatch
}

// Provider is the credential store as seen by one session.
type Provider interface {
	CurrentSession(ctx context.Context) (*credstore.Session, error)
	OnSessionChange(fn func(*credstore.Session)) credstore.Subscription
	SignInWithPassword(ctx context.Context, email, password string) (*credstore.Session, error)
	SignOut(ctx context.Context) error
	SignOutEverywhere(ctx context.Context) error
	UpdateCurrentUser(ctx context.Context, upd credstore.UserUpdate) error
}

type Resolver interface {
	Resolve(ctx context.Context, id user.Identity) account.ResolvedUser
}

// State is an immutable snapshot for the view layer.
type State struct {
	User            *account.ResolvedUser `json:"user"`
	IsAuthenticated bool                  `json:"isAuthenticated"`
	Loading         bool                  `json:"loading"`
}

// Context is the source of truth for who is signed in on one browser
// session. Session changes dispatch a profile resolution; only the result of
// the latest dispatch is ever committed.
type Context struct {
	provider Provider
	resolver Resolver
	log      *slog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	user     *account.ResolvedUser
	loading  bool
	alive    bool
	gen      uint64
	inflight int
	changed  chan struct{}
	sub      credstore.Subscription

	// cancels the latest dispatched resolution
	stopResolve context.CancelFunc
}

func New(provider Provider, resolver Resolver, log *slog.Logger) *Context {
	if log == nil {
		log = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())

	return &Context{
		provider: provider,
		resolver: resolver,
		log:      log,
		base:     base,
		cancel:   cancel,
		loading:  true,
		alive:    true,
		changed:  make(chan struct{}),
	}
}

// Start reads the current session, subscribes to changes and handles the
// initial session. A notification that arrives in between wins over the
// initial read.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return ErrClosed
	}
	startGen := c.gen
	c.mu.Unlock()

	sess, err := c.provider.CurrentSession(ctx)
	if err != nil {
		c.log.WarnContext(ctx, "session_initial_read_failed", "err", err)
		sess = nil
	}

	sub := c.provider.OnSessionChange(c.handle)

	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		sub.Unsubscribe()
		return ErrClosed
	}
	c.sub = sub
	superseded := c.gen != startGen
	c.mu.Unlock()

	if !superseded {
		c.handle(sess)
	}
	return nil
}

// Close stops reacting to session changes. In-flight resolutions finish
// but their results are dropped.
func (c *Context) Close() {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}
	c.alive = false
	c.gen++
	sub := c.sub
	c.sub = nil
	c.broadcastLocked()
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.cancel()
	c.wg.Wait()
}

func (c *Context) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until no resolution is in flight, then returns the settled
// state.
func (c *Context) Wait(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		if !c.loading && c.inflight == 0 {
			s := c.snapshotLocked()
			c.mu.Unlock()
			return s, nil
		}
		if !c.alive {
			s := c.snapshotLocked()
			c.mu.Unlock()
			return s, ErrClosed
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}

// Refresh resolves the current session again, for example after an admin
// provisioned the profile row.
func (c *Context) Refresh(ctx context.Context) error {
	sess, err := c.provider.CurrentSession(ctx)
	if err != nil {
		return err
	}
	c.handle(sess)
	return nil
}

// Login signs in and checks the identity's role. On a mismatch the new
// session is signed out again before returning. The user itself is set by
// the session notification, not here.
func (c *Context) Login(ctx context.Context, email, password string, expected user.Role) error {
	if !c.isAlive() {
		return ErrClosed
	}

	sess, err := c.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return err
	}

	actual := user.ParseRole(string(sess.User.Role))
	if actual != expected {
		if err := c.provider.SignOut(ctx); err != nil {
			c.log.ErrorContext(ctx, "role_mismatch_sign_out_failed", "user_id", sess.User.ID, "err", err)
		}
		c.log.InfoContext(ctx, "login_role_mismatch",
			"user_id", sess.User.ID,
			"expected", string(expected),
			"actual", string(actual),
		)
		return &RoleMismatchError{Expected: expected, Actual: actual}
	}

	return nil
}

// Logout is idempotent. The user is cleared even when the provider fails.
func (c *Context) Logout(ctx context.Context) error {
	err := c.provider.SignOut(ctx)
	c.clear()
	return err
}

// SignOutEverywhere ends every session of the signed-in user, this one
// included. The local user is kept when the provider refuses.
func (c *Context) SignOutEverywhere(ctx context.Context) error {
	if err := c.provider.SignOutEverywhere(ctx); err != nil {
		return err
	}
	c.clear()
	return nil
}

func (c *Context) clear() {
	c.mu.Lock()
	c.gen++
	c.stopResolveLocked()
	c.user = nil
	c.loading = false
	c.broadcastLocked()
	c.mu.Unlock()
}

func (c *Context) ChangePassword(ctx context.Context, newPassword string) error {
	return c.provider.UpdateCurrentUser(ctx, credstore.UserUpdate{Password: newPassword})
}

func (c *Context) handle(sess *credstore.Session) {
	c.mu.Lock()
	if !c.alive {
		c.mu.Unlock()
		return
	}

	c.gen++
	gen := c.gen
	c.stopResolveLocked()

	if sess == nil {
		c.user = nil
		c.loading = false
		c.broadcastLocked()
		c.mu.Unlock()
		return
	}

	c.loading = true
	c.inflight++
	c.wg.Add(1)
	ctx, cancel := context.WithTimeout(c.base, resolveTimeout)
	c.stopResolve = cancel
	c.broadcastLocked()
	c.mu.Unlock()

	go c.resolve(ctx, cancel, gen, sess.User)
}

func (c *Context) resolve(ctx context.Context, cancel context.CancelFunc, gen uint64, id user.Identity) {
	defer c.wg.Done()
	defer cancel()

	resolved := c.resolver.Resolve(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight--

	if c.alive && gen == c.gen {
		c.user = &resolved
		c.loading = false
	} else {
		c.log.Debug("stale_resolution_discarded", "user_id", id.ID, "gen", gen, "current", c.gen)
	}
	c.broadcastLocked()
}

func (c *Context) stopResolveLocked() {
	if c.stopResolve != nil {
		c.stopResolve()
		c.stopResolve = nil
	}
}

func (c *Context) isAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

func (c *Context) snapshotLocked() State {
	s := State{Loading: c.loading}
	if c.user != nil {
		u := *c.user
		s.User = &u
		s.IsAuthenticated = true
	}
	return s
}

func (c *Context) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
