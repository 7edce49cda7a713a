package credstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/campusportal/internal/sessionbus"
)

// refreshSkew renews access tokens slightly before they expire.
const refreshSkew = 10 * time.Second

// Client holds one browser's session against the Service and notifies
// subscribers whenever that session changes. It is safe for concurrent use.
type Client struct {
	svc    *Service
	bus    sessionbus.Bus
	origin string
	log    *slog.Logger
	now    func() time.Time

	refreshMu sync.Mutex

	mu        sync.Mutex
	sess      *Session
	handlers  map[int]func(*Session)
	nextID    int
	busCancel func()
	closed    bool
}

// NewClient builds a client. origin identifies it on the session bus; bus
// may be nil.
func NewClient(svc *Service, bus sessionbus.Bus, origin string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		svc:      svc,
		bus:      bus,
		origin:   origin,
		log:      log.With("origin", origin),
		now:      time.Now,
		handlers: make(map[int]func(*Session)),
	}
}

// CurrentSession returns the held session, renewing it first when the
// access token is about to expire. A nil session with a nil error means
// signed out.
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	s := c.held()
	if s == nil || c.fresh(s) {
		return s, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// another caller may have renewed it while we waited
	s = c.held()
	if s == nil || c.fresh(s) {
		return s, nil
	}

	next, err := c.svc.Refresh(ctx, s.RefreshToken)
	if err != nil {
		var aerr *AuthError
		if errors.As(err, &aerr) {
			c.log.InfoContext(ctx, "session_refresh_rejected", "code", aerr.Code)
			c.drop(s)
			return nil, nil
		}
		return nil, err
	}

	if !c.replace(s, next) {
		return c.held(), nil
	}
	c.notify(next)

	return copySession(next), nil
}

func (c *Client) OnSessionChange(fn func(*Session)) Subscription {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = fn
	c.mu.Unlock()

	return &subscription{cancel: func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}}
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	sess, err := c.svc.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = c.svc.SignOut(ctx, sess.RefreshToken)
		return nil, noSession()
	}
	prev := c.sess
	c.sess = sess
	c.mu.Unlock()

	// a second sign-in on the same client supersedes the first session
	if prev != nil {
		if err := c.svc.SignOut(ctx, prev.RefreshToken); err != nil {
			c.log.WarnContext(ctx, "superseded_session_revoke_failed", "user_id", prev.User.ID, "err", err)
		}
	}

	c.watch(ctx, sess.User.ID)
	c.notify(sess)

	return copySession(sess), nil
}

// SignOut revokes the held refresh token. It is a no-op when signed out and
// a failed revoke is only logged since the local session is gone either way.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	cancel := c.busCancel
	c.busCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s == nil {
		return nil
	}

	if err := c.svc.SignOut(ctx, s.RefreshToken); err != nil {
		c.log.WarnContext(ctx, "sign_out_revoke_failed", "user_id", s.User.ID, "err", err)
	}

	c.notify(nil)
	return nil
}

// SignOutEverywhere revokes every refresh token of the signed-in user and
// ends this client's session. Other clients of the user drop theirs when the
// bus event reaches them.
func (c *Client) SignOutEverywhere(ctx context.Context) error {
	s, err := c.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return noSession()
	}

	if err := c.svc.SignOutEverywhere(ctx, s.AccessToken, c.origin); err != nil {
		return err
	}

	c.drop(s)
	return nil
}

// UpdateCurrentUser applies upd to the signed-in user. The password is the
// only mutable attribute, so an empty one is rejected by the policy.
func (c *Client) UpdateCurrentUser(ctx context.Context, upd UserUpdate) error {
	s, err := c.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		return noSession()
	}

	next, err := c.svc.UpdatePassword(ctx, s.AccessToken, upd.Password, c.origin)
	if err != nil {
		return err
	}

	if c.replace(s, next) {
		c.notify(next)
	}
	return nil
}

// Close detaches the client from the bus and drops every subscriber. The
// refresh token is left alone so the user stays signed in elsewhere.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.busCancel
	c.busCancel = nil
	c.handlers = make(map[int]func(*Session))
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (c *Client) held() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copySession(c.sess)
}

func (c *Client) fresh(s *Session) bool {
	return c.now().Add(refreshSkew).Before(s.ExpiresAt)
}

// replace swaps prev for next unless the session changed underneath.
func (c *Client) replace(prev, next *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil || c.sess.RefreshToken != prev.RefreshToken {
		return false
	}
	c.sess = next
	return true
}

// drop clears the session if it is still s and tells subscribers.
func (c *Client) drop(s *Session) {
	c.mu.Lock()
	if c.sess == nil || (s != nil && c.sess.RefreshToken != s.RefreshToken) {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	cancel := c.busCancel
	c.busCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.notify(nil)
}

func (c *Client) watch(ctx context.Context, userID string) {
	if c.bus == nil {
		return
	}

	cancel, err := c.bus.Subscribe(ctx, userID, c.onBusEvent)
	if err != nil {
		c.log.WarnContext(ctx, "session_bus_subscribe_failed", "user_id", userID, "err", err)
		return
	}

	c.mu.Lock()
	prev := c.busCancel
	c.busCancel = cancel
	c.mu.Unlock()

	if prev != nil {
		prev()
	}
}

func (c *Client) onBusEvent(ev sessionbus.Event) {
	if ev.Origin == c.origin {
		return
	}

	switch ev.Kind {
	case sessionbus.KindSignedOutEverywhere, sessionbus.KindPasswordChanged:
		s := c.held()
		if s == nil || s.User.ID != ev.UserID {
			return
		}
		c.log.Info("session_ended_remotely", "user_id", ev.UserID, "kind", string(ev.Kind))
		c.drop(s)
	}
}

// notify delivers synchronously, outside the lock, in no particular order.
func (c *Client) notify(s *Session) {
	c.mu.Lock()
	fns := make([]func(*Session), 0, len(c.handlers))
	for _, fn := range c.handlers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(copySession(s))
	}
}

func copySession(s *Session) *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}
