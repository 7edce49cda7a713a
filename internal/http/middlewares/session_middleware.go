package middlewares

import (
	"context"
	"net/http"
	"time"

	"github.com/geocoder89/campusportal/internal/actorctx"
	"github.com/geocoder89/campusportal/internal/portal"
	"github.com/geocoder89/campusportal/internal/session"
	"github.com/gin-gonic/gin"
)

const awaitTimeout = 5 * time.Second

// Sessions is the registry as the HTTP layer sees it.
type Sessions interface {
	Get(ctx context.Context, sid string) (*session.Context, error)
	Lookup(sid string) (*session.Context, bool)
}

type SessionMiddleware struct {
	sessions Sessions
	secure   bool
	maxAge   time.Duration
}

func NewSessionMiddleware(sessions Sessions, secure bool, maxAge time.Duration) *SessionMiddleware {
	return &SessionMiddleware{sessions: sessions, secure: secure, maxAge: maxAge}
}

// AwaitSession loads the caller's live session context and holds the
// request until profile resolution has settled. Without one the request is
// signed out and nothing is allocated for it.
func (m *SessionMiddleware) AwaitSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, _ := c.Cookie(portal.CookieName)
		if sid != "" {
			if sc, ok := m.sessions.Lookup(sid); ok {
				m.setCookie(c, sid)
				m.settle(c, sid, sc)
				return
			}
		}

		c.Set(CtxState, session.State{})
		c.Next()
	}
}

// StartSession is AwaitSession for the login route. It creates the context,
// under a fresh id unless the cookie names a live one, and issues the
// cookie.
func (m *SessionMiddleware) StartSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, _ := c.Cookie(portal.CookieName)
		if _, ok := m.sessions.Lookup(sid); sid == "" || !ok {
			sid = portal.NewSessionID()
		}

		sc, err := m.sessions.Get(c.Request.Context(), sid)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": gin.H{
					"code":    "session_unavailable",
					"message": "Could not load session",
				},
			})
			return
		}

		m.setCookie(c, sid)
		m.settle(c, sid, sc)
	}
}

func (m *SessionMiddleware) settle(c *gin.Context, sid string, sc *session.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), awaitTimeout)
	state, err := sc.Wait(ctx)
	cancel()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{
				"code":    "session_loading",
				"message": "Session is still loading, please retry",
			},
		})
		return
	}

	c.Set(CtxSessionID, sid)
	c.Set(CtxSession, sc)
	c.Set(CtxState, state)

	if state.User != nil {
		c.Request = c.Request.WithContext(actorctx.WithActor(c.Request.Context(), *state.User))
	}

	c.Next()
}

// ClearCookie expires the session cookie.
func (m *SessionMiddleware) ClearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(portal.CookieName, "", -1, "/", "", m.secure, true)
}

func (m *SessionMiddleware) setCookie(c *gin.Context, sid string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(portal.CookieName, sid, int(m.maxAge.Seconds()), "/", "", m.secure, true)
}

func SessionFrom(c *gin.Context) (*session.Context, bool) {
	v, ok := c.Get(CtxSession)
	if !ok {
		return nil, false
	}
	sc, ok := v.(*session.Context)
	return sc, ok
}

func SessionIDFrom(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxSessionID)
	if !ok {
		return "", false
	}
	sid, ok := v.(string)
	return sid, ok && sid != ""
}

// StateFrom returns the settled state captured by AwaitSession.
func StateFrom(c *gin.Context) (session.State, bool) {
	v, ok := c.Get(CtxState)
	if !ok {
		return session.State{}, false
	}
	s, ok := v.(session.State)
	return s, ok
}
