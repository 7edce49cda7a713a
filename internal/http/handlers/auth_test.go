package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geocoder89/campusportal/internal/auth"
	"github.com/geocoder89/campusportal/internal/credstore"
	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/http/handlers"
	"github.com/geocoder89/campusportal/internal/http/middlewares"
	"github.com/geocoder89/campusportal/internal/portal"
	"github.com/geocoder89/campusportal/internal/profile"
	"github.com/geocoder89/campusportal/internal/repo/memory"
	"github.com/geocoder89/campusportal/internal/security"
	"github.com/gin-gonic/gin"
)

type authFixture struct {
	router   *gin.Engine
	registry *portal.Registry
	cookie   *http.Cookie
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	users := memory.NewUsersRepo()
	hash, err := security.HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := users.Create(context.Background(), "f1@x.com", hash, "Dr Rao", user.RoleFaculty); err != nil {
		t.Fatalf("create user: %v", err)
	}

	log := quietLogger()
	jwt := auth.NewManager("test-secret", 15*time.Minute, 24*time.Hour)
	svc := credstore.NewService(users, memory.NewRefreshTokensRepo(), jwt, nil, nil, log)
	resolver := profile.NewResolver(memory.NewProfilesRepo(), log, nil, nil)
	reg := portal.NewRegistry(svc, nil, resolver, time.Hour, nil, log)

	t.Cleanup(func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		reg.Run(ctx, time.Hour)
	})

	sessions := middlewares.NewSessionMiddleware(reg, false, time.Hour)
	h := handlers.NewAuthHandler(reg, sessions.ClearCookie, log)

	r := gin.New()
	r.POST("/login", sessions.StartSession(), h.Login)

	g := r.Group("/", sessions.AwaitSession())
	g.POST("/logout", h.Logout)
	g.GET("/session", h.Session)
	g.POST("/account/password", middlewares.RequireRoles(), h.ChangePassword)
	g.POST("/account/sign-out-everywhere", middlewares.RequireRoles(), h.SignOutEverywhere)

	return &authFixture{router: r, registry: reg}
}

func (f *authFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if f.cookie != nil {
		req.AddCookie(f.cookie)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	for _, ck := range w.Result().Cookies() {
		if ck.Name == portal.CookieName {
			if ck.MaxAge < 0 {
				f.cookie = nil
			} else {
				f.cookie = ck
			}
		}
	}
	return w
}

type stateBody struct {
	User *struct {
		ID   string    `json:"id"`
		Role user.Role `json:"role"`
		Name string    `json:"name"`
	} `json:"user"`
	IsAuthenticated bool `json:"isAuthenticated"`
	Loading         bool `json:"loading"`
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) stateBody {
	t.Helper()

	var s stateBody
	if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode state: %v body=%s", err, w.Body.String())
	}
	return s
}

func TestLogin_WrongRoleLooksLikeBadPassword(t *testing.T) {
	f := newAuthFixture(t)

	wrongRole := f.do(t, http.MethodPost, "/login", `{"email":"f1@x.com","password":"secret123","role":"student"}`)
	badPass := f.do(t, http.MethodPost, "/login", `{"email":"f1@x.com","password":"nope","role":"faculty"}`)

	for _, w := range []*httptest.ResponseRecorder{wrongRole, badPass} {
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d %s", w.Code, w.Body.String())
		}
		body := decode(t, w)
		e := body["error"].(map[string]any)
		if e["code"] != "invalid_credentials" || e["message"] != "Invalid credentials" {
			t.Fatalf("expected generic invalid credentials, got %v", e)
		}
	}

	s := decodeState(t, f.do(t, http.MethodGet, "/session", ""))
	if s.IsAuthenticated || s.User != nil {
		t.Fatalf("mismatched login must leave the session signed out, got %+v", s)
	}
}

func TestLogin_SessionAndLogout(t *testing.T) {
	f := newAuthFixture(t)

	w := f.do(t, http.MethodPost, "/login", `{"email":"f1@x.com","password":"secret123","role":"faculty"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}

	s := decodeState(t, w)
	if !s.IsAuthenticated || s.Loading || s.User == nil || s.User.Role != user.RoleFaculty {
		t.Fatalf("unexpected state after login: %+v", s)
	}
	// no faculty row yet: degraded, named from the identity
	if s.User.Name != "Dr Rao" {
		t.Fatalf("expected fallback name from identity, got %q", s.User.Name)
	}

	s = decodeState(t, f.do(t, http.MethodGet, "/session", ""))
	if !s.IsAuthenticated {
		t.Fatalf("session endpoint should report the signed-in user")
	}

	w = f.do(t, http.MethodPost, "/account/password", `{"password":"short"}`)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "weak_password" {
		t.Fatalf("expected weak_password, got %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/account/password", `{"password":"brandnew42"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d %s", w.Code, w.Body.String())
	}

	before := f.registry.Len()
	w = f.do(t, http.MethodPost, "/logout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("logout: %d", w.Code)
	}
	if f.registry.Len() != before-1 {
		t.Fatalf("expected session context removed, had %d now %d", before, f.registry.Len())
	}

	w = f.do(t, http.MethodPost, "/logout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("second logout should succeed, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/account/password", `{"password":"another42"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected guard to reject signed-out caller, got %d", w.Code)
	}
}

func TestSession_AnonymousDoesNotAllocate(t *testing.T) {
	f := newAuthFixture(t)

	for i := 0; i < 20; i++ {
		s := decodeState(t, f.do(t, http.MethodGet, "/session", ""))
		if s.IsAuthenticated || s.Loading {
			t.Fatalf("unexpected anonymous state: %+v", s)
		}
	}
	if w := f.do(t, http.MethodPost, "/logout", ""); w.Code != http.StatusOK {
		t.Fatalf("anonymous logout: %d", w.Code)
	}

	if n := f.registry.Len(); n != 0 {
		t.Fatalf("anonymous traffic created %d session contexts", n)
	}
	if f.cookie != nil {
		t.Fatalf("anonymous traffic should not be issued a cookie")
	}
}

func TestSignOutEverywhere_EndsThisSession(t *testing.T) {
	f := newAuthFixture(t)

	if w := f.do(t, http.MethodPost, "/login", `{"email":"f1@x.com","password":"secret123","role":"faculty"}`); w.Code != http.StatusOK {
		t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	sid := f.cookie.Value

	w := f.do(t, http.MethodPost, "/account/sign-out-everywhere", "")
	if w.Code != http.StatusOK {
		t.Fatalf("sign out everywhere: %d %s", w.Code, w.Body.String())
	}
	if s := decodeState(t, w); s.IsAuthenticated {
		t.Fatalf("expected signed-out state, got %+v", s)
	}
	if _, ok := f.registry.Lookup(sid); ok {
		t.Fatalf("session context should be removed")
	}

	if w := f.do(t, http.MethodPost, "/account/sign-out-everywhere", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 once signed out, got %d", w.Code)
	}
}
