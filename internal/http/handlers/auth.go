package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/campusportal/internal/config"
	"github.com/geocoder89/campusportal/internal/credstore"
	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/http/middlewares"
	"github.com/geocoder89/campusportal/internal/session"
	"github.com/gin-gonic/gin"
)

// SessionRemover drops a browser session's context after logout.
type SessionRemover interface {
	Remove(sid string)
}

type AuthHandler struct {
	sessions    SessionRemover
	clearCookie func(*gin.Context)
	log         *slog.Logger
}

func NewAuthHandler(sessions SessionRemover, clearCookie func(*gin.Context), log *slog.Logger) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{sessions: sessions, clearCookie: clearCookie, log: log}
}

type LoginRequest struct {
	Email    string    `json:"email" binding:"required,email"`
	Password string    `json:"password" binding:"required"`
	Role     user.Role `json:"role" binding:"required,oneof=student faculty admin"`
}

type ChangePasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// POST /login

func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	sc, ok := middlewares.SessionFrom(ctx)
	if !ok {
		RespondInternal(ctx, "Session unavailable")
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	err := sc.Login(cctx, req.Email, req.Password, req.Role)
	if err != nil {
		// a wrong role reads the same as a wrong password
		if errors.Is(err, session.ErrRoleMismatch) || errors.Is(err, credstore.ErrInvalidCredentials) {
			RespondUnauthorized(ctx, credstore.CodeInvalidCredentials, "Invalid credentials")
			return
		}
		if RespondAuthError(ctx, err) {
			return
		}

		h.log.ErrorContext(ctx.Request.Context(), "login_failed", "err", err)
		RespondInternal(ctx, "Could not sign in")
		return
	}

	state, err := sc.Wait(cctx)
	if err != nil {
		RespondError(ctx, http.StatusServiceUnavailable, "session_loading", "Session is still loading, please retry", nil)
		return
	}

	ctx.JSON(http.StatusOK, state)
}

// POST /logout

func (h *AuthHandler) Logout(ctx *gin.Context) {
	if sc, ok := middlewares.SessionFrom(ctx); ok {
		cctx, cancel := config.WithTimeout(3 * time.Second)
		defer cancel()

		if err := sc.Logout(cctx); err != nil {
			h.log.WarnContext(ctx.Request.Context(), "logout_provider_failed", "err", err)
		}
	}

	if sid, ok := middlewares.SessionIDFrom(ctx); ok {
		h.sessions.Remove(sid)
	}
	if h.clearCookie != nil {
		h.clearCookie(ctx)
	}

	ctx.JSON(http.StatusOK, session.State{})
}

// POST /account/sign-out-everywhere

func (h *AuthHandler) SignOutEverywhere(ctx *gin.Context) {
	sc, ok := middlewares.SessionFrom(ctx)
	if !ok {
		RespondUnauthorized(ctx, credstore.CodeNoSession, "Not signed in")
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	if err := sc.SignOutEverywhere(cctx); err != nil {
		if RespondAuthError(ctx, err) {
			return
		}

		h.log.ErrorContext(ctx.Request.Context(), "sign_out_everywhere_failed", "err", err)
		RespondInternal(ctx, "Could not sign out")
		return
	}

	if sid, ok := middlewares.SessionIDFrom(ctx); ok {
		h.sessions.Remove(sid)
	}
	if h.clearCookie != nil {
		h.clearCookie(ctx)
	}

	ctx.JSON(http.StatusOK, session.State{})
}

// GET /session

func (h *AuthHandler) Session(ctx *gin.Context) {
	state, _ := middlewares.StateFrom(ctx)
	ctx.JSON(http.StatusOK, state)
}

// POST /account/password

func (h *AuthHandler) ChangePassword(ctx *gin.Context) {
	var req ChangePasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	sc, ok := middlewares.SessionFrom(ctx)
	if !ok {
		RespondUnauthorized(ctx, credstore.CodeNoSession, "Not signed in")
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	if err := sc.ChangePassword(cctx, req.Password); err != nil {
		if RespondAuthError(ctx, err) {
			return
		}

		h.log.ErrorContext(ctx.Request.Context(), "change_password_failed", "err", err)
		RespondInternal(ctx, "Could not update password")
		return
	}

	ctx.Status(http.StatusNoContent)
}

// POST /session/refresh re-resolves the profile, for example once an
// administrator provisioned it.

func (h *AuthHandler) RefreshSession(ctx *gin.Context) {
	sc, ok := middlewares.SessionFrom(ctx)
	if !ok {
		RespondUnauthorized(ctx, credstore.CodeNoSession, "Not signed in")
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	if err := sc.Refresh(cctx); err != nil {
		h.log.WarnContext(ctx.Request.Context(), "session_refresh_failed", "err", err)
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	state, err := sc.Wait(cctx)
	if err != nil {
		RespondError(ctx, http.StatusServiceUnavailable, "session_loading", "Session is still loading, please retry", nil)
		return
	}

	ctx.JSON(http.StatusOK, state)
}
