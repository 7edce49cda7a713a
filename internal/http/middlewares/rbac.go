package middlewares

import (
	"net/http"
	"slices"
	"strings"

	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/session"
	"github.com/gin-gonic/gin"
)

const LoginPath = "/login"

const (
	ReasonUnauthenticated = "unauthenticated"
	ReasonRoleNotAllowed  = "role_not_allowed"
)

// Decision is the outcome of a route guard check.
type Decision struct {
	Allow    bool
	Reason   string
	Redirect string
}

// Allowed decides whether state may see a page gated on roles. Both a
// missing session and a wrong role send the caller to the login page.
func Allowed(state session.State, roles []user.Role) Decision {
	if !state.IsAuthenticated || state.User == nil {
		return Decision{Reason: ReasonUnauthenticated, Redirect: LoginPath}
	}
	if !slices.Contains(roles, state.User.Role) {
		return Decision{Reason: ReasonRoleNotAllowed, Redirect: LoginPath}
	}
	return Decision{Allow: true}
}

// RequireRoles must run after AwaitSession. With no roles it admits any
// signed-in user.
func RequireRoles(roles ...user.Role) gin.HandlerFunc {
	if len(roles) == 0 {
		roles = []user.Role{user.RoleAdmin, user.RoleFaculty, user.RoleStudent}
	}

	return func(c *gin.Context) {
		state, _ := StateFrom(c)

		d := Allowed(state, roles)
		if d.Allow {
			c.Next()
			return
		}

		if wantsHTML(c) {
			c.Redirect(http.StatusFound, d.Redirect)
			c.Abort()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": gin.H{
				"code":    d.Reason,
				"message": "Please sign in to continue",
			},
			"redirect": d.Redirect,
		})
	}
}

func wantsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}
