package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/wardenapp/warden/internal/auth"
	"github.com/wardenapp/warden/pkg/errors"
	"github.com/wardenapp/warden/pkg/response"
)

const (
	// SessionCookieName is the cookie carrying the opaque session id.
	SessionCookieName = "warden_session"

	CtxSessionKey   = "session"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
	CtxIsAdminKey   = "isAdmin"
)

// Auth resolves the opaque session id from the session cookie or a Bearer
// header and loads the session. Absent, expired, and undecryptable sessions
// all normalise to 401.
func Auth(sessions *iauth.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := sessionIDFromRequest(c)
		if sessionID == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		view, err := sessions.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxSessionKey, view)
		c.Set(CtxUserIDKey, view.UserID)
		c.Set(CtxSessionIDKey, view.ID)

		c.Next()
	}
}

// RequireAdmin gates a route on the session's administrator flag, served
// through the TTL cache. Callers tolerate up to one TTL window of staleness.
func RequireAdmin(sessions *iauth.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		view := SessionFromContext(c)
		if view == nil {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		isAdmin, err := sessions.AdminStatus(c.Request.Context(), view.Session)
		if err != nil {
			response.Error(c, errors.ErrInternalServer.WithInternal(err))
			c.Abort()
			return
		}
		if !isAdmin {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Set(CtxIsAdminKey, true)
		c.Next()
	}
}

// SessionFromContext returns the authenticated session view, or nil when the
// request did not pass the Auth middleware.
func SessionFromContext(c *gin.Context) *iauth.SessionView {
	v, ok := c.Get(CtxSessionKey)
	if !ok {
		return nil
	}
	view, _ := v.(*iauth.SessionView)
	return view
}

func sessionIDFromRequest(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		if cookie = strings.TrimSpace(cookie); cookie != "" {
			return cookie
		}
	}

	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
