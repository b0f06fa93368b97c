package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/wardenapp/warden/internal/auth"
	"github.com/wardenapp/warden/internal/mediaserver"
	"github.com/wardenapp/warden/internal/middleware"
	appErrors "github.com/wardenapp/warden/pkg/errors"
	"github.com/wardenapp/warden/pkg/metrics"
	"github.com/wardenapp/warden/pkg/response"
)

// CookieOptions controls how the session cookie is written.
type CookieOptions struct {
	Name   string
	MaxAge time.Duration
	Secure bool
}

func (o CookieOptions) name() string {
	if strings.TrimSpace(o.Name) == "" {
		return middleware.SessionCookieName
	}
	return o.Name
}

func (o CookieOptions) maxAge() int {
	if o.MaxAge <= 0 {
		return int(iauth.DefaultSessionTTL.Seconds())
	}
	return int(o.MaxAge.Seconds())
}

// AuthHandler manages login, logout, and identity lookups.
type AuthHandler struct {
	provider mediaserver.Client
	sessions *iauth.SessionService
	cookie   CookieOptions
}

func NewAuthHandler(provider mediaserver.Client, sessions *iauth.SessionService, cookie CookieOptions) *AuthHandler {
	return &AuthHandler{provider: provider, sessions: sessions, cookie: cookie}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.provider.Authenticate(c.Request.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		if errors.Is(err, mediaserver.ErrInvalidCredentials) {
			response.Error(c, appErrors.ErrInvalidCredentials)
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), result.UserID, result.IsAdmin, result.AccessToken)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	h.setSessionCookie(c, session.ID)

	response.Success(c, http.StatusOK, gin.H{
		"user": gin.H{
			"id":       session.UserID,
			"is_admin": session.IsAdmin,
		},
	})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	view := middleware.SessionFromContext(c)
	if view == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.sessions.DestroySession(c.Request.Context(), view.ID); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	h.clearSessionCookie(c)
	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	view := middleware.SessionFromContext(c)
	if view == nil || view.User == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	payload := gin.H{
		"id":             view.User.ID,
		"email_verified": view.User.EmailVerified,
		"is_admin":       view.IsAdmin,
	}
	if view.User.Email != nil {
		payload["email"] = *view.User.Email
	}

	response.Success(c, http.StatusOK, payload)
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, sessionID string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.name(), sessionID, h.cookie.maxAge(), "/", "", h.cookie.Secure, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.name(), "", -1, "/", "", h.cookie.Secure, true)
}
