package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wardenapp/warden/internal/middleware"
	"github.com/wardenapp/warden/internal/services"
	appErrors "github.com/wardenapp/warden/pkg/errors"
	"github.com/wardenapp/warden/pkg/response"
)

// InviteHandler exposes the public redemption surface and the admin CRUD.
type InviteHandler struct {
	invites *services.InviteService
	cookie  CookieOptions
	now     func() time.Time
}

func NewInviteHandler(invites *services.InviteService, cookie CookieOptions) *InviteHandler {
	return &InviteHandler{invites: invites, cookie: cookie, now: time.Now}
}

// GET /api/invites/:code
//
// Public validity peek for the redemption form. Expired and exhausted are
// distinguished in the reason field; they are not security-sensitive.
func (h *InviteHandler) Peek(c *gin.Context) {
	invite, err := h.invites.GetInviteByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	now := h.now()
	payload := gin.H{
		"code":  invite.Code,
		"label": invite.Label,
		"valid": invite.Valid(now),
	}
	switch {
	case invite.Expired(now):
		payload["reason"] = "expired"
	case invite.Exhausted():
		payload["reason"] = "exhausted"
	}

	response.Success(c, http.StatusOK, payload)
}

type redeemRequest struct {
	Code     string `json:"code" validate:"required"`
	Username string `json:"username" validate:"required,min=2,max=60"`
	Password string `json:"password" validate:"required,min=8"`
	Email    string `json:"email" validate:"omitempty,email"`
	// Avatar is an optional base64-encoded image.
	Avatar     string `json:"avatar"`
	AvatarMIME string `json:"avatar_mime"`
}

// POST /api/invites/redeem
func (h *InviteHandler) Redeem(c *gin.Context) {
	var req redeemRequest
	if !bindAndValidate(c, &req) {
		return
	}

	var avatar []byte
	if req.Avatar != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Avatar)
		if err != nil {
			response.Error(c, appErrors.NewBadRequest("avatar must be base64 encoded"))
			return
		}
		avatar = decoded
	}

	result, err := h.invites.Redeem(c.Request.Context(), services.RedeemInput{
		Code:       req.Code,
		Username:   req.Username,
		Password:   req.Password,
		Email:      req.Email,
		Avatar:     avatar,
		AvatarMIME: req.AvatarMIME,
	})
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	if result.SessionID != "" {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(h.cookie.name(), result.SessionID, h.cookie.maxAge(), "/", "", h.cookie.Secure, true)
	}

	response.Success(c, http.StatusCreated, gin.H{
		"user_id":           result.User.ID,
		"verification_sent": result.VerificationSent,
	})
}

type createInviteRequest struct {
	Label     string     `json:"label" validate:"max=120"`
	ProfileID *string    `json:"profile_id"`
	UseLimit  *int       `json:"use_limit" validate:"omitempty,min=1"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// POST /api/invites (admin)
func (h *InviteHandler) Create(c *gin.Context) {
	var req createInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	view := middleware.SessionFromContext(c)
	createdBy := ""
	if view != nil {
		createdBy = view.UserID
	}

	invite, err := h.invites.CreateInvite(c.Request.Context(), services.CreateInviteInput{
		Label:     req.Label,
		ProfileID: req.ProfileID,
		UseLimit:  req.UseLimit,
		ExpiresAt: req.ExpiresAt,
		CreatedBy: createdBy,
	})
	if err != nil {
		if errors.Is(err, services.ErrInviteInput) {
			response.Error(c, appErrors.NewBadRequest(strings.TrimPrefix(err.Error(), "invite: invalid input: ")))
			return
		}
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusCreated, invite)
}

// GET /api/invites (admin)
func (h *InviteHandler) List(c *gin.Context) {
	invites, err := h.invites.ListInvites(c.Request.Context())
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, invites)
}

// DELETE /api/invites/:id (admin)
func (h *InviteHandler) Delete(c *gin.Context) {
	if err := h.invites.DeleteInvite(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, mapServiceError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
