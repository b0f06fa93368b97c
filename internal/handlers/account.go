package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wardenapp/warden/internal/middleware"
	"github.com/wardenapp/warden/internal/services"
	appErrors "github.com/wardenapp/warden/pkg/errors"
	"github.com/wardenapp/warden/pkg/response"
)

// AccountHandler exposes email verification and password reset flows.
type AccountHandler struct {
	accounts *services.AccountService
}

func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// POST /api/account/verify/request (authenticated)
func (h *AccountHandler) RequestVerification(c *gin.Context) {
	view := middleware.SessionFromContext(c)
	if view == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.accounts.RequestEmailVerification(c.Request.Context(), view.UserID); err != nil {
		if errors.Is(err, services.ErrNoEmailOnFile) {
			response.Error(c, appErrors.NewBadRequest("no email address on file"))
			return
		}
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sent": true})
}

type confirmTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// POST /api/account/verify/confirm
//
// Accepts both plain verification tokens and email-change tokens; the same
// emailed link serves both flows.
func (h *AccountHandler) ConfirmVerification(c *gin.Context) {
	var req confirmTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	err := h.accounts.ConfirmEmailVerification(c.Request.Context(), req.Token)
	if errors.Is(err, services.ErrTokenNotFound) {
		err = h.accounts.ConfirmEmailChange(c.Request.Context(), req.Token)
	}
	if err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"verified": true})
}

type emailChangeRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/account/email/change (authenticated)
func (h *AccountHandler) RequestEmailChange(c *gin.Context) {
	view := middleware.SessionFromContext(c)
	if view == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req emailChangeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.RequestEmailChange(c.Request.Context(), view.UserID, req.Email); err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sent": true})
}

type passwordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/account/password-reset/request
//
// Always answers 200 so the endpoint cannot be used to probe which addresses
// have accounts.
func (h *AccountHandler) RequestPasswordReset(c *gin.Context) {
	var req passwordResetRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"sent": true})
}

type passwordResetCompleteRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// POST /api/account/password-reset/complete
func (h *AccountHandler) CompletePasswordReset(c *gin.Context) {
	var req passwordResetCompleteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.CompletePasswordReset(c.Request.Context(), req.Token, req.Password); err != nil {
		response.Error(c, mapServiceError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset": true})
}
