package handlers

import (
	"errors"

	"github.com/wardenapp/warden/internal/services"
	appErrors "github.com/wardenapp/warden/pkg/errors"
)

// mapServiceError translates service sentinels into API errors. Anything
// unrecognised becomes a generic internal error so provider and database
// detail never reaches clients.
func mapServiceError(err error) *appErrors.AppError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, services.ErrInviteNotFound):
		return appErrors.ErrInviteInvalid
	case errors.Is(err, services.ErrInviteExpired):
		return appErrors.ErrInviteExpired
	case errors.Is(err, services.ErrInviteExhausted):
		return appErrors.ErrInviteExhausted
	case errors.Is(err, services.ErrUsernameTaken):
		return appErrors.ErrUsernameTaken
	case errors.Is(err, services.ErrEmailTaken):
		return appErrors.ErrEmailTaken
	case errors.Is(err, services.ErrTokenNotFound):
		return appErrors.ErrTokenInvalid
	case errors.Is(err, services.ErrTokenExpired), errors.Is(err, services.ErrTokenUsed):
		return appErrors.ErrTokenExpired
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}
