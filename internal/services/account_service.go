package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wardenapp/warden/internal/mediaserver"
	"github.com/wardenapp/warden/internal/models"
	"github.com/wardenapp/warden/pkg/logger"
	"github.com/wardenapp/warden/pkg/mail"
)

// ErrNoEmailOnFile indicates the account has no address to verify.
var ErrNoEmailOnFile = errors.New("account: no email on file")

// AccountOption customises AccountService behaviour.
type AccountOption func(*AccountService)

// WithAccountClock injects a custom time source, primarily for testing.
func WithAccountClock(clock func() time.Time) AccountOption {
	return func(s *AccountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithAccountAppURL sets the public base URL used when building email links.
func WithAccountAppURL(url string) AccountOption {
	return func(s *AccountService) { s.appURL = strings.TrimRight(url, "/") }
}

// AccountService orchestrates email verification, email change, and password
// reset on top of the token issuer, the mailer, and the media server.
type AccountService struct {
	db       *gorm.DB
	provider mediaserver.Client
	tokens   *TokenService
	mailer   mail.Mailer
	appURL   string
	now      func() time.Time
	log      *zap.Logger
}

// NewAccountService constructs the account service.
func NewAccountService(db *gorm.DB, provider mediaserver.Client, tokens *TokenService, mailer mail.Mailer, opts ...AccountOption) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}
	if provider == nil {
		return nil, errors.New("account service: media server client is required")
	}
	if tokens == nil {
		return nil, errors.New("account service: token service is required")
	}
	if mailer == nil {
		return nil, errors.New("account service: mailer is required")
	}

	service := &AccountService{
		db:       db,
		provider: provider,
		tokens:   tokens,
		mailer:   mailer,
		now:      time.Now,
		log:      logger.WithModule("accounts"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// RequestEmailVerification issues a fresh verification token for the user's
// current address and emails the link.
func (s *AccountService) RequestEmailVerification(ctx context.Context, userID string) error {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("account service: load user: %w", err)
	}
	if user.Email == nil || *user.Email == "" {
		return ErrNoEmailOnFile
	}

	raw, err := s.tokens.CreateEmailVerificationToken(ctx, user.ID)
	if err != nil {
		return err
	}

	return s.sendLink(ctx, *user.Email, "Verify your email address",
		"Please confirm your email address by opening the link below.",
		fmt.Sprintf("%s/verify?token=%s", s.appURL, raw))
}

// ConfirmEmailVerification consumes a verification token: the verified flag
// and the token deletion commit together, so a crash between them cannot
// leave a validated-but-ineffective token behind.
func (s *AccountService) ConfirmEmailVerification(ctx context.Context, rawToken string) error {
	user, token, err := s.tokens.ValidateEmailVerificationToken(ctx, rawToken)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Update("email_verified", true).Error; err != nil {
			return fmt.Errorf("account service: mark email verified: %w", err)
		}
		if err := tx.Delete(&models.EmailVerificationToken{}, "id = ?", token.ID).Error; err != nil {
			return fmt.Errorf("account service: consume token: %w", err)
		}
		return nil
	})
}

// RequestEmailChange issues a change token bound to the new address and
// emails the confirmation link to that address.
func (s *AccountService) RequestEmailChange(ctx context.Context, userID, newEmail string) error {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if newEmail == "" {
		return errors.New("account service: new email is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ? AND id <> ?", newEmail, userID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("account service: check email: %w", err)
	}
	if count > 0 {
		return ErrEmailTaken
	}

	raw, err := s.tokens.CreateEmailChangeToken(ctx, userID, newEmail)
	if err != nil {
		return err
	}

	return s.sendLink(ctx, newEmail, "Confirm your new email address",
		"Please confirm your new email address by opening the link below.",
		fmt.Sprintf("%s/verify?token=%s", s.appURL, raw))
}

// ConfirmEmailChange applies the pending address carried by an email-change
// token. A concurrent claim of the same address is caught by the unique
// constraint and reported as taken.
func (s *AccountService) ConfirmEmailChange(ctx context.Context, rawToken string) error {
	user, token, err := s.tokens.ValidateEmailChangeToken(ctx, rawToken)
	if err != nil {
		return err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]any{
				"email":          *token.PendingEmail,
				"email_verified": true,
			}).Error; err != nil {
			return fmt.Errorf("account service: apply new email: %w", err)
		}
		if err := tx.Delete(&models.EmailVerificationToken{}, "id = ?", token.ID).Error; err != nil {
			return fmt.Errorf("account service: consume token: %w", err)
		}
		return nil
	})
	if txErr != nil && isUniqueConstraintError(txErr) {
		return ErrEmailTaken
	}
	return txErr
}

// RequestPasswordReset issues a reset token for the account registered under
// the given address. An unknown address succeeds silently so the endpoint
// cannot be used to probe which emails exist.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return errors.New("account service: email is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("account service: find user: %w", err)
	}

	raw, err := s.tokens.CreatePasswordResetToken(ctx, user.ID)
	if err != nil {
		return err
	}

	return s.sendLink(ctx, email, "Reset your password",
		"A password reset was requested for your account. Open the link below to choose a new password. If this wasn't you, ignore this email.",
		fmt.Sprintf("%s/reset-password?token=%s", s.appURL, raw))
}

// CompletePasswordReset validates the token, sets the new password on the
// media server, then marks the token used. A provider failure leaves the
// token unconsumed so the user can retry with the same link.
func (s *AccountService) CompletePasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if newPassword == "" {
		return errors.New("account service: new password is required")
	}

	user, token, err := s.tokens.ValidatePasswordResetToken(ctx, rawToken)
	if err != nil {
		return err
	}

	if err := s.provider.ResetPassword(ctx, user.ID, newPassword); err != nil {
		return fmt.Errorf("account service: reset provider password: %w", err)
	}

	if err := s.tokens.MarkPasswordResetTokenUsed(ctx, token.ID); err != nil {
		// The password did change; log loudly rather than fail the caller.
		s.log.Error("reset token not marked used after successful reset",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}
	return nil
}

func (s *AccountService) sendLink(ctx context.Context, to, subject, intro, link string) error {
	body := fmt.Sprintf("<p>%s</p><p><a href=%q>%s</a></p>", intro, link, link)
	if err := s.mailer.Send(ctx, mail.Message{
		To:      []string{to},
		Subject: subject,
		HTML:    body,
	}); err != nil {
		return fmt.Errorf("account service: send email: %w", err)
	}
	return nil
}
