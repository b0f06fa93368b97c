package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/wardenapp/warden/internal/models"
	"github.com/wardenapp/warden/pkg/crypto"
)

const (
	defaultVerificationExpiry = 24 * time.Hour
	defaultResetExpiry        = time.Hour
	defaultTokenBytes         = 32
)

var (
	// ErrTokenNotFound indicates no token matches the provided raw value.
	ErrTokenNotFound = errors.New("token: not found")
	// ErrTokenExpired indicates the token exists but its expiry has passed.
	ErrTokenExpired = errors.New("token: expired")
	// ErrTokenUsed signals a password reset token that was already consumed.
	ErrTokenUsed = errors.New("token: already used")
)

// TokenOption customises TokenService behaviour.
type TokenOption func(*TokenService)

// WithVerificationExpiry overrides the email verification token lifetime.
func WithVerificationExpiry(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.verificationExpiry = d
		}
	}
}

// WithResetExpiry overrides the password reset token lifetime.
func WithResetExpiry(d time.Duration) TokenOption {
	return func(s *TokenService) {
		if d > 0 {
			s.resetExpiry = d
		}
	}
}

// WithTokenClock injects a custom time source, primarily for testing.
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(s *TokenService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// TokenService issues and validates single-use secure tokens. Raw token
// values are returned exactly once and never persisted; lookups go through
// the SHA-256 hash.
type TokenService struct {
	db                 *gorm.DB
	verificationExpiry time.Duration
	resetExpiry        time.Duration
	tokenLength        int
	now                func() time.Time
}

// NewTokenService constructs a TokenService with the provided database.
func NewTokenService(db *gorm.DB, opts ...TokenOption) (*TokenService, error) {
	if db == nil {
		return nil, errors.New("token service: db is required")
	}

	service := &TokenService{
		db:                 db,
		verificationExpiry: defaultVerificationExpiry,
		resetExpiry:        defaultResetExpiry,
		tokenLength:        defaultTokenBytes,
		now:                time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreateEmailVerificationToken issues a verification token for the user and
// returns the raw value for inclusion in an email link. Any previously
// issued verification tokens for the user are deleted first, enforcing the
// single-active-token invariant. The delete and insert are two statements,
// not one atomic replace; two simultaneous calls for the same user can race.
func (s *TokenService) CreateEmailVerificationToken(ctx context.Context, userID string) (string, error) {
	return s.createVerificationToken(ctx, userID, nil)
}

// CreateEmailChangeToken issues a verification token that carries the new
// address; confirming it moves the account to that address.
func (s *TokenService) CreateEmailChangeToken(ctx context.Context, userID, newEmail string) (string, error) {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if newEmail == "" {
		return "", errors.New("token service: new email is required")
	}
	return s.createVerificationToken(ctx, userID, &newEmail)
}

func (s *TokenService) createVerificationToken(ctx context.Context, userID string, pendingEmail *string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("token service: user id is required")
	}

	raw, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return "", fmt.Errorf("token service: generate token: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.EmailVerificationToken{}).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("token service: cleanup existing tokens: %w", err)
	}

	token := models.EmailVerificationToken{
		UserID:       userID,
		TokenHash:    crypto.HashToken(raw),
		PendingEmail: pendingEmail,
		ExpiresAt:    s.now().Add(s.verificationExpiry),
	}
	if err := s.db.WithContext(ctx).Create(&token).Error; err != nil {
		return "", fmt.Errorf("token service: create verification token: %w", err)
	}

	return raw, nil
}

// ValidateEmailVerificationToken resolves a raw token to its user. The token
// must exist, be unexpired, and carry no pending-email marker. The token is
// not deleted here: deletion is the caller's responsibility once the
// verification effect has been committed, so a validated token is never lost
// before its effect lands.
func (s *TokenService) ValidateEmailVerificationToken(ctx context.Context, raw string) (*models.User, *models.EmailVerificationToken, error) {
	token, err := s.findVerificationToken(ctx, raw)
	if err != nil {
		return nil, nil, err
	}
	if token.PendingEmail != nil {
		return nil, nil, ErrTokenNotFound
	}

	user, err := s.tokenUser(ctx, token.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, token, nil
}

// ValidateEmailChangeToken resolves a raw email-change token to its user and
// the pending address.
func (s *TokenService) ValidateEmailChangeToken(ctx context.Context, raw string) (*models.User, *models.EmailVerificationToken, error) {
	token, err := s.findVerificationToken(ctx, raw)
	if err != nil {
		return nil, nil, err
	}
	if token.PendingEmail == nil {
		return nil, nil, ErrTokenNotFound
	}

	user, err := s.tokenUser(ctx, token.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, token, nil
}

// DeleteEmailVerificationToken consumes a verification token by deletion.
func (s *TokenService) DeleteEmailVerificationToken(ctx context.Context, tokenID string) error {
	if strings.TrimSpace(tokenID) == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Delete(&models.EmailVerificationToken{}, "id = ?", tokenID).Error; err != nil {
		return fmt.Errorf("token service: delete verification token: %w", err)
	}
	return nil
}

// CreatePasswordResetToken issues a reset token for the user and returns the
// raw value.
func (s *TokenService) CreatePasswordResetToken(ctx context.Context, userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("token service: user id is required")
	}

	raw, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return "", fmt.Errorf("token service: generate token: %w", err)
	}

	token := models.PasswordResetToken{
		UserID:    userID,
		TokenHash: crypto.HashToken(raw),
		ExpiresAt: s.now().Add(s.resetExpiry),
	}
	if err := s.db.WithContext(ctx).Create(&token).Error; err != nil {
		return "", fmt.Errorf("token service: create reset token: %w", err)
	}

	return raw, nil
}

// ValidatePasswordResetToken resolves a raw reset token. A token with UsedAt
// set never validates again, even before its expiry; rows are kept for the
// audit trail rather than deleted.
func (s *TokenService) ValidatePasswordResetToken(ctx context.Context, raw string) (*models.User, *models.PasswordResetToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, ErrTokenNotFound
	}

	var token models.PasswordResetToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", crypto.HashToken(raw)).
		Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("token service: find reset token: %w", err)
	}

	if token.UsedAt != nil {
		return nil, nil, ErrTokenUsed
	}
	if token.ExpiresAt.Before(s.now()) {
		return nil, nil, ErrTokenExpired
	}

	user, err := s.tokenUser(ctx, token.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, &token, nil
}

// MarkPasswordResetTokenUsed stamps the token so it can never validate again.
func (s *TokenService) MarkPasswordResetTokenUsed(ctx context.Context, tokenID string) error {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&models.PasswordResetToken{}).
		Where("id = ? AND used_at IS NULL", tokenID).
		Update("used_at", now)
	if result.Error != nil {
		return fmt.Errorf("token service: mark token used: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func (s *TokenService) findVerificationToken(ctx context.Context, raw string) (*models.EmailVerificationToken, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenNotFound
	}

	var token models.EmailVerificationToken
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", crypto.HashToken(raw)).
		Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token service: find verification token: %w", err)
	}

	if token.ExpiresAt.Before(s.now()) {
		return nil, ErrTokenExpired
	}
	return &token, nil
}

func (s *TokenService) tokenUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("token service: load user: %w", err)
	}
	return &user, nil
}
