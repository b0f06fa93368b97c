package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wardenapp/warden/internal/models"
	"github.com/wardenapp/warden/pkg/crypto"
)

func newTestTokenService(t *testing.T, current *time.Time) *TokenService {
	t.Helper()

	svc, err := NewTokenService(openTestDB(t), WithTokenClock(func() time.Time { return *current }))
	require.NoError(t, err)
	return svc
}

func TestNewTokenServiceRequiresDB(t *testing.T) {
	_, err := NewTokenService(nil)
	require.Error(t, err)
}

func TestEmailVerificationTokenRoundTrip(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, &current)
	createTestUser(t, svc.db, "user-1", strPtr("alice@example.com"))

	raw, err := svc.CreateEmailVerificationToken(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	// Only the hash is persisted.
	var stored models.EmailVerificationToken
	require.NoError(t, svc.db.Take(&stored).Error)
	require.Equal(t, crypto.HashToken(raw), stored.TokenHash)
	require.NotEqual(t, raw, stored.TokenHash)

	user, token, err := svc.ValidateEmailVerificationToken(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, stored.ID, token.ID)

	// Validation does not consume; deletion does.
	_, _, err = svc.ValidateEmailVerificationToken(context.Background(), raw)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEmailVerificationToken(context.Background(), token.ID))
	_, _, err = svc.ValidateEmailVerificationToken(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestEmailVerificationTokenSingleActive(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, &current)
	createTestUser(t, svc.db, "user-1", strPtr("alice@example.com"))

	first, err := svc.CreateEmailVerificationToken(context.Background(), "user-1")
	require.NoError(t, err)
	second, err := svc.CreateEmailVerificationToken(context.Background(), "user-1")
	require.NoError(t, err)

	// Issuing a new token invalidates every predecessor.
	_, _, err = svc.ValidateEmailVerificationToken(context.Background(), first)
	require.ErrorIs(t, err, ErrTokenNotFound)

	_, _, err = svc.ValidateEmailVerificationToken(context.Background(), second)
	require.NoError(t, err)

	var count int64
	require.NoError(t, svc.db.Model(&models.EmailVerificationToken{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestEmailVerificationTokenExpiry(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, &current)
	createTestUser(t, svc.db, "user-1", strPtr("alice@example.com"))

	raw, err := svc.CreateEmailVerificationToken(context.Background(), "user-1")
	require.NoError(t, err)

	current = current.Add(24*time.Hour + time.Minute)
	_, _, err = svc.ValidateEmailVerificationToken(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestEmailChangeTokenCarriesPendingAddress(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, &current)
	createTestUser(t, svc.db, "user-1", strPtr("alice@example.com"))

	raw, err := svc.CreateEmailChangeToken(context.Background(), "user-1", "New@Example.COM")
	require.NoError(t, err)

	user, token, err := svc.ValidateEmailChangeToken(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
	require.NotNil(t, token.PendingEmail)
	require.Equal(t, "new@example.com", *token.PendingEmail)

	// A change token is not accepted on the plain verification path and
	// vice versa.
	_, _, err = svc.ValidateEmailVerificationToken(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenNotFound)

	plain, err := svc.CreateEmailVerificationToken(context.Background(), "user-1")
	require.NoError(t, err)
	_, _, err = svc.ValidateEmailChangeToken(context.Background(), plain)
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestPasswordResetTokenLifecycle(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, &current)
	createTestUser(t, svc.db, "user-1", strPtr("alice@example.com"))

	raw, err := svc.CreatePasswordResetToken(context.Background(), "user-1")
	require.NoError(t, err)

	user, token, err := svc.ValidatePasswordResetToken(context.Background(), raw)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
	require.Nil(t, token.UsedAt)

	require.NoError(t, svc.MarkPasswordResetTokenUsed(context.Background(), token.ID))

	// A consumed token never validates again, even within its expiry.
	_, _, err = svc.ValidatePasswordResetToken(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenUsed)

	// The row survives for auditability with a use timestamp.
	var stored models.PasswordResetToken
	require.NoError(t, svc.db.Take(&stored, "id = ?", token.ID).Error)
	require.NotNil(t, stored.UsedAt)
	require.Equal(t, current.Unix(), stored.UsedAt.Unix())

	// Marking it used twice reports not found.
	require.ErrorIs(t, svc.MarkPasswordResetTokenUsed(context.Background(), token.ID), ErrTokenNotFound)
}

func TestPasswordResetTokenExpiry(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, &current)
	createTestUser(t, svc.db, "user-1", strPtr("alice@example.com"))

	raw, err := svc.CreatePasswordResetToken(context.Background(), "user-1")
	require.NoError(t, err)

	current = current.Add(time.Hour + time.Minute)
	_, _, err = svc.ValidatePasswordResetToken(context.Background(), raw)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateUnknownTokens(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestTokenService(t, &current)

	_, _, err := svc.ValidateEmailVerificationToken(context.Background(), "nope")
	require.ErrorIs(t, err, ErrTokenNotFound)

	_, _, err = svc.ValidatePasswordResetToken(context.Background(), "")
	require.ErrorIs(t, err, ErrTokenNotFound)
}
