package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wardenapp/warden/internal/mediaserver"
	"github.com/wardenapp/warden/internal/models"
)

type fakeProvider struct {
	adminFlag  bool
	adminErr   error
	adminCalls int
}

func (f *fakeProvider) Authenticate(context.Context, string, string) (*mediaserver.AuthResult, error) {
	return nil, mediaserver.ErrInvalidCredentials
}

func (f *fakeProvider) AdminFlag(context.Context, string) (bool, error) {
	f.adminCalls++
	if f.adminErr != nil {
		return false, f.adminErr
	}
	return f.adminFlag, nil
}

func (f *fakeProvider) UserByName(context.Context, string) (*mediaserver.User, error) {
	return nil, nil
}

func (f *fakeProvider) CreateAccount(context.Context, string, string) (*mediaserver.User, error) {
	return nil, nil
}

func (f *fakeProvider) ApplyPolicy(context.Context, string, json.RawMessage) error { return nil }
func (f *fakeProvider) UploadAvatar(context.Context, string, []byte, string) error { return nil }
func (f *fakeProvider) ResetPassword(context.Context, string, string) error        { return nil }
func (f *fakeProvider) DeleteAccount(context.Context, string) error                { return nil }

func openSessionTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Profile{},
		&models.Invite{},
		&models.User{},
		&models.Session{},
	))
	return db
}

func testServiceKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newTestSessionService(t *testing.T, provider mediaserver.Client, current *time.Time) *SessionService {
	t.Helper()

	svc, err := NewSessionService(openSessionTestDB(t), provider, testServiceKey(), SessionConfig{
		Clock: func() time.Time { return *current },
	})
	require.NoError(t, err)
	return svc
}

func TestNewSessionServiceValidation(t *testing.T) {
	db := openSessionTestDB(t)

	_, err := NewSessionService(nil, &fakeProvider{}, testServiceKey(), SessionConfig{})
	require.Error(t, err)

	_, err = NewSessionService(db, nil, testServiceKey(), SessionConfig{})
	require.Error(t, err)

	_, err = NewSessionService(db, &fakeProvider{}, []byte("short"), SessionConfig{})
	require.Error(t, err)
}

func TestCreateAndGetSession(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSessionService(t, &fakeProvider{}, &current)

	session, err := svc.CreateSession(context.Background(), "provider-user-1", true, "provider-access-token")
	require.NoError(t, err)
	require.Len(t, session.ID, 64)
	require.True(t, session.IsAdmin)
	require.Equal(t, current.Add(DefaultSessionTTL), session.ExpiresAt)

	// The stored token must not be plaintext.
	require.NotContains(t, session.EncryptedToken, "provider-access-token")

	view, err := svc.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, "provider-access-token", view.AccessToken)
	require.NotNil(t, view.User)
	require.Equal(t, "provider-user-1", view.User.ID)
}

func TestCreateSessionCreatesLocalUserOnce(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSessionService(t, &fakeProvider{}, &current)

	_, err := svc.CreateSession(context.Background(), "provider-user-1", false, "token-a")
	require.NoError(t, err)
	_, err = svc.CreateSession(context.Background(), "provider-user-1", false, "token-b")
	require.NoError(t, err)

	var count int64
	require.NoError(t, svc.db.Model(&models.User{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestGetSessionUnknown(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSessionService(t, &fakeProvider{}, &current)

	_, err := svc.GetSession(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.GetSession(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetSessionLazyExpiryIsIdempotent(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSessionService(t, &fakeProvider{}, &current)

	session, err := svc.CreateSession(context.Background(), "provider-user-1", false, "token")
	require.NoError(t, err)

	current = current.Add(DefaultSessionTTL + time.Second)

	_, err = svc.GetSession(context.Background(), session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	// The row is gone after the first access.
	var count int64
	require.NoError(t, svc.db.Model(&models.Session{}).Where("id = ?", session.ID).Count(&count).Error)
	require.EqualValues(t, 0, count)

	// Repeated lookups keep returning not found.
	_, err = svc.GetSession(context.Background(), session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGetSessionDiscardsUndecryptableRow(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSessionService(t, &fakeProvider{}, &current)

	session, err := svc.CreateSession(context.Background(), "provider-user-1", false, "token")
	require.NoError(t, err)

	require.NoError(t, svc.db.Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("encrypted_token", "aa:bb:cc").Error)

	_, err = svc.GetSession(context.Background(), session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	var count int64
	require.NoError(t, svc.db.Model(&models.Session{}).Where("id = ?", session.ID).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestDestroySession(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSessionService(t, &fakeProvider{}, &current)

	session, err := svc.CreateSession(context.Background(), "provider-user-1", false, "token")
	require.NoError(t, err)

	require.NoError(t, svc.DestroySession(context.Background(), session.ID))

	_, err = svc.GetSession(context.Background(), session.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	// Destroying an unknown id is a no-op.
	require.NoError(t, svc.DestroySession(context.Background(), session.ID))
	require.NoError(t, svc.DestroySession(context.Background(), ""))
}

func TestAdminStatusCaching(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	provider := &fakeProvider{adminFlag: false}
	svc := newTestSessionService(t, provider, &current)

	session, err := svc.CreateSession(context.Background(), "provider-user-1", true, "token")
	require.NoError(t, err)

	// Within the TTL the cached value is served without any provider call,
	// even when the provider now disagrees.
	isAdmin, err := svc.AdminStatus(context.Background(), session)
	require.NoError(t, err)
	require.True(t, isAdmin)

	current = current.Add(30 * time.Second)
	isAdmin, err = svc.AdminStatus(context.Background(), session)
	require.NoError(t, err)
	require.True(t, isAdmin)
	require.Equal(t, 0, provider.adminCalls)

	// Past the TTL, exactly one refresh happens and the downgrade becomes
	// visible and persistent.
	current = current.Add(31 * time.Second)
	isAdmin, err = svc.AdminStatus(context.Background(), session)
	require.NoError(t, err)
	require.False(t, isAdmin)
	require.Equal(t, 1, provider.adminCalls)

	var stored models.Session
	require.NoError(t, svc.db.Take(&stored, "id = ?", session.ID).Error)
	require.False(t, stored.IsAdmin)
	require.Equal(t, current.Unix(), stored.AdminCheckedAt.Unix())

	// The refreshed value is cached again.
	isAdmin, err = svc.AdminStatus(context.Background(), session)
	require.NoError(t, err)
	require.False(t, isAdmin)
	require.Equal(t, 1, provider.adminCalls)
}

func TestCleanupExpired(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestSessionService(t, &fakeProvider{}, &current)

	stale, err := svc.CreateSession(context.Background(), "provider-user-1", false, "token-a")
	require.NoError(t, err)

	current = current.Add(DefaultSessionTTL - time.Hour)
	fresh, err := svc.CreateSession(context.Background(), "provider-user-1", false, "token-b")
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	removed, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	_, err = svc.GetSession(context.Background(), stale.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.GetSession(context.Background(), fresh.ID)
	require.NoError(t, err)
}

func TestAdminStatusProviderFailure(t *testing.T) {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	provider := &fakeProvider{adminErr: fmt.Errorf("upstream unavailable")}
	svc := newTestSessionService(t, provider, &current)

	session, err := svc.CreateSession(context.Background(), "provider-user-1", true, "token")
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	_, err = svc.AdminStatus(context.Background(), session)
	require.Error(t, err)
}
