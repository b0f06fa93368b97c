package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	iauth "github.com/wardenapp/warden/internal/auth"
	"github.com/wardenapp/warden/internal/mediaserver"
	"github.com/wardenapp/warden/internal/models"
)

type fakeProvider struct {
	adminFlag bool
}

func (f *fakeProvider) Authenticate(context.Context, string, string) (*mediaserver.AuthResult, error) {
	return nil, mediaserver.ErrInvalidCredentials
}

func (f *fakeProvider) AdminFlag(context.Context, string) (bool, error) {
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

func newTestSessions(t *testing.T, provider mediaserver.Client) *iauth.SessionService {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Profile{}, &models.Invite{}, &models.User{}, &models.Session{}))

	key := make([]byte, 32)
	svc, err := iauth.NewSessionService(db, provider, key, iauth.SessionConfig{})
	require.NoError(t, err)
	return svc
}

func newAuthRouter(sessions *iauth.SessionService, adminOnly bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/", Auth(sessions))
	if adminOnly {
		group.Use(RequireAdmin(sessions))
	}
	group.GET("/probe", func(c *gin.Context) {
		view := SessionFromContext(c)
		c.JSON(http.StatusOK, gin.H{"user_id": view.UserID})
	})
	return r
}

func TestAuthMiddlewareAcceptsCookieAndBearer(t *testing.T) {
	sessions := newTestSessions(t, &fakeProvider{})
	session, err := sessions.CreateSession(context.Background(), "user-1", false, "token")
	require.NoError(t, err)

	r := newAuthRouter(sessions, false)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: session.ID})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "user-1")

	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareRejectsMissingOrUnknownSession(t *testing.T) {
	sessions := newTestSessions(t, &fakeProvider{})
	r := newAuthRouter(sessions, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "bogus"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	sessions := newTestSessions(t, &fakeProvider{})

	admin, err := sessions.CreateSession(context.Background(), "admin-1", true, "token")
	require.NoError(t, err)
	member, err := sessions.CreateSession(context.Background(), "member-1", false, "token")
	require.NoError(t, err)

	r := newAuthRouter(sessions, true)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: admin.ID})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: member.ID})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireAdminSeesDowngradeAfterTTL(t *testing.T) {
	provider := &fakeProvider{adminFlag: false}
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Profile{}, &models.Invite{}, &models.User{}, &models.Session{}))

	key := make([]byte, 32)
	sessions, err := iauth.NewSessionService(db, provider, key, iauth.SessionConfig{
		Clock: func() time.Time { return current },
	})
	require.NoError(t, err)

	session, err := sessions.CreateSession(context.Background(), "admin-1", true, "token")
	require.NoError(t, err)

	r := newAuthRouter(sessions, true)
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: session.ID})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	current = current.Add(2 * time.Minute)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}
