package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wardenapp/warden/internal/mediaserver"
	"github.com/wardenapp/warden/internal/models"
	"github.com/wardenapp/warden/pkg/mail"
)

func openTestDB(t *testing.T) *gorm.DB {
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
		&models.InviteUsage{},
		&models.EmailVerificationToken{},
		&models.PasswordResetToken{},
	))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, id string, email *string) *models.User {
	t.Helper()

	user := &models.User{ID: id, Email: email}
	require.NoError(t, db.Create(user).Error)
	return user
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

// stubProvider is a configurable in-memory stand-in for the media server.
type stubProvider struct {
	mu sync.Mutex

	users         map[string]*mediaserver.User
	userByNameFn  func(name string) (*mediaserver.User, error)
	authFn        func(username, password string) (*mediaserver.AuthResult, error)
	nextID        int
	createErr     error
	policyErr     error
	avatarErr     error
	resetErr      error
	policies      map[string]json.RawMessage
	avatarCalls   int
	deletedUsers  []string
	resetPassword map[string]string
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		users:         make(map[string]*mediaserver.User),
		policies:      make(map[string]json.RawMessage),
		resetPassword: make(map[string]string),
	}
}

func (p *stubProvider) addUser(id, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[id] = &mediaserver.User{ID: id, Name: name}
}

func (p *stubProvider) Authenticate(_ context.Context, username, password string) (*mediaserver.AuthResult, error) {
	p.mu.Lock()
	authFn := p.authFn
	p.mu.Unlock()
	if authFn != nil {
		return authFn(username, password)
	}
	return nil, mediaserver.ErrInvalidCredentials
}

func (p *stubProvider) AdminFlag(context.Context, string) (bool, error) { return false, nil }

func (p *stubProvider) UserByName(_ context.Context, name string) (*mediaserver.User, error) {
	p.mu.Lock()
	if p.userByNameFn != nil {
		fn := p.userByNameFn
		p.mu.Unlock()
		return fn(name)
	}
	defer p.mu.Unlock()
	for _, u := range p.users {
		if u.Name == name {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (p *stubProvider) CreateAccount(_ context.Context, username, _ string) (*mediaserver.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.nextID++
	user := &mediaserver.User{ID: fmt.Sprintf("provider-%d", p.nextID), Name: username}
	p.users[user.ID] = user
	copied := *user
	return &copied, nil
}

func (p *stubProvider) ApplyPolicy(_ context.Context, userID string, policy json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.policyErr != nil {
		return p.policyErr
	}
	p.policies[userID] = policy
	return nil
}

func (p *stubProvider) UploadAvatar(context.Context, string, []byte, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.avatarCalls++
	return p.avatarErr
}

func (p *stubProvider) ResetPassword(_ context.Context, userID, newPassword string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resetErr != nil {
		return p.resetErr
	}
	p.resetPassword[userID] = newPassword
	return nil
}

func (p *stubProvider) DeleteAccount(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, userID)
	p.deletedUsers = append(p.deletedUsers, userID)
	return nil
}

// recordingMailer captures outgoing messages instead of dialing SMTP.
type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	sendErr  error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}
