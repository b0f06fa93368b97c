package auth

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
	"github.com/wardenapp/warden/pkg/crypto"
	"github.com/wardenapp/warden/pkg/logger"
	"github.com/wardenapp/warden/pkg/metrics"
)

const (
	// DefaultSessionTTL is the fallback session lifetime.
	DefaultSessionTTL = 7 * 24 * time.Hour
	// DefaultAdminCheckTTL bounds how stale the cached administrator flag may
	// be before it is re-fetched from the media server.
	DefaultAdminCheckTTL = 60 * time.Second
)

// ErrSessionNotFound covers absent, expired, and undecryptable sessions
// alike; callers treat all three as unauthenticated.
var ErrSessionNotFound = errors.New("session: not found")

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	SessionTTL    time.Duration
	AdminCheckTTL time.Duration
	Clock         func() time.Time
}

// SessionView joins a session row with its user and the decrypted provider
// access token. The plaintext token never leaves process memory.
type SessionView struct {
	*models.Session
	AccessToken string
}

// SessionService manages creation, lookup, lazy expiration, and destruction
// of server-side sessions, and owns the admin-status cache.
type SessionService struct {
	db       *gorm.DB
	provider mediaserver.Client
	key      []byte
	ttl      time.Duration
	adminTTL time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewSessionService constructs a session manager backed by the provided
// database, media server client, and credential encryption key.
func NewSessionService(db *gorm.DB, provider mediaserver.Client, key []byte, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if provider == nil {
		return nil, errors.New("session service: media server client is required")
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("session service: encryption key must be 32 bytes (got %d)", len(key))
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	adminTTL := cfg.AdminCheckTTL
	if adminTTL <= 0 {
		adminTTL = DefaultAdminCheckTTL
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:       db,
		provider: provider,
		key:      key,
		ttl:      ttl,
		adminTTL: adminTTL,
		now:      clock,
		log:      logger.WithModule("sessions"),
	}, nil
}

// CreateSession persists a new session for the given media server identity
// and returns it. The returned session id is the opaque value handed to the
// client; the provider access token is stored encrypted. A local user row is
// created first when this identity has not been seen before.
func (s *SessionService) CreateSession(ctx context.Context, userID string, isAdmin bool, accessToken string) (*models.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("session service: user id is required")
	}
	if accessToken == "" {
		return nil, errors.New("session service: access token is required")
	}

	if err := s.db.WithContext(ctx).
		Where(models.User{ID: userID}).
		FirstOrCreate(&models.User{}).Error; err != nil {
		return nil, fmt.Errorf("session service: ensure user: %w", err)
	}

	encrypted, err := crypto.Encrypt([]byte(accessToken), s.key)
	if err != nil {
		return nil, fmt.Errorf("session service: encrypt access token: %w", err)
	}

	id, err := crypto.GenerateSessionID()
	if err != nil {
		return nil, fmt.Errorf("session service: generate session id: %w", err)
	}

	now := s.now()
	session := &models.Session{
		ID:             id,
		UserID:         userID,
		EncryptedToken: encrypted,
		IsAdmin:        isAdmin,
		AdminCheckedAt: now,
		ExpiresAt:      now.Add(s.ttl),
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	return session, nil
}

// GetSession resolves an opaque session id to the joined session+user view.
// Expired rows are deleted on first access and reported as not found;
// repeated lookups of an expired id stay idempotent. A row whose stored
// token cannot be decrypted is discarded the same way: it signals corruption
// or a key rotation, and recovery is not attempted.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*SessionView, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	var session models.Session
	err := s.db.WithContext(ctx).
		Preload("User").
		Take(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	if s.now().After(session.ExpiresAt) {
		if err := s.deleteRow(ctx, session.ID); err != nil {
			s.log.Warn("failed to delete expired session", zap.Error(err))
		}
		return nil, ErrSessionNotFound
	}

	plaintext, err := crypto.Decrypt(session.EncryptedToken, s.key)
	if err != nil {
		s.log.Warn("discarding session with undecryptable token",
			zap.String("user_id", session.UserID),
			zap.Error(err),
		)
		if delErr := s.deleteRow(ctx, session.ID); delErr != nil {
			s.log.Warn("failed to delete corrupt session", zap.Error(delErr))
		}
		return nil, ErrSessionNotFound
	}

	return &SessionView{
		Session:     &session,
		AccessToken: string(plaintext),
	}, nil
}

// DestroySession removes a session unconditionally. Destroying an unknown id
// is a no-op.
func (s *SessionService) DestroySession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	return s.deleteRow(ctx, sessionID)
}

// AdminStatus returns the administrator flag for the session's user. The
// cached value is served until it is older than the staleness TTL, at which
// point it is re-fetched from the media server and persisted. The refresh
// happens outside any transaction: privilege changes become visible within
// one TTL window, never instantaneously.
func (s *SessionService) AdminStatus(ctx context.Context, session *models.Session) (bool, error) {
	if session == nil {
		return false, errors.New("session service: session is required")
	}

	now := s.now()
	if now.Sub(session.AdminCheckedAt) <= s.adminTTL {
		return session.IsAdmin, nil
	}

	isAdmin, err := s.provider.AdminFlag(ctx, session.UserID)
	if err != nil {
		return false, fmt.Errorf("session service: refresh admin flag: %w", err)
	}
	metrics.AdminStatusRefreshes.Inc()

	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", session.ID).
		Updates(map[string]any{
			"is_admin":         isAdmin,
			"admin_checked_at": now,
		}).Error; err != nil {
		return false, fmt.Errorf("session service: persist admin flag: %w", err)
	}

	session.IsAdmin = isAdmin
	session.AdminCheckedAt = now

	return isAdmin, nil
}

// CleanupExpired removes every session past its expiry and returns the count.
// Lazy deletion on read remains the correctness mechanism; this only keeps the
// table from growing with sessions nobody looks up again.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *SessionService) deleteRow(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).Delete(&models.Session{}, "id = ?", sessionID)
	if result.Error != nil {
		return fmt.Errorf("session service: delete session: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}
	return nil
}
