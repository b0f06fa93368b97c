package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wardenapp/warden/internal/auth"
	"github.com/wardenapp/warden/internal/mediaserver"
	"github.com/wardenapp/warden/internal/models"
	"github.com/wardenapp/warden/pkg/logger"
	"github.com/wardenapp/warden/pkg/mail"
	"github.com/wardenapp/warden/pkg/metrics"
)

const (
	inviteCodeLength = 8
	// Ambiguous glyphs (0/O, 1/I/L) are excluded; codes are typed by hand.
	inviteCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	codeGenerationAttempts = 5
)

var (
	// ErrInviteNotFound indicates no invite matches the given code.
	ErrInviteNotFound = errors.New("invite: not found")
	// ErrInviteExpired indicates the invite's expiry has passed.
	ErrInviteExpired = errors.New("invite: expired")
	// ErrInviteExhausted indicates the use limit has been reached.
	ErrInviteExhausted = errors.New("invite: exhausted")
	// ErrUsernameTaken indicates the requested username already exists on the
	// media server.
	ErrUsernameTaken = errors.New("invite: username taken")
	// ErrInviteInput flags rejected invite creation parameters.
	ErrInviteInput = errors.New("invite: invalid input")
	// ErrEmailTaken is produced only by the pre-transaction availability
	// check. A duplicate email that slips past it is caught by the database
	// unique constraint and surfaces as a plain wrapped error, not this
	// sentinel; redemption makes no attempt to classify it.
	ErrEmailTaken = errors.New("invite: email taken")
)

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteClock injects a custom time source, primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithMailer enables verification emails after successful redemption.
func WithMailer(mailer mail.Mailer) InviteOption {
	return func(s *InviteService) { s.mailer = mailer }
}

// WithSessions enables automatic login after successful redemption.
func WithSessions(sessions *auth.SessionService) InviteOption {
	return func(s *InviteService) { s.sessions = sessions }
}

// WithAppURL sets the public base URL used when building email links.
func WithAppURL(url string) InviteOption {
	return func(s *InviteService) { s.appURL = strings.TrimRight(url, "/") }
}

// CreateInviteInput describes a new invite.
type CreateInviteInput struct {
	Label     string
	ProfileID *string
	UseLimit  *int
	ExpiresAt *time.Time
	CreatedBy string
}

// RedeemInput carries a redemption attempt.
type RedeemInput struct {
	Code       string
	Username   string
	Password   string
	Email      string
	Avatar     []byte
	AvatarMIME string
}

// RedemptionResult reports a committed redemption. SessionID and
// VerificationSent describe the best-effort post-commit phase; either may be
// zero-valued on a fully successful redemption.
type RedemptionResult struct {
	User             *models.User
	SessionID        string
	VerificationSent bool
}

// InviteService owns invite administration and the redemption path. The
// conditional use-count UPDATE in Redeem is the sole concurrency control over
// shared invites; no application-level locks exist.
type InviteService struct {
	db       *gorm.DB
	provider mediaserver.Client
	tokens   *TokenService
	sessions *auth.SessionService
	mailer   mail.Mailer
	appURL   string
	now      func() time.Time
	log      *zap.Logger
}

// NewInviteService constructs the invite service.
func NewInviteService(db *gorm.DB, provider mediaserver.Client, tokens *TokenService, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}
	if provider == nil {
		return nil, errors.New("invite service: media server client is required")
	}
	if tokens == nil {
		return nil, errors.New("invite service: token service is required")
	}

	service := &InviteService{
		db:       db,
		provider: provider,
		tokens:   tokens,
		now:      time.Now,
		log:      logger.WithModule("invites"),
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreateInvite generates a fresh code and persists the invite.
func (s *InviteService) CreateInvite(ctx context.Context, input CreateInviteInput) (*models.Invite, error) {
	if input.UseLimit != nil && *input.UseLimit < 1 {
		return nil, fmt.Errorf("%w: use limit must be at least 1", ErrInviteInput)
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInviteInput)
	}
	if input.ProfileID != nil {
		var profile models.Profile
		err := s.db.WithContext(ctx).Take(&profile, "id = ?", *input.ProfileID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: profile does not exist", ErrInviteInput)
		}
		if err != nil {
			return nil, fmt.Errorf("invite service: check profile: %w", err)
		}
	}

	for attempt := 0; attempt < codeGenerationAttempts; attempt++ {
		code, err := generateInviteCode()
		if err != nil {
			return nil, fmt.Errorf("invite service: generate code: %w", err)
		}

		invite := &models.Invite{
			Code:      code,
			Label:     strings.TrimSpace(input.Label),
			ProfileID: input.ProfileID,
			UseLimit:  input.UseLimit,
			ExpiresAt: input.ExpiresAt,
			CreatedBy: input.CreatedBy,
		}
		err = s.db.WithContext(ctx).Create(invite).Error
		if err == nil {
			return invite, nil
		}
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("invite service: create invite: %w", err)
		}
		// Code collision; roll a new one.
	}

	return nil, errors.New("invite service: could not generate a unique code")
}

// GetInviteByCode loads an invite with its profile. Used by the public
// validity peek as well as redemption.
func (s *InviteService) GetInviteByCode(ctx context.Context, code string) (*models.Invite, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrInviteNotFound
	}

	var invite models.Invite
	err := s.db.WithContext(ctx).
		Preload("Profile").
		Take(&invite, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invite service: find invite: %w", err)
	}
	return &invite, nil
}

// ListInvites returns all invites, newest first, with their usage records.
func (s *InviteService) ListInvites(ctx context.Context) ([]models.Invite, error) {
	var invites []models.Invite
	if err := s.db.WithContext(ctx).
		Preload("Usages").
		Order("created_at DESC").
		Find(&invites).Error; err != nil {
		return nil, fmt.Errorf("invite service: list invites: %w", err)
	}
	return invites, nil
}

// DeleteInvite removes an invite; usage records cascade away with it.
func (s *InviteService) DeleteInvite(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).
		Select("Usages").
		Delete(&models.Invite{BaseModel: models.BaseModel{ID: id}})
	if result.Error != nil {
		return fmt.Errorf("invite service: delete invite: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInviteNotFound
	}
	return nil
}

// Redeem converts one use of an invite into a new media server account.
//
// The conditional UPDATE on the use count is the only safeguard against
// over-redemption: its WHERE clause re-asserts expiry and remaining uses, and
// a zero affected-row count means the invite went invalid since the initial
// read. Username availability is re-checked inside the same transaction to
// close the window left by the pre-check; email availability deliberately is
// not, so a concurrent duplicate email lands on the unique constraint and
// surfaces as an unclassified database error.
//
// Provisioning against the media server happens inside the transaction so a
// provider failure rolls the increment back. The account itself cannot be
// rolled back transactionally; a best-effort delete reverses it.
func (s *InviteService) Redeem(ctx context.Context, input RedeemInput) (*RedemptionResult, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if username == "" {
		metrics.InviteRedemptions.WithLabelValues("error").Inc()
		return nil, errors.New("invite service: username is required")
	}
	if input.Password == "" {
		metrics.InviteRedemptions.WithLabelValues("error").Inc()
		return nil, errors.New("invite service: password is required")
	}

	invite, err := s.GetInviteByCode(ctx, input.Code)
	if err != nil {
		if errors.Is(err, ErrInviteNotFound) {
			metrics.InviteRedemptions.WithLabelValues("invalid").Inc()
		} else {
			metrics.InviteRedemptions.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	// Fast-path snapshot check. An optimization only; the conditional UPDATE
	// below re-asserts both conditions atomically.
	now := s.now()
	if invite.Expired(now) {
		metrics.InviteRedemptions.WithLabelValues("expired").Inc()
		return nil, ErrInviteExpired
	}
	if invite.Exhausted() {
		metrics.InviteRedemptions.WithLabelValues("exhausted").Inc()
		return nil, ErrInviteExhausted
	}

	// Availability pre-checks. These close most races cheaply but are not the
	// safety mechanism.
	if email != "" {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&models.User{}).
			Where("email = ?", email).
			Count(&count).Error; err != nil {
			metrics.InviteRedemptions.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("invite service: check email: %w", err)
		}
		if count > 0 {
			metrics.InviteRedemptions.WithLabelValues("conflict").Inc()
			return nil, ErrEmailTaken
		}
	}
	if taken, err := s.usernameTaken(ctx, username); err != nil {
		metrics.InviteRedemptions.WithLabelValues("error").Inc()
		return nil, err
	} else if taken {
		metrics.InviteRedemptions.WithLabelValues("conflict").Inc()
		return nil, ErrUsernameTaken
	}

	var (
		localUser         models.User
		createdProviderID string
	)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The compare-and-swap. Increment only while the invite is still
		// valid; zero rows affected means a concurrent redemption or the
		// clock got here first.
		claim := tx.Model(&models.Invite{}).
			Where("id = ? AND (expires_at IS NULL OR expires_at > ?) AND (use_limit IS NULL OR use_count < use_limit)",
				invite.ID, now).
			UpdateColumn("use_count", gorm.Expr("use_count + 1"))
		if claim.Error != nil {
			return fmt.Errorf("invite service: claim invite use: %w", claim.Error)
		}
		if claim.RowsAffected == 0 {
			var current models.Invite
			if err := tx.Take(&current, "id = ?", invite.ID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrInviteNotFound
				}
				return fmt.Errorf("invite service: re-read invite: %w", err)
			}
			if current.Expired(now) {
				return ErrInviteExpired
			}
			return ErrInviteExhausted
		}

		// Re-assert username availability now that the use is claimed. A
		// concurrent winner rolls the increment back with us.
		if taken, err := s.usernameTaken(ctx, username); err != nil {
			return err
		} else if taken {
			return ErrUsernameTaken
		}

		account, err := s.provider.CreateAccount(ctx, username, input.Password)
		if err != nil {
			return fmt.Errorf("invite service: create provider account: %w", err)
		}
		createdProviderID = account.ID

		if policy, err := s.resolvePolicy(tx, invite); err != nil {
			return err
		} else if len(policy) > 0 {
			if err := s.provider.ApplyPolicy(ctx, account.ID, []byte(policy)); err != nil {
				return fmt.Errorf("invite service: apply policy: %w", err)
			}
		}

		if len(input.Avatar) > 0 {
			if err := s.provider.UploadAvatar(ctx, account.ID, input.Avatar, input.AvatarMIME); err != nil {
				s.log.Warn("avatar upload failed",
					zap.String("user_id", account.ID),
					zap.Error(err),
				)
			}
		}

		localUser = models.User{
			ID:       account.ID,
			InviteID: &invite.ID,
		}
		if email != "" {
			localUser.Email = &email
		}
		if err := tx.Create(&localUser).Error; err != nil {
			return fmt.Errorf("invite service: create user: %w", err)
		}

		usage := models.InviteUsage{
			InviteID: invite.ID,
			UserID:   account.ID,
		}
		if err := tx.Create(&usage).Error; err != nil {
			return fmt.Errorf("invite service: record usage: %w", err)
		}

		return nil
	})
	if txErr != nil {
		if createdProviderID != "" {
			// The provider account outlived the rolled-back transaction.
			if delErr := s.provider.DeleteAccount(ctx, createdProviderID); delErr != nil {
				s.log.Error("failed to remove orphaned provider account",
					zap.String("user_id", createdProviderID),
					zap.Error(delErr),
				)
			}
		}
		switch {
		case errors.Is(txErr, ErrInviteExpired):
			metrics.InviteRedemptions.WithLabelValues("expired").Inc()
		case errors.Is(txErr, ErrInviteExhausted):
			metrics.InviteRedemptions.WithLabelValues("exhausted").Inc()
		case errors.Is(txErr, ErrInviteNotFound):
			metrics.InviteRedemptions.WithLabelValues("invalid").Inc()
		case errors.Is(txErr, ErrUsernameTaken):
			metrics.InviteRedemptions.WithLabelValues("conflict").Inc()
		default:
			metrics.InviteRedemptions.WithLabelValues("error").Inc()
		}
		return nil, txErr
	}

	metrics.InviteRedemptions.WithLabelValues("success").Inc()

	result := &RedemptionResult{User: &localUser}

	// Post-commit phase. The account exists; nothing below may undo it.
	if s.mailer != nil && email != "" {
		if err := s.sendVerificationEmail(ctx, localUser.ID, email); err != nil {
			s.log.Warn("verification email not sent",
				zap.String("user_id", localUser.ID),
				zap.Error(err),
			)
		} else {
			result.VerificationSent = true
		}
	}

	if s.sessions != nil {
		authResult, err := s.provider.Authenticate(ctx, username, input.Password)
		if err == nil {
			session, sErr := s.sessions.CreateSession(ctx, authResult.UserID, authResult.IsAdmin, authResult.AccessToken)
			if sErr == nil {
				result.SessionID = session.ID
			} else {
				err = sErr
			}
		}
		if err != nil {
			s.log.Warn("post-redemption login failed",
				zap.String("user_id", localUser.ID),
				zap.Error(err),
			)
		}
	}

	return result, nil
}

func (s *InviteService) usernameTaken(ctx context.Context, username string) (bool, error) {
	existing, err := s.provider.UserByName(ctx, username)
	if err != nil {
		return false, fmt.Errorf("invite service: check username: %w", err)
	}
	return existing != nil, nil
}

// resolvePolicy picks the policy document to replay onto the new account: the
// invite's profile when one is bound, the default profile otherwise.
func (s *InviteService) resolvePolicy(tx *gorm.DB, invite *models.Invite) ([]byte, error) {
	var profile models.Profile

	query := tx.Where("is_default = ?", true)
	if invite.ProfileID != nil {
		query = tx.Where("id = ?", *invite.ProfileID)
	}

	err := query.Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invite service: load profile: %w", err)
	}
	return []byte(profile.Policy), nil
}

func (s *InviteService) sendVerificationEmail(ctx context.Context, userID, email string) error {
	raw, err := s.tokens.CreateEmailVerificationToken(ctx, userID)
	if err != nil {
		return err
	}

	link := fmt.Sprintf("%s/verify?token=%s", s.appURL, raw)
	body := fmt.Sprintf(
		"<p>Welcome! Please confirm your email address by opening the link below.</p><p><a href=%q>%s</a></p>",
		link, link,
	)

	return s.mailer.Send(ctx, mail.Message{
		To:      []string{email},
		Subject: "Verify your email address",
		HTML:    body,
	})
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func generateInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(buf), nil
}
