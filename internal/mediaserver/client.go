package mediaserver

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidCredentials is returned by Authenticate on a rejected login.
	ErrInvalidCredentials = errors.New("mediaserver: invalid credentials")
	// ErrNotFound indicates the referenced user does not exist on the server.
	ErrNotFound = errors.New("mediaserver: not found")
)

// AuthResult is the outcome of a successful credential check.
type AuthResult struct {
	UserID      string
	IsAdmin     bool
	AccessToken string
}

// User is Warden's view of a media server account.
type User struct {
	ID       string
	Name     string
	IsAdmin  bool
	Disabled bool
}

// Client is the contract Warden consumes from the media server. All calls are
// blocking I/O bounded by the configured request timeout and the caller's
// context.
type Client interface {
	// Authenticate verifies a username/password pair and returns the account
	// id, its administrator flag, and a provider access token.
	Authenticate(ctx context.Context, username, password string) (*AuthResult, error)

	// AdminFlag re-fetches the administrator flag for a user.
	AdminFlag(ctx context.Context, userID string) (bool, error)

	// UserByName looks an account up by display name. Absent accounts yield
	// (nil, nil), not an error.
	UserByName(ctx context.Context, username string) (*User, error)

	// CreateAccount provisions a new account with the given credentials.
	CreateAccount(ctx context.Context, username, password string) (*User, error)

	// ApplyPolicy replaces the account's policy document.
	ApplyPolicy(ctx context.Context, userID string, policy json.RawMessage) error

	// UploadAvatar sets the account's primary image. Best effort; callers log
	// failures instead of propagating them.
	UploadAvatar(ctx context.Context, userID string, data []byte, mimeType string) error

	// ResetPassword sets a new password without the current one (privileged).
	ResetPassword(ctx context.Context, userID, newPassword string) error

	// DeleteAccount removes the account from the media server.
	DeleteAccount(ctx context.Context, userID string) error
}
