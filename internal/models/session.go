package models

import "time"

// Session is a server-side session row. The id is an opaque random
// identifier handed to the client in a cookie; the session table is the sole
// source of truth and no claims are trusted from the client beyond the id.
type Session struct {
	ID     string `gorm:"primaryKey" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`

	// EncryptedToken holds the provider access token as an
	// "<iv>:<tag>:<ciphertext>" hex record produced by pkg/crypto.
	EncryptedToken string `gorm:"not null" json:"-"`

	IsAdmin        bool      `gorm:"default:false" json:"is_admin"`
	AdminCheckedAt time.Time `json:"admin_checked_at"`

	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
