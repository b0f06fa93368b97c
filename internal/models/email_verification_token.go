package models

import "time"

// EmailVerificationToken stores only the SHA-256 hash of a verification
// token, never the raw value. At most one unconsumed token exists per user;
// issuing a new one deletes its predecessors. Consumption is by deletion.
type EmailVerificationToken struct {
	BaseModel

	UserID string `gorm:"not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	TokenHash string `gorm:"uniqueIndex;not null" json:"-"`

	// PendingEmail is set when the token confirms an address change rather
	// than the account's current address.
	PendingEmail *string `json:"pending_email,omitempty"`

	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}
