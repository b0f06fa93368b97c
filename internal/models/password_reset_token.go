package models

import "time"

// PasswordResetToken stores the SHA-256 hash of a reset token. Consumed
// tokens keep their row with UsedAt set so reset history stays auditable; a
// token with UsedAt set never validates again.
type PasswordResetToken struct {
	BaseModel

	UserID string `gorm:"not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	TokenHash string     `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}
