package models

import "time"

// User mirrors a media server account. The media server remains the source of
// truth for credentials and policy; Warden owns only the attributes below.
// The primary key is the stable user id issued by the media server.
type User struct {
	ID            string  `gorm:"primaryKey" json:"id"`
	Email         *string `gorm:"uniqueIndex" json:"email,omitempty"`
	EmailVerified bool    `gorm:"default:false" json:"email_verified"`

	InviteID *string `gorm:"type:uuid;index" json:"invite_id,omitempty"`
	Invite   *Invite `gorm:"constraint:OnDelete:SET NULL" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
