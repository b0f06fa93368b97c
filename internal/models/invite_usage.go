package models

// InviteUsage is an append-only record linking an invite to the account it
// produced. Exactly one row is written per successful redemption; rows are
// only removed by cascading invite deletion.
type InviteUsage struct {
	BaseModel

	InviteID string `gorm:"type:uuid;not null;index" json:"invite_id"`
	UserID   string `gorm:"not null;index" json:"user_id"`
	User     *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
