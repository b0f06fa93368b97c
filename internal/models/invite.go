package models

import "time"

// Invite is a shareable code bound to a provisioning profile, with an
// optional expiry and use-count limit. Invariant: UseCount never exceeds
// UseLimit, even under concurrent redemption; the conditional UPDATE in the
// invite service is the only mechanism enforcing it.
type Invite struct {
	BaseModel

	Code  string `gorm:"uniqueIndex;not null" json:"code"`
	Label string `json:"label"`

	ProfileID *string  `gorm:"type:uuid;index" json:"profile_id,omitempty"`
	Profile   *Profile `gorm:"constraint:OnDelete:SET NULL" json:"profile,omitempty"`

	UseLimit *int `json:"use_limit,omitempty"`
	UseCount int  `gorm:"not null;default:0" json:"use_count"`

	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedBy string     `json:"created_by"`

	Usages []InviteUsage `gorm:"constraint:OnDelete:CASCADE" json:"usages,omitempty"`
}

// Expired reports whether the invite's expiry has passed at the given time.
func (i *Invite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !i.ExpiresAt.After(now)
}

// Exhausted reports whether the use limit has been reached.
func (i *Invite) Exhausted() bool {
	return i.UseLimit != nil && i.UseCount >= *i.UseLimit
}

// Valid reports whether the invite can still be redeemed at the given time.
// This is a snapshot check only; redemption re-asserts both conditions
// atomically.
func (i *Invite) Valid(now time.Time) bool {
	return !i.Expired(now) && !i.Exhausted()
}
