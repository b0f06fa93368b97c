package models

import "gorm.io/datatypes"

// Profile is a provisioning profile applied to accounts created through an
// invite. Policy is the raw media server policy document; Warden stores it
// opaquely and replays it verbatim via the provider API.
type Profile struct {
	BaseModel

	Name      string         `gorm:"uniqueIndex;not null" json:"name"`
	Policy    datatypes.JSON `json:"policy"`
	IsDefault bool           `gorm:"default:false" json:"is_default"`
}
