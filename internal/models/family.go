package models

// Family groups accounts into a household. Members reference it through Account.FamilyID.
type Family struct {
	BaseModel

	Name    string  `json:"name"`
	OwnerID *string `gorm:"type:uuid;index" json:"owner_id"`
}
