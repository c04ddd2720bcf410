package models

import "gorm.io/datatypes"

// ProviderLINE is the provider key stored on LINE account links.
const ProviderLINE = "line"

// AccountLink maps a provider subject to exactly one local user. The two unique indexes
// enforce one account per subject and one subject per provider per account.
type AccountLink struct {
	BaseModel

	UserID   string `gorm:"type:uuid;not null;uniqueIndex:idx_account_links_user_provider" json:"user_id"`
	Provider string `gorm:"size:32;not null;uniqueIndex:idx_account_links_user_provider;uniqueIndex:idx_account_links_provider_subject" json:"provider"`
	Subject  string `gorm:"size:255;not null;uniqueIndex:idx_account_links_provider_subject" json:"subject"`

	PictureURL string            `json:"picture_url"`
	Profile    datatypes.JSONMap `json:"profile"`

	User *User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}
